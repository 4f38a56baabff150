// Package api exposes the local HTTP surface the UI layer consumes: run
// history, locator health, live run events, and run control.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/config"
	"github.com/testpilot-dev/testpilot/pkg/locator"
	"github.com/testpilot-dev/testpilot/pkg/orchestrator"
	"github.com/testpilot-dev/testpilot/pkg/runindex"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log          logrus.FieldLogger
	cfg          *config.Config
	workspace    string
	orchestrator orchestrator.Orchestrator
	store        runindex.Store
	registry     *locator.Registry
	hub          *eventHub
	httpServer   *http.Server
	wg           sync.WaitGroup
}

// NewServer creates a new API server wired to an orchestrator and run index.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	workspacePath string,
	orch orchestrator.Orchestrator,
	store runindex.Store,
) Server {
	return &server{
		log:          log.WithField("component", "api"),
		cfg:          cfg,
		workspace:    workspacePath,
		orchestrator: orch,
		store:        store,
		registry:     locator.NewRegistry(log, workspacePath),
		hub:          newEventHub(),
	}
}

// Start subscribes to the orchestrator's event stream and starts the HTTP
// server.
func (s *server) Start(ctx context.Context) error {
	// Fan run events out to connected SSE clients. Late clients see no
	// replay, matching the underlying stream semantics.
	s.orchestrator.Subscribe(s.hub.Broadcast)
	s.orchestrator.SubscribeTestUpdated(s.hub.BroadcastTestUpdated)

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.hub.Close()
	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
