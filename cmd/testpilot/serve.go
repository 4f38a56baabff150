package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/testpilot-dev/testpilot/pkg/api"
	"github.com/testpilot-dev/testpilot/pkg/orchestrator"
	"github.com/testpilot-dev/testpilot/pkg/runindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local API for the UI",
	Long: `Start the local HTTP API: run history, locator health, live run
events and run control for the workbench UI.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ws, err := filepath.Abs(workspacePath)
	if err != nil {
		return fmt.Errorf("resolving workspace path: %w", err)
	}

	store, err := runindex.NewStore(log, &cfg.Index, ws)
	if err != nil {
		return fmt.Errorf("creating run index: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting run index: %w", err)
	}

	orch := orchestrator.NewOrchestrator(log, cfg, store)
	server := api.NewServer(log, cfg, ws, orch, store)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("Shutting down")

	if err := orch.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop orchestrator")
	}

	if err := server.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop api server")
	}

	if err := store.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop run index")
	}

	return nil
}
