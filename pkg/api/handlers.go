package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/orchestrator"
	"github.com/testpilot-dev/testpilot/pkg/runindex"
	"github.com/testpilot-dev/testpilot/pkg/upload"
	"github.com/testpilot-dev/testpilot/pkg/workspace"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Debug("Request handled")
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ReadAll(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to read run index")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading run index"})

		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	rec, err := s.store.ReadOne(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runindex.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to read run record")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading run record"})

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleGetReport serves a run's markdown report from the local run
// directory, falling back to remote storage for uploaded runs whose local
// directory has been pruned.
func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	local := filepath.Join(bundle.RunDir(s.workspace, runID), "report.md")
	if data, err := os.ReadFile(local); err == nil {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)

		return
	}

	if s.cfg.Upload != nil && s.cfg.Upload.S3 != nil && s.cfg.Upload.S3.Enabled {
		reader := upload.NewS3Reader(s.log, s.cfg.Upload.S3)

		prefix := s.cfg.Upload.S3.Prefix
		if prefix == "" {
			prefix = "testpilot"
		}

		key := strings.TrimRight(prefix, "/") + "/runs/" + runID + "/report.md"

		data, err := reader.GetObject(r.Context(), key)
		if err != nil {
			s.log.WithError(err).Error("Failed to fetch remote report")
			writeJSON(w, http.StatusInternalServerError, errorResponse{"fetching report"})

			return
		}

		if data != nil {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)

			return
		}
	}

	writeJSON(w, http.StatusNotFound, errorResponse{"report not found"})
}

// handleListRemoteRuns lists run IDs present in remote storage, covering
// uploaded runs whose local run directories have been pruned.
func (s *server) handleListRemoteRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Upload == nil || s.cfg.Upload.S3 == nil || !s.cfg.Upload.S3.Enabled {
		writeJSON(w, http.StatusNotFound, errorResponse{"remote storage not configured"})

		return
	}

	reader := upload.NewS3Reader(s.log, s.cfg.Upload.S3)

	prefix := s.cfg.Upload.S3.Prefix
	if prefix == "" {
		prefix = "testpilot"
	}

	prefixes, err := reader.ListRunPrefixes(r.Context(), strings.TrimRight(prefix, "/")+"/runs/")
	if err != nil {
		s.log.WithError(err).Error("Failed to list remote runs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing remote runs"})

		return
	}

	writeJSON(w, http.StatusOK, remoteRunIDs(prefixes))
}

// remoteRunIDs maps S3 common prefixes ("<prefix>/runs/<id>/") to run IDs.
func remoteRunIDs(prefixes []string) []string {
	ids := make([]string, 0, len(prefixes))

	for _, p := range prefixes {
		if id := path.Base(strings.TrimRight(p, "/")); id != "." && id != "/" {
			ids = append(ids, id)
		}
	}

	return ids
}

func (s *server) handleListLocators(w http.ResponseWriter, _ *http.Request) {
	statuses, err := s.registry.All()
	if err != nil {
		s.log.WithError(err).Error("Failed to read locator registry")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading locator registry"})

		return
	}

	writeJSON(w, http.StatusOK, statuses)
}

// startRunRequest is the POST /runs payload.
type startRunRequest struct {
	SpecPathOrTestName string `json:"specPathOrTestName"`
	RunMode            string `json:"runMode"`
	TargetDescriptor   string `json:"targetDescriptor"`
	DatasetFilter      string `json:"datasetFilter"`
}

func (s *server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})

		return
	}

	if req.SpecPathOrTestName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"specPathOrTestName is required"})

		return
	}

	mode := workspace.ModeLocal
	if req.RunMode == string(workspace.ModeCloud) {
		mode = workspace.ModeCloud
	}

	runID, err := s.orchestrator.Start(r.Context(), &orchestrator.Request{
		WorkspacePath:      s.workspace,
		SpecPathOrTestName: req.SpecPathOrTestName,
		Mode:               mode,
		TargetDescriptor:   req.TargetDescriptor,
		DatasetFilter:      req.DatasetFilter,
	})
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"runId": runID,
			"error": err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (s *server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Stop(); err != nil {
		s.log.WithError(err).Error("Failed to stop run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"stopping run"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
