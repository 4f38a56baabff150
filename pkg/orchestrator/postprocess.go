package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/forensics"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
	"github.com/testpilot-dev/testpilot/pkg/report"
	"github.com/testpilot-dev/testpilot/pkg/runindex"
)

// postProcess drives a finished run to its terminal state. Runs once per
// process exit with no cancellation hook; each step tolerates its own
// failure so the run always ends persisted and auditable.
func (o *orchestrator) postProcess(run *activeRun, exitCode int) {
	// Deliberately not the run's context: post-processing outlives Stop.
	ctx := context.Background()

	rec := run.rec
	ws := run.req.WorkspacePath
	now := time.Now().UTC()

	rec.Status = runindex.StatusPassed
	if exitCode != 0 {
		rec.Status = runindex.StatusFailed
	}

	rec.FinishedAt = &now

	log := o.log.WithFields(logrus.Fields{
		"run":    rec.RunID,
		"status": rec.Status,
	})

	if traces, err := relocateTraces(ws, rec.RunID); err != nil {
		log.WithError(err).Warn("Trace relocation failed")
	} else {
		rec.TracePaths = traces
	}

	if fsutil.DirNonEmpty(bundle.ScratchResultsDir(ws)) {
		if mdPath, err := report.Generate(ctx, o.log, ws, rec.RunID); err != nil {
			log.WithError(err).Warn("Report generation failed")
		} else if rel, rerr := filepath.Rel(ws, mdPath); rerr == nil {
			rec.ReportPath = rel
		}
	}

	if rec.Status == runindex.StatusFailed {
		if artifact, err := forensics.LoadArtifact(ws, rec.TestName); err != nil {
			log.WithError(err).Warn("Failure artifact unreadable")
		} else if artifact != nil && artifact.AssertionFailure != nil {
			rec.AssertionFailures = []runindex.AssertionFailure{{
				AssertionType: artifact.AssertionFailure.AssertionType,
				Target:        artifact.AssertionFailure.Target,
				Expected:      artifact.AssertionFailure.Expected,
				Actual:        artifact.AssertionFailure.Actual,
			}}
		}
	}

	if run.cloud != nil {
		rec.CloudSession = run.cloud.Meta()
	}

	if run.sampler != nil {
		usage := run.sampler.Stop()
		rec.ResourceUsage = &runindex.ResourceUsage{
			PeakRSSBytes: usage.PeakRSSBytes,
			CPUSeconds:   usage.CPUSeconds,
		}
	}

	if err := o.store.Upsert(ctx, rec); err != nil {
		log.WithError(err).Error("Failed to persist run record")
	}

	if _, err := bundle.RecordRun(ws, rec.TestName, string(rec.Status), rec.RunID, now); err != nil {
		log.WithError(err).Warn("Failed to update test metadata")
	}

	o.notifyTestUpdated(rec.TestName)

	if rec.Status == runindex.StatusFailed {
		if err := o.feedback.OnTestFailed(ws, rec.TestName); err != nil {
			log.WithError(err).Warn("Locator feedback failed")
		}
	}

	if o.uploader != nil {
		o.uploadRun(ctx, log, ws, rec.RunID)
	}

	log.WithField("exitCode", exitCode).Info("Run finished")

	o.emit(Event{
		Type:     EventFinished,
		RunID:    rec.RunID,
		Status:   string(rec.Status),
		ExitCode: exitCode,
	})
}

// uploadRun pushes the run directory to remote storage, best effort.
func (o *orchestrator) uploadRun(ctx context.Context, log logrus.FieldLogger, ws, runID string) {
	runDir := bundle.RunDir(ws, runID)
	if !fsutil.DirNonEmpty(runDir) {
		return
	}

	if err := o.uploader.Preflight(ctx); err != nil {
		log.WithError(err).Warn("Upload preflight failed, skipping upload")

		return
	}

	if err := o.uploader.Upload(ctx, runDir); err != nil {
		log.WithError(err).Warn("Run upload failed")
	}
}

// relocateTraces moves trace archives out of the engine scratch directory
// into the stable run directory, disambiguating multiples with an index
// suffix. Zero traces is a normal outcome.
func relocateTraces(ws, runID string) ([]string, error) {
	traces := []string{}

	scratch := bundle.ScratchTraceDir(ws)

	var found []string

	err := filepath.Walk(scratch, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".zip") {
			found = append(found, path)
		}

		return nil
	})
	if err != nil {
		return traces, fmt.Errorf("scanning scratch traces: %w", err)
	}

	if len(found) == 0 {
		return traces, nil
	}

	runDir := bundle.RunDir(ws, runID)
	if err := fsutil.EnsureDir(runDir); err != nil {
		return traces, fmt.Errorf("creating run directory: %w", err)
	}

	for i, src := range found {
		name := "trace.zip"
		if i > 0 {
			name = fmt.Sprintf("trace-%d.zip", i)
		}

		dst := filepath.Join(runDir, name)
		if err := fsutil.MoveFile(src, dst); err != nil {
			return traces, fmt.Errorf("relocating %s: %w", src, err)
		}

		rel, err := filepath.Rel(ws, dst)
		if err != nil {
			rel = dst
		}

		traces = append(traces, rel)
	}

	return traces, nil
}
