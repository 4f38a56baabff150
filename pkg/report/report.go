// Package report generates static per-run reports from the execution
// engine's structured results directory.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/forensics"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
	"golang.org/x/sync/errgroup"
)

// parseConcurrency bounds how many result files are parsed in parallel.
const parseConcurrency = 4

// Summary aggregates result counts for one run.
type Summary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Duration float64 `json:"duration"`
}

// Report is the structured per-run report written next to the relocated
// traces.
type Report struct {
	RunID       string                  `json:"runId"`
	GeneratedAt time.Time               `json:"generatedAt"`
	Summary     Summary                 `json:"summary"`
	Results     []forensics.TestOutcome `json:"results"`
}

// Generate parses every structured result in the workspace scratch results
// directory and writes report.json and report.md into the run directory.
// Returns the markdown report path.
func Generate(ctx context.Context, log logrus.FieldLogger, workspace, runID string) (string, error) {
	log = log.WithField("component", "report")

	resultsDir := bundle.ScratchResultsDir(workspace)

	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return "", fmt.Errorf("reading results directory: %w", err)
	}

	var (
		mu      sync.Mutex
		results []forensics.TestOutcome
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(resultsDir, entry.Name())

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading result %s: %w", entry.Name(), err)
			}

			outcome, err := forensics.DecodeOutcome(data)
			if err != nil {
				// One malformed result should not sink the report.
				log.WithError(err).WithField("file", entry.Name()).Warn("Skipping malformed result")

				return nil
			}

			mu.Lock()
			results = append(results, *outcome)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Title < results[j].Title
	})

	rep := &Report{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	}

	for _, r := range results {
		rep.Summary.Total++
		rep.Summary.Duration += r.Duration

		switch r.Status {
		case "passed":
			rep.Summary.Passed++
		case "skipped":
			rep.Summary.Skipped++
		default:
			rep.Summary.Failed++
		}
	}

	runDir := bundle.RunDir(workspace, runID)
	if err := fsutil.EnsureDir(runDir); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}

	if err := fsutil.WriteJSONAtomic(filepath.Join(runDir, "report.json"), rep); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	mdPath := filepath.Join(runDir, "report.md")
	if err := fsutil.WriteFileAtomic(mdPath, []byte(renderMarkdown(rep, runDir))); err != nil {
		return "", fmt.Errorf("writing markdown report: %w", err)
	}

	log.WithFields(logrus.Fields{
		"run":   runID,
		"tests": rep.Summary.Total,
	}).Info("Report generated")

	return mdPath, nil
}

func renderMarkdown(rep *Report, runDir string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", rep.RunID)
	fmt.Fprintf(&b, "Generated %s\n\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**%d tests** — %d passed, %d failed, %d skipped (%.1fs)\n\n",
		rep.Summary.Total, rep.Summary.Passed, rep.Summary.Failed,
		rep.Summary.Skipped, rep.Summary.Duration/1000)

	b.WriteString("| Test | Status | Duration |\n|---|---|---|\n")

	for _, r := range rep.Results {
		fmt.Fprintf(&b, "| %s | %s | %.0fms |\n", r.Title, r.Status, r.Duration)
	}

	if artifacts := listArtifacts(runDir); len(artifacts) > 0 {
		b.WriteString("\n## Artifacts\n\n")

		for _, a := range artifacts {
			fmt.Fprintf(&b, "- %s (%s)\n", a.name, units.HumanSize(float64(a.size)))
		}
	}

	return b.String()
}

type artifactEntry struct {
	name string
	size int64
}

func listArtifacts(runDir string) []artifactEntry {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil
	}

	var artifacts []artifactEntry

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "report.") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		artifacts = append(artifacts, artifactEntry{name: entry.Name(), size: info.Size()})
	}

	return artifacts
}
