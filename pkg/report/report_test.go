package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

func writeResult(t *testing.T, ws, name, content string) {
	t.Helper()

	dir := bundle.ScratchResultsDir(ws)
	require.NoError(t, fsutil.EnsureDir(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestGenerate(t *testing.T) {
	ws := t.TempDir()

	writeResult(t, ws, "login-flow.json",
		`{"title": "Login Flow", "status": "passed", "duration": 1200}`)
	writeResult(t, ws, "create-order.json",
		`{"title": "Create Order", "status": "failed", "duration": 5400}`)
	writeResult(t, ws, "legacy-report.json",
		`{"title": "Legacy", "status": "skipped", "duration": 0}`)
	writeResult(t, ws, "notes.txt", "not a result")

	mdPath, err := Generate(context.Background(), logrus.New(), ws, "run-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bundle.RunDir(ws, "run-1"), "report.md"), mdPath)

	var rep Report
	require.NoError(t, fsutil.ReadJSON(filepath.Join(bundle.RunDir(ws, "run-1"), "report.json"), &rep))

	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, 3, rep.Summary.Total)
	assert.Equal(t, 1, rep.Summary.Passed)
	assert.Equal(t, 1, rep.Summary.Failed)
	assert.Equal(t, 1, rep.Summary.Skipped)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "Login Flow")
	assert.Contains(t, string(md), "Create Order")
	assert.Contains(t, string(md), "failed")
}

func TestGenerateSkipsMalformedResults(t *testing.T) {
	ws := t.TempDir()

	writeResult(t, ws, "good.json", `{"title": "Good", "status": "passed", "duration": 100}`)
	writeResult(t, ws, "bad.json", `{{{`)

	mdPath, err := Generate(context.Background(), logrus.New(), ws, "run-2")
	require.NoError(t, err)

	var rep Report
	require.NoError(t, fsutil.ReadJSON(filepath.Join(filepath.Dir(mdPath), "report.json"), &rep))
	assert.Equal(t, 1, rep.Summary.Total)
}

func TestGenerateMissingResultsDir(t *testing.T) {
	_, err := Generate(context.Background(), logrus.New(), t.TempDir(), "run-3")
	assert.Error(t, err)
}

func TestGenerateListsArtifacts(t *testing.T) {
	ws := t.TempDir()

	writeResult(t, ws, "one.json", `{"title": "One", "status": "failed", "duration": 10}`)

	// A relocated trace already sits in the run directory.
	runDir := bundle.RunDir(ws, "run-4")
	require.NoError(t, fsutil.EnsureDir(runDir))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "trace.zip"), make([]byte, 2048), 0o644))

	mdPath, err := Generate(context.Background(), logrus.New(), ws, "run-4")
	require.NoError(t, err)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "trace.zip")
	assert.Contains(t, string(md), "kB")
}
