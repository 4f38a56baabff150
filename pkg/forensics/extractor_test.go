package forensics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
)

func TestProcessFailedTest(t *testing.T) {
	ws := t.TempDir()
	ex := NewExtractor(logrus.New(), ws)

	outcome := &TestOutcome{
		Title:    "Create Purchase Order",
		Status:   "failed",
		Duration: 5230,
		Retry:    1,
		Message: "Error: expect(statusField).toHaveText(expected)\n" +
			"Timed out waiting for getByRole('button', { name: 'OK' })\n" +
			"Expected: \"Created\"\n" +
			"Received: \"Pending\"\n",
		Stack: "    at tests/create-purchase-order/create-purchase-order.spec.ts:42:17",
		Attachments: []OutcomeAttachment{
			{Name: "screenshot", Path: filepath.Join(ws, ".testpilot", "scratch", "test-results", "failure.png")},
			{Name: "trace", Path: filepath.Join(ws, ".testpilot", "scratch", "test-results", "trace.zip")},
		},
	}

	artifact, err := ex.Process(outcome)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, "create-purchase-order", artifact.TestName)
	assert.Equal(t, "failed", artifact.Status)
	assert.Equal(t, 1, artifact.RetryCount)

	require.NotNil(t, artifact.FailedLocator)
	assert.Equal(t, "role", artifact.FailedLocator.Type)
	assert.Equal(t, "role:page.getByRole('button',{name:'OK'})", artifact.FailedLocator.LocatorKey)

	require.NotNil(t, artifact.AssertionFailure)
	assert.Equal(t, "Created", artifact.AssertionFailure.Expected)
	assert.Equal(t, "Pending", artifact.AssertionFailure.Actual)

	// Attachments under the workspace root become workspace-relative.
	assert.Equal(t, filepath.Join(".testpilot", "scratch", "test-results", "failure.png"), artifact.Screenshot)
	assert.Equal(t, filepath.Join(".testpilot", "scratch", "test-results", "trace.zip"), artifact.Trace)

	// Stack location recovered from the generic frame shape.
	require.NotNil(t, artifact.Error.Location)
	assert.Equal(t, 42, artifact.Error.Location.Line)

	// Written to the bundle convention path.
	path := bundle.ArtifactPath(ws, "create-purchase-order")
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	loaded, err := LoadArtifact(ws, "Create Purchase Order")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, artifact.FailedLocator.LocatorKey, loaded.FailedLocator.LocatorKey)
}

func TestProcessOverwritesPriorArtifact(t *testing.T) {
	ws := t.TempDir()
	ex := NewExtractor(logrus.New(), ws)

	first := &TestOutcome{
		Title:   "Login Flow",
		Status:  "failed",
		Message: "first failure",
	}
	_, err := ex.Process(first)
	require.NoError(t, err)

	second := &TestOutcome{
		Title:   "Login Flow",
		Status:  "timedOut",
		Message: "second failure",
	}
	_, err = ex.Process(second)
	require.NoError(t, err)

	loaded, err := LoadArtifact(ws, "Login Flow")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "timedOut", loaded.Status)
	assert.Equal(t, "second failure", loaded.Error.Message)
}

func TestProcessIgnoresPassedAndSkipped(t *testing.T) {
	ws := t.TempDir()
	ex := NewExtractor(logrus.New(), ws)

	for _, status := range []string{"passed", "skipped"} {
		artifact, err := ex.Process(&TestOutcome{Title: "Login Flow", Status: status})
		require.NoError(t, err)
		assert.Nil(t, artifact)
	}

	loaded, err := LoadArtifact(ws, "Login Flow")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadArtifactLegacyLayouts(t *testing.T) {
	// Flat-layout specs keep their artifact next to the spec file, not in a
	// per-test bundle directory. Loading by identity must still find it.
	tests := []struct {
		name string
		file string
	}{
		{name: "flat tests layout", file: "tests/login-flow.spec.ts"},
		{name: "e2e layout", file: "e2e/login-flow.spec.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := t.TempDir()
			ex := NewExtractor(logrus.New(), ws)

			artifact, err := ex.Process(&TestOutcome{
				Title:   "Login Flow",
				Status:  "failed",
				File:    tt.file,
				Line:    12,
				Message: "boom",
			})
			require.NoError(t, err)
			require.NotNil(t, artifact)

			_, statErr := os.Stat(filepath.Join(ws, filepath.Dir(tt.file), "login-flow_failure.json"))
			require.NoError(t, statErr)

			loaded, err := LoadArtifact(ws, "login-flow")
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, "boom", loaded.Error.Message)
		})
	}
}

func TestProcessSourceLocationIsAuthoritative(t *testing.T) {
	ws := t.TempDir()
	ex := NewExtractor(logrus.New(), ws)

	// Title would slug differently; the spec file location wins.
	outcome := &TestOutcome{
		Title:   "A completely different human title",
		Status:  "failed",
		File:    "tests/login-flow/login-flow.spec.ts",
		Line:    7,
		Column:  3,
		Message: "boom",
	}

	artifact, err := ex.Process(outcome)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, "login-flow", artifact.TestName)

	require.NotNil(t, artifact.Error.Location)
	assert.Equal(t, 7, artifact.Error.Location.Line)

	_, statErr := os.Stat(filepath.Join(ws, "tests", "login-flow", "login-flow_failure.json"))
	require.NoError(t, statErr)
}
