package locator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/forensics"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

func TestRegistryMarkFailing(t *testing.T) {
	ws := t.TempDir()
	reg := NewRegistry(logrus.New(), ws)

	// Pre-existing unrelated entry must survive untouched.
	require.NoError(t, reg.MarkFailing("css:page.locator('#save')", "old note", "other-test"))

	before, err := reg.Get("css:page.locator('#save')")
	require.NoError(t, err)
	require.NotNil(t, before)

	key := "role:page.getByRole('button',{name:'OK'})"
	require.NoError(t, reg.MarkFailing(key, "timed out waiting", "login-flow"))

	status, err := reg.Get(key)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, StateFailing, status.State)
	assert.Equal(t, "timed out waiting", status.Note)
	assert.Equal(t, "login-flow", status.LastTest)
	assert.WithinDuration(t, time.Now().UTC(), status.UpdatedAt, time.Minute)

	unrelated, err := reg.Get("css:page.locator('#save')")
	require.NoError(t, err)
	require.NotNil(t, unrelated)
	assert.Equal(t, "old note", unrelated.Note)
	assert.Equal(t, "other-test", unrelated.LastTest)
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry(logrus.New(), t.TempDir())

	status, err := reg.Get("role:page.getByRole('link',{name:'Home'})")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func writeArtifact(t *testing.T, ws, testName string, artifact *forensics.Artifact) {
	t.Helper()

	path := bundle.ArtifactPath(ws, bundle.Slug(testName))
	require.NoError(t, fsutil.EnsureDir(filepath.Dir(path)))
	require.NoError(t, fsutil.WriteJSONAtomic(path, artifact))
}

func TestOnTestFailedDowngradesNamedLocator(t *testing.T) {
	ws := t.TempDir()
	fb := NewFeedback(logrus.New())
	reg := NewRegistry(logrus.New(), ws)

	require.NoError(t, reg.MarkFailing("css:page.locator('#other')", "unrelated", "other-test"))

	key := "role:page.getByRole('button',{name:'OK'})"

	writeArtifact(t, ws, "Login Flow", &forensics.Artifact{
		TestName: "login-flow",
		Status:   "failed",
		Error: forensics.ErrorDetail{
			Message: "Timed out waiting for getByRole('button', { name: 'OK' })",
		},
		FailedLocator: &forensics.FailedLocator{
			Locator:    "getByRole('button', { name: 'OK' })",
			Type:       "role",
			LocatorKey: key,
		},
	})

	require.NoError(t, fb.OnTestFailed(ws, "Login Flow"))

	status, err := reg.Get(key)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, StateFailing, status.State)
	assert.Contains(t, status.Note, "login-flow")
	assert.Contains(t, status.Note, "Timed out")
	assert.Equal(t, "login-flow", status.LastTest)

	// Unrelated locator entries are unchanged.
	unrelated, err := reg.Get("css:page.locator('#other')")
	require.NoError(t, err)
	require.NotNil(t, unrelated)
	assert.Equal(t, "unrelated", unrelated.Note)
}

func TestOnTestFailedNoArtifact(t *testing.T) {
	ws := t.TempDir()
	fb := NewFeedback(logrus.New())

	require.NoError(t, fb.OnTestFailed(ws, "never-failed"))

	statuses, err := NewRegistry(logrus.New(), ws).All()
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestOnTestFailedArtifactWithoutLocator(t *testing.T) {
	ws := t.TempDir()
	fb := NewFeedback(logrus.New())

	writeArtifact(t, ws, "login-flow", &forensics.Artifact{
		TestName: "login-flow",
		Status:   "failed",
		Error:    forensics.ErrorDetail{Message: "assertion failed"},
	})

	require.NoError(t, fb.OnTestFailed(ws, "login-flow"))

	statuses, err := NewRegistry(logrus.New(), ws).All()
	require.NoError(t, err)
	assert.Empty(t, statuses)
}
