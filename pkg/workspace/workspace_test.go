package workspace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/config"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

func testConfig() *config.Config {
	cfg, _ := config.Load("")
	// No real package manager in unit tests.
	cfg.Engine.InstallCommand = []string{"true"}
	cfg.Engine.BrowserInstallCommand = []string{"true"}

	return cfg
}

func writeManifest(t *testing.T, ws string, m *Manifest) {
	t.Helper()
	require.NoError(t, fsutil.WriteJSONAtomic(bundle.ManifestPath(ws), m))
}

func TestEnsureExecutionEnvironment(t *testing.T) {
	ws := t.TempDir()
	b := NewBootstrapper(logrus.New(), testConfig())

	writeManifest(t, ws, &Manifest{
		Name:          "demo-shop",
		EngineVersion: "1.44.0",
		Browsers:      []string{"chromium"},
	})

	require.NoError(t, b.EnsureExecutionEnvironment(context.Background(), ws, ModeLocal))

	// Engine configuration generated and pinned to the workspace.
	var ec map[string]any
	require.NoError(t, fsutil.ReadJSON(bundle.EngineConfigPath(ws), &ec))
	assert.Contains(t, ec["reporter"], "report-test")
	assert.Contains(t, ec["reporter"], ws)
	assert.Equal(t, "retain-on-failure", ec["trace"])

	// Scratch and state directories exist.
	for _, dir := range []string{
		bundle.ScratchTraceDir(ws),
		bundle.ScratchResultsDir(ws),
		bundle.RunsDir(ws),
		bundle.MetaDir(ws),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestEnsureExecutionEnvironmentRegeneratesConfig(t *testing.T) {
	ws := t.TempDir()
	b := NewBootstrapper(logrus.New(), testConfig())

	writeManifest(t, ws, &Manifest{EngineVersion: "1.44.0", Browsers: []string{"chromium"}})

	require.NoError(t, b.EnsureExecutionEnvironment(context.Background(), ws, ModeLocal))

	// Clobber the generated config; a second call must restore it.
	require.NoError(t, os.WriteFile(bundle.EngineConfigPath(ws), []byte("garbage"), 0o644))

	require.NoError(t, b.EnsureExecutionEnvironment(context.Background(), ws, ModeLocal))

	var ec map[string]any
	require.NoError(t, fsutil.ReadJSON(bundle.EngineConfigPath(ws), &ec))
	assert.Contains(t, ec["reporter"], "report-test")
}

func TestEnsureExecutionEnvironmentInstallFailureNonFatal(t *testing.T) {
	ws := t.TempDir()

	cfg := testConfig()
	cfg.Engine.InstallCommand = []string{"false"}
	cfg.Engine.BrowserInstallCommand = []string{"false"}

	b := NewBootstrapper(logrus.New(), cfg)

	// No manifest: dependencies are incomplete, install runs and fails, but
	// the call still succeeds and writes the engine configuration.
	require.NoError(t, b.EnsureExecutionEnvironment(context.Background(), ws, ModeLocal))
	assert.True(t, fsutil.FileExists(bundle.EngineConfigPath(ws)))
}

func TestEnsureAuthStateCreatesEmptySnapshot(t *testing.T) {
	ws := t.TempDir()
	b := NewBootstrapper(logrus.New(), testConfig())

	require.NoError(t, b.EnsureAuthState(ws, ModeLocal))

	var state map[string]json.RawMessage
	require.NoError(t, fsutil.ReadJSON(AuthStatePath(ws, ""), &state))
	assert.Contains(t, state, "cookies")
	assert.Contains(t, state, "origins")
}

func TestEnsureAuthStatePlatformSpecificPath(t *testing.T) {
	ws := t.TempDir()
	b := NewBootstrapper(logrus.New(), testConfig())

	writeManifest(t, ws, &Manifest{Platform: "ui5", EngineVersion: "1.44.0", Browsers: []string{"chromium"}})

	require.NoError(t, b.EnsureAuthState(ws, ModeLocal))
	assert.True(t, fsutil.FileExists(AuthStatePath(ws, "ui5")))
	assert.Equal(t, "state-ui5.json", filepath.Base(AuthStatePath(ws, "ui5")))
}

func TestEnsureAuthStateCopiesSeed(t *testing.T) {
	ws := t.TempDir()

	seed := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(`{"cookies":[{"name":"session"}],"origins":[]}`), 0o600))

	cfg := testConfig()
	cfg.Engine.AuthSeedPath = seed

	b := NewBootstrapper(logrus.New(), cfg)
	require.NoError(t, b.EnsureAuthState(ws, ModeLocal))

	var state struct {
		Cookies []json.RawMessage `json:"cookies"`
	}
	require.NoError(t, fsutil.ReadJSON(AuthStatePath(ws, ""), &state))
	assert.Len(t, state.Cookies, 1)
}

func TestEnsureAuthStateCloudFailsFastWithoutCredentials(t *testing.T) {
	ws := t.TempDir()
	b := NewBootstrapper(logrus.New(), testConfig())

	err := b.EnsureAuthState(ws, ModeCloud)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud credentials")
}

func TestLoadCloudCredentials(t *testing.T) {
	ws := t.TempDir()

	path := filepath.Join(bundle.StateDir(ws), "cloud.json")
	require.NoError(t, fsutil.WriteJSONAtomic(path, CloudCredentials{
		Username:  "qa-team",
		AccessKey: "secret",
	}))

	creds, err := LoadCloudCredentials(&config.CloudConfig{}, ws)
	require.NoError(t, err)
	assert.Equal(t, "qa-team", creds.Username)
	assert.Equal(t, "secret", creds.AccessKey)
}

func TestLoadCloudCredentialsIncomplete(t *testing.T) {
	ws := t.TempDir()

	path := filepath.Join(bundle.StateDir(ws), "cloud.json")
	require.NoError(t, fsutil.WriteJSONAtomic(path, CloudCredentials{Username: "qa-team"}))

	_, err := LoadCloudCredentials(&config.CloudConfig{}, ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestManifestComplete(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		want     bool
	}{
		{
			name:     "complete",
			manifest: Manifest{EngineVersion: "1.44.0", Browsers: []string{"chromium"}},
			want:     true,
		},
		{
			name:     "missing engine version",
			manifest: Manifest{Browsers: []string{"chromium"}},
			want:     false,
		},
		{
			name:     "missing browsers",
			manifest: Manifest{EngineVersion: "1.44.0"},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.manifest.Complete())
		})
	}
}

func TestLoadManifestMissing(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m)
}
