package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/config"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

// authState is the persisted authentication snapshot the engine loads before
// each run. The empty snapshot is valid and means "no session".
type authState struct {
	Cookies []json.RawMessage `json:"cookies"`
	Origins []json.RawMessage `json:"origins"`
}

// CloudCredentials are the stored remote-grid credentials required for cloud
// runs.
type CloudCredentials struct {
	Username  string `json:"username"`
	AccessKey string `json:"accessKey"`
}

// AuthStatePath returns the workspace auth snapshot path for a platform
// type. Platforms with dedicated session handling get their own snapshot
// file.
func AuthStatePath(workspace, platform string) string {
	name := "state.json"
	if platform != "" {
		name = fmt.Sprintf("state-%s.json", platform)
	}

	return filepath.Join(bundle.AuthDir(workspace), name)
}

// EnsureAuthState places a valid authentication snapshot in the workspace:
// the configured seed snapshot when one exists, an empty snapshot otherwise.
// Cloud mode additionally requires stored grid credentials and fails fast,
// before any process is spawned, when they are absent.
func (b *bootstrapper) EnsureAuthState(workspace string, mode Mode) error {
	if mode == ModeCloud {
		if _, err := LoadCloudCredentials(&b.cfg.Cloud, workspace); err != nil {
			return err
		}
	}

	manifest, err := LoadManifest(workspace)
	if err != nil {
		b.log.WithError(err).Warn("Failed to read workspace manifest")
	}

	platform := ""
	if manifest != nil {
		platform = manifest.Platform
	}

	path := AuthStatePath(workspace, platform)
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("preparing auth directory: %w", err)
	}

	if fsutil.FileExists(path) {
		var state authState
		if err := fsutil.ReadJSON(path, &state); err == nil {
			return nil
		}

		b.log.WithField("path", path).Warn("Auth snapshot unreadable, resetting")
	}

	if seed := b.cfg.Engine.AuthSeedPath; seed != "" && fsutil.FileExists(seed) {
		if err := fsutil.CopyFile(seed, path); err != nil {
			return fmt.Errorf("copying auth seed: %w", err)
		}

		return nil
	}

	empty := authState{
		Cookies: []json.RawMessage{},
		Origins: []json.RawMessage{},
	}

	if err := fsutil.WriteJSONAtomic(path, empty); err != nil {
		return fmt.Errorf("writing auth snapshot: %w", err)
	}

	return nil
}

// LoadCloudCredentials reads the stored remote-grid credentials, from the
// configured path or the workspace default.
func LoadCloudCredentials(cfg *config.CloudConfig, workspace string) (*CloudCredentials, error) {
	path := cfg.CredentialsPath
	if path == "" {
		path = filepath.Join(bundle.StateDir(workspace), "cloud.json")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("cloud credentials not found at %s, configure the remote grid first", path)
	}

	var creds CloudCredentials
	if err := fsutil.ReadJSON(path, &creds); err != nil {
		return nil, fmt.Errorf("reading cloud credentials: %w", err)
	}

	if creds.Username == "" || creds.AccessKey == "" {
		return nil, fmt.Errorf("cloud credentials at %s are incomplete", path)
	}

	return &creds, nil
}
