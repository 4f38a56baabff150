// Package workspace prepares a target workspace for test execution:
// dependency manifest checks, runtime installs, the generated execution-engine
// configuration, and authentication snapshots.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/config"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

// Mode selects where a run executes.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// Bootstrapper prepares workspaces for execution. EnsureExecutionEnvironment
// is idempotent and regenerates the engine configuration on every call.
type Bootstrapper interface {
	EnsureExecutionEnvironment(ctx context.Context, workspace string, mode Mode) error
	EnsureAuthState(workspace string, mode Mode) error
}

type bootstrapper struct {
	log logrus.FieldLogger
	cfg *config.Config
}

// Compile-time interface check.
var _ Bootstrapper = (*bootstrapper)(nil)

// NewBootstrapper creates a workspace bootstrapper.
func NewBootstrapper(log logrus.FieldLogger, cfg *config.Config) Bootstrapper {
	return &bootstrapper{
		log: log.WithField("component", "workspace"),
		cfg: cfg,
	}
}

// EnsureExecutionEnvironment verifies the dependency manifest, installs
// missing dependencies (non-fatal on failure), installs the browser runtime
// for local runs, and regenerates the engine configuration. Only a
// configuration write failure aborts the run.
func (b *bootstrapper) EnsureExecutionEnvironment(ctx context.Context, workspace string, mode Mode) error {
	manifest, err := LoadManifest(workspace)
	if err != nil {
		b.log.WithError(err).Warn("Failed to read workspace manifest")
	}

	if manifest == nil || !manifest.Complete() {
		b.log.Info("Workspace dependencies incomplete, installing")

		if err := b.runCommand(ctx, workspace, b.cfg.Engine.InstallCommand); err != nil {
			// A missing runtime surfaces later as a clear engine error.
			b.log.WithError(err).Warn("Dependency install failed, continuing")
		}
	}

	if mode == ModeLocal {
		if err := b.runCommand(ctx, workspace, b.cfg.Engine.BrowserInstallCommand); err != nil {
			b.log.WithError(err).Warn("Browser runtime install failed, continuing")
		}
	}

	platform := ""
	if manifest != nil {
		platform = manifest.Platform
	}

	if err := b.writeEngineConfig(workspace, platform); err != nil {
		return fmt.Errorf("generating engine configuration: %w", err)
	}

	for _, dir := range []string{
		bundle.ScratchTraceDir(workspace),
		bundle.ScratchResultsDir(workspace),
		bundle.RunsDir(workspace),
		bundle.MetaDir(workspace),
	} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return fmt.Errorf("preparing state directories: %w", err)
		}
	}

	return nil
}

// engineConfig is the generated configuration consumed by the execution
// engine: reporter wiring, target URL, capture policy, auth-state path.
type engineConfig struct {
	BaseURL       string `json:"baseURL"`
	OutputDir     string `json:"outputDir"`
	ResultsDir    string `json:"resultsDir"`
	Trace         string `json:"trace"`
	Screenshot    string `json:"screenshot"`
	Reporter      string `json:"reporter"`
	AuthStatePath string `json:"authStatePath"`
}

func (b *bootstrapper) writeEngineConfig(workspace, platform string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own binary path: %w", err)
	}

	cfg := engineConfig{
		BaseURL:       b.cfg.Engine.BaseURL,
		OutputDir:     relToWorkspace(workspace, bundle.ScratchTraceDir(workspace)),
		ResultsDir:    relToWorkspace(workspace, bundle.ScratchResultsDir(workspace)),
		Trace:         b.cfg.Engine.Trace,
		Screenshot:    b.cfg.Engine.Screenshot,
		Reporter:      fmt.Sprintf("%s report-test --workspace %s", exe, workspace),
		AuthStatePath: relToWorkspace(workspace, AuthStatePath(workspace, platform)),
	}

	if err := fsutil.WriteJSONAtomic(bundle.EngineConfigPath(workspace), cfg); err != nil {
		return err
	}

	b.log.WithField("path", bundle.EngineConfigPath(workspace)).Debug("Engine configuration written")

	return nil
}

// runCommand executes an install command inside the workspace.
func (b *bootstrapper) runCommand(ctx context.Context, workspace string, argv []string) error {
	if len(argv) == 0 {
		return nil
	}

	b.log.WithField("command", strings.Join(argv, " ")).Info("Running workspace command")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workspace

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", argv[0], err, strings.TrimSpace(string(out)))
	}

	return nil
}

func relToWorkspace(workspace, path string) string {
	rel, err := filepath.Rel(workspace, path)
	if err != nil {
		return path
	}

	return rel
}
