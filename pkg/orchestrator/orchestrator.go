// Package orchestrator runs the top-level execution state machine: spawns
// the external test-execution engine against a resolved spec, streams its
// output as ordered events, and drives post-processing into the run index,
// per-test metadata, and locator-health feedback.
package orchestrator

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/config"
	"github.com/testpilot-dev/testpilot/pkg/locator"
	"github.com/testpilot-dev/testpilot/pkg/procstat"
	"github.com/testpilot-dev/testpilot/pkg/runindex"
	"github.com/testpilot-dev/testpilot/pkg/upload"
	"github.com/testpilot-dev/testpilot/pkg/workspace"
)

// scanBufSize is the line buffer cap for engine output; trace dumps can
// produce very long lines.
const scanBufSize = 1024 * 1024

// Request describes one run to execute.
type Request struct {
	WorkspacePath      string
	SpecPathOrTestName string
	Mode               workspace.Mode
	TargetDescriptor   string
	DatasetFilter      string
}

// Orchestrator executes runs, at most one in flight at a time. Starting a
// new run kills any still-tracked prior process before spawning.
type Orchestrator interface {
	// Start begins a run and returns its id. The returned error covers
	// resolution, bootstrap and spawn failures only; execution failures are
	// reported through the event stream and the run index.
	Start(ctx context.Context, req *Request) (string, error)
	// Stop kills the tracked process if any.
	Stop() error

	Subscribe(Listener)
	SubscribeTestUpdated(TestListener)
}

type orchestrator struct {
	log   logrus.FieldLogger
	cfg   *config.Config
	store runindex.Store

	bootstrapper workspace.Bootstrapper
	feedback     *locator.Feedback
	uploader     upload.Uploader

	// mu guards the tracked process handle.
	mu  sync.Mutex
	cmd *exec.Cmd

	emitMu        sync.Mutex
	listeners     []Listener
	testListeners []TestListener
}

// Compile-time interface check.
var _ Orchestrator = (*orchestrator)(nil)

// NewOrchestrator creates a run orchestrator.
func NewOrchestrator(
	log logrus.FieldLogger,
	cfg *config.Config,
	store runindex.Store,
) Orchestrator {
	o := &orchestrator{
		log:          log.WithField("component", "orchestrator"),
		cfg:          cfg,
		store:        store,
		bootstrapper: workspace.NewBootstrapper(log, cfg),
		feedback:     locator.NewFeedback(log),
	}

	if cfg.Upload != nil && cfg.Upload.S3 != nil && cfg.Upload.S3.Enabled {
		uploader, err := upload.NewS3Uploader(log, cfg.Upload.S3)
		if err != nil {
			o.log.WithError(err).Warn("Upload disabled, S3 client unavailable")
		} else {
			o.uploader = uploader
		}
	}

	return o
}

// activeRun carries the per-run state from spawn through post-processing.
type activeRun struct {
	rec     *runindex.RunRecord
	req     *Request
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	sampler *procstat.Sampler
	cloud   *cloudMatcher
}

// Start resolves, prepares and spawns a run. A run id is always generated
// and returned, even when resolution fails, so callers can correlate the
// terminal error event.
func (o *orchestrator) Start(ctx context.Context, req *Request) (string, error) {
	runID := newRunID()

	o.killTracked()

	specRel, err := bundle.ResolveSpec(req.WorkspacePath, req.SpecPathOrTestName)
	if err != nil {
		o.emit(Event{Type: EventError, RunID: runID, Message: err.Error()})
		o.emit(Event{Type: EventFinished, RunID: runID, Status: string(runindex.StatusFailed), ExitCode: -1})

		return runID, err
	}

	testName := strings.TrimSuffix(filepath.Base(specRel), bundle.SpecSuffix)

	o.log.WithFields(logrus.Fields{
		"run":  runID,
		"spec": specRel,
		"mode": req.Mode,
	}).Info("Starting run")

	if err := o.prepare(ctx, req); err != nil {
		o.emit(Event{Type: EventError, RunID: runID, Message: err.Error()})
		o.emit(Event{Type: EventFinished, RunID: runID, Status: string(runindex.StatusFailed), ExitCode: -1})

		return runID, err
	}

	rec := &runindex.RunRecord{
		RunID:       runID,
		TestName:    testName,
		SpecRelPath: specRel,
		Status:      runindex.StatusRunning,
		StartedAt:   time.Now().UTC(),
		Source:      string(req.Mode),
		TracePaths:  []string{},
	}

	// Persisted before spawn so a crash between here and Wait still leaves
	// an auditable record.
	if err := o.store.Upsert(ctx, rec); err != nil {
		return runID, fmt.Errorf("persisting run record: %w", err)
	}

	run, err := o.spawn(rec, req)
	if err != nil {
		now := time.Now().UTC()
		rec.Status = runindex.StatusFailed
		rec.FinishedAt = &now

		if uerr := o.store.Upsert(ctx, rec); uerr != nil {
			o.log.WithError(uerr).Error("Failed to record spawn failure")
		}

		o.emit(Event{Type: EventError, RunID: runID, Message: err.Error()})
		o.emit(Event{Type: EventFinished, RunID: runID, Status: string(runindex.StatusFailed), ExitCode: -1})

		return runID, err
	}

	o.emit(Event{Type: EventStatus, RunID: runID, Status: "started"})

	go o.run(run)

	return runID, nil
}

func (o *orchestrator) prepare(ctx context.Context, req *Request) error {
	if err := o.bootstrapper.EnsureAuthState(req.WorkspacePath, req.Mode); err != nil {
		return err
	}

	return o.bootstrapper.EnsureExecutionEnvironment(ctx, req.WorkspacePath, req.Mode)
}

// spawn launches the engine process. The tracked handle is replaced only
// once the process has actually started. The process deliberately does not
// inherit the caller's context: a run outlives the Start call and is
// terminated through the tracked handle instead.
func (o *orchestrator) spawn(rec *runindex.RunRecord, req *Request) (*activeRun, error) {
	argv, env, err := o.buildCommand(rec, req)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.WorkspacePath
	cmd.Env = append(os.Environ(), env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning execution engine: %w", err)
	}

	o.mu.Lock()
	o.cmd = cmd
	o.mu.Unlock()

	run := &activeRun{
		rec:    rec,
		req:    req,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}

	if req.Mode == workspace.ModeCloud {
		run.cloud = &cloudMatcher{}
	}

	if sampler, err := procstat.NewSampler(o.log, int32(cmd.Process.Pid)); err == nil {
		run.sampler = sampler
	} else {
		o.log.WithError(err).Debug("Process sampling unavailable")
	}

	return run, nil
}

// buildCommand assembles the engine argv and mode-specific environment.
func (o *orchestrator) buildCommand(rec *runindex.RunRecord, req *Request) ([]string, []string, error) {
	argv := []string{o.cfg.Engine.Command}
	argv = append(argv, o.cfg.Engine.Args...)
	argv = append(argv, rec.SpecRelPath)
	argv = append(argv, "--config", relEngineConfig(req.WorkspacePath))

	if req.DatasetFilter != "" {
		argv = append(argv, "--grep", req.DatasetFilter)
	}

	var env []string

	if req.Mode == workspace.ModeCloud {
		creds, err := workspace.LoadCloudCredentials(&o.cfg.Cloud, req.WorkspacePath)
		if err != nil {
			return nil, nil, err
		}

		env = append(env,
			"TESTPILOT_GRID_USERNAME="+creds.Username,
			"TESTPILOT_GRID_ACCESS_KEY="+creds.AccessKey,
			"TESTPILOT_GRID_BUILD="+o.cfg.Cloud.BuildPrefix+rec.RunID,
		)

		if req.TargetDescriptor != "" {
			env = append(env, "TESTPILOT_GRID_TARGET="+req.TargetDescriptor)
		}

		if o.cfg.Cloud.Tunnel {
			env = append(env, "TESTPILOT_GRID_TUNNEL=true")
		}
	}

	return argv, env, nil
}

func relEngineConfig(ws string) string {
	rel, err := filepath.Rel(ws, bundle.EngineConfigPath(ws))
	if err != nil {
		return bundle.EngineConfigPath(ws)
	}

	return rel
}

// run streams output until both pipes close, waits for exit, then drives
// post-processing. Runs on its own goroutine per run.
func (o *orchestrator) run(run *activeRun) {
	var wg sync.WaitGroup

	wg.Add(2)

	go o.stream(run, run.stdout, EventLog, &wg)
	go o.stream(run, run.stderr, EventError, &wg)

	wg.Wait()

	exitCode := 0

	if err := run.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	o.mu.Lock()
	if o.cmd == run.cmd {
		o.cmd = nil
	}
	o.mu.Unlock()

	o.postProcess(run, exitCode)
}

// stream forwards one pipe line-by-line as ordered events.
func (o *orchestrator) stream(run *activeRun, pipe io.ReadCloser, typ EventType, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), scanBufSize)

	for scanner.Scan() {
		line := scanner.Text()

		if run.cloud != nil {
			if hint := run.cloud.Observe(line); hint != "" {
				o.emit(Event{Type: EventError, RunID: run.rec.RunID, Message: hint})
			}
		}

		o.emit(Event{Type: typ, RunID: run.rec.RunID, Message: line})
	}
}

// Stop kills the tracked process if any.
func (o *orchestrator) Stop() error {
	o.killTracked()

	return nil
}

// killTracked terminates and clears the tracked process handle. Replacement
// is synchronous: the old process is dead before a new one can be tracked.
func (o *orchestrator) killTracked() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cmd == nil || o.cmd.Process == nil {
		return
	}

	o.log.WithField("pid", o.cmd.Process.Pid).Info("Killing tracked engine process")

	if err := o.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		o.log.WithError(err).Warn("Failed to kill tracked process")
	}

	o.cmd = nil
}

func newRunID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}

	return fmt.Sprintf("run-%d-%s", time.Now().Unix(), hex.EncodeToString(buf))
}
