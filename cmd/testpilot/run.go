package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/testpilot-dev/testpilot/pkg/orchestrator"
	"github.com/testpilot-dev/testpilot/pkg/runindex"
	"github.com/testpilot-dev/testpilot/pkg/workspace"
)

var (
	runCloud   bool
	runTarget  string
	runDataset string
)

var runCmd = &cobra.Command{
	Use:   "run <test-name-or-spec-path>",
	Short: "Run a test spec",
	Long: `Resolve a test name or spec path inside the workspace, prepare the
execution environment, and run the spec through the execution engine.`,
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runCloud, "cloud", false,
		"Run against the remote browser grid instead of a local browser")
	runCmd.Flags().StringVar(&runTarget, "target", "",
		"Target browser/OS descriptor for cloud runs")
	runCmd.Flags().StringVar(&runDataset, "dataset", "",
		"Only run dataset variants matching this filter")
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ws, err := filepath.Abs(workspacePath)
	if err != nil {
		return fmt.Errorf("resolving workspace path: %w", err)
	}

	store, err := runindex.NewStore(log, &cfg.Index, ws)
	if err != nil {
		return fmt.Errorf("creating run index: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting run index: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop run index")
		}
	}()

	orch := orchestrator.NewOrchestrator(log, cfg, store)

	done := make(chan orchestrator.Event, 1)

	orch.Subscribe(func(ev orchestrator.Event) {
		switch ev.Type {
		case orchestrator.EventLog:
			fmt.Println(ev.Message)
		case orchestrator.EventError:
			fmt.Fprintln(os.Stderr, ev.Message)
		case orchestrator.EventStatus:
			log.WithField("status", ev.Status).Info("Run status")
		case orchestrator.EventFinished:
			select {
			case done <- ev:
			default:
			}
		}
	})

	mode := workspace.ModeLocal
	if runCloud {
		mode = workspace.ModeCloud
	}

	runID, err := orch.Start(ctx, &orchestrator.Request{
		WorkspacePath:      ws,
		SpecPathOrTestName: args[0],
		Mode:               mode,
		TargetDescriptor:   runTarget,
		DatasetFilter:      runDataset,
	})
	if err != nil {
		return err
	}

	log.WithField("run", runID).Info("Run started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Info("Stopping run")

			if err := orch.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop run")
			}
		case ev := <-done:
			if ev.Status != string(runindex.StatusPassed) {
				return fmt.Errorf("run %s finished with status %s (exit code %d)",
					ev.RunID, ev.Status, ev.ExitCode)
			}

			log.WithField("run", ev.RunID).Info("Run passed")

			return nil
		}
	}
}
