package main

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/testpilot-dev/testpilot/pkg/runindex"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the workspace run history",
	RunE:  listRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func listRuns(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting run index: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop run index")
		}
	}()

	records, err := store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("reading run index: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tTEST\tSTATUS\tSOURCE\tSTARTED\tTRACES")

	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			rec.RunID, rec.TestName, rec.Status, rec.Source,
			rec.StartedAt.Format("2006-01-02 15:04:05"), len(rec.TracePaths))
	}

	return w.Flush()
}
