package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/testpilot-dev/testpilot/pkg/forensics"
)

var hookWorkspace string

// reportTestCmd is the reporter hook the execution engine invokes once per
// finished test, with the result JSON on stdin. It must never fail the test
// it reports on, so it always exits zero.
var reportTestCmd = &cobra.Command{
	Use:    "report-test",
	Short:  "Reporter hook invoked by the execution engine",
	Hidden: true,
	Run:    reportTest,
}

func init() {
	rootCmd.AddCommand(reportTestCmd)
	reportTestCmd.Flags().StringVar(&hookWorkspace, "workspace", ".",
		"workspace the reported test belongs to")
}

func reportTest(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.WithError(err).Error("Failed to read test result from stdin")

		return
	}

	outcome, err := forensics.DecodeOutcome(data)
	if err != nil {
		log.WithError(err).Error("Failed to decode test result")

		return
	}

	extractor := forensics.NewExtractor(log, hookWorkspace)

	if _, err := extractor.Process(outcome); err != nil {
		log.WithError(err).Error("Failed to write failure artifact")
	}
}
