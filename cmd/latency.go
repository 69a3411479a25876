/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jessegalley/aiobench/internal/bench"
	"github.com/jessegalley/aiobench/internal/engine"
	"github.com/jessegalley/aiobench/internal/layout"
	"github.com/jessegalley/aiobench/internal/output"
)

// latencyCmd represents the latency command
var latencyCmd = &cobra.Command{
	Use:   "latency [test_path]",
	Short: "Per-operation write and read latency.",
	Long: `Runs timed submit+wait pairs, one operation at a time, and reports
latency and bandwidth statistics per transfer size. Each size gets a
write phase followed by a read phase over the same files.
If test_path is not provided, aiobench will try to make and use ./aiobench_test`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// if positional arg was given, override the
		// default test dir set in root
		if len(args) == 1 {
			testDir = args[0]
		}

		// validate that the testdir (default or arg) exists
		// and is writable by the calling user. create it
		// if possible
		if err := ensureWritableDirectory(testDir); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		// execute this test
		if err := runLatency(testDir); err != nil {
			fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(latencyCmd)
}

// runLatency executes the per operation latency benchmark
func runLatency(testDir string) error {
	// validate output format
	format, err := output.ValidateFormat(outFmt)
	if err != nil {
		return err
	}

	ecfg, bcfg, err := resolveConfigs(testDir)
	if err != nil {
		return err
	}

	// every run starts from an empty target directory
	if err := layout.CleanDir(testDir); err != nil {
		return fmt.Errorf("failed to clean test directory: %w", err)
	}

	// bring up the engine
	eng, err := engine.Open(ecfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	// announce test start
	logrus.WithFields(logrus.Fields{
		"queue_depth": ecfg.QueueDepth,
		"threads":     ecfg.Workers,
		"direct":      ecfg.DirectIO,
	}).Info("starting latency benchmark")

	// execute the benchmark
	runner := bench.NewRunner(eng, bcfg, logrus.StandardLogger())
	reports, err := runner.Run()
	if err != nil {
		return err
	}

	// format and output the results
	out, err := output.FormatReports(reports, format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	// print the formatted output
	fmt.Print(out)

	return nil
}
