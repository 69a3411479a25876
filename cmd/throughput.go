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

// throughputCmd represents the throughput command
var throughputCmd = &cobra.Command{
	Use:   "throughput [test_path]",
	Short: "Batched write and read throughput.",
	Long: `Submits every iteration for a size up front and waits once, keeping
the queue saturated. This measures aggregate transfer rate rather than
per-operation latency.
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
		if err := runThroughput(testDir); err != nil {
			fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(throughputCmd)
}

// runThroughput executes the batched throughput benchmark
func runThroughput(testDir string) error {
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
	}).Info("starting throughput benchmark")

	// run a write pass and a read pass per size
	runner := bench.NewRunner(eng, bcfg, logrus.StandardLogger())
	reports := make([]bench.ThroughputReport, 0, 2*len(bcfg.Sizes))
	for _, size := range bcfg.Sizes {
		wr, err := runner.Throughput(engine.OpWrite, size)
		if err != nil {
			return err
		}
		reports = append(reports, wr)

		rd, err := runner.Throughput(engine.OpRead, size)
		if err != nil {
			return err
		}
		reports = append(reports, rd)
	}

	// format and output the results
	out, err := output.FormatThroughput(reports, format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	// print the formatted output
	fmt.Print(out)

	return nil
}
