/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jessegalley/aiobench/internal/bench"
	"github.com/jessegalley/aiobench/internal/engine"
)

// program flags defined as global variables for access across functions
var (
	testDir    string   // target directory for benchmark files
	sizeArgs   []string // transfer sizes with K/M/G suffixes
	blockArg   string   // engine block size with K/M/G suffix
	iterations int      // timed operations per size and phase
	queueDepth int      // max in flight operations
	numThreads int      // engine worker count
	directIO   bool     // whether to use direct io
	pinBufs    bool     // whether to mlock io buffers
	keepFiles  bool     // keep test files after each size
	outFmt     string   // output format
	debug      bool     // dump resolved configuration before running
	version    bool     // print version and exit
)

// program info const
const progVersion string = "0.1.0"
const progAuthor string = "jesse galley <jesse@jessegalley.net>"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aiobench",
	Short: "Benchmark async block I/O latency and bandwidth.",
	Long: `aiobench drives a bounded asynchronous block I/O engine against a
target directory (typically on an NVMe device) and reports latency and
bandwidth statistics per transfer size: mean, median, standard
deviation, 95% confidence interval and tail percentiles.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// check if version flag was set
		if version {
			fmt.Printf("aiobench v%s\njesse@jessegalley.net\ngithub.com/jessegalley/aiobench\n", progVersion)
			os.Exit(1)
		}

		// announcements and progress go to stderr, results to stdout
		logrus.SetOutput(os.Stderr)
		if debug {
			logrus.SetLevel(logrus.DebugLevel)
			cmd.Flags().Visit(func(f *pflag.Flag) {
				logrus.WithField(f.Name, f.Value.String()).Debug("flag set on command line")
			})
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// define command line flags, writing values to our global variables
	rootCmd.PersistentFlags().StringSliceVarP(&sizeArgs, "sizes", "s", []string{"2M", "8M", "32M"}, "transfer sizes (K/M/G suffixes)")
	rootCmd.PersistentFlags().StringVarP(&blockArg, "block", "b", "2M", "engine block size (K/M/G suffixes)")
	rootCmd.PersistentFlags().IntVarP(&iterations, "iterations", "i", 200, "iterations per size and phase")
	rootCmd.PersistentFlags().IntVarP(&queueDepth, "queue-depth", "q", 64, "max in flight operations")
	rootCmd.PersistentFlags().IntVarP(&numThreads, "threads", "T", 16, "engine worker count")
	rootCmd.PersistentFlags().BoolVarP(&directIO, "direct", "d", false, "use direct io (o_direct)")
	rootCmd.PersistentFlags().BoolVar(&pinBufs, "pin", false, "mlock io buffers")
	rootCmd.PersistentFlags().BoolVar(&keepFiles, "keep-files", false, "keep test files after each size")
	rootCmd.PersistentFlags().StringVar(&outFmt, "format", "table", "output format (table, json, or flat)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "dump resolved configuration before running")
	rootCmd.PersistentFlags().BoolVarP(&version, "version", "V", false, "print version and exit")

	// default test dir, overridden by the positional arg of each subcommand
	testDir = "./aiobench_test/"
}

// resolveConfigs parses and validates the global flags into engine and
// benchmark configs
func resolveConfigs(testDir string) (engine.Config, bench.Config, error) {
	if err := validateParameters(); err != nil {
		return engine.Config{}, bench.Config{}, err
	}

	blockSize, err := parseSize(blockArg)
	if err != nil {
		return engine.Config{}, bench.Config{}, fmt.Errorf("invalid block size: %w", err)
	}

	sizes := make([]int64, 0, len(sizeArgs))
	for _, arg := range sizeArgs {
		size, err := parseSize(arg)
		if err != nil {
			return engine.Config{}, bench.Config{}, fmt.Errorf("invalid size %q: %w", arg, err)
		}
		sizes = append(sizes, size)
	}

	ecfg := engine.Config{
		BlockSize:  int(blockSize),
		QueueDepth: queueDepth,
		Workers:    numThreads,
		DirectIO:   directIO,
		PinBuffers: pinBufs,
	}

	bcfg := bench.Config{
		Dir:        testDir,
		Sizes:      sizes,
		Iterations: iterations,
		KeepFiles:  keepFiles,
	}

	if debug {
		fmt.Fprint(os.Stderr, spew.Sdump(ecfg), spew.Sdump(bcfg))
	}

	return ecfg, bcfg, nil
}

// validateParameters checks all command line parameters for validity
func validateParameters() error {
	// validate iteration count
	if iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", iterations)
	}

	// validate queue depth
	if queueDepth < 1 {
		return fmt.Errorf("queue-depth must be at least 1, got %d", queueDepth)
	}

	// validate worker count
	if numThreads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", numThreads)
	}

	// validate transfer size list
	if len(sizeArgs) == 0 {
		return fmt.Errorf("at least one transfer size is required")
	}

	return nil
}

func ensureWritableDirectory(dirPath string) error {
	// First check if directory exists
	if info, err := os.Stat(dirPath); err == nil {
		// Directory exists, check if it's a directory and writable
		if !info.IsDir() {
			return fmt.Errorf("%s exists but is not a directory", dirPath)
		}

		// Try to create a temporary file to test writeability
		testFile := filepath.Join(dirPath, ".write_test")
		if f, err := os.Create(testFile); err != nil {
			return fmt.Errorf("directory %s exists but is not writable: %v", dirPath, err)
		} else {
			f.Close()
			os.Remove(testFile)
		}

		return nil
	} else if !os.IsNotExist(err) {
		// Error other than "not exists" occurred
		return fmt.Errorf("failed to check directory %s: %v", dirPath, err)
	}

	// Directory doesn't exist, try to create it
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", dirPath, err)
	}

	return nil
}
