// Package bench drives the engine through timed write and read phases
// and collects the raw latency samples the statistics are computed
// from. It owns the lifecycle of the benchmark files, the engine and
// buffers are handed in by the caller.
package bench

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jessegalley/aiobench/internal/engine"
	"github.com/jessegalley/aiobench/internal/layout"
	"github.com/jessegalley/aiobench/internal/stats"
)

// Config holds the parameters for one benchmark run
type Config struct {
	// target directory, should live on the device under test
	Dir string

	// transfer sizes in bytes
	Sizes []int64

	// timed operations per size and phase
	Iterations int

	// leave the test files behind after each size
	KeepFiles bool
}

// NewConfig returns benchmark defaults matching a typical nvme run
func NewConfig() Config {
	return Config{
		Dir:        "./aiobench_test",       // default test directory in current working directory
		Sizes:      []int64{2 << 20, 8 << 20, 32 << 20}, // 2 MiB, 8 MiB, 32 MiB
		Iterations: 200,                     // enough samples for stable percentiles
	}
}

// Phase bundles the samples and statistics for one direction of io.
type Phase struct {
	// raw per operation latencies in seconds
	Latencies []float64 `json:"-"`

	// latency statistics in seconds
	Latency stats.Summary `json:"latency"`

	// bandwidth statistics in MB/s
	Bandwidth stats.Summary `json:"bandwidth_mb_s"`
}

// SizeReport carries the full result set for one transfer size.
type SizeReport struct {
	Size       int64 `json:"size_bytes"`
	Iterations int   `json:"iterations"`
	Write      Phase `json:"write"`
	Read       Phase `json:"read"`
}

// ThroughputReport carries the result of one batched throughput pass.
type ThroughputReport struct {
	Direction  string  `json:"direction"`
	Size       int64   `json:"size_bytes"`
	Iterations int     `json:"iterations"`
	Bytes      int64   `json:"bytes_transferred"`
	Seconds    float64 `json:"seconds"`
	MBps       float64 `json:"throughput_mb_s"`
}

// Runner executes benchmark phases against one engine instance.
type Runner struct {
	eng *engine.Engine
	cfg Config
	log *logrus.Logger
}

// NewRunner creates a runner over an already opened engine. A nil
// logger falls back to the logrus standard logger.
func NewRunner(eng *engine.Engine, cfg Config, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{eng: eng, cfg: cfg, log: log}
}

// Run benchmarks every configured transfer size and returns one report
// per size.
func (r *Runner) Run() ([]SizeReport, error) {
	reports := make([]SizeReport, 0, len(r.cfg.Sizes))

	for _, size := range r.cfg.Sizes {
		report, err := r.runSize(size)
		if err != nil {
			return nil, fmt.Errorf("size %d: %w", size, err)
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// runSize runs the timed write phase, re-reads the same files for the
// timed read phase, then cleans up unless configured otherwise
func (r *Runner) runSize(size int64) (SizeReport, error) {
	r.log.WithFields(logrus.Fields{
		"size":       size,
		"iterations": r.cfg.Iterations,
	}).Info("benchmarking transfer size")

	// one engine buffer serves both phases of this size
	buf, err := r.eng.AllocBuffer(int(size))
	if err != nil {
		return SizeReport{}, fmt.Errorf("failed to allocate buffer: %w", err)
	}
	defer r.eng.Release(buf)

	// writes carry real data so the read phase has something to fetch
	if _, err := rand.Read(buf.Bytes()); err != nil {
		return SizeReport{}, fmt.Errorf("failed to generate random data: %w", err)
	}

	files := r.testFiles(size)
	if !r.cfg.KeepFiles {
		defer removeFiles(files)
	}

	report := SizeReport{Size: size, Iterations: r.cfg.Iterations}

	writeLats, err := r.timedOps(engine.OpWrite, buf, files)
	if err != nil {
		return SizeReport{}, err
	}
	if report.Write, err = summarizePhase(writeLats, size); err != nil {
		return SizeReport{}, err
	}

	readLats, err := r.timedOps(engine.OpRead, buf, files)
	if err != nil {
		return SizeReport{}, err
	}
	if report.Read, err = summarizePhase(readLats, size); err != nil {
		return SizeReport{}, err
	}

	return report, nil
}

// timedOps brackets one submit+wait pair per file with wall clock
// timestamps. This is the fire and immediately wait pattern, each
// sample isolates the latency of a single operation.
func (r *Runner) timedOps(dir engine.Direction, buf *engine.Buffer, files []string) ([]float64, error) {
	lats := make([]float64, 0, len(files))

	for _, file := range files {
		start := time.Now()

		var err error
		if dir == engine.OpWrite {
			_, err = r.eng.SubmitWrite(buf, file, 0)
		} else {
			_, err = r.eng.SubmitRead(buf, file, 0)
		}
		if err != nil {
			return nil, fmt.Errorf("submit failed for %s: %w", file, err)
		}

		results := r.eng.Wait()
		lats = append(lats, time.Since(start).Seconds())

		for _, res := range results {
			if res.Err != nil {
				return nil, fmt.Errorf("%s failed for %s: %w", dir, file, res.Err)
			}
		}
	}

	return lats, nil
}

// Throughput submits every iteration for one size up front and waits
// once, reporting the aggregate transfer rate. A read pass lays out
// populated files first, untimed.
func (r *Runner) Throughput(dir engine.Direction, size int64) (ThroughputReport, error) {
	r.log.WithFields(logrus.Fields{
		"size":      size,
		"direction": dir.String(),
	}).Info("running throughput pass")

	buf, err := r.eng.AllocBuffer(int(size))
	if err != nil {
		return ThroughputReport{}, fmt.Errorf("failed to allocate buffer: %w", err)
	}
	defer r.eng.Release(buf)

	if _, err := rand.Read(buf.Bytes()); err != nil {
		return ThroughputReport{}, fmt.Errorf("failed to generate random data: %w", err)
	}

	files := r.testFiles(size)
	if !r.cfg.KeepFiles {
		defer removeFiles(files)
	}

	if dir == engine.OpRead {
		// the read pass needs populated files to fetch from
		for _, file := range files {
			if err := layout.LayoutTestFile(file, int(size), false); err != nil {
				return ThroughputReport{}, fmt.Errorf("failed to lay out %s: %w", file, err)
			}
		}
	}

	start := time.Now()

	for _, file := range files {
		if dir == engine.OpWrite {
			_, err = r.eng.SubmitWrite(buf, file, 0)
		} else {
			_, err = r.eng.SubmitRead(buf, file, 0)
		}
		if err != nil {
			return ThroughputReport{}, fmt.Errorf("submit failed for %s: %w", file, err)
		}
	}

	results := r.eng.Wait()
	elapsed := time.Since(start).Seconds()

	var bytes int64
	for _, res := range results {
		if res.Err != nil {
			return ThroughputReport{}, fmt.Errorf("%s failed for %s: %w", dir, res.Op.Path(), res.Err)
		}
		bytes += res.Bytes
	}

	return ThroughputReport{
		Direction:  dir.String(),
		Size:       size,
		Iterations: len(files),
		Bytes:      bytes,
		Seconds:    elapsed,
		MBps:       float64(bytes) / elapsed / 1e6,
	}, nil
}

// testFiles returns the per iteration target paths for one size
func (r *Runner) testFiles(size int64) []string {
	files := make([]string, r.cfg.Iterations)
	for i := range files {
		files[i] = filepath.Join(r.cfg.Dir, fmt.Sprintf("test_%d_%d.dat", size, i))
	}
	return files
}

// removeFiles deletes the test files for one size, ignoring files that
// were never created
func removeFiles(files []string) {
	for _, file := range files {
		os.Remove(file)
	}
}

// summarizePhase computes latency and bandwidth statistics over one
// phase's samples
func summarizePhase(lats []float64, size int64) (Phase, error) {
	p := Phase{Latencies: lats}

	var err error
	if p.Latency, err = stats.Summarize(lats); err != nil {
		return Phase{}, err
	}

	bws, err := stats.Bandwidths(lats, size)
	if err != nil {
		return Phase{}, err
	}
	if p.Bandwidth, err = stats.Summarize(bws); err != nil {
		return Phase{}, err
	}

	return p, nil
}
