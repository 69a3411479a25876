// Package output formats benchmark reports for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jessegalley/aiobench/internal/bench"
	"github.com/jessegalley/aiobench/internal/stats"
)

// OutputFormat represents the supported output format types
type OutputFormat string

// supported output format constants
const (
	// table format outputs results in a human-readable table
	TableFormat OutputFormat = "table"

	// json format outputs results as a json object
	JSONFormat OutputFormat = "json"

	// flat format outputs results as space-separated values
	FlatFormat OutputFormat = "flat"
)

// ValidateFormat checks if the provided format string is a valid output format
func ValidateFormat(format string) (OutputFormat, error) {
	// convert format to OutputFormat type
	f := OutputFormat(strings.ToLower(format))

	// check if format is supported
	switch f {
	case TableFormat, JSONFormat, FlatFormat:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format '%s'. supported formats are: table, json, flat", format)
	}
}

// FormatReports formats per size latency reports according to the
// specified format
func FormatReports(reports []bench.SizeReport, format OutputFormat) (string, error) {
	switch format {
	case TableFormat:
		var sb strings.Builder
		for _, report := range reports {
			writeSizeTable(&sb, report)
		}
		return sb.String(), nil

	case JSONFormat:
		jsonBytes, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal json: %w", err)
		}
		return string(jsonBytes) + "\n", nil

	case FlatFormat:
		// one line per size and phase, no headers
		var sb strings.Builder
		for _, report := range reports {
			writeFlatPhase(&sb, "write", report.Size, report.Write)
			writeFlatPhase(&sb, "read", report.Size, report.Read)
		}
		return sb.String(), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// writeSizeTable renders one transfer size as a human readable table
func writeSizeTable(sb *strings.Builder, report bench.SizeReport) {
	sb.WriteString(fmt.Sprintf("\nsize %s  (%d iterations)\n", FormatSize(report.Size), report.Iterations))

	// header row
	sb.WriteString(fmt.Sprintf("%-14s %10s %10s %10s %22s %9s %9s %9s\n",
		"", "mean", "median", "stddev", "95% ci", "p50", "p90", "p99"))

	writeTableRow(sb, "write ms", scaleSummary(report.Write.Latency, 1e3), "%10.3f", "%9.3f", "(%.3f, %.3f)")
	writeTableRow(sb, "write MB/s", report.Write.Bandwidth, "%10.2f", "%9.2f", "(%.2f, %.2f)")
	writeTableRow(sb, "read ms", scaleSummary(report.Read.Latency, 1e3), "%10.3f", "%9.3f", "(%.3f, %.3f)")
	writeTableRow(sb, "read MB/s", report.Read.Bandwidth, "%10.2f", "%9.2f", "(%.2f, %.2f)")
}

// writeTableRow renders one statistics row with the given cell formats
func writeTableRow(sb *strings.Builder, label string, s stats.Summary, cellFmt, pctFmt, ciFmt string) {
	ci := fmt.Sprintf(ciFmt, s.CILow, s.CIHigh)
	sb.WriteString(fmt.Sprintf("%-14s "+cellFmt+" "+cellFmt+" "+cellFmt+" %22s "+pctFmt+" "+pctFmt+" "+pctFmt+"\n",
		label, s.Mean, s.Median, s.StdDev, ci, s.P50, s.P90, s.P99))
}

// writeFlatPhase emits one space separated line for a phase: direction,
// size, then latency and bandwidth statistics
func writeFlatPhase(sb *strings.Builder, direction string, size int64, phase bench.Phase) {
	lat := phase.Latency
	bw := phase.Bandwidth
	sb.WriteString(fmt.Sprintf("%s %d %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.2f %.2f\n",
		direction, size,
		lat.Mean, lat.Median, lat.StdDev, lat.CILow, lat.CIHigh, lat.P50, lat.P90, lat.P99,
		bw.Mean, bw.Median))
}

// FormatThroughput formats batched throughput reports according to the
// specified format
func FormatThroughput(reports []bench.ThroughputReport, format OutputFormat) (string, error) {
	switch format {
	case TableFormat:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("\n%-8s %10s %6s %14s %10s %12s\n",
			"", "size", "ops", "bytes", "seconds", "MB/s"))
		for _, report := range reports {
			sb.WriteString(fmt.Sprintf("%-8s %10s %6d %14d %10.3f %12.2f\n",
				report.Direction, FormatSize(report.Size), report.Iterations,
				report.Bytes, report.Seconds, report.MBps))
		}
		return sb.String(), nil

	case JSONFormat:
		jsonBytes, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal json: %w", err)
		}
		return string(jsonBytes) + "\n", nil

	case FlatFormat:
		var sb strings.Builder
		for _, report := range reports {
			sb.WriteString(fmt.Sprintf("%s %d %d %d %.3f %.2f\n",
				report.Direction, report.Size, report.Iterations,
				report.Bytes, report.Seconds, report.MBps))
		}
		return sb.String(), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatSize renders a byte count with a binary suffix when it divides
// evenly, otherwise as a plain number
func FormatSize(size int64) string {
	switch {
	case size >= 1<<30 && size%(1<<30) == 0:
		return fmt.Sprintf("%dG", size>>30)
	case size >= 1<<20 && size%(1<<20) == 0:
		return fmt.Sprintf("%dM", size>>20)
	case size >= 1<<10 && size%(1<<10) == 0:
		return fmt.Sprintf("%dK", size>>10)
	default:
		return fmt.Sprintf("%d", size)
	}
}

// scaleSummary converts a summary to different units, e.g. seconds to
// milliseconds
func scaleSummary(s stats.Summary, factor float64) stats.Summary {
	s.Mean *= factor
	s.Median *= factor
	s.StdDev *= factor
	s.CILow *= factor
	s.CIHigh *= factor
	s.P50 *= factor
	s.P90 *= factor
	s.P99 *= factor
	return s
}
