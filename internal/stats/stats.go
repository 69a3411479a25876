// Package stats computes the descriptive statistics reported for each
// benchmark phase: mean, median, standard deviation, a Student's t 95%
// confidence interval and tail percentiles.
package stats

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// confidence level of the reported interval
const confidenceLevel = 0.95

// Summary holds the descriptive statistics for one sample set.
type Summary struct {
	N      int     `json:"n"`        // sample count
	Mean   float64 `json:"mean"`     // arithmetic mean
	Median float64 `json:"median"`   // 50th percentile
	StdDev float64 `json:"std_dev"`  // sample standard deviation
	CILow  float64 `json:"ci95_low"` // lower bound of the 95% confidence interval
	CIHigh float64 `json:"ci95_high"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
}

// Summarize computes a Summary over samples. It errors on empty input.
// Percentiles use linear interpolation between order statistics.
func Summarize(samples []float64) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, fmt.Errorf("no samples to summarize")
	}

	// quantile calculations need sorted input
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	s := Summary{
		N:      len(samples),
		Mean:   stat.Mean(samples, nil),
		Median: stat.Quantile(0.50, stat.LinInterp, sorted, nil),
		P50:    stat.Quantile(0.50, stat.LinInterp, sorted, nil),
		P90:    stat.Quantile(0.90, stat.LinInterp, sorted, nil),
		P99:    stat.Quantile(0.99, stat.LinInterp, sorted, nil),
	}

	if s.N > 1 {
		s.StdDev = stat.StdDev(samples, nil)

		// 95% interval from the t distribution with n-1 degrees
		// of freedom
		se := s.StdDev / math.Sqrt(float64(s.N))
		tcrit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(s.N - 1)}.Quantile(0.5 + confidenceLevel/2)
		s.CILow = s.Mean - tcrit*se
		s.CIHigh = s.Mean + tcrit*se
	} else {
		// a single sample has no spread to estimate
		s.CILow = s.Mean
		s.CIHigh = s.Mean
	}

	return s, nil
}

// Bandwidths converts per operation latencies in seconds into transfer
// rates in MB/s for the given transfer size. A nonpositive latency is
// an error since it cannot yield a meaningful rate.
func Bandwidths(latencies []float64, sizeBytes int64) ([]float64, error) {
	bws := make([]float64, 0, len(latencies))
	for _, lat := range latencies {
		if lat <= 0 {
			return nil, fmt.Errorf("nonpositive latency %v, cannot compute bandwidth", lat)
		}
		bws = append(bws, float64(sizeBytes)/lat/1e6)
	}
	return bws, nil
}
