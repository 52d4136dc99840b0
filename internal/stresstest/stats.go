package stresstest

import (
	"sort"

	"github.com/studiowebux/poolbench/internal/types"
)

// Stats aggregates StatsRecords across iterations. Timings are in microseconds
// and only successful records contribute to them.
type Stats struct {
	TotalRecords      int
	SuccessCount      int
	FailureCount      int
	RetryCount        int
	BytesReceived     int64
	Reconnects        int     // successful records that opened a new session
	TimeData          []int64 // For percentile calculation
	TotalTimeDataUs   int64
	TotalTimeConnUs   int64
	MinTimeDataUs     int64
	MaxTimeDataUs     int64
	IterationsCounted int
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		TimeData:      make([]int64, 0, 1024),
		MinTimeDataUs: -1,
		MaxTimeDataUs: -1,
	}
}

// AddIteration adds every record of one iteration
func (s *Stats) AddIteration(records []types.StatsRecord) {
	s.IterationsCounted++
	for _, r := range records {
		s.AddRecord(r)
	}
}

// AddRecord adds a single record to the statistics
func (s *Stats) AddRecord(r types.StatsRecord) {
	s.TotalRecords++
	s.RetryCount += r.Retries

	if !r.Success {
		s.FailureCount++
		return
	}

	s.SuccessCount++
	s.BytesReceived += int64(r.Size)
	s.TotalTimeDataUs += r.TimeData
	s.TimeData = append(s.TimeData, r.TimeData)
	if r.TimeConnect != types.NoConnect {
		s.Reconnects++
		s.TotalTimeConnUs += r.TimeConnect
	}

	if s.MinTimeDataUs == -1 || r.TimeData < s.MinTimeDataUs {
		s.MinTimeDataUs = r.TimeData
	}
	if s.MaxTimeDataUs == -1 || r.TimeData > s.MaxTimeDataUs {
		s.MaxTimeDataUs = r.TimeData
	}
}

// AvgTimeDataUs returns the average transfer time
func (s *Stats) AvgTimeDataUs() float64 {
	if s.SuccessCount == 0 {
		return 0
	}
	return float64(s.TotalTimeDataUs) / float64(s.SuccessCount)
}

// AvgTimeConnectUs returns the average session setup time over records that connected
func (s *Stats) AvgTimeConnectUs() float64 {
	if s.Reconnects == 0 {
		return 0
	}
	return float64(s.TotalTimeConnUs) / float64(s.Reconnects)
}

// Min returns the minimum transfer time, or 0 if no results
func (s *Stats) Min() int64 {
	if s.MinTimeDataUs == -1 {
		return 0
	}
	return s.MinTimeDataUs
}

// Max returns the maximum transfer time, or 0 if no results
func (s *Stats) Max() int64 {
	if s.MaxTimeDataUs == -1 {
		return 0
	}
	return s.MaxTimeDataUs
}

// Percentile calculates the percentile value (p should be between 0 and 100)
func (s *Stats) Percentile(p float64) int64 {
	if len(s.TimeData) == 0 {
		return 0
	}

	sorted := make([]int64, len(s.TimeData))
	copy(sorted, s.TimeData)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation between lower and upper
	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight)
}

// P50 returns the 50th percentile (median)
func (s *Stats) P50() int64 {
	return s.Percentile(50)
}

// P95 returns the 95th percentile
func (s *Stats) P95() int64 {
	return s.Percentile(95)
}

// P99 returns the 99th percentile
func (s *Stats) P99() int64 {
	return s.Percentile(99)
}

// SuccessRate returns the success rate as a percentage
func (s *Stats) SuccessRate() float64 {
	if s.TotalRecords == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalRecords) * 100
}

// RetriesPerRecord returns the mean number of retries per record
func (s *Stats) RetriesPerRecord() float64 {
	if s.TotalRecords == 0 {
		return 0
	}
	return float64(s.RetryCount) / float64(s.TotalRecords)
}

// Clone returns a deep copy safe to read while the original keeps growing
func (s *Stats) Clone() *Stats {
	c := *s
	c.TimeData = append([]int64(nil), s.TimeData...)
	return &c
}

// applyTo copies the summary onto a run record
func (s *Stats) applyTo(run *Run) {
	run.TotalRecords = s.TotalRecords
	run.TotalFailures = s.FailureCount
	run.TotalRetries = s.RetryCount
	run.AvgTimeDataUs = s.AvgTimeDataUs()
	run.MinTimeDataUs = s.Min()
	run.MaxTimeDataUs = s.Max()
	run.P50TimeDataUs = s.P50()
	run.P95TimeDataUs = s.P95()
	run.P99TimeDataUs = s.P99()
}
