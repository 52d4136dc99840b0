package stresstest

import (
	"testing"

	"github.com/studiowebux/poolbench/internal/types"
)

func TestStats_Percentiles(t *testing.T) {
	stats := NewStats()
	records := make([]types.StatsRecord, 0, 100)
	for i := int64(1); i <= 100; i++ {
		records = append(records, types.StatsRecord{Success: true, TimeData: i * 10, TimeConnect: types.NoConnect})
	}
	stats.AddIteration(records)

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"min", stats.Min(), 10},
		{"max", stats.Max(), 1000},
		{"p50", stats.P50(), 505},
		{"p95", stats.P95(), 950},
		{"p99", stats.P99(), 990},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, tt.got)
		}
	}
	if avg := stats.AvgTimeDataUs(); avg != 505 {
		t.Errorf("Expected average 505, got %.2f", avg)
	}
	if stats.Reconnects != 0 {
		t.Errorf("Expected no reconnects, got %d", stats.Reconnects)
	}
}

func TestStats_FailuresDoNotSkewTimings(t *testing.T) {
	stats := NewStats()
	stats.AddRecord(types.StatsRecord{Success: true, TimeData: 100, TimeConnect: 40, Size: 10})
	stats.AddRecord(types.NewFailedRecord("GET", "/a", 5))
	stats.AddRecord(types.StatsRecord{Success: true, TimeData: 300, TimeConnect: types.NoConnect, Size: 30, Retries: 1})

	if stats.TotalRecords != 3 || stats.SuccessCount != 2 || stats.FailureCount != 1 {
		t.Fatalf("Unexpected counts: %+v", stats)
	}
	if stats.RetryCount != 6 {
		t.Errorf("Expected 6 retries, got %d", stats.RetryCount)
	}
	if stats.Min() != 100 || stats.Max() != 300 {
		t.Errorf("Expected min 100 max 300, got %d %d", stats.Min(), stats.Max())
	}
	if stats.AvgTimeConnectUs() != 40 {
		t.Errorf("Expected connect average 40, got %.2f", stats.AvgTimeConnectUs())
	}
	if stats.BytesReceived != 40 {
		t.Errorf("Expected 40 bytes, got %d", stats.BytesReceived)
	}
	if rate := stats.SuccessRate(); rate < 66.6 || rate > 66.7 {
		t.Errorf("Expected success rate ~66.67, got %.2f", rate)
	}
	if stats.RetriesPerRecord() != 2 {
		t.Errorf("Expected 2 retries per record, got %.2f", stats.RetriesPerRecord())
	}
}

func TestStats_Empty(t *testing.T) {
	stats := NewStats()
	if stats.Min() != 0 || stats.Max() != 0 || stats.P95() != 0 || stats.SuccessRate() != 0 || stats.AvgTimeDataUs() != 0 {
		t.Error("Expected zero values for empty stats")
	}
}

func TestStats_Clone(t *testing.T) {
	stats := NewStats()
	stats.AddRecord(types.StatsRecord{Success: true, TimeData: 5})
	clone := stats.Clone()
	stats.AddRecord(types.StatsRecord{Success: true, TimeData: 7})

	if len(clone.TimeData) != 1 || clone.TotalRecords != 1 {
		t.Errorf("Clone changed with the original: %+v", clone)
	}
}
