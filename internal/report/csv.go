package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/studiowebux/poolbench/internal/types"
)

// Header is the column layout of the statistics stream
var Header = []string{
	"iteration", "pool", "connection", "resource", "success",
	"retries", "size", "status", "time_connect", "time_data",
}

// CSVWriter emits one row per record. The header is written before the first row.
type CSVWriter struct {
	mu            sync.Mutex
	w             *csv.Writer
	headerWritten bool
}

// NewCSVWriter creates a writer on out
func NewCSVWriter(out io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(out)}
}

// WriteHeader writes the header row if it has not been written yet
func (c *CSVWriter) WriteHeader() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeHeaderLocked()
}

// Write emits the records of one iteration and flushes them
func (c *CSVWriter) Write(iteration int, records []types.StatsRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeHeaderLocked(); err != nil {
		return err
	}
	for _, r := range records {
		if err := c.w.Write(Row(iteration, r)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) writeHeaderLocked() error {
	if c.headerWritten {
		return nil
	}
	if err := c.w.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	c.headerWritten = true
	c.w.Flush()
	return c.w.Error()
}

// Row formats a record in Header order
func Row(iteration int, r types.StatsRecord) []string {
	success := "0"
	if r.Success {
		success = "1"
	}
	return []string{
		strconv.Itoa(iteration),
		strconv.Itoa(r.PoolID),
		strconv.Itoa(r.ConnectionID),
		r.Resource,
		success,
		strconv.Itoa(r.Retries),
		strconv.Itoa(r.Size),
		strconv.Itoa(r.Status),
		strconv.FormatInt(r.TimeConnect, 10),
		strconv.FormatInt(r.TimeData, 10),
	}
}
