package pool

import (
	"fmt"
	"net/http"
	"time"
)

// ConnectionConfig configures a single Connection
type ConnectionConfig struct {
	ID           int
	Name         string
	MaxRetries   int           // attempts allowed per job before it is recorded as failed
	Timeout      time.Duration // transport I/O timeout, zero keeps the transport default
	RetryBackoff time.Duration // pause between attempts of the same job
	Header       http.Header   // extra headers sent with every request
}

// PoolConfig configures a ConnectionPool and the connections it creates
type PoolConfig struct {
	ID           int
	Name         string
	Size         int
	MaxRetries   int
	Timeout      time.Duration
	RetryBackoff time.Duration
	Header       http.Header
}

// PoolStats is a point-in-time view of a pool. Idle+Busy always equals Size.
type PoolStats struct {
	Size     int
	Idle     int
	Busy     int
	InFlight bool
}

// Validate checks the pool configuration
func (c *PoolConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("pool size must be greater than 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	return nil
}

func (c *PoolConfig) connectionConfig(id int) ConnectionConfig {
	return ConnectionConfig{
		ID:           id,
		Name:         fmt.Sprintf("%s, Con. %d", c.Name, id),
		MaxRetries:   c.MaxRetries,
		Timeout:      c.Timeout,
		RetryBackoff: c.RetryBackoff,
		Header:       c.Header,
	}
}
