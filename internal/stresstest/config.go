package stresstest

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/studiowebux/poolbench/internal/transport"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "POOLBENCH_"

// Config represents a load test configuration
type Config struct {
	Name               string            `yaml:"name"`
	Host               string            `yaml:"host"`
	Port               int               `yaml:"port"`
	HTTPS              bool              `yaml:"https"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
	CAFile             string            `yaml:"ca_file,omitempty"`
	CertFile           string            `yaml:"cert_file,omitempty"`
	KeyFile            string            `yaml:"key_file,omitempty"`
	Iterations         int               `yaml:"iterations"`
	PoolCount          int               `yaml:"pool_count"`
	PoolSize           int               `yaml:"pool_size"`
	RequestsPerPool    int               `yaml:"requests_per_pool"`
	MaxRetries         int               `yaml:"max_retries"`
	TimeoutSec         int               `yaml:"timeout_sec"`
	RetryBackoffMs     int               `yaml:"retry_backoff_ms"`
	Method             string            `yaml:"method"`
	ResourcesFile      string            `yaml:"resources"`
	Headers            map[string]string `yaml:"headers,omitempty"`
}

// Run represents a load test run record. The tags match the bench_runs
// columns and are used by the json/yaml output of the CLI.
type Run struct {
	ID                  int64      `json:"id" yaml:"id"`
	Name                string     `json:"name" yaml:"name"`
	Target              string     `json:"target" yaml:"target"`
	StartedAt           time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status              string     `json:"status" yaml:"status"` // running, completed, cancelled or failed
	Iterations          int        `json:"iterations" yaml:"iterations"`
	IterationsCompleted int        `json:"iterations_completed" yaml:"iterations_completed"`
	PoolCount           int        `json:"pool_count" yaml:"pool_count"`
	PoolSize            int        `json:"pool_size" yaml:"pool_size"`
	RequestsPerPool     int        `json:"requests_per_pool" yaml:"requests_per_pool"`
	MaxRetries          int        `json:"max_retries" yaml:"max_retries"`
	TotalRecords        int        `json:"total_records" yaml:"total_records"`
	TotalFailures       int        `json:"total_failures" yaml:"total_failures"`
	TotalRetries        int        `json:"total_retries" yaml:"total_retries"`
	AvgTimeDataUs       float64    `json:"avg_time_data_us" yaml:"avg_time_data_us"`
	MinTimeDataUs       int64      `json:"min_time_data_us" yaml:"min_time_data_us"`
	MaxTimeDataUs       int64      `json:"max_time_data_us" yaml:"max_time_data_us"`
	P50TimeDataUs       int64      `json:"p50_time_data_us" yaml:"p50_time_data_us"`
	P95TimeDataUs       int64      `json:"p95_time_data_us" yaml:"p95_time_data_us"`
	P99TimeDataUs       int64      `json:"p99_time_data_us" yaml:"p99_time_data_us"`
	HostCPUPercent      float64    `json:"host_cpu_percent" yaml:"host_cpu_percent"`
	HostMemPercent      float64    `json:"host_mem_percent" yaml:"host_mem_percent"`
}

// DefaultConfig returns the defaults of the reference driver
func DefaultConfig() *Config {
	return &Config{
		Name:               "default",
		Host:               "esp.local",
		Port:               443,
		HTTPS:              true,
		InsecureSkipVerify: true,
		Iterations:         100,
		PoolCount:          1,
		PoolSize:           2,
		RequestsPerPool:    16,
		MaxRetries:         5,
		TimeoutSec:         30,
		Method:             http.MethodGet,
		ResourcesFile:      "resourcelist/cats.txt",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from POOLBENCH_* variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	strs := map[string]*string{
		"NAME":      &c.Name,
		"HOST":      &c.Host,
		"METHOD":    &c.Method,
		"RESOURCES": &c.ResourcesFile,
		"CA_FILE":   &c.CAFile,
		"CERT_FILE": &c.CertFile,
		"KEY_FILE":  &c.KeyFile,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":              &c.Port,
		"ITERATIONS":        &c.Iterations,
		"POOL_COUNT":        &c.PoolCount,
		"POOL_SIZE":         &c.PoolSize,
		"REQUESTS_PER_POOL": &c.RequestsPerPool,
		"RETRIES":           &c.MaxRetries,
		"TIMEOUT_SEC":       &c.TimeoutSec,
		"RETRY_BACKOFF_MS":  &c.RetryBackoffMs,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"HTTPS":    &c.HTTPS,
		"INSECURE": &c.InsecureSkipVerify,
	}
	for key, dst := range bools {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}
	return nil
}

// Validate validates the load test configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be greater than 0")
	}
	if c.PoolCount <= 0 {
		return fmt.Errorf("pool count must be greater than 0")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size must be greater than 0")
	}
	if c.PoolCount*c.PoolSize > 1000 {
		return fmt.Errorf("pool count times pool size cannot exceed 1000 connections")
	}
	if c.RequestsPerPool < 0 {
		return fmt.Errorf("requests per pool cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.TimeoutSec < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.RetryBackoffMs < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// GetTimeout returns the I/O timeout as time.Duration
func (c *Config) GetTimeout() time.Duration {
	if c.TimeoutSec == 0 {
		return transport.DefaultTimeout
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// GetRetryBackoff returns the pause between attempts as time.Duration
func (c *Config) GetRetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// TransportOptions returns the options for the connection transports
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Host:               c.Host,
		Port:               c.Port,
		HTTPS:              c.HTTPS,
		InsecureSkipVerify: c.InsecureSkipVerify,
		Timeout:            c.GetTimeout(),
		CAFile:             c.CAFile,
		CertFile:           c.CertFile,
		KeyFile:            c.KeyFile,
	}
}

// Header returns the extra request headers
func (c *Config) Header() http.Header {
	h := make(http.Header, len(c.Headers))
	for key, value := range c.Headers {
		h.Set(key, value)
	}
	return h
}

// Target returns the base URL of the tested endpoint
func (c *Config) Target() string {
	return fmt.Sprintf("%s://%s:%d/", c.TransportOptions().Scheme(), c.Host, c.Port)
}

// IsRunning reports whether the run has not been finalized. A run left in
// this state by a killed process stays running in the database.
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning && r.CompletedAt == nil
}

// IsCompleted reports whether the run reached a final status
func (r *Run) IsCompleted() bool {
	switch r.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}
