package stresstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/poolbench/internal/logging"
	"github.com/studiowebux/poolbench/internal/pool"
	"github.com/studiowebux/poolbench/internal/transport"
	"github.com/studiowebux/poolbench/internal/types"
	"golang.org/x/sync/errgroup"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Sink receives the records of every finished iteration, in pool order
type Sink interface {
	Write(iteration int, records []types.StatsRecord) error
}

// ExecutionConfig holds everything a Runner needs
type ExecutionConfig struct {
	Config    *Config
	Resources []string
	Dial      transport.Factory // nil builds an HTTP factory from Config
	Sinks     []Sink
	Logger    logrus.FieldLogger
}

// Runner drives the iterations of a load test
type Runner struct {
	config  *ExecutionConfig
	dial    transport.Factory
	manager *Manager
	run     *Run
	sinks   []Sink
	log     logrus.FieldLogger

	statsMu sync.Mutex
	stats   *Stats
}

// NewRunner validates the configuration and creates the run record.
// manager may be nil when nothing is persisted.
func NewRunner(config *ExecutionConfig, manager *Manager) (*Runner, error) {
	if config == nil || config.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := config.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.RequestsPerPool > 0 && len(config.Resources) == 0 {
		return nil, fmt.Errorf("resource list is empty")
	}

	dial := config.Dial
	if dial == nil {
		factory, err := transport.NewFactory(cfg.TransportOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to build transport: %w", err)
		}
		dial = factory
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	run := &Run{
		Name:            cfg.Name,
		Target:          cfg.Target(),
		StartedAt:       time.Now(),
		Status:          StatusRunning,
		Iterations:      cfg.Iterations,
		PoolCount:       cfg.PoolCount,
		PoolSize:        cfg.PoolSize,
		RequestsPerPool: cfg.RequestsPerPool,
		MaxRetries:      cfg.MaxRetries,
	}

	sinks := append([]Sink(nil), config.Sinks...)
	if manager != nil {
		if err := manager.CreateRun(run); err != nil {
			return nil, fmt.Errorf("failed to create run record: %w", err)
		}
		sinks = append(sinks, &RecordSink{manager: manager, runID: run.ID})
	}

	return &Runner{
		config:  config,
		dial:    dial,
		manager: manager,
		run:     run,
		sinks:   sinks,
		log:     logger.WithField("run", run.Name),
		stats:   NewStats(),
	}, nil
}

// Run executes every iteration. Cancelling ctx stops the run between
// iterations and marks it cancelled; an iteration already submitted finishes
// before the pools are released.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.config.Config
	SampleHost()
	r.run.StartedAt = time.Now()

	for it := 0; it < cfg.Iterations; it++ {
		if ctx.Err() != nil {
			r.finalize(StatusCancelled)
			return nil
		}

		r.log.WithField("iteration", it).Infof("Round %d / %d", it+1, cfg.Iterations)
		records, err := r.iteration(ctx, it)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.finalize(StatusCancelled)
				return nil
			}
			r.finalize(StatusFailed)
			return fmt.Errorf("iteration %d: %w", it, err)
		}

		r.statsMu.Lock()
		r.stats.AddIteration(records)
		r.run.IterationsCompleted++
		r.statsMu.Unlock()

		r.emit(it, records)
	}

	r.finalize(StatusCompleted)
	return nil
}

// iteration builds fresh pools, runs one batch on each and returns the
// records of pool 0, then pool 1, and so on.
func (r *Runner) iteration(ctx context.Context, it int) ([]types.StatsRecord, error) {
	cfg := r.config.Config
	log := r.log.WithField("iteration", it)

	pools := make([]*pool.ConnectionPool, 0, cfg.PoolCount)
	defer func() {
		for _, p := range pools {
			p.Destroy()
		}
	}()

	for id := 0; id < cfg.PoolCount; id++ {
		p, err := pool.NewConnectionPool(pool.PoolConfig{
			ID:           id,
			Size:         cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			Timeout:      cfg.GetTimeout(),
			RetryBackoff: cfg.GetRetryBackoff(),
			Header:       cfg.Header(),
		}, r.dial, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool %d: %w", id, err)
		}
		pools = append(pools, p)
	}

	batch := types.BatchFor(cfg.Method, r.config.Resources, cfg.RequestsPerPool)
	for _, p := range pools {
		if err := p.Submit(batch); err != nil {
			return nil, fmt.Errorf("failed to submit to pool %d: %w", p.ID(), err)
		}
	}

	results := make([][]types.StatsRecord, len(pools))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pools {
		g.Go(func() error {
			records, err := p.Await(gctx)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []types.StatsRecord
	for _, res := range results {
		records = append(records, res...)
	}
	return records, nil
}

// emit hands records to every sink; sink failures are logged, not fatal
func (r *Runner) emit(it int, records []types.StatsRecord) {
	for _, sink := range r.sinks {
		if err := sink.Write(it, records); err != nil {
			r.log.WithField("iteration", it).WithError(err).Error("Failed to write records")
		}
	}
}

func (r *Runner) finalize(status string) {
	host := SampleHost()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	now := time.Now()
	r.run.CompletedAt = &now
	r.run.Status = status
	r.run.HostCPUPercent = host.CPUPercent
	r.run.HostMemPercent = host.MemPercent
	r.stats.applyTo(r.run)

	r.log.WithFields(logrus.Fields{
		"status":     status,
		"iterations": r.run.IterationsCompleted,
		"records":    r.run.TotalRecords,
		"failures":   r.run.TotalFailures,
	}).Info("Run finished")

	if r.manager == nil {
		return
	}
	if err := r.manager.UpdateRun(r.run); err != nil {
		r.log.WithError(err).Error("Failed to update run record")
	}
}

// GetStats returns a copy of the statistics gathered so far
func (r *Runner) GetStats() *Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats.Clone()
}

// GetRun returns the run record
func (r *Runner) GetRun() *Run {
	return r.run
}
