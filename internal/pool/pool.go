package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"github.com/studiowebux/poolbench/internal/logging"
	"github.com/studiowebux/poolbench/internal/transport"
	"github.com/studiowebux/poolbench/internal/types"
)

var (
	ErrBatchInFlight       = errors.New("a batch is already in flight")
	ErrNoBatch             = errors.New("no batch in flight")
	ErrPoolDestroyed       = errors.New("connection pool is destroyed")
	ErrConnectionDestroyed = errors.New("connection is destroyed")
)

// ConnectionPool spreads a batch of requests over a fixed set of connections.
//
// Results are appended by the dispatch goroutine only, without a lock. They
// become visible to the caller through the close of the batch's done channel,
// which Collect and Await observe before touching them.
type ConnectionPool struct {
	id      int
	name    string
	size    int
	log     logrus.FieldLogger
	workers *ants.Pool

	conns       []*Connection
	idle        *idleSet
	completions chan Completion

	mu        sync.Mutex
	inFlight  bool
	destroyed bool
	done      chan struct{}
	results   []types.StatsRecord
}

// NewConnectionPool creates cfg.Size connections using dial for their transports
func NewConnectionPool(cfg PoolConfig, dial transport.Factory, logger logrus.FieldLogger) (*ConnectionPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	if dial == nil {
		return nil, fmt.Errorf("transport factory is required")
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("Pool %d", cfg.ID)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	log := logger.WithField("pool", cfg.Name)

	// one worker per connection plus the dispatcher
	workers, err := ants.NewPool(cfg.Size+1, ants.WithPanicHandler(func(v interface{}) {
		log.Errorf("Worker panic: %v", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	p := &ConnectionPool{
		id:          cfg.ID,
		name:        cfg.Name,
		size:        cfg.Size,
		log:         log,
		workers:     workers,
		idle:        newIdleSet(cfg.Size),
		completions: make(chan Completion, cfg.Size),
	}

	for n := 0; n < cfg.Size; n++ {
		tr, err := dial(n)
		if err != nil {
			p.release()
			return nil, fmt.Errorf("failed to create transport %d: %w", n, err)
		}
		conn, err := newConnection(cfg.connectionConfig(n), tr, log, workers.Submit)
		if err != nil {
			p.release()
			return nil, err
		}
		p.conns = append(p.conns, conn)
		p.idle.add(conn)
	}

	log.Debugf("Created with %d connections", cfg.Size)
	return p, nil
}

// ID returns the pool id
func (p *ConnectionPool) ID() int {
	return p.id
}

// Size returns the number of connections
func (p *ConnectionPool) Size() int {
	return p.size
}

// Submit queues a batch and starts dispatching it. It fails without blocking
// when the results of the previous batch have not been collected yet.
func (p *ConnectionPool) Submit(batch []types.Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return ErrPoolDestroyed
	}
	if p.inFlight {
		return ErrBatchInFlight
	}

	pending := make(chan types.Request, len(batch))
	for _, req := range batch {
		pending <- req
	}
	// closing the queue is the stop marker for the dispatcher
	close(pending)

	done := make(chan struct{})
	p.results = make([]types.StatsRecord, 0, len(batch))
	if err := p.workers.Submit(func() { p.dispatch(pending, done) }); err != nil {
		p.results = nil
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	p.inFlight = true
	p.done = done
	p.log.Debugf("Submitted %d requests", len(batch))
	return nil
}

// Collect returns the results of the current batch if it has drained.
// It reports false when no batch is in flight or the batch is still running.
func (p *ConnectionPool) Collect() ([]types.StatsRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inFlight {
		return nil, false
	}
	select {
	case <-p.done:
	default:
		return nil, false
	}

	results := p.results
	p.results = nil
	p.inFlight = false
	return results, true
}

// Await blocks until the current batch has drained and returns its results
func (p *ConnectionPool) Await(ctx context.Context) ([]types.StatsRecord, error) {
	p.mu.Lock()
	if !p.inFlight {
		p.mu.Unlock()
		return nil, ErrNoBatch
	}
	done := p.done
	p.mu.Unlock()

	p.log.Debug("Awaiting responses")
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	results, ok := p.Collect()
	if !ok {
		return nil, ErrNoBatch
	}
	return results, nil
}

// Stats returns a snapshot of the pool
func (p *ConnectionPool) Stats() PoolStats {
	idle, busy := p.idle.Counts()

	p.mu.Lock()
	inFlight := p.inFlight
	p.mu.Unlock()

	return PoolStats{
		Size:     p.size,
		Idle:     idle,
		Busy:     busy,
		InFlight: inFlight,
	}
}

// Destroy waits for an in-flight batch to drain, then destroys every
// connection. It is safe to call without a prior Submit and more than once.
func (p *ConnectionPool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}

	p.log.Debugf("Called Destroy(), waiting to destroy %d connections", len(p.conns))
	p.release()
	p.log.Debug("Destroyed")
}

func (p *ConnectionPool) release() {
	for _, conn := range p.conns {
		conn.Destroy()
	}
	p.workers.Release()
}

// dispatch assigns queued jobs to idle connections and aggregates completions
func (p *ConnectionPool) dispatch(jobs <-chan types.Request, done chan<- struct{}) {
	defer close(done)
	p.log.Debug("Dispatcher started")

	var next *types.Request
	for {
		if next != nil {
			if conn, ok := p.idle.TryAcquire(); ok {
				p.assign(conn, *next)
				next = nil
				continue
			}
		}
		if jobs == nil && next == nil && p.idle.Busy() == 0 {
			break
		}

		// hold at most one job until a connection frees up
		recv := jobs
		if next != nil {
			recv = nil
		}
		select {
		case req, ok := <-recv:
			if !ok {
				jobs = nil
				continue
			}
			next = &req
		case c := <-p.completions:
			p.complete(c)
		}
	}

	p.drain()
	p.log.Debug("Dispatcher stopped")
}

func (p *ConnectionPool) assign(conn *Connection, req types.Request) {
	if err := conn.Enqueue(req.Method, req.Path, p.completions); err != nil {
		p.log.WithError(err).Warnf("Could not hand %s %s to %s", req.Method, req.Path, conn.Name())
		record := types.NewFailedRecord(req.Method, req.Path, 0)
		record.PoolID = p.id
		record.ConnectionID = conn.ID()
		p.results = append(p.results, record)
		p.idle.Release(conn)
	}
}

func (p *ConnectionPool) complete(c Completion) {
	record := c.Record
	record.PoolID = p.id
	record.ConnectionID = c.Connection.ID()
	p.results = append(p.results, record)
	p.idle.Release(c.Connection)
}

// drain closes every connection once it is idle so the next batch starts
// with fresh sessions
func (p *ConnectionPool) drain() {
	closed := make([]*Connection, 0, p.size)
	for len(closed) < p.size {
		conn, ok := p.idle.Acquire(nil)
		if !ok {
			break
		}
		conn.Close()
		closed = append(closed, conn)
	}
	for _, conn := range closed {
		p.idle.Release(conn)
	}
}
