package pool

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/poolbench/internal/logging"
	"github.com/studiowebux/poolbench/internal/transport"
	"github.com/studiowebux/poolbench/internal/types"
)

// Completion is sent once per enqueued job when the job has finished,
// successfully or with its retry budget exhausted
type Completion struct {
	Connection *Connection
	Record     types.StatsRecord
}

type job struct {
	method string
	path   string
	reply  chan<- Completion
	stop   bool
}

// Connection owns one transport session and a worker that handles exactly
// one job at a time
type Connection struct {
	id         int
	name       string
	maxRetries int
	backoff    time.Duration
	header     http.Header
	log        logrus.FieldLogger

	inbox chan job
	done  chan struct{}

	// mu orders Enqueue against Destroy
	mu        sync.RWMutex
	destroyed bool

	// stateMu guards the transport between the worker and Close
	stateMu   sync.Mutex
	tr        transport.Transport
	connected bool
}

// NewConnection creates a connection over tr and starts its worker goroutine
func NewConnection(cfg ConnectionConfig, tr transport.Transport, logger logrus.FieldLogger) (*Connection, error) {
	return newConnection(cfg, tr, logger, nil)
}

func newConnection(cfg ConnectionConfig, tr transport.Transport, logger logrus.FieldLogger, launch func(func()) error) (*Connection, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("Connection %d", cfg.ID)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if launch == nil {
		launch = func(task func()) error {
			go task()
			return nil
		}
	}
	if cfg.Timeout > 0 {
		tr.SetTimeout(cfg.Timeout)
	}

	header := make(http.Header)
	for key, values := range cfg.Header {
		header[key] = append([]string(nil), values...)
	}
	if header.Get("Connection") == "" {
		header.Set("Connection", "Keep-Alive")
	}

	c := &Connection{
		id:         cfg.ID,
		name:       cfg.Name,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		header:     header,
		log:        logger.WithField("connection", cfg.Name),
		inbox:      make(chan job, 1),
		done:       make(chan struct{}),
		tr:         tr,
	}

	if err := launch(c.run); err != nil {
		return nil, fmt.Errorf("failed to start worker for %s: %w", cfg.Name, err)
	}
	return c, nil
}

// ID returns the connection id
func (c *Connection) ID() int {
	return c.id
}

// Name returns the display name
func (c *Connection) Name() string {
	return c.name
}

// Enqueue hands a job to the worker, blocking while another job is still
// waiting in the inbox. The outcome is delivered as one Completion on reply.
func (c *Connection) Enqueue(method, path string, reply chan<- Completion) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.destroyed {
		return ErrConnectionDestroyed
	}
	c.log.Debugf("Queueing %s %s", method, path)
	c.inbox <- job{method: method, path: path, reply: reply}
	return nil
}

// Close drops the transport but keeps the worker alive. The next job reconnects.
func (c *Connection) Close() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.log.Debug("Closing connection")
	c.dropLocked()
}

// Destroy stops the worker after any queued job and releases the transport.
// Calling it more than once is safe.
func (c *Connection) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	c.inbox <- job{stop: true}
	<-c.done
}

func (c *Connection) run() {
	defer close(c.done)
	c.log.Debug("Worker started")

	for {
		j := <-c.inbox
		if j.stop {
			break
		}
		record := c.process(j.method, j.path)
		if j.reply != nil {
			j.reply <- Completion{Connection: c, Record: record}
		}
	}

	c.teardown()
	c.log.Debug("Worker stopped")
}

// process runs the bounded retry loop for one job
func (c *Connection) process(method, path string) types.StatsRecord {
	c.log.Debugf("Handling %s %s", method, path)

	retries := 0
	for retries < c.maxRetries {
		record, err := c.attempt(method, path)
		if err == nil {
			record.Retries = retries
			return record
		}

		retries++
		c.recover(err, retries)
		if c.backoff > 0 {
			time.Sleep(c.backoff)
		}
	}

	c.log.Warnf("Retry limit reached, %s %s failed", method, path)
	return types.NewFailedRecord(method, path, retries)
}

// attempt sends one request, connecting first when the session is down.
// A panic in the transport is returned as an unclassified error.
func (c *Connection) attempt(method, path string) (record types.StatsRecord, err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()

	record = types.StatsRecord{
		Method:      method,
		Resource:    path,
		TimeConnect: types.NoConnect,
	}

	start := time.Now()
	if !c.connected {
		if err := c.tr.Connect(context.Background()); err != nil {
			return record, err
		}
		c.connected = true
		connected := time.Now()
		record.TimeConnect = connected.Sub(start).Microseconds()
		start = connected
	}

	if err := c.tr.Request(method, path, c.header); err != nil {
		return record, err
	}
	resp, err := c.tr.Response()
	if err != nil {
		return record, err
	}
	record.TimeData = time.Since(start).Microseconds()

	c.log.Infof("%s %s -> %03d %s", method, path, resp.Status, http.StatusText(resp.Status))
	record.Success = true
	record.Size = len(resp.Body)
	record.Status = resp.Status

	if resp.Close {
		c.dropLocked()
	}
	return record, nil
}

// recover applies the per-kind transport policy after a failed attempt
func (c *Connection) recover(err error, retries int) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	kind := transport.Classify(err)
	entry := c.log.WithField("kind", kind.String())

	switch kind {
	case transport.KindConnection:
		entry.Infof("ConnectionError (%v), retrying (%d of %d)", err, retries, c.maxRetries)
		c.connected = false
	case transport.KindUnclassified:
		entry.WithError(err).Warnf("Unexpected error, retrying (%d of %d)", retries, c.maxRetries)
		c.dropLocked()
	case transport.KindRemoteClosed:
		entry.Infof("Server disconnected meanwhile, retrying (%d of %d)", retries, c.maxRetries)
		c.dropLocked()
	case transport.KindTimeout:
		entry.Infof("Timeout, retrying (%d of %d)", retries, c.maxRetries)
		c.dropLocked()
	default:
		entry.Infof("Improper connection state (%v), retrying (%d of %d)", err, retries, c.maxRetries)
		c.dropLocked()
	}
}

// dropLocked closes the transport, swallowing close errors. stateMu must be held.
func (c *Connection) dropLocked() {
	if err := c.tr.Close(); err != nil {
		c.log.WithError(err).Debug("Close failed")
	}
	c.connected = false
}

func (c *Connection) teardown() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	// a connection error leaves the socket open with connected cleared
	if err := c.tr.Close(); err != nil {
		c.log.WithError(err).Warn("Could not close a connection")
	}
	c.connected = false
}
