package pool

import "sync"

// idleSet is a bounded resource pool of connections. The channel holds the
// idle connections; the counters move together under mu so Idle+Busy stays
// equal to the capacity.
type idleSet struct {
	ch   chan *Connection
	mu   sync.Mutex
	idle int
	busy int
}

func newIdleSet(size int) *idleSet {
	return &idleSet{ch: make(chan *Connection, size)}
}

// add registers a new connection as idle
func (s *idleSet) add(c *Connection) {
	s.mu.Lock()
	s.idle++
	s.mu.Unlock()
	s.ch <- c
}

// TryAcquire takes an idle connection without blocking
func (s *idleSet) TryAcquire() (*Connection, bool) {
	select {
	case c := <-s.ch:
		s.checkout()
		return c, true
	default:
		return nil, false
	}
}

// Acquire blocks until a connection is idle or stop is closed
func (s *idleSet) Acquire(stop <-chan struct{}) (*Connection, bool) {
	select {
	case c := <-s.ch:
		s.checkout()
		return c, true
	case <-stop:
		return nil, false
	}
}

// Release returns a busy connection. It never blocks.
func (s *idleSet) Release(c *Connection) {
	s.mu.Lock()
	s.busy--
	s.idle++
	s.mu.Unlock()
	s.ch <- c
}

// Counts returns the idle and busy counters
func (s *idleSet) Counts() (idle, busy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle, s.busy
}

// Busy returns the number of connections handed out
func (s *idleSet) Busy() int {
	_, busy := s.Counts()
	return busy
}

func (s *idleSet) checkout() {
	s.mu.Lock()
	s.idle--
	s.busy++
	s.mu.Unlock()
}
