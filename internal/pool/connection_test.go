package pool

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/studiowebux/poolbench/internal/transport"
	"github.com/studiowebux/poolbench/internal/types"
)

func newTestConnection(t *testing.T, maxRetries int, tr transport.Transport) *Connection {
	t.Helper()
	conn, err := NewConnection(ConnectionConfig{ID: 7, MaxRetries: maxRetries, Timeout: 2 * time.Second}, tr, nil)
	require.NoError(t, err)
	t.Cleanup(conn.Destroy)
	return conn
}

func runJob(t *testing.T, conn *Connection, path string) types.StatsRecord {
	t.Helper()
	reply := make(chan Completion, 1)
	require.NoError(t, conn.Enqueue("GET", path, reply))

	select {
	case c := <-reply:
		require.Same(t, conn, c.Connection)
		return c.Record
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not complete", path)
		return types.StatsRecord{}
	}
}

func TestConnection_Success(t *testing.T) {
	tr := newFakeTransport()
	conn := newTestConnection(t, 5, tr)

	record := runJob(t, conn, "/cats/1.jpg")
	require.True(t, record.Success)
	require.Equal(t, 0, record.Retries)
	require.Equal(t, 200, record.Status)
	require.Equal(t, len("meow"), record.Size)
	require.Equal(t, "/cats/1.jpg", record.Resource)
	require.GreaterOrEqual(t, record.TimeConnect, int64(0))
	require.Equal(t, 2*time.Second, tr.timeout)
}

func TestConnection_ReusesOpenSession(t *testing.T) {
	tr := newFakeTransport()
	conn := newTestConnection(t, 5, tr)

	first := runJob(t, conn, "/a")
	second := runJob(t, conn, "/b")

	require.NotEqual(t, types.NoConnect, first.TimeConnect)
	require.Equal(t, types.NoConnect, second.TimeConnect)
	require.Equal(t, 1, tr.counts().connects)
}

func TestConnection_RemoteClosedThenSuccess(t *testing.T) {
	tr := newFakeTransport(transport.ErrRemoteClosed)
	conn := newTestConnection(t, 5, tr)

	record := runJob(t, conn, "/a")
	require.True(t, record.Success)
	require.Equal(t, 1, record.Retries)

	// remote-closed drops the session before the retry reconnects
	counts := tr.counts()
	require.Equal(t, 1, counts.closes)
	require.Equal(t, 2, counts.connects)
}

func TestConnection_ZeroRetriesFailsWithoutTransport(t *testing.T) {
	tr := newFakeTransport(transport.ErrRemoteClosed)
	conn, err := NewConnection(ConnectionConfig{MaxRetries: 0}, tr, nil)
	require.NoError(t, err)

	reply := make(chan Completion, 2)
	require.NoError(t, conn.Enqueue("GET", "/a", reply))
	c := <-reply
	conn.Destroy()

	require.False(t, c.Record.Success)
	require.Equal(t, 0, c.Record.Retries)
	require.Equal(t, 0, c.Record.Status)
	require.Equal(t, 0, c.Record.Size)
	require.Equal(t, types.NoConnect, c.Record.TimeConnect)
	require.Len(t, reply, 0, "completion must be delivered exactly once")
	require.Equal(t, 0, tr.counts().requests)
}

func TestConnection_RetryBudgetExhausted(t *testing.T) {
	timeout := &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}
	tr := newFakeTransport(timeout, timeout, timeout)
	conn := newTestConnection(t, 3, tr)

	record := runJob(t, conn, "/slow")
	require.False(t, record.Success)
	require.Equal(t, 3, record.Retries)

	counts := tr.counts()
	require.Equal(t, 3, counts.connects)
	require.Equal(t, 3, counts.closes)

	// the counter starts over for the next job
	next := runJob(t, conn, "/fast")
	require.True(t, next.Success)
	require.Equal(t, 0, next.Retries)
}

func TestConnection_RetryPolicyPerKind(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCloses int
	}{
		{"remote closed", transport.ErrRemoteClosed, 1},
		{"improper state", fmt.Errorf("%w: busy", transport.ErrImproperState), 1},
		{"timeout", &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}, 1},
		{"connection error", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, 0},
		{"unclassified", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(tt.err)
			conn := newTestConnection(t, 2, tr)

			record := runJob(t, conn, "/a")
			require.True(t, record.Success)
			require.Equal(t, 1, record.Retries)

			counts := tr.counts()
			require.Equal(t, tt.wantCloses, counts.closes)
			require.Equal(t, 2, counts.connects, "every transient failure reconnects")
		})
	}
}

func TestConnection_CloseKeepsWorker(t *testing.T) {
	tr := newFakeTransport()
	conn := newTestConnection(t, 5, tr)

	runJob(t, conn, "/a")
	conn.Close()
	record := runJob(t, conn, "/b")

	require.True(t, record.Success)
	require.NotEqual(t, types.NoConnect, record.TimeConnect)
	require.Equal(t, 2, tr.counts().connects)
}

func TestConnection_DestroyIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	conn, err := NewConnection(ConnectionConfig{MaxRetries: 1}, tr, nil)
	require.NoError(t, err)

	runJob(t, conn, "/a")
	conn.Destroy()
	conn.Destroy()

	require.ErrorIs(t, conn.Enqueue("GET", "/b", nil), ErrConnectionDestroyed)
	require.Equal(t, 1, tr.counts().closes)
}

func TestConnection_DestroyProcessesQueuedJob(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	conn, err := NewConnection(ConnectionConfig{MaxRetries: 1}, tr, nil)
	require.NoError(t, err)

	reply := make(chan Completion, 2)
	require.NoError(t, conn.Enqueue("GET", "/first", reply))
	require.NoError(t, conn.Enqueue("GET", "/second", reply))

	destroyed := make(chan struct{})
	go func() {
		conn.Destroy()
		close(destroyed)
	}()
	close(tr.gate)

	select {
	case <-destroyed:
	case <-time.After(5 * time.Second):
		t.Fatal("Destroy did not return")
	}
	require.Len(t, reply, 2)
}

func TestConnection_TransportPanicIsRetried(t *testing.T) {
	tr := newFakeTransport()
	tr.panics = 1
	conn := newTestConnection(t, 3, tr)

	record := runJob(t, conn, "/a")
	require.True(t, record.Success)
	require.Equal(t, 1, record.Retries)

	// the panic is unclassified, so the session is dropped before the retry
	counts := tr.counts()
	require.Equal(t, 1, counts.closes)
	require.Equal(t, 2, counts.connects)

	// the worker survives and the connection is still usable
	next := runJob(t, conn, "/b")
	require.True(t, next.Success)
}

func TestConnection_TransportPanicExhaustsBudget(t *testing.T) {
	tr := newFakeTransport()
	tr.panics = 2
	conn := newTestConnection(t, 2, tr)

	record := runJob(t, conn, "/a")
	require.False(t, record.Success)
	require.Equal(t, 2, record.Retries)
}

func TestConnection_EnqueueBlocksWhileJobPending(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	conn := newTestConnection(t, 1, tr)

	reply := make(chan Completion, 3)
	// once both return, /first is in flight and /second fills the inbox
	require.NoError(t, conn.Enqueue("GET", "/first", reply))
	require.NoError(t, conn.Enqueue("GET", "/second", reply))

	enqueued := make(chan error, 1)
	go func() {
		enqueued <- conn.Enqueue("GET", "/third", reply)
	}()

	select {
	case err := <-enqueued:
		t.Fatalf("Enqueue returned while a job was pending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(tr.gate)

	select {
	case err := <-enqueued:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue did not return after the inbox drained")
	}

	for _, want := range []string{"/first", "/second", "/third"} {
		select {
		case c := <-reply:
			require.Equal(t, want, c.Record.Resource)
			require.True(t, c.Record.Success)
		case <-time.After(5 * time.Second):
			t.Fatalf("job %s did not complete", want)
		}
	}
}

func TestNewConnection_Validation(t *testing.T) {
	_, err := NewConnection(ConnectionConfig{MaxRetries: 1}, nil, nil)
	require.Error(t, err)

	_, err = NewConnection(ConnectionConfig{MaxRetries: -1}, newFakeTransport(), nil)
	require.Error(t, err)
}
