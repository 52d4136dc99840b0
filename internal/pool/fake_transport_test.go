package pool

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/studiowebux/poolbench/internal/transport"
)

// fakeTransport replays scripted attempt errors. A nil entry, or an exhausted
// script, produces a 200 response. The first panics calls to Response panic.
type fakeTransport struct {
	mu        sync.Mutex
	script    []error
	panics    int
	gate      chan struct{}
	body      string
	connected bool
	connects  int
	requests  int
	closes    int
	timeout   time.Duration
}

func newFakeTransport(script ...error) *fakeTransport {
	return &fakeTransport{script: script, body: "meow"}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeTransport) Request(method, path string, header http.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrImproperState
	}
	f.requests++
	return nil
}

func (f *fakeTransport) Response() (*transport.Response, error) {
	f.mu.Lock()
	if f.panics > 0 {
		f.panics--
		f.mu.Unlock()
		panic("fake transport: corrupt response")
	}
	var err error
	if len(f.script) > 0 {
		err = f.script[0]
		f.script = f.script[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if gate != nil {
		<-gate
	}
	return &transport.Response{Status: http.StatusOK, Body: []byte(f.body)}, nil
}

func (f *fakeTransport) SetTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = d
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return nil
}

type fakeCounts struct {
	connects, requests, closes int
}

func (f *fakeTransport) counts() fakeCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeCounts{connects: f.connects, requests: f.requests, closes: f.closes}
}

// fakeFactory hands out fake transports and remembers them by connection id
type fakeFactory struct {
	mu         sync.Mutex
	transports map[int]*fakeTransport
	gate       chan struct{}
	script     func(id int) []error
	panics     func(id int) int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{transports: make(map[int]*fakeTransport)}
}

func (ff *fakeFactory) dial(id int) (transport.Transport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	var script []error
	if ff.script != nil {
		script = ff.script(id)
	}
	tr := newFakeTransport(script...)
	tr.gate = ff.gate
	if ff.panics != nil {
		tr.panics = ff.panics(id)
	}
	ff.transports[id] = tr
	return tr, nil
}

func (ff *fakeFactory) get(id int) *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.transports[id]
}
