package transport

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Kind classifies a failed request attempt
type Kind int

const (
	KindNone Kind = iota
	KindRemoteClosed
	KindImproperState
	KindTimeout
	KindConnection
	KindUnclassified
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRemoteClosed:
		return "remote-closed"
	case KindImproperState:
		return "improper-state"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection-error"
	default:
		return "unclassified"
	}
}

// Classify maps an attempt error to its Kind
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrRemoteClosed) {
		return KindRemoteClosed
	}
	if errors.Is(err, ErrImproperState) {
		return KindImproperState
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	return KindUnclassified
}
