package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultTimeout applies when Options.Timeout is zero
	DefaultTimeout = 30 * time.Second
	// TCPKeepAliveInterval is the TCP keep-alive period of dialed sockets
	TCPKeepAliveInterval = 30 * time.Second
)

var (
	// ErrRemoteClosed is returned when the peer closed the session before sending a status line
	ErrRemoteClosed = errors.New("remote end closed connection without response")
	// ErrImproperState is returned when the session is used out of order
	ErrImproperState = errors.New("improper connection state")
)

// Options configures the session every transport of a factory opens
type Options struct {
	Host               string
	Port               int
	HTTPS              bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Address returns host:port
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Scheme returns "https" or "http"
func (o Options) Scheme() string {
	if o.HTTPS {
		return "https"
	}
	return "http"
}

// Response is a fully read HTTP response
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	// Close reports that the server asked to drop the session after this response
	Close bool
}

// Transport is one logical keep-alive session. Implementations are used by a
// single goroutine at a time and need not be safe for concurrent use.
type Transport interface {
	Connect(ctx context.Context) error
	Request(method, path string, header http.Header) error
	Response() (*Response, error)
	SetTimeout(d time.Duration)
	Close() error
}

// Factory creates the transport of the connection with the given id
type Factory func(id int) (Transport, error)

// NewFactory validates the options once and returns a factory of HTTP transports
func NewFactory(opts Options) (Factory, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", opts.Port)
	}

	var tlsCfg *tls.Config
	if opts.HTTPS {
		cfg, err := buildTLSConfig(opts)
		if err != nil {
			return nil, err
		}
		tlsCfg = cfg
	}

	return func(id int) (Transport, error) {
		return NewHTTPTransport(opts, tlsCfg), nil
	}, nil
}

// buildTLSConfig creates the client TLS configuration with optional mTLS and custom CA
func buildTLSConfig(opts Options) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         opts.Host,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	if opts.CertFile != "" && opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = caCertPool
	}

	return tlsCfg, nil
}

// HTTPTransport speaks HTTP/1.1 over a single TCP or TLS socket
type HTTPTransport struct {
	opts    Options
	tlsCfg  *tls.Config
	timeout time.Duration
	conn    net.Conn
	reader  *bufio.Reader
	pending *http.Request
}

// NewHTTPTransport creates an unconnected transport. tlsCfg is only used when opts.HTTPS is set.
func NewHTTPTransport(opts Options, tlsCfg *tls.Config) *HTTPTransport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if opts.HTTPS && tlsCfg == nil {
		tlsCfg = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}
	return &HTTPTransport{
		opts:    opts,
		tlsCfg:  tlsCfg,
		timeout: timeout,
	}
}

// SetTimeout changes the I/O timeout used for dialing and every read/write
func (t *HTTPTransport) SetTimeout(d time.Duration) {
	if d > 0 {
		t.timeout = d
	}
}

// Connect opens a fresh session, dropping any previous socket
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.conn != nil {
		_ = t.Close()
	}

	dialer := &net.Dialer{
		Timeout:   t.timeout,
		KeepAlive: TCPKeepAliveInterval,
	}
	conn, err := dialer.DialContext(ctx, "tcp", t.opts.Address())
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.opts.Address(), err)
	}

	if t.opts.HTTPS {
		tlsConn := tls.Client(conn, t.tlsCfg)
		_ = tlsConn.SetDeadline(time.Now().Add(t.timeout))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return fmt.Errorf("tls handshake with %s: %w", t.opts.Address(), err)
		}
		conn = tlsConn
	}

	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.pending = nil
	return nil
}

// Request writes a request on the open session
func (t *HTTPTransport) Request(method, path string, header http.Header) error {
	if t.conn == nil {
		return fmt.Errorf("%w: request on a closed session", ErrImproperState)
	}
	if t.pending != nil {
		return fmt.Errorf("%w: previous response not read", ErrImproperState)
	}

	u, err := url.ParseRequestURI(path)
	if err != nil {
		return fmt.Errorf("invalid request path %q: %w", path, err)
	}

	req := &http.Request{
		Method:     method,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       t.hostHeader(),
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Connection") == "" {
		req.Header.Set("Connection", "Keep-Alive")
	}

	_ = t.conn.SetDeadline(time.Now().Add(t.timeout))
	if err := req.Write(t.conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	t.pending = req
	return nil
}

// Response reads the response of the last request, including the whole body
func (t *HTTPTransport) Response() (*Response, error) {
	if t.conn == nil || t.pending == nil {
		return nil, fmt.Errorf("%w: no request pending", ErrImproperState)
	}
	req := t.pending

	_ = t.conn.SetDeadline(time.Now().Add(t.timeout))
	resp, err := http.ReadResponse(t.reader, req)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrRemoteClosed
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	t.pending = nil

	return &Response{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Header:     resp.Header,
		Body:       body,
		Close:      resp.Close,
	}, nil
}

// Close drops the socket. Closing a closed transport is a no-op.
func (t *HTTPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	t.pending = nil
	return err
}

func (t *HTTPTransport) hostHeader() string {
	if (t.opts.HTTPS && t.opts.Port == 443) || (!t.opts.HTTPS && t.opts.Port == 80) {
		return t.opts.Host
	}
	return t.opts.Address()
}
