package tinymq

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"
)

// ContextDialer is an interface for custom network dialing logic. It
// matches the signature of net.Dialer.DialContext, letting callers
// substitute a proxying or test dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// options holds configuration for a Client, assembled by the functional
// options passed to Connect.
type options struct {
	// ConnectTimeout bounds the wait for CONNACK after dialing.
	ConnectTimeout time.Duration

	// CorrelationTimeout bounds every request/response call that goes
	// through the correlation layer (my-topics, admin-list, ...).
	CorrelationTimeout time.Duration

	// Dialer overrides the network dialer used by Connect.
	Dialer ContextDialer

	// Logger receives structured events from the connection engine,
	// delegation subsystem, and orchestrator. Defaults to discarding.
	Logger *slog.Logger
}

// Option configures a Client at Connect time.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		ConnectTimeout:     5 * time.Second,
		CorrelationTimeout: 5 * time.Second,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithConnectTimeout overrides how long Connect waits for CONNACK.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.ConnectTimeout = d }
}

// WithCorrelationTimeout overrides how long correlated requests
// (my-topics, my-admin-topics, admin-resign, ...) wait for a response.
func WithCorrelationTimeout(d time.Duration) Option {
	return func(o *options) { o.CorrelationTimeout = d }
}

// WithDialer overrides the dialer used to open the TCP connection.
func WithDialer(d ContextDialer) Option {
	return func(o *options) { o.Dialer = d }
}

// WithLogger overrides the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.Logger = logger }
}
