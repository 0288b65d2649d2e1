// Package tinymq is the client half of the TinyMQ publish/subscribe
// protocol: a framed TCP connection to a broker, a correlation layer
// for request/response-style calls, a publish/subscribe surface, and a
// delegation subsystem for granting and exercising remote admin rights.
// See doc.go for an overview and usage examples.
package tinymq

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/RodrigoJC20/tinymq-client/internal/wire"
)

// State is the connection engine's lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateObserver is notified on every Connected/Disconnected transition.
// Only one observer is ever registered; see ObserveState.
type StateObserver func(State)

// Client owns a single TCP connection to a TinyMQ broker: one writer
// serialized behind writeMu, one dedicated reader goroutine that owns
// the inbound buffer exclusively, and a correlation table shared by
// both. At most one live socket exists per Client at a time.
type Client struct {
	opts *options
	log  *slog.Logger

	clientID string

	connMu sync.RWMutex
	conn   net.Conn

	stateMu  sync.Mutex
	state    State
	observer StateObserver

	writeMu sync.Mutex

	corr *correlator

	pubsubMu sync.Mutex
	handlers map[string]func(topic, message string)

	// Persistent (non-one-shot) delegation callbacks, installed at most
	// once via the Delegation type's registration methods and invoked
	// by the reader's dispatch loop for every matching inbound frame.
	delegMu       sync.Mutex
	onAdminNotify func(flags uint8, payload []byte)
	onAdminResult func(payload []byte)
	onSensorStat  func(payload []byte)

	readerWG sync.WaitGroup
}

// Connect dials host:port, sends a CONN frame carrying clientID, and
// waits up to the connect timeout (or ctx's deadline, whichever is
// sooner) for the broker's CONNACK. On success the Client is Connected
// and its reader goroutine is already running.
func Connect(ctx context.Context, host string, port int, clientID string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		opts:     o,
		log:      o.Logger,
		clientID: clientID,
		corr:     newCorrelator(),
		handlers: make(map[string]func(topic, message string)),
	}

	dialer := o.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	connectCtx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()

	c.setState(Connecting)

	conn, err := dialer.DialContext(connectCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("tinymq: dial %s:%d: %w", host, port, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.readerWG.Add(1)
	go c.readLoop(conn)

	wait := o.ConnectTimeout
	if deadline, ok := connectCtx.Deadline(); ok {
		wait = time.Until(deadline)
	}

	_, _, err = c.corr.Request(func() error {
		return c.send(wire.CONN, 0, []byte(clientID))
	}, wire.CONNACK, wait)
	if err != nil {
		c.Disconnect()
		if err == ErrCorrelationTimeout {
			return nil, ErrConnectTimeout
		}
		return nil, err
	}

	c.setState(Connected)
	return c, nil
}

// ClientID returns the identifier this client connected with.
func (c *Client) ClientID() string { return c.clientID }

// State returns the current connection lifecycle state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// ObserveState registers the single callback fired on every
// Connected/Disconnected transition, replacing any previously
// registered one.
func (c *Client) ObserveState(cb StateObserver) {
	c.stateMu.Lock()
	c.observer = cb
	c.stateMu.Unlock()
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	cb := c.observer
	c.stateMu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Disconnect closes the socket and transitions to Disconnected. It is
// safe to call from any goroutine, including from within the reader's
// own dispatch path: it never joins the reader goroutine against
// itself, it just flips the state and lets the reader unwind naturally
// on its next read error.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.setState(Disconnected)
	c.corr.ReleaseAll()
}

// Wait blocks until the reader goroutine has exited, i.e. until the
// connection has fully unwound after a Disconnect.
func (c *Client) Wait() {
	c.readerWG.Wait()
}

// send serializes and writes a frame under the write lock. A write
// failure transitions the client to Disconnected.
func (c *Client) send(t wire.Type, flags uint8, payload []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrClientDisconnected
	}

	encoded, err := wire.Encode(t, flags, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	_, err = conn.Write(encoded)
	c.writeMu.Unlock()

	if err != nil {
		c.log.Debug("tinymq: write failed, disconnecting", "type", t, "error", err)
		c.Disconnect()
		return fmt.Errorf("tinymq: write %s: %w", t, err)
	}
	return nil
}

// readLoop owns the inbound buffer exclusively. It decodes frames as
// they complete and dispatches them in arrival order; on EOF or error
// it closes the socket, transitions to Disconnected, and releases every
// outstanding correlation waiter exactly once.
func (c *Client) readLoop(conn net.Conn) {
	defer c.readerWG.Done()

	acc := wire.NewAccumulator(conn)
	for {
		frame, err := acc.Next()
		if err != nil {
			c.log.Debug("tinymq: read loop exiting", "error", err)
			c.Disconnect()
			return
		}
		c.dispatch(frame)
	}
}

// dispatch implements the fixed dispatch order: a one-shot correlation
// handler always wins first; otherwise the frame routes by type to a
// persistent callback, or is logged and discarded.
func (c *Client) dispatch(frame wire.Frame) {
	if c.corr.Deliver(frame.Type, frame.Flags, frame.Payload) {
		return
	}

	switch frame.Type {
	case wire.CONNACK:
		c.setState(Connected)

	case wire.PUB:
		c.handleInboundPub(frame.Payload)

	case wire.AdminNotify:
		c.delegMu.Lock()
		cb := c.onAdminNotify
		c.delegMu.Unlock()
		if cb != nil {
			cb(frame.Flags, frame.Payload)
		} else {
			c.log.Debug("tinymq: ADMIN_NOTIFY with no registered handler")
		}

	case wire.AdminResult:
		c.delegMu.Lock()
		cb := c.onAdminResult
		c.delegMu.Unlock()
		if cb != nil {
			cb(frame.Payload)
		} else {
			c.log.Debug("tinymq: ADMIN_RESULT with no registered handler")
		}

	case wire.SensorStatusResp:
		c.delegMu.Lock()
		cb := c.onSensorStat
		c.delegMu.Unlock()
		if cb != nil {
			cb(frame.Payload)
		} else {
			c.log.Debug("tinymq: SENSOR_STATUS_RESP with no registered handler")
		}

	default:
		if !frame.Type.Known() {
			c.log.Debug("tinymq: unknown packet type, skipping", "type", fmt.Sprintf("%#02x", uint8(frame.Type)))
		} else {
			c.log.Debug("tinymq: unhandled packet type, discarding", "type", frame.Type)
		}
	}
}

// setAdminNotifyHandler installs the delegation subsystem's persistent
// ADMIN_NOTIFY callback. Used once, at Delegation construction.
func (c *Client) setAdminNotifyHandler(cb func(flags uint8, payload []byte)) {
	c.delegMu.Lock()
	c.onAdminNotify = cb
	c.delegMu.Unlock()
}

func (c *Client) setAdminResultHandler(cb func(payload []byte)) {
	c.delegMu.Lock()
	c.onAdminResult = cb
	c.delegMu.Unlock()
}

func (c *Client) setSensorStatusHandler(cb func(payload []byte)) {
	c.delegMu.Lock()
	c.onSensorStat = cb
	c.delegMu.Unlock()
}

// correlatedRequest is a small helper shared by the delegation
// operations that block on a specific response type.
func (c *Client) correlatedRequest(t wire.Type, payload []byte, expected wire.Type, timeout time.Duration) ([]byte, error) {
	_, body, err := c.corr.Request(func() error {
		return c.send(t, 0, payload)
	}, expected, timeout)
	return body, err
}
