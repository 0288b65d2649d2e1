package tinymq

import (
	"sync"
	"time"

	"github.com/RodrigoJC20/tinymq-client/internal/wire"
)

// registry formalizes the "temporary packet handler" mechanism: at most
// one handler is outstanding per packet type. Registering a new handler
// for a type that already has one atomically releases the previous
// waiter with ErrReplaced, so reconnection or retry can never leave an
// orphaned handler behind (see the correlation layer's design note on
// replace semantics).
type registry struct {
	mu       sync.Mutex
	handlers map[wire.Type]*waiter
}

func newRegistry() *registry {
	return &registry{handlers: make(map[wire.Type]*waiter)}
}

// register installs w as the sole handler for t, replacing (and
// releasing with ErrReplaced) any handler already registered for t.
func (r *registry) register(t wire.Type, w *waiter) {
	r.mu.Lock()
	prev, had := r.handlers[t]
	r.handlers[t] = w
	r.mu.Unlock()

	if had {
		prev.complete(0, nil, ErrReplaced)
	}
}

// unregister removes w from t's slot, but only if w is still the
// current handler (it may already have been replaced or delivered).
func (r *registry) unregister(t wire.Type, w *waiter) {
	r.mu.Lock()
	if cur, ok := r.handlers[t]; ok && cur == w {
		delete(r.handlers, t)
	}
	r.mu.Unlock()
}

// deliver looks up and removes the handler for t, if any, and completes
// it with the frame's flags and payload. Reports whether a handler was
// found, so the caller can fall through to the general dispatch rules.
func (r *registry) deliver(t wire.Type, flags uint8, payload []byte) bool {
	r.mu.Lock()
	w, ok := r.handlers[t]
	if ok {
		delete(r.handlers, t)
	}
	r.mu.Unlock()

	if ok {
		w.complete(flags, payload, nil)
	}
	return ok
}

// releaseAll completes every outstanding handler with err. Called when
// the connection drops so no waiter blocks forever.
func (r *registry) releaseAll(err error) {
	r.mu.Lock()
	handlers := r.handlers
	r.handlers = make(map[wire.Type]*waiter)
	r.mu.Unlock()

	for _, w := range handlers {
		w.complete(0, nil, err)
	}
}

// correlator is the blocking half of the correlation layer: Request
// sends a frame and waits for the one matching response, as used by
// the CONN/CONNACK handshake and by my-topics, my-admin-topics,
// my-admin-requests, admin-list, topic-sensors, and admin-resign.
type correlator struct {
	reg *registry
}

func newCorrelator() *correlator {
	return &correlator{reg: newRegistry()}
}

// Request registers a one-shot handler for expected, invokes send, and
// waits up to timeout for the matching response. On send failure the
// handler is unregistered and ErrClientDisconnected is returned. On
// timeout the handler is unregistered and ErrCorrelationTimeout is
// returned. The caller is responsible for parsing the returned payload.
func (c *correlator) Request(send func() error, expected wire.Type, timeout time.Duration) (flags uint8, payload []byte, err error) {
	w := newWaiter()
	c.reg.register(expected, w)

	if err := send(); err != nil {
		c.reg.unregister(expected, w)
		return 0, nil, ErrClientDisconnected
	}

	select {
	case <-w.Done():
		flags, payload, err = w.Result()
		return flags, payload, err
	case <-time.After(timeout):
		c.reg.unregister(expected, w)
		return 0, nil, ErrCorrelationTimeout
	}
}

// Deliver routes an inbound frame to its one-shot handler, if any.
func (c *correlator) Deliver(t wire.Type, flags uint8, payload []byte) bool {
	return c.reg.deliver(t, flags, payload)
}

// ReleaseAll releases every outstanding correlation and admin-ack
// waiter with ErrConnectionLost; called by the reader loop on disconnect.
func (c *correlator) ReleaseAll() {
	c.reg.releaseAll(ErrConnectionLost)
}
