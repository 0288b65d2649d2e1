package tinymq

import "sync"

// waiter is a single-shot completion slot: at most one outcome
// (response payload, ErrReplaced, or ErrConnectionLost) is ever
// delivered. A timeout does not complete the waiter; the party waiting
// on Done stops waiting and unregisters it instead. It backs both the
// correlation layer's blocking Request calls and the one-shot
// admin-request / admin-resign callback registrations.
type waiter struct {
	done chan struct{}
	once sync.Once

	flags   uint8
	payload []byte
	err     error
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

// complete delivers the outcome. Only the first call has any effect.
func (w *waiter) complete(flags uint8, payload []byte, err error) {
	w.once.Do(func() {
		w.flags = flags
		w.payload = payload
		w.err = err
		close(w.done)
	})
}

// Done returns the channel that closes once complete has run.
func (w *waiter) Done() <-chan struct{} {
	return w.done
}

// Result returns the delivered outcome. Only meaningful after Done() is closed.
func (w *waiter) Result() (flags uint8, payload []byte, err error) {
	return w.flags, w.payload, w.err
}
