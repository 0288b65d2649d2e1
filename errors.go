package tinymq

import (
	"errors"
	"fmt"
)

// Errors returned by the connection engine and correlation layer.
var (
	// ErrClientDisconnected is returned when an operation cannot be
	// carried out because the client has no live connection.
	ErrClientDisconnected = errors.New("tinymq: client disconnected")

	// ErrConnectTimeout is returned when the broker does not send a
	// CONNACK within the connect deadline.
	ErrConnectTimeout = errors.New("tinymq: timed out waiting for CONNACK")

	// ErrCorrelationTimeout is returned by a correlated request that
	// receives no matching response within its deadline.
	ErrCorrelationTimeout = errors.New("tinymq: timed out waiting for response")

	// ErrConnectionLost is delivered to every outstanding correlation
	// waiter when the connection drops.
	ErrConnectionLost = errors.New("tinymq: connection lost")

	// ErrReplaced is delivered to a waiter whose registration was
	// superseded by a newer request of the same packet type before a
	// response arrived.
	ErrReplaced = errors.New("tinymq: correlation handler replaced")

	// ErrTopicTooLong is returned synchronously by Publish when the
	// encoded effective topic exceeds the 255-byte wire limit.
	ErrTopicTooLong = errors.New("tinymq: topic too long (max 255 bytes)")

	// ErrAlreadyInFlight guards reentrant calls to operations the spec
	// allows only one outstanding instance of at a time.
	ErrAlreadyInFlight = errors.New("tinymq: a request of this kind is already outstanding")
)

// AdminError describes a server-reported validation failure. Code is
// one of the fixed strings in the protocol (e.g. "ALREADY_HAS_ADMIN",
// "NOT_SUBSCRIBED"). The admin-request callback receives the message,
// code and topic as separate string arguments; no operation in this
// package builds or returns an AdminError.
type AdminError struct {
	Code    string
	Message string
	Topic   string
}

func (e *AdminError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tinymq: admin request rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("tinymq: admin request rejected (%s)", e.Code)
}

// Known admin validation error codes.
const (
	ErrCodeAlreadyPending  = "ALREADY_PENDING"
	ErrCodeNotSubscribed   = "NOT_SUBSCRIBED"
	ErrCodeAlreadyHasAdmin = "ALREADY_HAS_ADMIN"
	ErrCodeSelfRequest     = "SELF_REQUEST"
	ErrCodeTopicNotFound   = "TOPIC_NOT_FOUND"
	ErrCodeOwnerNotFound   = "OWNER_NOT_FOUND"
)
