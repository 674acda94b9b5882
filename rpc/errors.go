package rpc

import (
	"errors"
	"fmt"
	"time"

	"duplex-rpc/message"
	"duplex-rpc/session"
)

var (
	ErrResponseTimeout   = errors.New("rpc: response timeout")
	ErrMethodNotFound    = errors.New("rpc: method not found")
	ErrContractViolation = errors.New("rpc: contract violation")
	ErrSerialization     = errors.New("rpc: serialization failed")
	ErrNoPeer            = errors.New("rpc: no dialed peer")
	ErrDuplicateMethod   = errors.New("rpc: method already registered")
	ErrEngineClosed      = errors.New("rpc: engine closed")
)

// ResponseTimeoutError is returned by Call when no response arrived in time.
// Envelope is the request that went unanswered.
type ResponseTimeoutError struct {
	Envelope *message.Envelope
	Timeout  time.Duration
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("rpc: no response to %s within %s", e.Envelope, e.Timeout)
}

func (e *ResponseTimeoutError) Unwrap() error { return ErrResponseTimeout }

// MethodNotFoundError is reported as a session error when a peer invokes a
// method that is not in the local method table.
type MethodNotFoundError struct {
	Method  string
	Session session.ID
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("rpc: method %q requested by session %s is not registered", e.Method, e.Session)
}

func (e *MethodNotFoundError) Unwrap() error { return ErrMethodNotFound }

// InvocationError is reported as a session error when a local method fails
// while serving a peer.
type InvocationError struct {
	Method string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("rpc: method %q failed: %v", e.Method, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func serializationError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSerialization, op, err)
}
