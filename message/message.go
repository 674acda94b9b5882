// Package message defines the envelope exchanged between duplex-rpc peers.
//
// Envelope is the header of every RPC transmission. It is encoded by the codec
// layer, packed together with the content bytes, and sent as one frame.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes requests from responses.
type Kind int32

const (
	KindRequest  Kind = 0 // Caller → callee, invokes a method
	KindResponse Kind = 1 // Callee → caller, carries the single result value
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// Envelope carries the data for a single RPC event.
//
//   - On request:  MethodName names the target, CorrelationID is freshly generated,
//     HasReturn tells the callee whether a response is expected.
//   - On response: CorrelationID equals the request's, HasReturn is always false.
type Envelope struct {
	HasContent     bool      // Content bytes follow the header
	ExpirationTime time.Time // After this instant a pending response is stale
	CorrelationID  uuid.UUID // Matches a response to its request
	MethodName     string
	HasReturn      bool      // Request only: caller waits for a response
	SessionID      uuid.UUID // Target/originating session; uuid.Nil for the single dialed peer
	Kind           Kind
}

// NewRequest builds a request envelope with a fresh correlation id.
func NewRequest(session uuid.UUID, method string, hasContent, hasReturn bool, expires time.Time) *Envelope {
	return &Envelope{
		HasContent:     hasContent,
		ExpirationTime: expires,
		CorrelationID:  uuid.New(),
		MethodName:     method,
		HasReturn:      hasReturn,
		SessionID:      session,
		Kind:           KindRequest,
	}
}

// NewResponse builds the response envelope answering e.
func (e *Envelope) NewResponse(hasContent bool) *Envelope {
	return &Envelope{
		HasContent:     hasContent,
		ExpirationTime: e.ExpirationTime,
		CorrelationID:  e.CorrelationID,
		MethodName:     e.MethodName,
		HasReturn:      false,
		SessionID:      e.SessionID,
		Kind:           KindResponse,
	}
}

// Expired reports whether the envelope's expiration time is set and has passed.
func (e *Envelope) Expired(now time.Time) bool {
	return !e.ExpirationTime.IsZero() && now.After(e.ExpirationTime)
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s %s [op:%s session:%s content:%t return:%t]",
		e.Kind, e.MethodName, e.CorrelationID, e.SessionID, e.HasContent, e.HasReturn)
}
