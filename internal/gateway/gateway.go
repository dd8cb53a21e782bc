// Package gateway holds the telephony-backend adapters behind one
// capability: place a call and return the backend's external identifier.
//
// Rules:
// - No backend protocol details outside its adapter.
// - Adapters carry no business logic; retry decisions live in the dialer.
package gateway

import (
	"context"
	"fmt"
	"strings"
)

// Dispatcher places one outbound call and returns the opaque identifier the
// backend assigned to it.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, req DialRequest) (string, error)
}

// DialRequest is the flat, backend-agnostic set of dialing parameters.
type DialRequest struct {
	CallRequestID string
	CallerID      string
	CallerName    string
	PhoneNumber   string

	// GatewayID and Gateways come from the A-leg gateway profile;
	// Gateways ends with "/" (see SanitizeGateways).
	GatewayID string
	Gateways  string

	GatewayCodecs   string
	GatewayTimeouts string
	GatewayRetries  string

	// ExtraDialString carries extra channel variables, including the
	// billing accountcode suffix when present.
	ExtraDialString string

	AnswerURL string
	HangupURL string

	// TimeLimit caps the call duration, in seconds.
	TimeLimit int
}

// ErrorKind classifies dispatch failures per the engine's error taxonomy.
type ErrorKind string

const (
	// KindTransport covers unreachable backends and broken connections.
	KindTransport ErrorKind = "transport"
	// KindBadAck covers acknowledgments the adapter cannot parse.
	KindBadAck ErrorKind = "bad_ack"
	// KindUnsupported covers backend names outside the closed set.
	KindUnsupported ErrorKind = "unsupported"
)

// Error is a typed dispatch failure.
type Error struct {
	Kind    ErrorKind
	Backend string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %s", e.Backend, e.Kind)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SanitizeGateways appends the trailing path separator required before the
// destination number is concatenated.
func SanitizeGateways(gateways string) string {
	gateways = strings.TrimSpace(gateways)
	if gateways == "" {
		return gateways
	}
	if !strings.HasSuffix(gateways, "/") {
		gateways += "/"
	}
	return gateways
}
