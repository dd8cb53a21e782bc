package dialer

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by every store when the referenced row is absent.
var ErrNotFound = errors.New("dialer: not found")

// CampaignStore reads campaign policy and gateway profiles.
// The engine never writes either.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	GetGateway(ctx context.Context, id string) (Gateway, error)
}

// SubscriberStore mutates the engine-owned subscriber fields
// (status, retry counters, last attempt) through single-row updates.
type SubscriberStore interface {
	GetSubscriber(ctx context.Context, id string) (Subscriber, error)
	UpdateSubscriber(ctx context.Context, id string, fn func(*Subscriber)) error
}

// CallRequestStore owns call-request rows and their status transitions.
type CallRequestStore interface {
	CreateCallRequest(ctx context.Context, cr *CallRequest) error
	GetCallRequest(ctx context.Context, id string) (CallRequest, error)
	GetCallRequestByUUID(ctx context.Context, requestUUID string) (CallRequest, error)
	UpdateCallRequest(ctx context.Context, id string, fn func(*CallRequest)) error

	// ClaimOverduePending atomically flips to in_process and returns up to
	// limit pending requests whose scheduled time passed before cutoff.
	// Used for crash recovery of delayed dispatch jobs that never fired.
	ClaimOverduePending(ctx context.Context, cutoff time.Time, limit int) ([]CallRequest, error)
}

// CallEventStore holds the backend event channel's rows.
type CallEventStore interface {
	InsertCallEvent(ctx context.Context, ev *CallEvent) error

	// ClaimEvents atomically marks up to limit unconsumed events as
	// consumed, oldest first, and returns them. Claiming before processing
	// is the idempotency barrier against re-delivery.
	ClaimEvents(ctx context.Context, limit int) ([]CallEvent, error)
}
