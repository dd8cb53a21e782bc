// Package jobs provides the delayed-dispatch primitive: submit a dispatch
// job now, execute it no earlier than a configured delay. Execution is
// at-least-once and best-effort-timed, never hard real-time.
package jobs

import (
	"context"
	"time"
)

// DispatchJob instructs a worker to dispatch one call request.
type DispatchJob struct {
	CallRequestID string    `json:"callrequest_id"`
	CampaignID    string    `json:"campaign_id"`
	NotBefore     time.Time `json:"not_before"`
}

// Handler executes one dispatch job. Errors are logged by the worker;
// there is no redelivery beyond what the queue implementation provides.
type Handler func(ctx context.Context, job DispatchJob) error

// Queue accepts dispatch jobs for delayed execution.
type Queue interface {
	Submit(ctx context.Context, job DispatchJob, delay time.Duration) error
}
