package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dialer-engine/internal/jobs"

	"github.com/google/uuid"
)

// Action is the outcome of the retry decision pipeline.
type Action int

const (
	NoAction Action = iota
	ScheduleFailureRetry
	ScheduleCompletionRetry
)

func (a Action) String() string {
	switch a {
	case ScheduleFailureRetry:
		return "failure_retry"
	case ScheduleCompletionRetry:
		return "completion_retry"
	default:
		return "none"
	}
}

// Decision is a tagged retry outcome with the dispatch delay to honor.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Decide runs the two-step retry pipeline for a terminal attempt.
//
// Step one, failure retry: only failed attempts that still allow a retry are
// considered, and only while fewer than MaxRetry failure retries have been
// scheduled for the subscriber. An ineligible failed attempt falls through
// to step two: a subscriber who exhausted failure retries is still
// considered for completion.
//
// Step two, completion retry: a subscriber who is not completed may be
// redialed up to CompletionMaxRetry times so the interaction can finish,
// including after a normally cleared call.
//
// A zero ceiling disables the corresponding path.
func Decide(c Campaign, s Subscriber, attempt CallRequest, failed bool) Decision {
	if failed && attempt.RetryState == RetryAllowed {
		if c.MaxRetry > 0 && s.CountAttempt < c.MaxRetry {
			return Decision{
				Action: ScheduleFailureRetry,
				Delay:  time.Duration(c.IntervalRetry) * time.Second,
			}
		}
	}

	if s.Status == SubscriberCompleted {
		return Decision{Action: NoAction}
	}
	if c.CompletionMaxRetry > 0 && s.CompletionCountAttempt < c.CompletionMaxRetry {
		return Decision{
			Action: ScheduleCompletionRetry,
			Delay:  time.Duration(c.CompletionIntervalRetry) * time.Second,
		}
	}
	return Decision{Action: NoAction}
}

// RetryEngine applies retry decisions: it bumps the subscriber counters,
// persists the child call request as pending and submits its delayed
// dispatch.
type RetryEngine struct {
	campaigns   CampaignStore
	subscribers SubscriberStore
	requests    CallRequestStore
	queue       jobs.Queue
	log         *slog.Logger

	clock   func() time.Time
	newUUID func() string
}

func NewRetryEngine(campaigns CampaignStore, subscribers SubscriberStore, requests CallRequestStore, queue jobs.Queue, log *slog.Logger) *RetryEngine {
	if log == nil {
		log = slog.Default()
	}
	return &RetryEngine{
		campaigns:   campaigns,
		subscribers: subscribers,
		requests:    requests,
		queue:       queue,
		log:         log,
		clock:       time.Now,
		newUUID:     uuid.NewString,
	}
}

// Apply decides and executes the retry outcome for a terminal attempt.
// failed reports whether the attempt's hangup cause was not normal clearing.
func (e *RetryEngine) Apply(ctx context.Context, attempt CallRequest, sub Subscriber, failed bool) (Decision, error) {
	campaign, err := e.campaigns.GetCampaign(ctx, attempt.CampaignID)
	if err != nil {
		return Decision{}, fmt.Errorf("retry: campaign %s: %w", attempt.CampaignID, err)
	}

	if failed && attempt.RetryState == RetryAllowed {
		// Mark before scheduling so a re-processed attempt can never
		// spawn a second failure retry.
		if err := e.requests.UpdateCallRequest(ctx, attempt.ID, func(cr *CallRequest) {
			cr.RetryState = RetryDone
		}); err != nil {
			return Decision{}, fmt.Errorf("retry: mark retry done: %w", err)
		}
	}

	decision := Decide(campaign, sub, attempt, failed)
	switch decision.Action {
	case ScheduleFailureRetry:
		if err := e.subscribers.UpdateSubscriber(ctx, sub.ID, func(s *Subscriber) {
			s.CountAttempt++
		}); err != nil {
			return Decision{}, fmt.Errorf("retry: bump count_attempt: %w", err)
		}
		if err := e.scheduleChild(ctx, attempt, AttemptFailureRetry, decision.Delay); err != nil {
			return Decision{}, err
		}
		e.log.Info("failure retry scheduled",
			"callrequest_id", attempt.ID, "subscriber_id", sub.ID,
			"delay", decision.Delay, "maxretry", campaign.MaxRetry)

	case ScheduleCompletionRetry:
		if err := e.subscribers.UpdateSubscriber(ctx, sub.ID, func(s *Subscriber) {
			s.CompletionCountAttempt++
		}); err != nil {
			return Decision{}, fmt.Errorf("retry: bump completion_count_attempt: %w", err)
		}
		if err := e.scheduleChild(ctx, attempt, AttemptCompletionRetry, decision.Delay); err != nil {
			return Decision{}, err
		}
		e.log.Info("completion retry scheduled",
			"callrequest_id", attempt.ID, "subscriber_id", sub.ID,
			"delay", decision.Delay, "completion_maxretry", campaign.CompletionMaxRetry)

	case NoAction:
		e.log.Debug("no retry", "callrequest_id", attempt.ID, "subscriber_id", sub.ID)
	}
	return decision, nil
}

// scheduleChild persists the child attempt as pending and submits its
// delayed dispatch. The child copies every dialing parameter of its parent
// and carries a fresh attempt token until a backend assigns the real one.
func (e *RetryEngine) scheduleChild(ctx context.Context, parent CallRequest, kind AttemptKind, delay time.Duration) error {
	now := e.clock().UTC()
	child := CallRequest{
		ID:            e.newUUID(),
		RequestUUID:   e.newUUID(),
		CampaignID:    parent.CampaignID,
		SubscriberID:  parent.SubscriberID,
		ParentID:      parent.ID,
		AttemptNumber: parent.AttemptNumber + 1,
		Kind:          kind,
		RetryState:    RetryAllowed,
		ALegGatewayID: parent.ALegGatewayID,
		PhoneNumber:   parent.PhoneNumber,
		CallerID:      parent.CallerID,
		TimeLimit:     parent.TimeLimit,
		Timeout:       parent.Timeout,
		Status:        CallRequestPending,
		ScheduledAt:   now.Add(delay),
		CreatedAt:     now,
	}
	if err := e.requests.CreateCallRequest(ctx, &child); err != nil {
		return fmt.Errorf("retry: create child request: %w", err)
	}
	job := jobs.DispatchJob{
		CallRequestID: child.ID,
		CampaignID:    child.CampaignID,
		NotBefore:     child.ScheduledAt,
	}
	if err := e.queue.Submit(ctx, job, delay); err != nil {
		return fmt.Errorf("retry: submit dispatch job: %w", err)
	}
	return nil
}
