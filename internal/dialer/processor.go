package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"dialer-engine/internal/cdr"
)

// ErrResolution marks a poison event: it references an attempt or
// subscriber this engine cannot find. The event stays consumed and the
// lookup is never retried.
var ErrResolution = errors.New("dialer: event resolution failed")

// Processor consumes claimed call events, drives subscriber and
// call-request state, records CDRs and invokes the retry engine.
//
// Per-item failures are logged and counted; a malformed event never aborts
// the batch.
type Processor struct {
	events      CallEventStore
	requests    CallRequestStore
	subscribers SubscriberStore
	campaigns   CampaignStore
	recorder    *cdr.Recorder
	retry       *RetryEngine
	log         *slog.Logger

	// BatchSize bounds how many events one Run claims.
	BatchSize int

	subLocks keyedMutex

	poisonEvents atomic.Int64
}

// NewEventProcessor wires the event loop. batchSize <= 0 falls back to 1000.
func NewEventProcessor(events CallEventStore, requests CallRequestStore, subscribers SubscriberStore, campaigns CampaignStore, recorder *cdr.Recorder, retry *RetryEngine, batchSize int, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Processor{
		events:      events,
		requests:    requests,
		subscribers: subscribers,
		campaigns:   campaigns,
		recorder:    recorder,
		retry:       retry,
		log:         log,
		BatchSize:   batchSize,
	}
}

// PoisonEvents reports how many events were dropped for resolution errors.
func (p *Processor) PoisonEvents() int64 { return p.poisonEvents.Load() }

// Run claims one batch of unconsumed events and processes each in turn.
// It returns an error only when the claim itself fails.
func (p *Processor) Run(ctx context.Context) error {
	batch, err := p.events.ClaimEvents(ctx, p.BatchSize)
	if err != nil {
		return fmt.Errorf("processor: claim events: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	p.log.Debug("processing call events", "count", len(batch))

	for _, ev := range batch {
		if err := p.processEvent(ctx, ev); err != nil {
			if errors.Is(err, ErrResolution) {
				p.poisonEvents.Add(1)
			}
			p.log.Error("call event failed", "event_id", ev.ID, "event_name", ev.EventName, "err", err)
		}
	}
	return nil
}

func (p *Processor) processEvent(ctx context.Context, ev CallEvent) error {
	cause := p.normalizeCause(ev)

	attempt, err := p.resolveCallRequest(ctx, ev)
	if err != nil {
		return err
	}

	// Serialize per subscriber so two events for the same target cannot
	// interleave their read-modify-write cycles.
	unlock := p.subLocks.lock(attempt.SubscriberID)
	defer unlock()

	sub, err := p.subscribers.GetSubscriber(ctx, attempt.SubscriberID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: subscriber %s for event %s", ErrResolution, attempt.SubscriberID, ev.ID)
		}
		return fmt.Errorf("processor: get subscriber: %w", err)
	}

	failed := cause != NormalClearing

	if err := p.subscribers.UpdateSubscriber(ctx, sub.ID, func(s *Subscriber) {
		if !failed {
			if s.Status != SubscriberCompleted {
				s.Status = SubscriberSent
			}
		} else {
			s.Status = SubscriberFail
		}
	}); err != nil {
		return fmt.Errorf("processor: update subscriber: %w", err)
	}

	if err := p.requests.UpdateCallRequest(ctx, attempt.ID, func(cr *CallRequest) {
		if failed {
			cr.Status = CallRequestFailure
		} else {
			cr.Status = CallRequestSuccess
		}
		cr.HangupCause = cause
	}); err != nil {
		return fmt.Errorf("processor: update call request: %w", err)
	}
	attempt.HangupCause = cause

	if err := p.recordCDR(ctx, attempt, ev, cause); err != nil {
		// CDR writing is best-effort; the retry decision still runs.
		p.log.Error("cdr record failed", "callrequest_id", attempt.ID, "err", err)
	}

	// Reload so the retry decision sees the counters as persisted.
	sub, err = p.subscribers.GetSubscriber(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("processor: reload subscriber: %w", err)
	}

	if _, err := p.retry.Apply(ctx, attempt, sub, failed); err != nil {
		return fmt.Errorf("processor: retry decision: %w", err)
	}
	return nil
}

// normalizeCause derives the hangup cause. Background-job acknowledgments
// carry the cause only inside the raw body, as do events that omit the
// direct field.
func (p *Processor) normalizeCause(ev CallEvent) string {
	cause := ev.HangupCause
	if ev.EventName == backgroundJobEvent {
		cause = CauseFromBody(ev.Body)
	}
	if cause == "" {
		cause = CauseFromBody(ev.Body)
	}
	return cause
}

// resolveCallRequest finds the attempt the event refers to, by primary id
// when the backend echoed it, else by the external request identifier.
func (p *Processor) resolveCallRequest(ctx context.Context, ev CallEvent) (CallRequest, error) {
	var (
		attempt CallRequest
		err     error
	)
	if ev.CallRequestID == "" {
		attempt, err = p.requests.GetCallRequestByUUID(ctx, strings.TrimSpace(ev.JobUUID))
	} else {
		attempt, err = p.requests.GetCallRequest(ctx, ev.CallRequestID)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CallRequest{}, fmt.Errorf("%w: call request for event %s (job_uuid=%q callrequest_id=%q)",
				ErrResolution, ev.ID, ev.JobUUID, ev.CallRequestID)
		}
		return CallRequest{}, fmt.Errorf("processor: resolve call request: %w", err)
	}
	return attempt, nil
}

func (p *Processor) recordCDR(ctx context.Context, attempt CallRequest, ev CallEvent, cause string) error {
	campaign, err := p.campaigns.GetCampaign(ctx, attempt.CampaignID)
	if err != nil {
		return fmt.Errorf("processor: campaign for cdr: %w", err)
	}

	requestUUID := strings.TrimSpace(ev.JobUUID)
	if requestUUID == "" {
		requestUUID = attempt.RequestUUID
	}
	callID := ev.CallUUID
	if callID == "" {
		callID = ev.JobUUID
	}
	callerID := ev.CallerID
	if callerID == "" {
		callerID = attempt.CallerID
	}
	phone := ev.PhoneNumber
	if phone == "" {
		phone = attempt.PhoneNumber
	}

	return p.recorder.Record(ctx, cdr.Params{
		RequestUUID:     requestUUID,
		CallID:          callID,
		CallRequestID:   attempt.ID,
		CampaignID:      attempt.CampaignID,
		Leg:             cdr.LegA,
		ALegGatewayID:   attempt.ALegGatewayID,
		TargetGatewayID: campaign.TargetGatewayID,
		CallerID:        callerID,
		PhoneNumber:     phone,
		StartedAt:       ev.StartedAt,
		Duration:        ev.Duration,
		BillSec:         ev.BillSec,
		HangupCause:     cause,
		HangupCauseQ850: ev.HangupCauseQ850,
	})
}

// keyedMutex hands out one mutex per key. Entries are never evicted; the
// key space is bounded by the subscriber population of active campaigns.
type keyedMutex struct {
	mus sync.Map // string -> *sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	v, _ := k.mus.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
