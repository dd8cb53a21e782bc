package dialer

import (
	"context"
	"testing"
	"time"

	"dialer-engine/internal/cdr"
)

type processorFixture struct {
	store     *MemoryStore
	queue     *fakeQueue
	cdrs      *cdr.MemoryRepo
	processor *Processor
}

func newProcessorFixture(t *testing.T, campaign Campaign) *processorFixture {
	t.Helper()
	store := NewMemoryStore()
	queue := &fakeQueue{}
	cdrs := cdr.NewMemoryRepo()
	retry := newTestRetryEngine(store, queue)

	store.Campaigns[campaign.ID] = campaign

	p := NewEventProcessor(store, store, store, store, cdr.NewRecorder(cdrs), retry, 100, nil)
	return &processorFixture{store: store, queue: queue, cdrs: cdrs, processor: p}
}

func (f *processorFixture) seedAttempt(sub Subscriber, attempt CallRequest) {
	f.store.Subscribers[sub.ID] = sub
	f.store.CallRequests[attempt.ID] = attempt
}

func (f *processorFixture) insertEvent(t *testing.T, ev CallEvent) {
	t.Helper()
	if err := f.store.InsertCallEvent(context.Background(), &ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func TestProcessorSuccessEvent(t *testing.T) {
	f := newProcessorFixture(t, Campaign{ID: "camp-1", TargetGatewayID: "gw-b"})
	f.seedAttempt(
		Subscriber{ID: "sub-1", CampaignID: "camp-1", Status: SubscriberInProcess},
		CallRequest{
			ID: "cr-1", RequestUUID: "req-uuid-1", CampaignID: "camp-1",
			SubscriberID: "sub-1", AttemptNumber: 1, Kind: AttemptNormal,
			RetryState: RetryAllowed, ALegGatewayID: "gw-a",
			PhoneNumber: "15551230001", CallerID: "15559990000",
			Status: CallRequestInProcess,
		},
	)
	f.insertEvent(t, CallEvent{
		ID: "ev-1", EventName: "CHANNEL_HANGUP_COMPLETE",
		JobUUID: "req-uuid-1", CallUUID: "call-uuid-1",
		HangupCause: NormalClearing, Duration: 42, BillSec: 40,
		StartedAt: testClock(),
	})

	if err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.store.Subscribers["sub-1"].Status; got != SubscriberSent {
		t.Fatalf("subscriber status = %s, want sent", got)
	}
	cr := f.store.CallRequests["cr-1"]
	if cr.Status != CallRequestSuccess {
		t.Fatalf("call request status = %s, want success", cr.Status)
	}
	if cr.HangupCause != NormalClearing {
		t.Fatalf("hangup cause = %q, want %q", cr.HangupCause, NormalClearing)
	}

	if len(f.cdrs.Records) != 1 {
		t.Fatalf("cdr records = %d, want 1", len(f.cdrs.Records))
	}
	rec := f.cdrs.Records[0]
	if rec.CallRequestID != "cr-1" || rec.RequestUUID != "req-uuid-1" {
		t.Fatalf("cdr correlation wrong: %+v", rec)
	}
	if rec.Duration != 42 || rec.BillSec != 40 {
		t.Fatalf("cdr timing wrong: duration=%d billsec=%d", rec.Duration, rec.BillSec)
	}
	if rec.UsedGatewayID != "gw-a" {
		t.Fatalf("leg A used gateway = %q, want gw-a", rec.UsedGatewayID)
	}
}

func TestProcessorFailureEventSchedulesRetry(t *testing.T) {
	f := newProcessorFixture(t, Campaign{ID: "camp-1", MaxRetry: 1, IntervalRetry: 300})
	f.seedAttempt(
		Subscriber{ID: "sub-1", CampaignID: "camp-1", Status: SubscriberInProcess},
		CallRequest{
			ID: "cr-1", RequestUUID: "req-uuid-1", CampaignID: "camp-1",
			SubscriberID: "sub-1", AttemptNumber: 1, Kind: AttemptNormal,
			RetryState: RetryAllowed, PhoneNumber: "15551230001",
			Status: CallRequestInProcess,
		},
	)
	f.insertEvent(t, CallEvent{
		ID: "ev-1", EventName: "CHANNEL_HANGUP_COMPLETE",
		JobUUID: "req-uuid-1", HangupCause: "NO_ANSWER",
	})

	if err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.store.Subscribers["sub-1"].Status; got != SubscriberFail {
		t.Fatalf("subscriber status = %s, want fail", got)
	}
	if got := f.store.CallRequests["cr-1"].Status; got != CallRequestFailure {
		t.Fatalf("call request status = %s, want failure", got)
	}
	if got := f.store.Subscribers["sub-1"].CountAttempt; got != 1 {
		t.Fatalf("count_attempt = %d, want 1", got)
	}
	if got := len(f.queue.submissions()); got != 1 {
		t.Fatalf("submissions = %d, want 1", got)
	}
}

func TestProcessorBackgroundJobCauseFromBody(t *testing.T) {
	f := newProcessorFixture(t, Campaign{ID: "camp-1"})
	f.seedAttempt(
		Subscriber{ID: "sub-1", CampaignID: "camp-1", Status: SubscriberInProcess},
		CallRequest{
			ID: "cr-1", RequestUUID: "req-uuid-1", CampaignID: "camp-1",
			SubscriberID: "sub-1", Status: CallRequestInProcess, RetryState: RetryAllowed,
		},
	)
	// Command acknowledgment: the cause lives only in the raw body.
	f.insertEvent(t, CallEvent{
		ID: "ev-1", EventName: "BACKGROUND_JOB",
		JobUUID: "req-uuid-1", Body: "-ERR USER_BUSY",
	})

	if err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cr := f.store.CallRequests["cr-1"]
	if cr.Status != CallRequestFailure {
		t.Fatalf("call request status = %s, want failure", cr.Status)
	}
	if cr.HangupCause != "USER_BUSY" {
		t.Fatalf("hangup cause = %q, want USER_BUSY", cr.HangupCause)
	}
}

func TestProcessorResolvesByCallRequestID(t *testing.T) {
	f := newProcessorFixture(t, Campaign{ID: "camp-1"})
	f.seedAttempt(
		Subscriber{ID: "sub-1", CampaignID: "camp-1", Status: SubscriberInProcess},
		CallRequest{
			ID: "cr-1", RequestUUID: "req-uuid-1", CampaignID: "camp-1",
			SubscriberID: "sub-1", Status: CallRequestInProcess, RetryState: RetryAllowed,
			CallerID: "15559990000", PhoneNumber: "15551230001",
		},
	)
	// No JobUUID; the backend echoed our id instead. Caller/phone are
	// backfilled from the attempt into the record.
	f.insertEvent(t, CallEvent{
		ID: "ev-1", EventName: "CHANNEL_HANGUP_COMPLETE",
		CallRequestID: "cr-1", HangupCause: NormalClearing,
	})

	if err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.store.CallRequests["cr-1"].Status; got != CallRequestSuccess {
		t.Fatalf("call request status = %s, want success", got)
	}
	if len(f.cdrs.Records) != 1 {
		t.Fatalf("cdr records = %d, want 1", len(f.cdrs.Records))
	}
	rec := f.cdrs.Records[0]
	if rec.RequestUUID != "req-uuid-1" {
		t.Fatalf("cdr request uuid = %q, want attempt fallback req-uuid-1", rec.RequestUUID)
	}
	if rec.CallerID != "15559990000" || rec.PhoneNumber != "15551230001" {
		t.Fatalf("cdr backfill wrong: %+v", rec)
	}
}

func TestProcessorPoisonEventIsCountedAndConsumed(t *testing.T) {
	f := newProcessorFixture(t, Campaign{ID: "camp-1"})
	f.insertEvent(t, CallEvent{
		ID: "ev-orphan", EventName: "CHANNEL_HANGUP_COMPLETE",
		JobUUID: "no-such-uuid", HangupCause: "NO_ANSWER",
	})

	if err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.processor.PoisonEvents(); got != 1 {
		t.Fatalf("poison events = %d, want 1", got)
	}
	if got := f.store.CallEvents["ev-orphan"].Status; got != EventConsumed {
		t.Fatalf("event status = %s, want consumed", got)
	}

	// The lookup is never retried.
	if err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := f.processor.PoisonEvents(); got != 1 {
		t.Fatalf("poison events after second run = %d, want 1", got)
	}
}

func TestProcessorEventProcessedOnce(t *testing.T) {
	f := newProcessorFixture(t, Campaign{ID: "camp-1", MaxRetry: 5, IntervalRetry: 10})
	f.seedAttempt(
		Subscriber{ID: "sub-1", CampaignID: "camp-1", Status: SubscriberInProcess},
		CallRequest{
			ID: "cr-1", RequestUUID: "req-uuid-1", CampaignID: "camp-1",
			SubscriberID: "sub-1", Status: CallRequestInProcess, RetryState: RetryAllowed,
		},
	)
	f.insertEvent(t, CallEvent{
		ID: "ev-1", EventName: "CHANNEL_HANGUP_COMPLETE",
		JobUUID: "req-uuid-1", HangupCause: "NO_ANSWER",
	})

	for i := 0; i < 3; i++ {
		if err := f.processor.Run(context.Background()); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}

	// One event, one retry, one counter bump, no matter how often Run fires.
	if got := f.store.Subscribers["sub-1"].CountAttempt; got != 1 {
		t.Fatalf("count_attempt = %d, want 1", got)
	}
	if got := len(f.queue.submissions()); got != 1 {
		t.Fatalf("submissions = %d, want 1", got)
	}
}

func TestProcessorCompletedSubscriberKeepsStatus(t *testing.T) {
	f := newProcessorFixture(t, Campaign{ID: "camp-1", CompletionMaxRetry: 3, CompletionIntervalRetry: 60})
	f.seedAttempt(
		Subscriber{ID: "sub-1", CampaignID: "camp-1", Status: SubscriberCompleted},
		CallRequest{
			ID: "cr-1", RequestUUID: "req-uuid-1", CampaignID: "camp-1",
			SubscriberID: "sub-1", Status: CallRequestInProcess, RetryState: RetryAllowed,
		},
	)
	f.insertEvent(t, CallEvent{
		ID: "ev-1", EventName: "CHANNEL_HANGUP_COMPLETE",
		JobUUID: "req-uuid-1", HangupCause: NormalClearing,
	})

	if err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A completed subscriber is neither demoted to sent nor redialed.
	if got := f.store.Subscribers["sub-1"].Status; got != SubscriberCompleted {
		t.Fatalf("subscriber status = %s, want completed", got)
	}
	if got := len(f.queue.submissions()); got != 0 {
		t.Fatalf("submissions = %d, want 0", got)
	}
}

func TestProcessorBatchSurvivesMixedEvents(t *testing.T) {
	f := newProcessorFixture(t, Campaign{ID: "camp-1"})
	f.seedAttempt(
		Subscriber{ID: "sub-1", CampaignID: "camp-1", Status: SubscriberInProcess},
		CallRequest{
			ID: "cr-1", RequestUUID: "req-uuid-1", CampaignID: "camp-1",
			SubscriberID: "sub-1", Status: CallRequestInProcess, RetryState: RetryAllowed,
		},
	)
	f.insertEvent(t, CallEvent{
		ID: "ev-bad", EventName: "CHANNEL_HANGUP_COMPLETE",
		JobUUID: "unknown", HangupCause: "NO_ANSWER",
		CreatedAt: testClock(),
	})
	f.insertEvent(t, CallEvent{
		ID: "ev-good", EventName: "CHANNEL_HANGUP_COMPLETE",
		JobUUID: "req-uuid-1", HangupCause: NormalClearing,
		CreatedAt: testClock().Add(time.Second),
	})

	if err := f.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The poison event must not abort the batch.
	if got := f.store.CallRequests["cr-1"].Status; got != CallRequestSuccess {
		t.Fatalf("call request status = %s, want success", got)
	}
	if got := f.processor.PoisonEvents(); got != 1 {
		t.Fatalf("poison events = %d, want 1", got)
	}
}
