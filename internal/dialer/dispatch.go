package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"dialer-engine/internal/gateway"
	"dialer-engine/internal/jobs"
)

// ErrCampaignNotFound aborts a dispatch before any backend is contacted.
var ErrCampaignNotFound = errors.New("dialer: campaign not found")

// DialerOptions tunes dispatch behavior. Callbacks are optional; nil means
// the corresponding step is skipped.
type DialerOptions struct {
	// DebugPhoneNumber overrides every dialed destination when set.
	DebugPhoneNumber string

	AnswerURL       string
	SurveyAnswerURL string
	HangupURL       string

	// SignURL attaches an authentication token to a callback URL.
	SignURL func(base, callRequestID string) string

	// NormalizeNumber applies the number-prefix policy of the gateway.
	NormalizeNumber func(number, gatewayID string) string
}

// Dialer sends pending call requests to the configured telephony backend
// and keeps the attempt and subscriber rows in step with the outcome.
type Dialer struct {
	campaigns   CampaignStore
	subscribers SubscriberStore
	requests    CallRequestStore
	backend     gateway.Dispatcher
	retry       *RetryEngine
	queue       jobs.Queue
	opts        DialerOptions
	log         *slog.Logger
	clock       func() time.Time
}

func NewDialer(campaigns CampaignStore, subscribers SubscriberStore, requests CallRequestStore, backend gateway.Dispatcher, retry *RetryEngine, queue jobs.Queue, opts DialerOptions, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{
		campaigns:   campaigns,
		subscribers: subscribers,
		requests:    requests,
		backend:     backend,
		retry:       retry,
		queue:       queue,
		opts:        opts,
		log:         log,
		clock:       time.Now,
	}
}

// earlyDeliverySlack is how far ahead of its NotBefore a job may arrive
// before it is sent back to the queue instead of dispatched.
const earlyDeliverySlack = time.Second

// HandleJob adapts Dispatch to the delayed-queue handler contract.
// A job delivered ahead of its NotBefore is resubmitted for the remainder
// of its delay rather than dispatched early.
func (d *Dialer) HandleJob(ctx context.Context, job jobs.DispatchJob) error {
	if d == nil {
		return errors.New("dialer: not initialized")
	}
	if wait := job.NotBefore.Sub(d.clock().UTC()); wait > earlyDeliverySlack {
		return d.queue.Submit(ctx, job, wait)
	}
	return d.Dispatch(ctx, job.CallRequestID)
}

// Dispatch places the outbound call for one call request.
//
// On a dispatch failure the attempt is marked failure, the subscriber is
// marked fail, and the attempt re-enters the retry pipeline as if a failure
// event had been processed.
func (d *Dialer) Dispatch(ctx context.Context, callRequestID string) error {
	attempt, err := d.requests.GetCallRequest(ctx, callRequestID)
	if err != nil {
		return fmt.Errorf("dispatch: call request %s: %w", callRequestID, err)
	}
	if err := d.requests.UpdateCallRequest(ctx, attempt.ID, func(cr *CallRequest) {
		cr.Status = CallRequestInProcess
	}); err != nil {
		return fmt.Errorf("dispatch: mark in process: %w", err)
	}

	campaign, err := d.campaigns.GetCampaign(ctx, attempt.CampaignID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			d.log.Error("campaign not found", "campaign_id", attempt.CampaignID, "callrequest_id", attempt.ID)
			return fmt.Errorf("%w: %s", ErrCampaignNotFound, attempt.CampaignID)
		}
		return fmt.Errorf("dispatch: campaign %s: %w", attempt.CampaignID, err)
	}

	gw, err := d.campaigns.GetGateway(ctx, attempt.ALegGatewayID)
	if err != nil {
		return fmt.Errorf("dispatch: gateway %s: %w", attempt.ALegGatewayID, err)
	}

	number := attempt.PhoneNumber
	if d.opts.NormalizeNumber != nil {
		number = d.opts.NormalizeNumber(number, gw.ID)
	}
	if d.opts.DebugPhoneNumber != "" {
		number = d.opts.DebugPhoneNumber
	}

	answerURL := d.opts.AnswerURL
	if campaign.TargetKind == TargetSurvey {
		answerURL = d.opts.SurveyAnswerURL
	}
	hangupURL := d.opts.HangupURL
	if d.opts.SignURL != nil {
		answerURL = d.opts.SignURL(answerURL, attempt.ID)
		hangupURL = d.opts.SignURL(hangupURL, attempt.ID)
	}

	extra := gw.OriginateDialString
	if campaign.AccountCode > 0 {
		extra += ",accountcode=" + strconv.FormatInt(campaign.AccountCode, 10)
	}

	req := gateway.DialRequest{
		CallRequestID:   attempt.ID,
		CallerID:        attempt.CallerID,
		CallerName:      campaign.CallerName,
		PhoneNumber:     number,
		GatewayID:       gw.ID,
		Gateways:        gateway.SanitizeGateways(gw.Gateways),
		GatewayCodecs:   gw.Codecs,
		GatewayTimeouts: gw.Timeouts,
		GatewayRetries:  gw.Retries,
		ExtraDialString: extra,
		AnswerURL:       answerURL,
		HangupURL:       hangupURL,
		TimeLimit:       campaign.CallMaxDuration,
	}

	externalID, err := d.backend.Dispatch(ctx, req)
	if err != nil {
		return d.failDispatch(ctx, attempt, err)
	}
	d.log.Info("call dispatched",
		"backend", d.backend.Name(),
		"callrequest_id", attempt.ID,
		"request_uuid", externalID,
		"phone_number", number)

	if attempt.SubscriberID != "" {
		if err := d.subscribers.UpdateSubscriber(ctx, attempt.SubscriberID, func(s *Subscriber) {
			s.LastAttempt = d.clock().UTC()
		}); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("dispatch: update subscriber: %w", err)
		}
	}

	if err := d.requests.UpdateCallRequest(ctx, attempt.ID, func(cr *CallRequest) {
		cr.RequestUUID = externalID
	}); err != nil {
		return fmt.Errorf("dispatch: store request uuid: %w", err)
	}
	return nil
}

// failDispatch applies the transient-dispatch-failure path: attempt goes
// failure, subscriber goes fail, and the retry pipeline decides whether a
// later redial is scheduled.
func (d *Dialer) failDispatch(ctx context.Context, attempt CallRequest, cause error) error {
	d.log.Error("dispatch failed",
		"backend", d.backend.Name(),
		"callrequest_id", attempt.ID,
		"err", cause)

	if err := d.requests.UpdateCallRequest(ctx, attempt.ID, func(cr *CallRequest) {
		cr.Status = CallRequestFailure
	}); err != nil {
		return fmt.Errorf("dispatch: mark failure: %w", err)
	}
	attempt.Status = CallRequestFailure

	if attempt.SubscriberID == "" {
		return fmt.Errorf("dispatch: %w", cause)
	}
	if err := d.subscribers.UpdateSubscriber(ctx, attempt.SubscriberID, func(s *Subscriber) {
		s.Status = SubscriberFail
	}); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("dispatch: mark subscriber fail: %w", err)
	}

	sub, err := d.subscribers.GetSubscriber(ctx, attempt.SubscriberID)
	if err == nil {
		if _, rerr := d.retry.Apply(ctx, attempt, sub, true); rerr != nil {
			d.log.Error("retry decision after dispatch failure failed", "callrequest_id", attempt.ID, "err", rerr)
		}
	}
	return fmt.Errorf("dispatch: %w", cause)
}

// RecoverOverdue resubmits pending requests whose delayed dispatch never
// fired, e.g. after a process restart with the in-process timer queue.
// Requests are claimed atomically, so a late-firing job and the recovery
// path cannot both dispatch the same attempt.
func (d *Dialer) RecoverOverdue(ctx context.Context, grace time.Duration, limit int) (int, error) {
	cutoff := d.clock().UTC().Add(-grace)
	overdue, err := d.requests.ClaimOverduePending(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("recover: claim overdue: %w", err)
	}
	for _, cr := range overdue {
		job := jobs.DispatchJob{CallRequestID: cr.ID, CampaignID: cr.CampaignID, NotBefore: cr.ScheduledAt}
		if err := d.queue.Submit(ctx, job, 0); err != nil {
			d.log.Error("overdue resubmit failed", "callrequest_id", cr.ID, "err", err)
		}
	}
	return len(overdue), nil
}
