package dialer

import "time"

// NormalClearing is the hangup cause of a call that ended by expected
// completion rather than failure.
const NormalClearing = "NORMAL_CLEARING"

// Campaign is the policy container for a batch of outbound calls.
//
// The engine reads campaigns, it never creates or mutates them; campaign
// administration lives in a separate surface.
type Campaign struct {
	ID         string `json:"id" db:"id"`
	CallerID   string `json:"caller_id" db:"caller_id"`
	CallerName string `json:"caller_name" db:"caller_name"`

	// TargetKind describes the application answering the call.
	TargetKind TargetKind `json:"target_kind" db:"target_kind"`

	// ALegGatewayID selects the gateway profile used to originate calls.
	ALegGatewayID string `json:"aleg_gateway_id" db:"aleg_gateway_id"`
	// TargetGatewayID is the gateway reaching the target application when
	// it differs from the A-leg gateway (interactive-voice targets).
	TargetGatewayID string `json:"target_gateway_id,omitempty" db:"target_gateway_id"`

	// MaxRetry / IntervalRetry bound redials after a failed call.
	MaxRetry      int `json:"maxretry" db:"maxretry"`
	IntervalRetry int `json:"intervalretry" db:"intervalretry"` // seconds

	// CompletionMaxRetry / CompletionIntervalRetry bound redials after a
	// connected call whose interaction did not finish.
	CompletionMaxRetry      int `json:"completion_maxretry" db:"completion_maxretry"`
	CompletionIntervalRetry int `json:"completion_intervalretry" db:"completion_intervalretry"` // seconds

	// CallMaxDuration caps the total call time, in seconds.
	CallMaxDuration int `json:"callmaxduration" db:"callmaxduration"`

	// AccountCode is appended to the extra dial string for billing when > 0.
	AccountCode int64 `json:"accountcode,omitempty" db:"accountcode"`
}

type TargetKind string

const (
	TargetVoiceApp TargetKind = "voiceapp"
	TargetSurvey   TargetKind = "survey"
)

// Gateway is a dial-out profile: where calls leave the platform and with
// which codec/timeout/retry parameters.
type Gateway struct {
	ID string `json:"id" db:"id"`

	// Gateways is the dial prefix list, e.g. "sofia/gateway/provider1".
	// A trailing "/" is appended at dispatch time if missing.
	Gateways string `json:"gateways" db:"gateways"`

	Codecs   string `json:"gateway_codecs,omitempty" db:"gateway_codecs"`
	Timeouts string `json:"gateway_timeouts,omitempty" db:"gateway_timeouts"`
	Retries  string `json:"gateway_retries,omitempty" db:"gateway_retries"`

	// OriginateDialString carries extra channel variables for the originate.
	OriginateDialString string `json:"originate_dial_string,omitempty" db:"originate_dial_string"`
}

// Subscriber is a campaign target phone number's running state across
// dial attempts. Subscriber rows are owned by the campaign subsystem; the
// engine mutates only the status, counters and last-attempt fields.
type Subscriber struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	Status SubscriberStatus `json:"status" db:"status"`

	// CountAttempt counts failure retries scheduled for this subscriber.
	// It never exceeds Campaign.MaxRetry.
	CountAttempt int `json:"count_attempt" db:"count_attempt"`
	// CompletionCountAttempt counts completion retries scheduled.
	// It never exceeds Campaign.CompletionMaxRetry.
	CompletionCountAttempt int `json:"completion_count_attempt" db:"completion_count_attempt"`

	LastAttempt time.Time `json:"last_attempt" db:"last_attempt"`
}

type SubscriberStatus string

const (
	SubscriberPending   SubscriberStatus = "pending"
	SubscriberInProcess SubscriberStatus = "in_process"
	SubscriberSent      SubscriberStatus = "sent"
	SubscriberFail      SubscriberStatus = "fail"
	SubscriberCompleted SubscriberStatus = "completed"
)

// CallRequest is one outbound dial attempt.
//
// Invariants:
// - AttemptNumber strictly increases along a parent->child retry chain.
// - A terminal request (success/failure) is immutable except for the
//   hangup-cause annotation.
type CallRequest struct {
	ID string `json:"id" db:"id"`

	// RequestUUID starts as a freshly generated attempt token and is
	// replaced by the backend's external identifier once dispatched.
	RequestUUID string `json:"request_uuid" db:"request_uuid"`

	CampaignID   string `json:"campaign_id" db:"campaign_id"`
	SubscriberID string `json:"subscriber_id" db:"subscriber_id"`

	// ParentID points at the attempt that spawned this retry, if any.
	ParentID string `json:"parent_id,omitempty" db:"parent_id"`

	AttemptNumber int         `json:"attempt_number" db:"attempt_number"`
	Kind          AttemptKind `json:"kind" db:"kind"`

	// RetryState gates the failure-retry path: once a failed attempt has
	// been considered for a retry it is marked done and never considered
	// again.
	RetryState RetryState `json:"retry_state" db:"retry_state"`

	ALegGatewayID string `json:"aleg_gateway_id" db:"aleg_gateway_id"`
	PhoneNumber   string `json:"phone_number" db:"phone_number"`
	CallerID      string `json:"caller_id" db:"caller_id"`
	TimeLimit     int    `json:"time_limit" db:"time_limit"` // seconds
	Timeout       int    `json:"timeout" db:"timeout"`       // seconds

	Status      CallRequestStatus `json:"status" db:"status"`
	HangupCause string            `json:"hangup_cause,omitempty" db:"hangup_cause"`

	// ScheduledAt is the earliest moment this request may be dispatched.
	ScheduledAt time.Time `json:"scheduled_at" db:"scheduled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AttemptKind string

const (
	// AttemptNormal is a first dial issued by the campaign runner.
	AttemptNormal AttemptKind = "normal"
	// AttemptFailureRetry is a redial after a call that did not clear
	// normally.
	AttemptFailureRetry AttemptKind = "failure_retry"
	// AttemptCompletionRetry is a redial after a connected call whose
	// interaction did not finish.
	AttemptCompletionRetry AttemptKind = "completion_retry"
)

type RetryState string

const (
	RetryAllowed RetryState = "retry_allowed"
	RetryDone    RetryState = "retry_done"
)

type CallRequestStatus string

const (
	CallRequestPending   CallRequestStatus = "pending"
	CallRequestInProcess CallRequestStatus = "in_process"
	CallRequestSuccess   CallRequestStatus = "success"
	CallRequestFailure   CallRequestStatus = "failure"
)

// CallEvent is an inbound, asynchronous notification from a telephony
// backend describing how one dial attempt ended.
//
// Lifecycle: inserted unconsumed by the backend's event channel; claimed by
// the processor which flips it to consumed before acting. Re-delivery of the
// same row is therefore a no-op.
type CallEvent struct {
	ID        string `json:"id" db:"id"`
	EventName string `json:"event_name" db:"event_name"`
	Body      string `json:"body" db:"body"`

	// JobUUID correlates the event with a dispatched attempt when the
	// backend does not echo our call-request id.
	JobUUID       string `json:"job_uuid" db:"job_uuid"`
	CallUUID      string `json:"call_uuid" db:"call_uuid"`
	CallRequestID string `json:"callrequest_id,omitempty" db:"callrequest_id"`

	CallerID    string `json:"caller_id,omitempty" db:"caller_id"`
	PhoneNumber string `json:"phone_number,omitempty" db:"phone_number"`

	Duration int `json:"duration" db:"duration"` // seconds
	BillSec  int `json:"billsec" db:"billsec"`

	HangupCause     string `json:"hangup_cause,omitempty" db:"hangup_cause"`
	HangupCauseQ850 string `json:"hangup_cause_q850,omitempty" db:"hangup_cause_q850"`

	StartedAt time.Time `json:"starting_date" db:"starting_date"`

	Status EventStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventStatus string

const (
	EventUnconsumed EventStatus = "unconsumed"
	EventConsumed   EventStatus = "consumed"
)

// backgroundJobEvent is the event name whose hangup cause is only present
// inside the raw body.
const backgroundJobEvent = "BACKGROUND_JOB"

// bodyCauseOffset is the byte offset of the embedded hangup cause inside a
// raw event body ("-ERR <cause>" for command acknowledgments).
const bodyCauseOffset = 5

// CauseFromBody extracts the hangup cause embedded in a raw event body.
func CauseFromBody(body string) string {
	if len(body) <= bodyCauseOffset {
		return ""
	}
	return body[bodyCauseOffset:]
}
