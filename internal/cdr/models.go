package cdr

import "time"

// VoIPCall is an immutable call-detail record for one completed leg.
//
// Invariants:
// - Records are never updated or deleted.
// - One record per processed call event.
type VoIPCall struct {
	ID string `json:"id" db:"id"`

	// RequestUUID correlates the record with the dispatched attempt.
	RequestUUID   string `json:"request_uuid" db:"request_uuid"`
	CallID        string `json:"callid" db:"callid"`
	CallRequestID string `json:"callrequest_id" db:"callrequest_id"`
	CampaignID    string `json:"campaign_id" db:"campaign_id"`

	Leg Leg `json:"leg_type" db:"leg_type"`

	// UsedGatewayID is the gateway the leg actually traversed. Leg B may
	// use the target application's gateway instead of the A-leg one.
	UsedGatewayID string `json:"used_gateway_id" db:"used_gateway_id"`

	CallerID    string `json:"callerid" db:"callerid"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	StartedAt time.Time `json:"starting_date" db:"starting_date"`
	Duration  int       `json:"duration" db:"duration"` // seconds
	BillSec   int       `json:"billsec" db:"billsec"`

	Disposition     string `json:"disposition" db:"disposition"`
	HangupCause     string `json:"hangup_cause" db:"hangup_cause"`
	HangupCauseQ850 string `json:"hangup_cause_q850,omitempty" db:"hangup_cause_q850"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Leg distinguishes the originating call from the bridged destination.
type Leg int

const (
	LegA Leg = 1
	LegB Leg = 2
)
