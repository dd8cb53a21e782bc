package cdr

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call-detail records.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, rec VoIPCall) error
}

var ErrInvalidRecord = errors.New("cdr: invalid record")

// Params carries the fields of one completed leg. The caller fills in
// request data; the recorder only picks the used gateway and stamps the row.
type Params struct {
	RequestUUID   string
	CallID        string
	CallRequestID string
	CampaignID    string

	Leg Leg

	// ALegGatewayID is the originating gateway. TargetGatewayID, when set,
	// is the gateway of the interactive-voice target; leg B prefers it.
	ALegGatewayID   string
	TargetGatewayID string

	CallerID    string
	PhoneNumber string

	StartedAt time.Time
	Duration  int
	BillSec   int

	HangupCause     string
	HangupCauseQ850 string
}

// Recorder converts completed attempts into immutable leg records.
// Pure append: no retries, no updates.
type Recorder struct {
	repo  Repository
	clock func() time.Time
	newID func() string
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, clock: time.Now, newID: uuid.NewString}
}

func (r *Recorder) Record(ctx context.Context, p Params) error {
	if r.repo == nil {
		return errors.New("cdr: repository not configured")
	}
	if p.CallRequestID == "" || p.RequestUUID == "" {
		return ErrInvalidRecord
	}
	if p.Leg != LegA && p.Leg != LegB {
		return ErrInvalidRecord
	}

	used := p.ALegGatewayID
	if p.Leg == LegB && p.TargetGatewayID != "" {
		used = p.TargetGatewayID
	}

	rec := VoIPCall{
		ID:              r.newID(),
		RequestUUID:     p.RequestUUID,
		CallID:          p.CallID,
		CallRequestID:   p.CallRequestID,
		CampaignID:      p.CampaignID,
		Leg:             p.Leg,
		UsedGatewayID:   used,
		CallerID:        p.CallerID,
		PhoneNumber:     p.PhoneNumber,
		StartedAt:       p.StartedAt,
		Duration:        p.Duration,
		BillSec:         p.BillSec,
		Disposition:     p.HangupCause,
		HangupCause:     p.HangupCause,
		HangupCauseQ850: p.HangupCauseQ850,
		CreatedAt:       r.clock().UTC(),
	}
	return r.repo.Append(ctx, rec)
}
