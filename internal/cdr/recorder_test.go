package cdr

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRecorder(repo Repository) *Recorder {
	r := NewRecorder(repo)
	r.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	r.newID = func() string { return "rec-1" }
	return r
}

func TestRecordLegA(t *testing.T) {
	repo := NewMemoryRepo()
	r := newTestRecorder(repo)

	err := r.Record(context.Background(), Params{
		RequestUUID:     "req-uuid-1",
		CallID:          "call-uuid-1",
		CallRequestID:   "cr-1",
		CampaignID:      "camp-1",
		Leg:             LegA,
		ALegGatewayID:   "gw-a",
		TargetGatewayID: "gw-b",
		CallerID:        "15559990000",
		PhoneNumber:     "15551230001",
		Duration:        42,
		BillSec:         40,
		HangupCause:     "NORMAL_CLEARING",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(repo.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(repo.Records))
	}
	rec := repo.Records[0]
	if rec.UsedGatewayID != "gw-a" {
		t.Fatalf("leg A used gateway = %q, want gw-a", rec.UsedGatewayID)
	}
	if rec.Disposition != "NORMAL_CLEARING" || rec.HangupCause != "NORMAL_CLEARING" {
		t.Fatalf("disposition not derived from cause: %+v", rec)
	}
	if rec.ID != "rec-1" {
		t.Fatalf("id = %q, want generated rec-1", rec.ID)
	}
	if !rec.CreatedAt.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("created at = %s", rec.CreatedAt)
	}
}

func TestRecordLegBPrefersTargetGateway(t *testing.T) {
	repo := NewMemoryRepo()
	r := newTestRecorder(repo)

	err := r.Record(context.Background(), Params{
		RequestUUID:     "req-uuid-1",
		CallRequestID:   "cr-1",
		Leg:             LegB,
		ALegGatewayID:   "gw-a",
		TargetGatewayID: "gw-b",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got := repo.Records[0].UsedGatewayID; got != "gw-b" {
		t.Fatalf("leg B used gateway = %q, want gw-b", got)
	}
}

func TestRecordLegBFallsBackToALegGateway(t *testing.T) {
	repo := NewMemoryRepo()
	r := newTestRecorder(repo)

	err := r.Record(context.Background(), Params{
		RequestUUID:   "req-uuid-1",
		CallRequestID: "cr-1",
		Leg:           LegB,
		ALegGatewayID: "gw-a",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got := repo.Records[0].UsedGatewayID; got != "gw-a" {
		t.Fatalf("leg B used gateway = %q, want gw-a", got)
	}
}

func TestRecordValidation(t *testing.T) {
	repo := NewMemoryRepo()
	r := newTestRecorder(repo)
	ctx := context.Background()

	cases := []struct {
		name string
		p    Params
	}{
		{"missing correlation", Params{CallRequestID: "cr-1", Leg: LegA}},
		{"missing call request", Params{RequestUUID: "req-uuid-1", Leg: LegA}},
		{"bad leg", Params{RequestUUID: "req-uuid-1", CallRequestID: "cr-1", Leg: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := r.Record(ctx, tc.p); !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("Record err = %v, want ErrInvalidRecord", err)
			}
		})
	}
	if len(repo.Records) != 0 {
		t.Fatalf("invalid params must not append, got %d records", len(repo.Records))
	}
}
