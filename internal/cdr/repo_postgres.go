package cdr

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepo appends call-detail records. The table is INSERT-only; no
// update or delete statements exist anywhere in this package.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, rec VoIPCall) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO voip_call (
			id, request_uuid, callid, callrequest_id, campaign_id, leg_type, used_gateway_id,
			callerid, phone_number, starting_date, duration, billsec,
			disposition, hangup_cause, hangup_cause_q850, created_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		rec.ID, rec.RequestUUID, rec.CallID, rec.CallRequestID, rec.CampaignID, rec.Leg, rec.UsedGatewayID,
		rec.CallerID, rec.PhoneNumber, nullTime(rec.StartedAt), rec.Duration, rec.BillSec,
		rec.Disposition, rec.HangupCause, rec.HangupCauseQ850, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append voip call: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
