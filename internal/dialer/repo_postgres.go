package dialer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dialer-engine/pkg/utils"
)

// PostgresStore implements every store contract on Postgres.
//
// Engine-side mutations are single-row read-modify-writes under FOR UPDATE;
// event claiming is one atomic UPDATE so claiming and processing are never
// separately racy steps.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const campaignColumns = `id, caller_id, caller_name, target_kind, aleg_gateway_id, target_gateway_id,
	maxretry, intervalretry, completion_maxretry, completion_intervalretry, callmaxduration, accountcode`

func (p *PostgresStore) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM dialer_campaign WHERE id = $1`, id)
	var c Campaign
	err := row.Scan(&c.ID, &c.CallerID, &c.CallerName, &c.TargetKind, &c.ALegGatewayID, &c.TargetGatewayID,
		&c.MaxRetry, &c.IntervalRetry, &c.CompletionMaxRetry, &c.CompletionIntervalRetry, &c.CallMaxDuration, &c.AccountCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) GetGateway(ctx context.Context, id string) (Gateway, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, gateways, gateway_codecs, gateway_timeouts, gateway_retries, originate_dial_string
		 FROM dialer_gateway WHERE id = $1`, id)
	var g Gateway
	err := row.Scan(&g.ID, &g.Gateways, &g.Codecs, &g.Timeouts, &g.Retries, &g.OriginateDialString)
	if errors.Is(err, sql.ErrNoRows) {
		return Gateway{}, ErrNotFound
	}
	if err != nil {
		return Gateway{}, fmt.Errorf("get gateway: %w", err)
	}
	return g, nil
}

const subscriberColumns = `id, campaign_id, status, count_attempt, completion_count_attempt, last_attempt`

func scanSubscriber(row interface{ Scan(...any) error }) (Subscriber, error) {
	var s Subscriber
	var last sql.NullTime
	if err := row.Scan(&s.ID, &s.CampaignID, &s.Status, &s.CountAttempt, &s.CompletionCountAttempt, &last); err != nil {
		return Subscriber{}, err
	}
	if last.Valid {
		s.LastAttempt = last.Time
	}
	return s, nil
}

func (p *PostgresStore) GetSubscriber(ctx context.Context, id string) (Subscriber, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM dialer_subscriber WHERE id = $1`, id)
	s, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	if err != nil {
		return Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) UpdateSubscriber(ctx context.Context, id string, fn func(*Subscriber)) error {
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+subscriberColumns+` FROM dialer_subscriber WHERE id = $1 FOR UPDATE`, id)
		s, err := scanSubscriber(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock subscriber: %w", err)
		}
		fn(&s)
		var last sql.NullTime
		if !s.LastAttempt.IsZero() {
			last = sql.NullTime{Time: s.LastAttempt, Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE dialer_subscriber
			 SET status = $2, count_attempt = $3, completion_count_attempt = $4, last_attempt = $5
			 WHERE id = $1`,
			id, s.Status, s.CountAttempt, s.CompletionCountAttempt, last)
		if err != nil {
			return fmt.Errorf("update subscriber: %w", err)
		}
		return nil
	})
}

const callRequestColumns = `id, request_uuid, campaign_id, subscriber_id, parent_id, attempt_number,
	kind, retry_state, aleg_gateway_id, phone_number, caller_id, time_limit, timeout,
	status, hangup_cause, scheduled_at, created_at, updated_at`

func scanCallRequest(row interface{ Scan(...any) error }) (CallRequest, error) {
	var cr CallRequest
	var parent, cause sql.NullString
	err := row.Scan(&cr.ID, &cr.RequestUUID, &cr.CampaignID, &cr.SubscriberID, &parent, &cr.AttemptNumber,
		&cr.Kind, &cr.RetryState, &cr.ALegGatewayID, &cr.PhoneNumber, &cr.CallerID, &cr.TimeLimit, &cr.Timeout,
		&cr.Status, &cause, &cr.ScheduledAt, &cr.CreatedAt, &cr.UpdatedAt)
	if err != nil {
		return CallRequest{}, err
	}
	cr.ParentID = parent.String
	cr.HangupCause = cause.String
	return cr, nil
}

func (p *PostgresStore) CreateCallRequest(ctx context.Context, cr *CallRequest) error {
	now := time.Now().UTC()
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = now
	}
	cr.UpdatedAt = now
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO dialer_callrequest (`+callRequestColumns+`)
		 VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13,$14,NULLIF($15,''),$16,$17,$18)`,
		cr.ID, cr.RequestUUID, cr.CampaignID, cr.SubscriberID, cr.ParentID, cr.AttemptNumber,
		cr.Kind, cr.RetryState, cr.ALegGatewayID, cr.PhoneNumber, cr.CallerID, cr.TimeLimit, cr.Timeout,
		cr.Status, cr.HangupCause, cr.ScheduledAt, cr.CreatedAt, cr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create call request: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetCallRequest(ctx context.Context, id string) (CallRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+callRequestColumns+` FROM dialer_callrequest WHERE id = $1`, id)
	cr, err := scanCallRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CallRequest{}, ErrNotFound
	}
	if err != nil {
		return CallRequest{}, fmt.Errorf("get call request: %w", err)
	}
	return cr, nil
}

func (p *PostgresStore) GetCallRequestByUUID(ctx context.Context, requestUUID string) (CallRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+callRequestColumns+` FROM dialer_callrequest WHERE request_uuid = $1`, requestUUID)
	cr, err := scanCallRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CallRequest{}, ErrNotFound
	}
	if err != nil {
		return CallRequest{}, fmt.Errorf("get call request by uuid: %w", err)
	}
	return cr, nil
}

func (p *PostgresStore) UpdateCallRequest(ctx context.Context, id string, fn func(*CallRequest)) error {
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+callRequestColumns+` FROM dialer_callrequest WHERE id = $1 FOR UPDATE`, id)
		cr, err := scanCallRequest(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock call request: %w", err)
		}
		fn(&cr)
		cr.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`UPDATE dialer_callrequest
			 SET request_uuid = $2, kind = $3, retry_state = $4, status = $5,
			     hangup_cause = NULLIF($6,''), scheduled_at = $7, updated_at = $8
			 WHERE id = $1`,
			id, cr.RequestUUID, cr.Kind, cr.RetryState, cr.Status, cr.HangupCause, cr.ScheduledAt, cr.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update call request: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) ClaimOverduePending(ctx context.Context, cutoff time.Time, limit int) ([]CallRequest, error) {
	rows, err := p.db.QueryContext(ctx,
		`UPDATE dialer_callrequest SET status = $1, updated_at = now()
		 WHERE id IN (
			SELECT id FROM dialer_callrequest
			WHERE status = $2 AND scheduled_at <= $3
			ORDER BY scheduled_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+callRequestColumns,
		CallRequestInProcess, CallRequestPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("claim overdue pending: %w", err)
	}
	defer rows.Close()

	out := make([]CallRequest, 0)
	for rows.Next() {
		cr, err := scanCallRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overdue pending: %w", err)
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

const callEventColumns = `id, event_name, body, job_uuid, call_uuid, callrequest_id, caller_id,
	phone_number, duration, billsec, hangup_cause, hangup_cause_q850, starting_date, status, created_at`

func (p *PostgresStore) InsertCallEvent(ctx context.Context, ev *CallEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Status == "" {
		ev.Status = EventUnconsumed
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO call_event (`+callEventColumns+`)
		 VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		ev.ID, ev.EventName, ev.Body, ev.JobUUID, ev.CallUUID, ev.CallRequestID, ev.CallerID,
		ev.PhoneNumber, ev.Duration, ev.BillSec, ev.HangupCause, ev.HangupCauseQ850,
		nullTime(ev.StartedAt), ev.Status, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert call event: %w", err)
	}
	return nil
}

func (p *PostgresStore) ClaimEvents(ctx context.Context, limit int) ([]CallEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`UPDATE call_event SET status = $1
		 WHERE id IN (
			SELECT id FROM call_event
			WHERE status = $2
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+callEventColumns,
		EventConsumed, EventUnconsumed, limit)
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	defer rows.Close()

	out := make([]CallEvent, 0)
	for rows.Next() {
		var ev CallEvent
		var crID sql.NullString
		var started sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.EventName, &ev.Body, &ev.JobUUID, &ev.CallUUID, &crID, &ev.CallerID,
			&ev.PhoneNumber, &ev.Duration, &ev.BillSec, &ev.HangupCause, &ev.HangupCauseQ850,
			&started, &ev.Status, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call event: %w", err)
		}
		ev.CallRequestID = crID.String
		if started.Valid {
			ev.StartedAt = started.Time
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
