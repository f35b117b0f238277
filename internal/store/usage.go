package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spigotd/spigot/internal/model"
)

// InsertUsageRecord writes a usage record and folds it into the daily
// aggregate in one transaction. If a record for the same request ID already
// exists, nothing is written and ErrDuplicate is returned; the caller can
// fetch the committed record with GetUsageRecordByRequestID. The aggregate
// upsert runs inside the same transaction so concurrent finalizes for
// different request IDs touching the same (user, model, day) row remain
// atomic.
func (s *Store) InsertUsageRecord(ctx context.Context, rec *model.UsageRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing int
	err = tx.GetContext(ctx, &existing,
		"SELECT COUNT(*) FROM usage_records WHERE request_id = ?", rec.RequestID)
	if err != nil {
		return fmt.Errorf("check usage record: %w", err)
	}
	if existing > 0 {
		return ErrDuplicate
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens

	const q = `INSERT INTO usage_records
		(request_id, user_id, model, prompt_tokens, completion_tokens, total_tokens,
		 estimated, finish_reason, timestamp)
		VALUES
		(:request_id, :user_id, :model, :prompt_tokens, :completion_tokens, :total_tokens,
		 :estimated, :finish_reason, :timestamp)`

	result, err := tx.NamedExecContext(ctx, q, rec)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get usage record id: %w", err)
	}
	rec.ID = id

	day := rec.Timestamp.UTC().Format("2006-01-02")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_daily (user_id, model, day, tokens, requests)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(user_id, model, day)
		 DO UPDATE SET tokens = tokens + excluded.tokens, requests = requests + 1`,
		rec.UserID, rec.Model, day, rec.TotalTokens); err != nil {
		return fmt.Errorf("upsert usage aggregate: %w", err)
	}

	return tx.Commit()
}

// GetUsageRecordByRequestID returns the committed usage record for a request.
func (s *Store) GetUsageRecordByRequestID(ctx context.Context, requestID string) (*model.UsageRecord, error) {
	var rec model.UsageRecord
	if err := s.db.GetContext(ctx, &rec,
		"SELECT * FROM usage_records WHERE request_id = ?", requestID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get usage record: %w", err)
	}
	return &rec, nil
}

// usageTotals is the scan target for range aggregate queries.
type usageTotals struct {
	Tokens   sql.NullInt64 `db:"tokens"`
	Requests sql.NullInt64 `db:"requests"`
}

// UsageTotals returns total tokens and requests in [from, to]. Pass userID 0
// for the system-wide totals.
func (s *Store) UsageTotals(ctx context.Context, userID int64, from, to time.Time) (tokens, requests int64, err error) {
	q := `SELECT SUM(total_tokens) AS tokens, COUNT(*) AS requests
		FROM usage_records WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{from.UTC(), to.UTC()}
	if userID != 0 {
		q += " AND user_id = ?"
		args = append(args, userID)
	}

	var t usageTotals
	if err := s.db.GetContext(ctx, &t, q, args...); err != nil {
		return 0, 0, fmt.Errorf("usage totals: %w", err)
	}
	return t.Tokens.Int64, t.Requests.Int64, nil
}

// UsageDaily returns the per-day series in [from, to], read from the
// usage_daily aggregate that InsertUsageRecord maintains. Day buckets are
// YYYY-MM-DD strings, so the range bounds compare as dates. Pass userID 0
// for the system-wide series.
func (s *Store) UsageDaily(ctx context.Context, userID int64, from, to time.Time) ([]model.DailyUsage, error) {
	q := `SELECT day, SUM(tokens) AS tokens, SUM(requests) AS requests
		FROM usage_daily WHERE day >= ? AND day <= ?`
	args := []interface{}{
		from.UTC().Format("2006-01-02"),
		to.UTC().Format("2006-01-02"),
	}
	if userID != 0 {
		q += " AND user_id = ?"
		args = append(args, userID)
	}
	q += " GROUP BY day ORDER BY day"

	var daily []model.DailyUsage
	if err := s.db.SelectContext(ctx, &daily, q, args...); err != nil {
		return nil, fmt.Errorf("usage daily: %w", err)
	}
	return daily, nil
}

// UsageByModel returns the per-model breakdown in [from, to]. Pass userID 0
// for the system-wide breakdown.
func (s *Store) UsageByModel(ctx context.Context, userID int64, from, to time.Time) ([]model.ModelUsage, error) {
	q := `SELECT model, SUM(total_tokens) AS tokens, COUNT(*) AS requests
		FROM usage_records WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{from.UTC(), to.UTC()}
	if userID != 0 {
		q += " AND user_id = ?"
		args = append(args, userID)
	}
	q += " GROUP BY model ORDER BY tokens DESC"

	var models []model.ModelUsage
	if err := s.db.SelectContext(ctx, &models, q, args...); err != nil {
		return nil, fmt.Errorf("usage by model: %w", err)
	}
	for i := range models {
		models[i].PeriodStart = from
		models[i].PeriodEnd = to
	}
	return models, nil
}

// ListUsageRecords returns the raw usage log for a user, newest first, with
// pagination. Pass userID 0 for the system-wide log.
func (s *Store) ListUsageRecords(ctx context.Context, userID int64, limit, offset int) ([]model.UsageRecord, error) {
	q := "SELECT * FROM usage_records"
	args := []interface{}{}
	if userID != 0 {
		q += " WHERE user_id = ?"
		args = append(args, userID)
	}
	q += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var records []model.UsageRecord
	if err := s.db.SelectContext(ctx, &records, q, args...); err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	return records, nil
}
