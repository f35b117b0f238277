package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/store"
)

// ErrAlreadyFinalized is returned when a request ID has already been
// committed. The previously committed record accompanies the error so
// retried finalizes observe the original totals.
var ErrAlreadyFinalized = errors.New("usage already finalized")

// Ledger accounts per-user, per-model token consumption. Every completion is
// finalized exactly once, keyed by request ID, whether it finished, was
// cancelled mid-stream, or failed upstream.
type Ledger struct {
	store  *store.Store
	logger *slog.Logger
}

// NewLedger creates a usage ledger over the given store.
func NewLedger(st *store.Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: st, logger: logger}
}

// Finalize commits a stream's accounting. It is idempotent per request ID: a
// second call for the same ID performs no writes and returns the committed
// record alongside ErrAlreadyFinalized, so retries cannot double-count.
func (l *Ledger) Finalize(ctx context.Context, rec *model.UsageRecord) (*model.UsageRecord, error) {
	if rec.RequestID == "" {
		return nil, errors.New("finalize: missing request id")
	}

	err := l.store.InsertUsageRecord(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return nil, fmt.Errorf("finalize usage: %w", err)
	}

	committed, getErr := l.store.GetUsageRecordByRequestID(ctx, rec.RequestID)
	if getErr != nil {
		return nil, fmt.Errorf("load committed usage: %w", getErr)
	}
	return committed, ErrAlreadyFinalized
}

// Overview returns total tokens/requests plus the daily series for a user in
// [from, to]. Pass userID 0 for the system-wide overview.
func (l *Ledger) Overview(ctx context.Context, userID int64, from, to time.Time) (*model.UsageOverview, error) {
	tokens, requests, err := l.store.UsageTotals(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	daily, err := l.store.UsageDaily(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	if daily == nil {
		daily = []model.DailyUsage{}
	}
	return &model.UsageOverview{
		TotalTokens:   tokens,
		TotalRequests: requests,
		PeriodStart:   from,
		PeriodEnd:     to,
		Daily:         daily,
	}, nil
}

// ModelBreakdown returns the per-model totals for a user in [from, to].
// Pass userID 0 for the system-wide breakdown.
func (l *Ledger) ModelBreakdown(ctx context.Context, userID int64, from, to time.Time) ([]model.ModelUsage, error) {
	models, err := l.store.UsageByModel(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	if models == nil {
		models = []model.ModelUsage{}
	}
	return models, nil
}

// Logs returns the raw usage log for a user, newest first. Pass userID 0 for
// the system-wide log.
func (l *Ledger) Logs(ctx context.Context, userID int64, limit, offset int) ([]model.UsageRecord, error) {
	records, err := l.store.ListUsageRecords(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.UsageRecord{}
	}
	return records, nil
}

// SystemOverview is the admin view: system-wide totals plus account counts.
func (l *Ledger) SystemOverview(ctx context.Context, from, to time.Time) (*model.SystemOverview, error) {
	overview, err := l.Overview(ctx, 0, from, to)
	if err != nil {
		return nil, err
	}
	total, active, err := l.store.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	return &model.SystemOverview{
		UsageOverview: *overview,
		TotalUsers:    total,
		ActiveUsers:   active,
	}, nil
}
