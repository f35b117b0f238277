package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/usage"
)

// finalizeTimeout bounds the ledger write after a stream ends. The write runs
// on a context detached from the request so a client disconnect cannot abort
// accounting for tokens already consumed.
const finalizeTimeout = 5 * time.Second

// accountant accumulates what one completion consumed. It trusts usage
// figures reported by the backend; when the backend reports none (common for
// aborted streams) it falls back to a character-based estimate.
type accountant struct {
	requestID       string
	userID          int64
	model           string
	promptChars     int
	completionChars int
	usage           *model.Usage
	finishReason    string
	finalized       bool
}

func newAccountant(requestID string, userID int64, req *model.CompletionRequest) *accountant {
	a := &accountant{
		requestID: requestID,
		userID:    userID,
		model:     req.Model,
	}
	for _, msg := range req.Messages {
		a.promptChars += len(msg.Content)
	}
	return a
}

func (a *accountant) addCompletion(text string) {
	a.completionChars += len(text)
}

// record builds the usage record to commit, preferring backend-reported
// figures over the estimate.
func (a *accountant) record() *model.UsageRecord {
	rec := &model.UsageRecord{
		RequestID:    a.requestID,
		UserID:       a.userID,
		Model:        a.model,
		FinishReason: a.finishReason,
		Timestamp:    time.Now().UTC(),
	}
	if a.usage != nil {
		rec.PromptTokens = a.usage.PromptTokens
		rec.CompletionTokens = a.usage.CompletionTokens
		rec.TotalTokens = a.usage.TotalTokens
		if rec.TotalTokens == 0 {
			rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
		}
		return rec
	}
	rec.PromptTokens = EstimateTokens(a.promptChars)
	rec.CompletionTokens = EstimateTokens(a.completionChars)
	rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	rec.Estimated = true
	return rec
}

// finalize commits the accounting exactly once. Safe to call multiple times;
// later calls are no-ops. The relay installs it as a defer so every exit path
// settles the ledger.
func (a *accountant) finalize(ctx context.Context, ledger *usage.Ledger, logger *slog.Logger) {
	if a.finalized {
		return
	}
	a.finalized = true

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	rec := a.record()
	if _, err := ledger.Finalize(fctx, rec); err != nil {
		if errors.Is(err, usage.ErrAlreadyFinalized) {
			return
		}
		logger.Error("failed to finalize usage",
			"request_id", a.requestID, "user_id", a.userID, "error", err)
		return
	}
	logger.Debug("usage finalized",
		"request_id", a.requestID,
		"user_id", a.userID,
		"model", a.model,
		"total_tokens", rec.TotalTokens,
		"estimated", rec.Estimated,
		"finish_reason", rec.FinishReason)
}

// EstimateTokens approximates a token count from a character count using the
// common four-characters-per-token heuristic, rounding up.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
