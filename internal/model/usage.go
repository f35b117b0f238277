package model

import "time"

// UsageRecord is one accounted unit of consumption: a single completion
// request, streamed or not. Records are keyed by request ID so that a
// retried finalize cannot double-count.
type UsageRecord struct {
	ID               int64     `json:"id" db:"id"`
	RequestID        string    `json:"request_id" db:"request_id"`
	UserID           int64     `json:"user_id" db:"user_id"`
	Model            string    `json:"model" db:"model"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens" db:"total_tokens"`
	Estimated        bool      `json:"estimated" db:"estimated"` // counts derived from content length
	FinishReason     string    `json:"finish_reason" db:"finish_reason"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
}

// DailyUsage is one day's aggregate for a usage series.
type DailyUsage struct {
	Day      string `json:"date" db:"day"` // YYYY-MM-DD
	Tokens   int64  `json:"tokens" db:"tokens"`
	Requests int64  `json:"requests" db:"requests"`
}

// UsageOverview summarizes consumption over a date range.
type UsageOverview struct {
	TotalTokens   int64        `json:"total_tokens"`
	TotalRequests int64        `json:"total_requests"`
	PeriodStart   time.Time    `json:"period_start"`
	PeriodEnd     time.Time    `json:"period_end"`
	Daily         []DailyUsage `json:"daily_data"`
}

// ModelUsage is the per-model breakdown over a date range.
type ModelUsage struct {
	Model         string    `json:"model_name" db:"model"`
	TotalTokens   int64     `json:"total_tokens" db:"tokens"`
	TotalRequests int64     `json:"total_requests" db:"requests"`
	PeriodStart   time.Time `json:"period_start" db:"-"`
	PeriodEnd     time.Time `json:"period_end" db:"-"`
}

// SystemOverview extends UsageOverview with account counts for admins.
type SystemOverview struct {
	UsageOverview
	TotalUsers  int64 `json:"total_users"`
	ActiveUsers int64 `json:"active_users"`
}
