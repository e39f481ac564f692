package domain

import (
	"context"
	"time"
)

// UsageRecord is one finished stream as kept by a usage ledger.
type UsageRecord struct {
	StreamID   string
	Provider   string
	Model      string
	ResponseID string
	Usage      TokenUsage
	// PrimaryUsedPercent and SecondaryUsedPercent are nil when the server
	// did not report the window.
	PrimaryUsedPercent   *float64
	SecondaryUsedPercent *float64
	// ErrorCode is empty for completed streams.
	ErrorCode ErrorCode
	Error     string
	CreatedAt time.Time
}

// Failed reports whether the stream ended without a completion.
func (r UsageRecord) Failed() bool { return r.ErrorCode != "" }

// UsageTotals aggregates usage records.
type UsageTotals struct {
	Streams               int64
	Failed                int64
	InputTokens           int64
	CachedInputTokens     int64
	OutputTokens          int64
	ReasoningOutputTokens int64
	TotalTokens           int64
}

// UsageStore persists usage records.
type UsageStore interface {
	Record(ctx context.Context, rec UsageRecord) error
	List(ctx context.Context, limit int) ([]UsageRecord, error)
	Totals(ctx context.Context, provider string) (UsageTotals, error)
}

// UsageRecordFrom builds a record from a stream.finished notice. It returns
// false for any other lifecycle type.
func UsageRecordFrom(ev LifecycleEvent) (UsageRecord, bool) {
	if ev.Type != LifecycleStreamFinished {
		return UsageRecord{}, false
	}
	rec := UsageRecord{
		StreamID:  ev.StreamID,
		Provider:  ev.Provider,
		Model:     ev.Model,
		CreatedAt: ev.Timestamp,
	}
	if ev.Completed != nil {
		rec.ResponseID = ev.Completed.ResponseID
		if ev.Completed.TokenUsage != nil {
			rec.Usage = *ev.Completed.TokenUsage
		}
	}
	if ev.RateLimits != nil {
		if w := ev.RateLimits.Primary; w != nil {
			rec.PrimaryUsedPercent = &w.UsedPercent
		}
		if w := ev.RateLimits.Secondary; w != nil {
			rec.SecondaryUsedPercent = &w.UsedPercent
		}
	}
	if ev.Err != nil {
		rec.ErrorCode = ErrorCodeOf(ev.Err)
		rec.Error = ev.Err.Error()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return rec, true
}
