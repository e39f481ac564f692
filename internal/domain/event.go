package domain

// EventKind identifies the variant of a stream Event.
type EventKind string

const (
	EventCreated                   EventKind = "Created"
	EventOutputItemDone            EventKind = "OutputItemDone"
	EventOutputTextDelta           EventKind = "OutputTextDelta"
	EventReasoningSummaryDelta     EventKind = "ReasoningSummaryDelta"
	EventReasoningContentDelta     EventKind = "ReasoningContentDelta"
	EventReasoningSummaryPartAdded EventKind = "ReasoningSummaryPartAdded"
	EventWebSearchCallBegin        EventKind = "WebSearchCallBegin"
	EventRateLimits                EventKind = "RateLimits"
	EventCompleted                 EventKind = "Completed"
)

// Event is one typed item of a model response stream. The set of
// implementations is closed: only the variants declared in this file satisfy it.
type Event interface {
	Kind() EventKind
	isEvent()
}

// Created is emitted once the server has accepted the request and started a response.
type Created struct{}

// OutputItemDone carries a fully materialized output item (message, reasoning, tool call, ...).
type OutputItemDone struct {
	Item ResponseItem
}

// OutputTextDelta is an incremental chunk of assistant text.
type OutputTextDelta struct {
	Delta string
}

// ReasoningSummaryDelta is an incremental chunk of a reasoning summary.
type ReasoningSummaryDelta struct {
	Delta string
}

// ReasoningContentDelta is an incremental chunk of raw reasoning content.
type ReasoningContentDelta struct {
	Delta string
}

// ReasoningSummaryPartAdded marks the start of a new reasoning summary section.
type ReasoningSummaryPartAdded struct{}

// WebSearchCallBegin signals that the model started a web search tool call.
type WebSearchCallBegin struct {
	CallID string
}

// RateLimits carries the quota snapshot read from the response headers.
// When present it is the first event of a stream.
type RateLimits struct {
	Snapshot RateLimitSnapshot
}

// Completed is the terminal event of a successful stream.
type Completed struct {
	ResponseID string
	TokenUsage *TokenUsage
}

func (Created) Kind() EventKind                   { return EventCreated }
func (OutputItemDone) Kind() EventKind            { return EventOutputItemDone }
func (OutputTextDelta) Kind() EventKind           { return EventOutputTextDelta }
func (ReasoningSummaryDelta) Kind() EventKind     { return EventReasoningSummaryDelta }
func (ReasoningContentDelta) Kind() EventKind     { return EventReasoningContentDelta }
func (ReasoningSummaryPartAdded) Kind() EventKind { return EventReasoningSummaryPartAdded }
func (WebSearchCallBegin) Kind() EventKind        { return EventWebSearchCallBegin }
func (RateLimits) Kind() EventKind                { return EventRateLimits }
func (Completed) Kind() EventKind                 { return EventCompleted }

func (Created) isEvent()                   {}
func (OutputItemDone) isEvent()            {}
func (OutputTextDelta) isEvent()           {}
func (ReasoningSummaryDelta) isEvent()     {}
func (ReasoningContentDelta) isEvent()     {}
func (ReasoningSummaryPartAdded) isEvent() {}
func (WebSearchCallBegin) isEvent()        {}
func (RateLimits) isEvent()                {}
func (Completed) isEvent()                 {}

// TokenUsage is the token accounting reported with response.completed.
// TotalTokens is passed through from the server and is not recomputed.
type TokenUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
	TotalTokens           int64 `json:"total_tokens"`
}

// NonCachedInput returns the input tokens that were not served from the prompt cache.
func (u TokenUsage) NonCachedInput() int64 {
	if u.CachedInputTokens > u.InputTokens {
		return 0
	}
	return u.InputTokens - u.CachedInputTokens
}
