package llm

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"codex-stream/internal/domain"
)

// Wire event types of the Responses API stream.
const (
	wireCreated               = "response.created"
	wireInProgress            = "response.in_progress"
	wireCompleted             = "response.completed"
	wireFailed                = "response.failed"
	wireOutputItemAdded       = "response.output_item.added"
	wireOutputItemDone        = "response.output_item.done"
	wireOutputTextDelta       = "response.output_text.delta"
	wireOutputTextDone        = "response.output_text.done"
	wireContentPartDone       = "response.content_part.done"
	wireFunctionArgsDelta     = "response.function_call_arguments.delta"
	wireCustomToolInputDelta  = "response.custom_tool_call_input.delta"
	wireCustomToolInputDone   = "response.custom_tool_call_input.done"
	wireReasoningSummaryDelta = "response.reasoning_summary_text.delta"
	wireReasoningSummaryDone  = "response.reasoning_summary_text.done"
	wireReasoningTextDelta    = "response.reasoning_text.delta"
	wireReasoningPartAdded    = "response.reasoning_summary_part.added"
)

// RawEvent is the decoded JSON payload of one SSE data line.
type RawEvent struct {
	Type     string          `json:"type"`
	Response json.RawMessage `json:"response,omitempty"`
	Item     json.RawMessage `json:"item,omitempty"`
	Delta    string          `json:"delta,omitempty"`
}

// wire shapes nested in RawEvent.Response.
type (
	wireResponse struct {
		ID    string       `json:"id"`
		Usage *wireUsage   `json:"usage"`
		Error *wireFailure `json:"error"`
	}

	wireUsage struct {
		InputTokens        int64 `json:"input_tokens"`
		InputTokensDetails *struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"input_tokens_details"`
		OutputTokens        int64 `json:"output_tokens"`
		OutputTokensDetails *struct {
			ReasoningTokens int64 `json:"reasoning_tokens"`
		} `json:"output_tokens_details"`
		TotalTokens int64 `json:"total_tokens"`
	}

	wireFailure struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	wireItemHeader struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
)

func (u *wireUsage) toDomain() *domain.TokenUsage {
	if u == nil {
		return nil
	}
	out := &domain.TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
	if u.InputTokensDetails != nil {
		out.CachedInputTokens = u.InputTokensDetails.CachedTokens
	}
	if u.OutputTokensDetails != nil {
		out.ReasoningOutputTokens = u.OutputTokensDetails.ReasoningTokens
	}
	return out
}

var dataPrefix = []byte("data:")

// Parser maps Responses API wire events to domain events. One Parser serves
// one stream; it remembers the response.completed payload until the stream ends.
// It is not safe for concurrent use.
type Parser struct {
	logger *slog.Logger

	scratch    RawEvent
	completion *domain.Completed
}

// NewParser creates a parser that logs dropped input to logger.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse decodes one SSE data payload. A leading "data:" field name is
// tolerated. Malformed JSON is logged at debug level and reported as ok=false.
func (p *Parser) Parse(line []byte) (RawEvent, bool) {
	line = bytes.TrimSpace(line)
	if rest, found := bytes.CutPrefix(line, dataPrefix); found {
		line = bytes.TrimLeft(rest, " ")
	}
	if len(line) == 0 {
		return RawEvent{}, false
	}

	p.scratch = RawEvent{}
	if err := json.Unmarshal(line, &p.scratch); err != nil {
		p.logger.Debug("skip malformed sse payload",
			"error", domain.WrapOp("Parser.Parse", domain.ErrParse),
			"cause", err,
			"bytes", len(line),
		)
		return RawEvent{}, false
	}
	return p.scratch, true
}

// ProcessEvent maps one wire event to zero or more domain events. It returns
// a *domain.ProtocolError for response.failed, and for a response.completed
// whose body cannot be decoded. Unknown types yield nothing.
func (p *Parser) ProcessEvent(ev RawEvent) ([]domain.Event, error) {
	switch ev.Type {
	case wireCreated:
		return []domain.Event{domain.Created{}}, nil

	case wireOutputItemDone:
		var item domain.ResponseItem
		if err := json.Unmarshal(ev.Item, &item); err != nil {
			p.logger.Debug("drop unparseable output item", "error", err)
			return nil, nil
		}
		return []domain.Event{domain.OutputItemDone{Item: item}}, nil

	case wireOutputTextDelta:
		return []domain.Event{domain.OutputTextDelta{Delta: ev.Delta}}, nil

	case wireReasoningSummaryDelta:
		return []domain.Event{domain.ReasoningSummaryDelta{Delta: ev.Delta}}, nil

	case wireReasoningTextDelta:
		return []domain.Event{domain.ReasoningContentDelta{Delta: ev.Delta}}, nil

	case wireReasoningPartAdded:
		return []domain.Event{domain.ReasoningSummaryPartAdded{}}, nil

	case wireOutputItemAdded:
		var hdr wireItemHeader
		if err := json.Unmarshal(ev.Item, &hdr); err != nil || hdr.Type != domain.ItemWebSearchCall {
			return nil, nil
		}
		return []domain.Event{domain.WebSearchCallBegin{CallID: hdr.ID}}, nil

	case wireCompleted:
		var resp wireResponse
		if err := json.Unmarshal(ev.Response, &resp); err != nil {
			return nil, &domain.ProtocolError{Message: "decode response.completed: " + err.Error()}
		}
		p.completion = &domain.Completed{ResponseID: resp.ID, TokenUsage: resp.Usage.toDomain()}
		return nil, nil

	case wireFailed:
		perr := &domain.ProtocolError{Message: "response.failed event received"}
		var resp wireResponse
		if err := json.Unmarshal(ev.Response, &resp); err == nil && resp.Error != nil {
			if resp.Error.Message != "" {
				perr.Message = resp.Error.Message
			}
			perr.Code = resp.Error.Code
		}
		return nil, perr

	case wireInProgress, wireOutputTextDone, wireContentPartDone, wireFunctionArgsDelta,
		wireCustomToolInputDelta, wireCustomToolInputDone, wireReasoningSummaryDone:
		return nil, nil

	default:
		p.logger.Debug("ignore unknown sse event", "type", ev.Type)
		return nil, nil
	}
}

// Completion returns the response.completed payload seen so far.
func (p *Parser) Completion() (domain.Completed, bool) {
	if p.completion == nil {
		return domain.Completed{}, false
	}
	return *p.completion, true
}
