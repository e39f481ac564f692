package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"codex-stream/internal/domain"
	"codex-stream/internal/usecase/eventstream"
)

// result is what render saw besides the text it printed.
type result struct {
	Completed  *domain.Completed
	RateLimits *domain.RateLimitSnapshot
	ToolCalls  []domain.ResponseItem
	Searches   int
}

// render prints assistant text to out as it arrives. Reasoning summaries go
// to diag when showReasoning is set.
func render(ctx context.Context, s *eventstream.EventStream, out, diag io.Writer, showReasoning bool) (result, error) {
	var res result
	inReasoning := false
	for ev, err := range s.All(ctx) {
		if err != nil {
			fmt.Fprintln(out)
			return res, err
		}
		switch e := ev.(type) {
		case domain.RateLimits:
			snap := e.Snapshot
			res.RateLimits = &snap
		case domain.OutputTextDelta:
			if inReasoning {
				fmt.Fprintln(diag)
				inReasoning = false
			}
			fmt.Fprint(out, e.Delta)
		case domain.ReasoningSummaryDelta:
			if showReasoning {
				inReasoning = true
				fmt.Fprint(diag, e.Delta)
			}
		case domain.ReasoningSummaryPartAdded:
			if showReasoning && inReasoning {
				fmt.Fprint(diag, "\n\n")
			}
		case domain.WebSearchCallBegin:
			res.Searches++
		case domain.OutputItemDone:
			switch e.Item.Type {
			case domain.ItemFunctionCall, domain.ItemCustomToolCall, domain.ItemLocalShellCall:
				res.ToolCalls = append(res.ToolCalls, e.Item)
			}
		case domain.Completed:
			res.Completed = &e
		}
	}
	fmt.Fprintln(out)
	return res, nil
}

// printSummary writes token usage, rate limits and pending tool calls.
func printSummary(w io.Writer, res result) {
	for _, call := range res.ToolCalls {
		fmt.Fprintf(w, "tool call %s %s(%s)\n", call.CallID, call.Name, call.Arguments)
	}
	if res.Completed != nil {
		if u := res.Completed.TokenUsage; u != nil {
			fmt.Fprintf(w, "tokens: input=%d (cached %d) output=%d (reasoning %d) total=%d\n",
				u.InputTokens, u.CachedInputTokens, u.OutputTokens, u.ReasoningOutputTokens, u.TotalTokens)
		}
	}
	if res.RateLimits != nil {
		if line := formatRateLimits(*res.RateLimits); line != "" {
			fmt.Fprintln(w, "rate limits: "+line)
		}
	}
}

func formatRateLimits(snap domain.RateLimitSnapshot) string {
	var parts []string
	for _, w := range []struct {
		name   string
		window *domain.RateLimitWindow
	}{
		{"primary", snap.Primary},
		{"secondary", snap.Secondary},
	} {
		if w.window == nil {
			continue
		}
		part := fmt.Sprintf("%s %.1f%%", w.name, w.window.UsedPercent)
		if m := w.window.WindowMinutes; m != nil {
			part += fmt.Sprintf(" of %dm", *m)
		}
		if r := w.window.ResetsInSeconds; r != nil {
			part += fmt.Sprintf(", resets in %ds", *r)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
