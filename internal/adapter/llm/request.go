package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	kjsonschema "github.com/kaptinlin/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"codex-stream/internal/domain"
)

// outputSchemaName is the name the output schema is registered under in text.format.
const outputSchemaName = "codex_output_schema"

// --- Responses API wire types ---

type responsesRequest struct {
	Model             string                  `json:"model"`
	Instructions      string                  `json:"instructions"`
	Input             []domain.ResponseItem   `json:"input"`
	Tools             []domain.ToolDefinition `json:"tools"`
	ToolChoice        string                  `json:"tool_choice"`
	ParallelToolCalls bool                    `json:"parallel_tool_calls"`
	Reasoning         *reasoningParam         `json:"reasoning,omitempty"`
	Store             bool                    `json:"store"`
	Stream            bool                    `json:"stream"`
	Include           []string                `json:"include"`
	PromptCacheKey    string                  `json:"prompt_cache_key,omitempty"`
	Text              *textParam              `json:"text,omitempty"`
}

type reasoningParam struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type textParam struct {
	Format *textFormat `json:"format,omitempty"`
}

type textFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// buildRequest converts a prompt into the wire request for the given client options.
func buildRequest(p domain.Prompt, opts Options, cacheKey string) responsesRequest {
	instructions := opts.Instructions
	if p.BaseInstructionsOverride != "" {
		instructions = p.BaseInstructionsOverride
	}

	tools := p.Tools
	if tools == nil {
		tools = []domain.ToolDefinition{}
	}
	include := opts.Include
	if include == nil {
		include = []string{}
	}

	req := responsesRequest{
		Model:             opts.Model,
		Instructions:      instructions,
		Input:             p.Input,
		Tools:             tools,
		ToolChoice:        "auto",
		ParallelToolCalls: opts.ParallelToolCalls,
		Store:             false,
		Stream:            true,
		Include:           include,
		PromptCacheKey:    cacheKey,
	}
	if opts.ReasoningEffort != "" || opts.ReasoningSummary != "" {
		req.Reasoning = &reasoningParam{Effort: opts.ReasoningEffort, Summary: opts.ReasoningSummary}
	}
	if len(p.OutputSchema) > 0 {
		req.Text = &textParam{Format: &textFormat{
			Type:   "json_schema",
			Name:   outputSchemaName,
			Strict: true,
			Schema: p.OutputSchema,
		}}
	}
	return req
}

// validatePrompt checks the prompt before any network call: non-empty input,
// well-formed tools, and JSON schemas that compile.
func validatePrompt(p domain.Prompt) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p.OutputSchema) > 0 {
		if _, err := kjsonschema.NewCompiler().Compile([]byte(p.OutputSchema)); err != nil {
			return domain.NewDomainError("Client.Stream", domain.ErrInvalidInput,
				fmt.Sprintf("output schema: %v", err))
		}
	}
	for _, t := range p.Tools {
		if len(t.Parameters) == 0 || string(t.Parameters) == "null" {
			continue
		}
		if err := compileToolSchema(t.Name, t.Parameters); err != nil {
			return domain.NewDomainError("Client.Stream", domain.ErrInvalidInput, err.Error())
		}
	}
	return nil
}

// compileToolSchema checks that a tool's parameter schema is a valid JSON schema.
func compileToolSchema(name string, raw json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema resource for %q: %w", name, err)
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return fmt.Errorf("compile schema for %q: %w", name, err)
	}
	return nil
}
