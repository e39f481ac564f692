package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Response item types as they appear on the wire.
const (
	ItemMessage            = "message"
	ItemReasoning          = "reasoning"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
	ItemCustomToolCall     = "custom_tool_call"
	ItemLocalShellCall     = "local_shell_call"
	ItemWebSearchCall      = "web_search_call"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleDeveloper = "developer"
)

// ContentItem is one content part of a message or reasoning item.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ResponseItem is a conversation item exchanged with the Responses API, either
// as request input or as model output. Raw keeps the payload exactly as
// received so fields this struct does not model survive a round trip.
type ResponseItem struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   []ContentItem   `json:"content,omitempty"`
	Summary   []ContentItem   `json:"summary,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Input     string          `json:"input,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Status    string          `json:"status,omitempty"`
	Action    json.RawMessage `json:"action,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes an item and remembers the original bytes.
func (r *ResponseItem) UnmarshalJSON(data []byte) error {
	type plain ResponseItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Type == "" {
		return fmt.Errorf("response item: missing type")
	}
	*r = ResponseItem(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON prefers the original payload when the item was decoded from the wire.
func (r ResponseItem) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	type plain ResponseItem
	return json.Marshal(plain(r))
}

// Text concatenates the text parts of a message item.
func (r ResponseItem) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		b.WriteString(c.Text)
	}
	return b.String()
}

// UserMessage builds a user input message item.
func UserMessage(text string) ResponseItem {
	return ResponseItem{
		Type:    ItemMessage,
		Role:    RoleUser,
		Content: []ContentItem{{Type: "input_text", Text: text}},
	}
}

// AssistantMessage builds an assistant message item, e.g. for replaying history.
func AssistantMessage(text string) ResponseItem {
	return ResponseItem{
		Type:    ItemMessage,
		Role:    RoleAssistant,
		Content: []ContentItem{{Type: "output_text", Text: text}},
	}
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	// Type is "function" for JSON-schema tools or a hosted tool type such as "web_search".
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Prompt is everything the caller supplies for one model turn.
type Prompt struct {
	Input                    []ResponseItem
	Tools                    []ToolDefinition
	BaseInstructionsOverride string
	// OutputSchema, when set, constrains the final answer to this JSON schema.
	OutputSchema json.RawMessage
}

// Validate checks the prompt can be sent. It never touches the network.
func (p Prompt) Validate() error {
	if len(p.Input) == 0 {
		return NewDomainError("Prompt.Validate", ErrInvalidInput, "prompt input is empty")
	}
	for i, t := range p.Tools {
		if t.Type == "" {
			return NewDomainError("Prompt.Validate", ErrInvalidInput, fmt.Sprintf("tool %d has no type", i))
		}
		if t.Type == "function" && t.Name == "" {
			return NewDomainError("Prompt.Validate", ErrInvalidInput, fmt.Sprintf("function tool %d has no name", i))
		}
	}
	return nil
}

// AuthProvider supplies the Authorization header value for requests.
// ok is false when no credentials are available; the request is then sent
// unauthenticated and the server is expected to answer 401.
type AuthProvider interface {
	AuthHeader() (value string, ok bool)
}

// StaticAuth is an AuthProvider backed by a fixed API key.
type StaticAuth string

// AuthHeader implements AuthProvider.
func (a StaticAuth) AuthHeader() (string, bool) {
	if a == "" {
		return "", false
	}
	return "Bearer " + string(a), true
}
