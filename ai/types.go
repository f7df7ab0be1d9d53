package ai

import "github.com/poiesic/arbor/core"

// EventKind discriminates completion stream events.
type EventKind int

const (
	// EventPartial carries an incremental text fragment.
	EventPartial EventKind = iota + 1
	// EventCall carries a tool invocation requested by the model.
	EventCall
	// EventFinal terminates the stream with the full completion text.
	EventFinal
)

// ToolDefinition describes a callable tool exposed to the model.
// Parameters is a JSON Schema object describing the tool's arguments.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a tool invocation requested by the model.
// Arguments is the raw JSON object text produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// CompletionEvent is a single event in a completion stream.
type CompletionEvent struct {
	Kind EventKind

	// Text carries the fragment for EventPartial events and the full
	// accumulated completion for the EventFinal event.
	Text string

	// Truncated is set on the final event when generation stopped because
	// the token limit was reached rather than at a natural stopping point.
	Truncated bool

	// Call is set on EventCall events.
	Call *ToolCall
}

// CompletionRequest describes one completion over a conversation history.
type CompletionRequest struct {
	// Messages is the conversation in root-to-leaf order.
	Messages []core.Message

	// Model overrides the configured model when non-empty.
	Model string

	// Tools lists the tools the model may call. Empty disables tool use.
	Tools []ToolDefinition

	// ToolChoice forces tool behavior: "" leaves the decision to the model,
	// "none" forbids tool calls, "auto" permits them, and any other value
	// names the single tool the model must call.
	ToolChoice string

	// Temperature overrides the configured sampling temperature when > 0.
	Temperature float64

	// MaxTokens overrides the configured completion budget when > 0.
	MaxTokens int
}
