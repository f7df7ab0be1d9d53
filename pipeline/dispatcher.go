package pipeline

import (
	"context"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/conversation"
	"github.com/poiesic/arbor/core"
)

// Dispatcher executes tool calls requested by the completion model.
// The function-calling engine implements it; the pipeline only needs to
// hand a call off and learn which function message recorded it.
type Dispatcher interface {
	// Definitions returns tool definitions for the named functions, in a
	// form suitable for the completion call's tool list. Unknown names
	// are skipped.
	Definitions(names []string) []ai.ToolDefinition

	// Dispatch records the call as a function message parented to the
	// given leaf and invokes the implementation. It returns the persisted
	// function message; results accumulate asynchronously under the
	// call's uuid.
	Dispatch(ctx context.Context, conv *conversation.Conversation, call *ai.ToolCall, parent core.Hash) (*core.PersistedMessage, error)
}
