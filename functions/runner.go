package functions

import (
	"context"

	"github.com/poiesic/arbor/core"
)

// RunPayload identifies one dynamic function execution: the function
// message hash and the input passed to it.
type RunPayload struct {
	FunctionHash core.Hash `json:"functionHash"`
	Input        string    `json:"input"`
}

// RunEventKind classifies sandbox output events.
type RunEventKind int

const (
	// RunIncomplete carries an intermediate output chunk.
	RunIncomplete RunEventKind = iota + 1
	// RunComplete marks successful termination. Text may carry a final
	// output chunk.
	RunComplete
	// RunError marks failed termination; Text carries the failure text.
	RunError
)

// RunEvent is one event emitted by a Runner.
type RunEvent struct {
	Kind RunEventKind
	Text string
}

// Runner executes dynamic function bodies in isolation. Implementations
// emit zero or more RunIncomplete events followed by exactly one
// RunComplete or RunError, then close the channel.
type Runner interface {
	Run(ctx context.Context, payload RunPayload) (<-chan RunEvent, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, payload RunPayload) (<-chan RunEvent, error)

func (f RunnerFunc) Run(ctx context.Context, payload RunPayload) (<-chan RunEvent, error) {
	return f(ctx, payload)
}
