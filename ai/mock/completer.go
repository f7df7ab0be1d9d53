package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/arbor/ai"
)

// MockCompleter is a test double for ai.Completer.
// It replays scripted event sequences, or falls back to a deterministic
// completion derived from the last request message.
type MockCompleter struct {
	// StreamFunc is called by StreamCompletion if set.
	// If nil, scripted sequences (or the default behavior) are used.
	StreamFunc func(ctx context.Context, req ai.CompletionRequest, emit func(ai.CompletionEvent) error) error

	mu       sync.Mutex
	scripts  [][]ai.CompletionEvent
	requests []ai.CompletionRequest
}

// NewMockCompleter creates a mock completer with default deterministic behavior.
// Note: Returns concrete type to allow event scripting and request assertions.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// Enqueue schedules an event sequence to be replayed by the next
// StreamCompletion call. Sequences are consumed in FIFO order.
func (m *MockCompleter) Enqueue(events ...ai.CompletionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, events)
}

// Requests returns a copy of every request seen so far, in order.
func (m *MockCompleter) Requests() []ai.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of StreamCompletion calls.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears scripts, recorded requests, and the injected function.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = nil
	m.requests = nil
	m.StreamFunc = nil
}

// StreamCompletion replays the next scripted sequence, or emits a
// deterministic echo completion when nothing is scripted.
func (m *MockCompleter) StreamCompletion(ctx context.Context, req ai.CompletionRequest, emit func(ai.CompletionEvent) error) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)

	if m.StreamFunc != nil {
		fn := m.StreamFunc
		m.mu.Unlock()
		return fn(ctx, req, emit)
	}

	var script []ai.CompletionEvent
	if len(m.scripts) > 0 {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	}
	m.mu.Unlock()

	if script != nil {
		for _, event := range script {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(event); err != nil {
				return err
			}
		}
		return nil
	}

	// Default: echo the last message back word by word.
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	text := "echo: " + last

	var sent []string
	for _, word := range strings.Fields(text) {
		fragment := word + " "
		if err := emit(ai.CompletionEvent{Kind: ai.EventPartial, Text: fragment}); err != nil {
			return err
		}
		sent = append(sent, fragment)
	}
	return emit(ai.CompletionEvent{Kind: ai.EventFinal, Text: strings.TrimSpace(strings.Join(sent, ""))})
}
