package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/ai/mock"
	"github.com/poiesic/arbor/conversation"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fixture struct {
	conv      *conversation.Conversation
	completer *mock.MockCompleter
	pipe      *Pipeline
	user      *conversation.Participant
	events    <-chan conversation.MessageEvent
	cleanup   func()
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	messages, metadata, functions, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)

	conv := conversation.NewConversation()
	completer := mock.NewMockCompleter()

	pipe, err := New(conv, completer, messages, metadata, opts...)
	require.NoError(t, err)
	require.NoError(t, pipe.Start(context.Background()))

	user, err := conv.AddParticipant(core.RoleUser)
	require.NoError(t, err)

	events, cancel := conv.SubscribeMessages()

	return &fixture{
		conv:      conv,
		completer: completer,
		pipe:      pipe,
		user:      user,
		events:    events,
		cleanup: func() {
			cancel()
			pipe.Stop()
			conv.Close()
			functions.Close()
			messages.Close()
			backend.Close()
		},
	}
}

func nextEvent(t *testing.T, ch <-chan conversation.MessageEvent) conversation.MessageEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message event")
		return conversation.MessageEvent{}
	}
}

// isClassifierRequest distinguishes the secondary interruption call by
// its restricted tool set.
func isClassifierRequest(req ai.CompletionRequest) bool {
	return len(req.Tools) == 2 && req.Tools[0].Name == appendResponseFunction
}

func TestRespondableTriggersCompletion(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()

	f.completer.Enqueue(
		ai.CompletionEvent{Kind: ai.EventPartial, Text: "Hello "},
		ai.CompletionEvent{Kind: ai.EventPartial, Text: "there"},
		ai.CompletionEvent{Kind: ai.EventFinal, Text: "Hello there"},
	)

	require.NoError(t, f.conv.SendMessage(f.user, "hi"))

	assert.Equal(t, "hi", nextEvent(t, f.events).Content)
	reply := nextEvent(t, f.events)
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.Equal(t, "Hello there", reply.Content)

	// Both messages were persisted onto the branch.
	require.Eventually(t, func() bool {
		history := f.pipe.History()
		return len(history) == 2 && history[1].Content == "Hello there"
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, f.pipe.Leaf().IsRoot())
}

func TestTruncationMarker(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()

	f.completer.Enqueue(
		ai.CompletionEvent{Kind: ai.EventFinal, Text: "partial answer", Truncated: true},
	)

	require.NoError(t, f.conv.SendMessage(f.user, "long question"))

	nextEvent(t, f.events) // the user message
	reply := nextEvent(t, f.events)
	assert.True(t, strings.HasSuffix(reply.Content, truncationMarker),
		"expected truncation marker, got %q", reply.Content)
}

func TestRateLimitSurfacedAsError(t *testing.T) {
	f := newFixture(t, WithRateLimit(rate.Every(time.Hour), 1))
	defer f.cleanup()

	f.completer.Enqueue(ai.CompletionEvent{Kind: ai.EventFinal, Text: "first answer"})

	require.NoError(t, f.conv.SendMessage(f.user, "one"))
	nextEvent(t, f.events) // user
	nextEvent(t, f.events) // assistant

	require.NoError(t, f.conv.SendMessage(f.user, "two"))
	nextEvent(t, f.events) // user

	limited := nextEvent(t, f.events)
	assert.ErrorIs(t, limited.Err, core.ErrRateLimited)
}

func TestUpstreamErrorSurfacedAndRecoverable(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()

	upstream := errors.New("connection refused")
	calls := 0
	var mu sync.Mutex
	f.completer.StreamFunc = func(ctx context.Context, req ai.CompletionRequest, emit func(ai.CompletionEvent) error) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return upstream
		}
		return emit(ai.CompletionEvent{Kind: ai.EventFinal, Text: "recovered"})
	}

	require.NoError(t, f.conv.SendMessage(f.user, "one"))
	nextEvent(t, f.events) // user
	failed := nextEvent(t, f.events)
	assert.ErrorIs(t, failed.Err, core.ErrUpstream)

	// A failed completion must not wedge future respondable triggers.
	require.NoError(t, f.conv.SendMessage(f.user, "two"))
	nextEvent(t, f.events) // user
	assert.Equal(t, "recovered", nextEvent(t, f.events).Content)
}

func TestSwitchSemantics(t *testing.T) {
	f := newFixture(t, WithRateLimit(rate.Inf, 1))
	defer f.cleanup()

	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	f.completer.StreamFunc = func(ctx context.Context, req ai.CompletionRequest, emit func(ai.CompletionEvent) error) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			// Stall without emitting anything until the second
			// completion has been triggered.
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
			return emit(ai.CompletionEvent{Kind: ai.EventFinal, Text: "stale"})
		}
		return emit(ai.CompletionEvent{Kind: ai.EventFinal, Text: "fresh"})
	}

	require.NoError(t, f.conv.SendMessage(f.user, "one"))
	nextEvent(t, f.events) // user one
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Nothing was typed yet, so this is a second respondable trigger.
	require.NoError(t, f.conv.SendMessage(f.user, "two"))
	nextEvent(t, f.events) // user two
	close(release)

	// Only the second completion's message reaches the stream.
	reply := nextEvent(t, f.events)
	assert.Equal(t, "fresh", reply.Content)
	select {
	case extra := <-f.events:
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestInterruptionCancel(t *testing.T) {
	f := newFixture(t, WithRateLimit(rate.Inf, 1))
	defer f.cleanup()

	var mu sync.Mutex
	primaryCalls := 0
	f.completer.StreamFunc = func(ctx context.Context, req ai.CompletionRequest, emit func(ai.CompletionEvent) error) error {
		if isClassifierRequest(req) {
			return emit(ai.CompletionEvent{
				Kind: ai.EventCall,
				Call: &ai.ToolCall{Name: cancelResponseFunction, Arguments: "{}"},
			})
		}
		mu.Lock()
		primaryCalls++
		n := primaryCalls
		mu.Unlock()
		if n == 1 {
			if err := emit(ai.CompletionEvent{Kind: ai.EventPartial, Text: "Hello wor"}); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		}
		return emit(ai.CompletionEvent{Kind: ai.EventFinal, Text: "response to interruption"})
	}

	require.NoError(t, f.conv.SendMessage(f.user, "original question"))
	nextEvent(t, f.events)

	// Wait for the assistant to be visibly mid-stream.
	require.Eventually(t, func() bool {
		return f.pipe.inFlightPartial() == "Hello wor"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, f.conv.SendMessage(f.user, "never mind, different question"))
	nextEvent(t, f.events) // the interrupting user message

	// The classifier outcome is recorded as a system message naming the
	// discarded draft.
	outcome := nextEvent(t, f.events)
	assert.Equal(t, core.RoleSystem, outcome.Role)
	assert.Contains(t, outcome.Content, "discarded")
	assert.Contains(t, outcome.Content, "Hello wor")

	// The aborted stream publishes no further typing.
	assert.Empty(t, f.pipe.inFlightPartial())

	// The system message makes the state respondable again.
	reply := nextEvent(t, f.events)
	assert.Equal(t, "response to interruption", reply.Content)
}

func TestInterruptionAppend(t *testing.T) {
	f := newFixture(t, WithRateLimit(rate.Inf, 1))
	defer f.cleanup()

	var mu sync.Mutex
	primaryCalls := 0
	var continuation ai.CompletionRequest
	f.completer.StreamFunc = func(ctx context.Context, req ai.CompletionRequest, emit func(ai.CompletionEvent) error) error {
		if isClassifierRequest(req) {
			return emit(ai.CompletionEvent{
				Kind: ai.EventCall,
				Call: &ai.ToolCall{Name: appendResponseFunction, Arguments: "{}"},
			})
		}
		mu.Lock()
		primaryCalls++
		n := primaryCalls
		if n == 2 {
			continuation = req
		}
		mu.Unlock()
		if n == 1 {
			if err := emit(ai.CompletionEvent{Kind: ai.EventPartial, Text: "The answer is"}); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		}
		return emit(ai.CompletionEvent{Kind: ai.EventFinal, Text: "The answer is 42, considering your addition"})
	}

	require.NoError(t, f.conv.SendMessage(f.user, "original question"))
	nextEvent(t, f.events)

	require.Eventually(t, func() bool {
		return f.pipe.inFlightPartial() == "The answer is"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, f.conv.SendMessage(f.user, "also consider this"))
	nextEvent(t, f.events)

	outcome := nextEvent(t, f.events)
	assert.Equal(t, core.RoleSystem, outcome.Role)
	assert.Contains(t, outcome.Content, "Continue the interrupted response")
	assert.Contains(t, outcome.Content, "The answer is")

	reply := nextEvent(t, f.events)
	assert.Equal(t, "The answer is 42, considering your addition", reply.Content)

	// The continuation call saw the partial text in its context.
	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, msg := range continuation.Messages {
		if msg.Role == core.RoleSystem && strings.Contains(msg.Content, "The answer is") {
			found = true
		}
	}
	assert.True(t, found, "continuation request missing partial text context")
}

type recordingDispatcher struct {
	mu       sync.Mutex
	messages *badger.MessageRepository
	calls    []*ai.ToolCall
}

func (d *recordingDispatcher) Definitions(names []string) []ai.ToolDefinition {
	defs := make([]ai.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, ai.ToolDefinition{Name: name})
	}
	return defs
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, conv *conversation.Conversation, call *ai.ToolCall, parent core.Hash) (*core.PersistedMessage, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()

	envelope := &core.FunctionCallEnvelope{
		UUID:    "00000000-0000-0000-0000-000000000001",
		Version: core.EnvelopeV2,
		Name:    call.Name,
	}
	content, err := envelope.Encode()
	if err != nil {
		return nil, err
	}
	return d.messages.SaveMessage(ctx, &core.Candidate{
		Role: core.RoleFunction, Content: content, Parent: parent,
	})
}

func TestFunctionCallDispatch(t *testing.T) {
	messages, metadata, functions, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	conv := conversation.NewConversation(conversation.WithFunctions([]string{"search_messages"}))
	defer conv.Close()
	completer := mock.NewMockCompleter()
	dispatcher := &recordingDispatcher{messages: messages}

	pipe, err := New(conv, completer, messages, metadata, WithDispatcher(dispatcher))
	require.NoError(t, err)
	require.NoError(t, pipe.Start(context.Background()))
	defer pipe.Stop()

	user, err := conv.AddParticipant(core.RoleUser)
	require.NoError(t, err)
	events, cancel := conv.SubscribeMessages()
	defer cancel()

	completer.Enqueue(
		ai.CompletionEvent{Kind: ai.EventCall, Call: &ai.ToolCall{ID: "t1", Name: "search_messages", Arguments: `{"query":"cats"}`}},
		ai.CompletionEvent{Kind: ai.EventFinal, Text: "I searched for that."},
	)

	require.NoError(t, conv.SendMessage(user, "find my notes about cats"))
	nextEvent(t, events) // user
	reply := nextEvent(t, events)
	assert.Equal(t, "I searched for that.", reply.Content)

	dispatcher.mu.Lock()
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, "search_messages", dispatcher.calls[0].Name)
	dispatcher.mu.Unlock()

	// The tool list was built from the conversation's enabled functions.
	reqs := completer.Requests()
	require.NotEmpty(t, reqs)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "search_messages", reqs[0].Tools[0].Name)

	// The function message sits between user message and reply.
	require.Eventually(t, func() bool {
		history := pipe.History()
		return len(history) == 3 && history[1].Role == core.RoleFunction
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStartFromExistingLeaf(t *testing.T) {
	messages, metadata, functions, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()
	first, err := messages.SaveMessage(ctx, &core.Candidate{Role: core.RoleUser, Content: "earlier question"})
	require.NoError(t, err)
	second, err := messages.SaveMessage(ctx, &core.Candidate{Role: core.RoleAssistant, Content: "earlier answer", Parent: first.Hash})
	require.NoError(t, err)

	conv := conversation.NewConversation()
	defer conv.Close()

	pipe, err := New(conv, mock.NewMockCompleter(), messages, metadata, WithLeaf(second.Hash))
	require.NoError(t, err)
	require.NoError(t, pipe.Start(ctx))
	defer pipe.Stop()

	history := pipe.History()
	require.Len(t, history, 2)
	assert.Equal(t, "earlier question", history[0].Content)
	assert.Equal(t, "earlier answer", history[1].Content)
	assert.Equal(t, second.Hash, pipe.Leaf())
}
