package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/conversation"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
	"golang.org/x/time/rate"
)

// truncationMarker is appended to completions cut off by the token budget
// so the truncation is never invisible in history.
const truncationMarker = "\n\n[response truncated by length limit]"

// Pipeline drives assistant completions for one conversation. It watches
// the outgoing message stream, persists every sent message onto the
// message tree, and fires a streaming completion whenever the
// conversation reaches a respondable state: the last message is from the
// system, or from a user while no assistant response is in flight.
//
// A user message arriving while assistant typing is non-empty is an
// interruption; it is classified by a secondary completion call rather
// than fed into the primary one. Completions follow latest-wins switch
// semantics: starting a new one invalidates the events of the previous.
type Pipeline struct {
	conv       *conversation.Conversation
	completer  ai.Completer
	messages   storage.MessageRepository
	metadata   storage.MetadataRepository
	producers  storage.MetadataProducers
	dispatcher Dispatcher
	limiter    *rate.Limiter
	logger     *slog.Logger

	assistant *conversation.Participant
	system    *conversation.Participant

	baseCtx context.Context
	stopAll context.CancelFunc

	mu           sync.Mutex
	started      bool
	leaf         core.Hash
	history      []core.Message
	partial      string
	generation   uint64
	primaryStop  context.CancelFunc
	classifyGen  uint64
	classifyStop context.CancelFunc

	unsubscribe func()
	wg          sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLeaf opens the pipeline on an existing branch: history is seeded
// from the root-to-leaf chain and new messages are parented to the leaf.
func WithLeaf(leaf core.Hash) Option {
	return func(p *Pipeline) {
		p.leaf = leaf
	}
}

// WithDispatcher wires the function-calling engine. Without one, tool
// calls from the model are surfaced as errors.
func WithDispatcher(d Dispatcher) Option {
	return func(p *Pipeline) {
		p.dispatcher = d
	}
}

// WithProducers sets metadata producers run when persisting messages.
func WithProducers(producers storage.MetadataProducers) Option {
	return func(p *Pipeline) {
		p.producers = producers
	}
}

// WithRateLimit overrides the completion rate limit.
// Default is 6 completions per minute with a burst of 3.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(p *Pipeline) {
		p.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline over the conversation. Call Start to begin
// watching for respondable states.
func New(
	conv *conversation.Conversation,
	completer ai.Completer,
	messages storage.MessageRepository,
	metadata storage.MetadataRepository,
	opts ...Option,
) (*Pipeline, error) {
	if conv == nil {
		return nil, ErrConversationRequired
	}
	if completer == nil {
		return nil, ErrCompleterRequired
	}
	if messages == nil {
		return nil, ErrMessageRepositoryRequired
	}
	if metadata == nil {
		return nil, ErrMetadataRepositoryRequired
	}

	p := &Pipeline{
		conv:      conv,
		completer: completer,
		messages:  messages,
		metadata:  metadata,
		limiter:   rate.NewLimiter(rate.Every(10*time.Second), 3),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start seeds history, joins the conversation as assistant and system
// participants, and begins reacting to message events.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	leaf := p.leaf
	p.mu.Unlock()

	if !leaf.IsRoot() {
		chain, err := p.messages.ConversationFromLeaf(ctx, leaf)
		if err != nil {
			return err
		}
		history := make([]core.Message, 0, len(chain))
		for _, msg := range chain {
			history = append(history, historyMessage(msg))
		}
		p.mu.Lock()
		p.history = history
		p.mu.Unlock()
	}

	assistant, err := p.conv.AddParticipant(core.RoleAssistant)
	if err != nil {
		return err
	}
	system, err := p.conv.AddParticipant(core.RoleSystem)
	if err != nil {
		return err
	}
	p.assistant = assistant
	p.system = system

	p.baseCtx, p.stopAll = context.WithCancel(ctx)
	events, cancel := p.conv.SubscribeMessages()
	p.unsubscribe = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for event := range events {
			p.handleEvent(event)
		}
	}()
	return nil
}

// Stop cancels in-flight completions and detaches from the conversation.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	if p.stopAll != nil {
		p.stopAll()
	}
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.wg.Wait()
}

// Leaf returns the hash of the newest persisted message on this branch.
func (p *Pipeline) Leaf() core.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaf
}

// History returns a copy of the in-memory message history.
func (p *Pipeline) History() []core.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Message, len(p.history))
	copy(out, p.history)
	return out
}

// historyMessage converts a persisted message for completion input. A
// function message whose envelope no longer parses is replaced with a
// visible system message instead of failing the whole history load.
func historyMessage(msg *core.PersistedMessage) core.Message {
	m := msg.AsMessage()
	if m.Role == core.RoleFunction {
		if _, err := core.ParseEnvelope(m.Content); err != nil {
			return core.Message{Role: core.RoleSystem, Content: core.DegradedEnvelopeText(err)}
		}
	}
	return m
}

func (p *Pipeline) handleEvent(event conversation.MessageEvent) {
	if event.Err != nil {
		// Error pseudo-messages are rendered, not persisted.
		return
	}

	if err := p.persistEvent(event); err != nil {
		p.logger.Error("failed to persist message", "role", event.Role, "err", err)
		if sendErr := p.conv.SendError(p.assistant, err); sendErr != nil {
			p.logger.Warn("failed to surface persistence error", "err", sendErr)
		}
		return
	}

	switch {
	case event.Role == core.RoleSystem:
		p.startPrimary()
	case event.Role == core.RoleUser && p.inFlightPartial() != "":
		p.startClassifier(event)
	case event.Role == core.RoleUser:
		p.startPrimary()
	}
}

func (p *Pipeline) persistEvent(event conversation.MessageEvent) error {
	p.mu.Lock()
	parent := p.leaf
	p.mu.Unlock()

	cand := &core.Candidate{Role: event.Role, Content: event.Content, Parent: parent}
	msg, err := p.metadata.SaveMessageWithMetadata(p.baseCtx, cand, p.producers)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.leaf = msg.Hash
	p.history = append(p.history, msg.AsMessage())
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) inFlightPartial() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.partial
}

// startPrimary begins a new primary completion, invalidating any
// previous one.
func (p *Pipeline) startPrimary() {
	p.mu.Lock()
	p.generation++
	id := p.generation
	if p.primaryStop != nil {
		p.primaryStop()
	}
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.primaryStop = cancel
	p.partial = ""
	history := make([]core.Message, len(p.history))
	copy(history, p.history)
	p.mu.Unlock()

	if !p.limiter.Allow() {
		cancel()
		p.logger.Warn("completion rate limit exceeded")
		if err := p.conv.SendError(p.assistant, core.ErrRateLimited); err != nil {
			p.logger.Warn("failed to surface rate limit error", "err", err)
		}
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.runPrimary(ctx, id, history)
	}()
}

func (p *Pipeline) isCurrent(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation == id
}

func (p *Pipeline) runPrimary(ctx context.Context, id uint64, history []core.Message) {
	req := ai.CompletionRequest{
		Messages:    history,
		Model:       p.conv.Model(),
		Temperature: p.conv.Temperature(),
		MaxTokens:   p.conv.MaxTokens(),
	}
	if p.dispatcher != nil && len(p.conv.Functions()) > 0 {
		req.Tools = p.dispatcher.Definitions(p.conv.Functions())
	}
	if locked := p.conv.LockedFunction(); locked != "" {
		req.ToolChoice = locked
	}

	var accumulated strings.Builder
	emit := func(event ai.CompletionEvent) error {
		if !p.isCurrent(id) {
			return errSuperseded
		}
		switch event.Kind {
		case ai.EventPartial:
			accumulated.WriteString(event.Text)
			p.mu.Lock()
			if p.generation == id {
				p.partial = accumulated.String()
			}
			p.mu.Unlock()
			return p.conv.TypeMessage(p.assistant, accumulated.String())

		case ai.EventCall:
			return p.dispatchCall(event.Call)

		case ai.EventFinal:
			text := event.Text
			if text == "" {
				text = accumulated.String()
			}
			if event.Truncated && text != "" {
				text += truncationMarker
			}
			p.mu.Lock()
			if p.generation == id {
				p.partial = ""
			}
			p.mu.Unlock()
			return p.conv.SendMessage(p.assistant, text)
		}
		return nil
	}

	err := p.completer.StreamCompletion(ctx, req, emit)
	if err == nil || errors.Is(err, errSuperseded) || errors.Is(err, context.Canceled) {
		return
	}

	p.logger.Error("completion failed", "err", err)
	if !p.isCurrent(id) {
		return
	}
	p.mu.Lock()
	if p.generation == id {
		p.partial = ""
	}
	p.mu.Unlock()
	if sendErr := p.conv.SendError(p.assistant, fmt.Errorf("%w: %v", core.ErrUpstream, err)); sendErr != nil {
		p.logger.Warn("failed to surface completion error", "err", sendErr)
	}
}

// dispatchCall records the tool call as a function message and hands it
// to the function-calling engine. The dispatch runs on the pipeline's
// base context, not the completion's: function results keep trickling in
// after the completion stream that requested them has ended, and are cut
// off only when the pipeline stops.
func (p *Pipeline) dispatchCall(call *ai.ToolCall) error {
	if call == nil {
		return nil
	}
	if p.dispatcher == nil {
		return fmt.Errorf("no dispatcher for function call %q", call.Name)
	}

	p.mu.Lock()
	parent := p.leaf
	p.mu.Unlock()

	msg, err := p.dispatcher.Dispatch(p.baseCtx, p.conv, call, parent)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.leaf = msg.Hash
	p.history = append(p.history, msg.AsMessage())
	p.mu.Unlock()
	return nil
}

// cancelPrimary invalidates the in-flight primary completion and clears
// the assistant's visible typing state.
func (p *Pipeline) cancelPrimary() {
	p.mu.Lock()
	p.generation++
	if p.primaryStop != nil {
		p.primaryStop()
		p.primaryStop = nil
	}
	p.partial = ""
	p.mu.Unlock()

	if err := p.conv.TypeMessage(p.assistant, ""); err != nil {
		p.logger.Warn("failed to clear assistant typing", "err", err)
	}
}
