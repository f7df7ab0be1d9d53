package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/conversation"
	"github.com/poiesic/arbor/core"
)

const (
	appendResponseFunction = "append_response"
	cancelResponseFunction = "cancel_response"

	// classifierMaxTokens keeps the secondary call small and fast.
	classifierMaxTokens = 256
)

// interruptionTools is the restricted tool set for the classifier call.
// Returning no call at all means the interruption is already addressed.
var interruptionTools = []ai.ToolDefinition{
	{
		Name:        appendResponseFunction,
		Description: "Continue the interrupted response, splicing the new message in as a pivot.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        cancelResponseFunction,
		Description: "Discard the interrupted response entirely; the new message makes it moot.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

const classifierPrompt = `An assistant was interrupted while typing a response. You will see the ` +
	`unfinished draft and the message that interrupted it. Decide what should happen to the draft:

- Call append_response if the draft is still worth finishing and should continue, taking the new message into account.
- Call cancel_response if the new message makes the draft moot and it should be discarded.
- Call nothing if the new message is already addressed by the draft and no action is needed.`

// startClassifier launches the secondary completion that classifies an
// interrupting user message. Only the most recent interruption is
// classified; starting a new classification invalidates the previous one.
func (p *Pipeline) startClassifier(event conversation.MessageEvent) {
	p.mu.Lock()
	p.classifyGen++
	id := p.classifyGen
	if p.classifyStop != nil {
		p.classifyStop()
	}
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.classifyStop = cancel
	partial := p.partial
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.runClassifier(ctx, id, partial, event.Content)
	}()
}

func (p *Pipeline) isCurrentClassification(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classifyGen == id
}

func (p *Pipeline) runClassifier(ctx context.Context, id uint64, partial, interruption string) {
	req := ai.CompletionRequest{
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: classifierPrompt},
			{Role: core.RoleAssistant, Content: "Unfinished draft:\n" + partial},
			{Role: core.RoleUser, Content: interruption},
		},
		Tools:     interruptionTools,
		MaxTokens: classifierMaxTokens,
	}

	var decision string
	emit := func(event ai.CompletionEvent) error {
		if !p.isCurrentClassification(id) {
			return errSuperseded
		}
		if event.Kind == ai.EventCall && event.Call != nil && decision == "" {
			decision = event.Call.Name
		}
		return nil
	}

	err := p.completer.StreamCompletion(ctx, req, emit)
	if err != nil {
		if errors.Is(err, errSuperseded) || errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Error("interruption classification failed", "err", err)
		if sendErr := p.conv.SendError(p.assistant, fmt.Errorf("%w: %v", core.ErrUpstream, err)); sendErr != nil {
			p.logger.Warn("failed to surface classifier error", "err", sendErr)
		}
		return
	}
	if !p.isCurrentClassification(id) {
		return
	}

	switch decision {
	case cancelResponseFunction:
		p.cancelPrimary()
		text := fmt.Sprintf(
			"The assistant's in-progress response was discarded because the user's new message made it moot. Discarded draft: %q",
			partial)
		if err := p.conv.SendMessage(p.system, text); err != nil {
			p.logger.Warn("failed to record interruption outcome", "err", err)
		}

	case appendResponseFunction:
		p.cancelPrimary()
		text := fmt.Sprintf(
			"The user interrupted while the assistant was typing. Continue the interrupted response, taking the new message into account. Partial response so far: %q",
			partial)
		if err := p.conv.SendMessage(p.system, text); err != nil {
			p.logger.Warn("failed to record interruption outcome", "err", err)
		}

	default:
		// No call: the interruption is already addressed by the draft.
		p.logger.Debug("interruption classified as no-op")
	}
}
