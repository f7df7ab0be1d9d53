// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/conversation"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/search"
	"github.com/poiesic/arbor/storage"
)

// Engine executes tool calls requested by the completion model. Each call
// is recorded as a function message on the DAG before its implementation
// runs; results accumulate asynchronously in the function repository under
// the call's UUID.
type Engine struct {
	registry  *Registry
	messages  storage.MessageRepository
	metadata  storage.MetadataRepository
	functions storage.FunctionRepository

	searcher   *search.Searcher
	provider   ai.AIProvider
	runner     Runner
	denylist   map[string]struct{}
	httpClient *http.Client
	logger     *slog.Logger

	wg sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSearcher supplies the similarity searcher used by search_messages.
func WithSearcher(s *search.Searcher) EngineOption {
	return func(e *Engine) { e.searcher = s }
}

// WithProvider supplies the AI provider used by nested retrieval
// conversations and metadata production.
func WithProvider(p ai.AIProvider) EngineOption {
	return func(e *Engine) { e.provider = p }
}

// WithRunner supplies the sandbox that executes dynamic function bodies.
func WithRunner(r Runner) EngineOption {
	return func(e *Engine) { e.runner = r }
}

// WithDenylist names functions that dynamic dependency closures may not
// reference.
func WithDenylist(names ...string) EngineOption {
	return func(e *Engine) {
		for _, name := range names {
			e.denylist[name] = struct{}{}
		}
	}
}

// WithHTTPClient overrides the client used by the fetch builtin.
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.httpClient = c }
}

// WithEngineLogger overrides the default logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an engine over the given registry and repositories.
func NewEngine(registry *Registry, messages storage.MessageRepository, metadata storage.MetadataRepository, functions storage.FunctionRepository, opts ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if messages == nil {
		return nil, ErrMessageRepositoryRequired
	}
	if functions == nil {
		return nil, ErrFunctionRepositoryRequired
	}
	e := &Engine{
		registry:   registry,
		messages:   messages,
		metadata:   metadata,
		functions:  functions,
		denylist:   make(map[string]struct{}),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Registry returns the engine's function registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Definitions implements the dispatcher contract: it renders tool
// definitions for the named functions.
func (e *Engine) Definitions(names []string) []ai.ToolDefinition {
	return e.registry.Definitions(names)
}

// Dispatch records the call as a function message parented at parent, then
// invokes the implementation. The function message is persisted before the
// function is looked up, so even calls to unknown functions leave a trace
// on the DAG. The implementation runs in the background; its payloads and
// completion marker accumulate under the envelope UUID.
func (e *Engine) Dispatch(ctx context.Context, conv *conversation.Conversation, call *ai.ToolCall, parent core.Hash) (*core.PersistedMessage, error) {
	params := make(map[string]any)
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
			return nil, fmt.Errorf("%w: %s: bad arguments: %v", ErrInvocation, call.Name, err)
		}
	}

	envelope := &core.FunctionCallEnvelope{
		UUID:       uuid.NewString(),
		Version:    core.EnvelopeV2,
		Name:       call.Name,
		Parameters: params,
		ToolID:     call.ID,
	}
	content, err := envelope.Encode()
	if err != nil {
		return nil, err
	}
	msg, err := e.messages.SaveMessage(ctx, &core.Candidate{
		Role:    core.RoleFunction,
		Content: content,
		Parent:  parent,
	})
	if err != nil {
		return nil, err
	}

	def, err := e.registry.Get(call.Name)
	if err != nil {
		return msg, err
	}
	args, err := coerceArgs(def, params)
	if err != nil {
		return msg, err
	}

	inv := &Invocation{
		UUID:    envelope.UUID,
		Args:    args,
		Call:    call,
		Message: msg,
		Conv:    conv,
		Engine:  e,
		Parent:  parent,
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, def, envelope.UUID, inv)
	}()
	return msg, nil
}

// Wait blocks until every in-flight invocation has finished accumulating.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// run invokes the handler and records its outcome. Payloads are appended
// in emission order; the completion marker is written only after a fully
// successful outcome, so a failed call stays incomplete.
func (e *Engine) run(ctx context.Context, def *Definition, callUUID string, inv *Invocation) {
	outcome, err := def.Handler(ctx, inv)
	if err != nil {
		e.fail(inv, fmt.Errorf("%w: %s: %v", ErrInvocation, def.Name, err))
		return
	}
	if err := e.record(ctx, callUUID, outcome); err != nil {
		e.fail(inv, fmt.Errorf("%w: %s: %v", ErrInvocation, def.Name, err))
	}
}

func (e *Engine) record(ctx context.Context, callUUID string, outcome any) error {
	switch result := outcome.(type) {
	case nil:
	case string:
		if _, err := e.functions.AppendFunctionResult(ctx, callUUID, result); err != nil {
			return err
		}
	case []string:
		for _, payload := range result {
			if _, err := e.functions.AppendFunctionResult(ctx, callUUID, payload); err != nil {
				return err
			}
		}
	case <-chan StreamEvent:
		if err := e.drain(ctx, callUUID, result); err != nil {
			return err
		}
	case chan StreamEvent:
		if err := e.drain(ctx, callUUID, result); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported result type %T", outcome)
	}
	_, err := e.functions.CompleteFunction(ctx, callUUID)
	return err
}

func (e *Engine) drain(ctx context.Context, callUUID string, events <-chan StreamEvent) error {
	for event := range events {
		if event.Err != nil {
			return event.Err
		}
		if _, err := e.functions.AppendFunctionResult(ctx, callUUID, event.Text); err != nil {
			return err
		}
	}
	return nil
}

// fail surfaces an invocation failure as a conversation error event. The
// call's results are left without a completion marker.
func (e *Engine) fail(inv *Invocation, err error) {
	e.logger.Error("function invocation failed", "function", inv.Call.Name, "error", err)
	if inv.Conv == nil {
		return
	}
	p, addErr := inv.Conv.AddParticipant(core.RoleFunction)
	if addErr != nil {
		return
	}
	_ = inv.Conv.SendError(p, err)
	_ = inv.Conv.RemoveParticipant(p)
}
