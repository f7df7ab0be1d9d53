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
	"fmt"

	"github.com/poiesic/arbor/core"
)

// Dynamic function builtin names.
const (
	GenerateDynamicFunction = "generate_dynamic_function"
	ComposeDynamicFunctions = "compose_dynamic_functions"
	RunDynamicFunction      = "run_dynamic_function"
)

func generateDefinition() *Definition {
	return &Definition{
		Name:        GenerateDynamicFunction,
		Description: "Store a new dynamic function. Its body and dependency list are recorded on the message graph; the stored function's hash is returned.",
		Params: []Param{
			{Name: "name", Type: ParamString, Description: "symbolic name of the new function", Required: true},
			{Name: "source", Type: ParamString, Description: "function body", Required: true},
			{Name: "dependencies", Type: ParamStringList, Description: "names of builtin functions or hashes of stored functions this function calls"},
		},
		Handler: handleGenerate,
	}
}

func composeDefinition() *Definition {
	return &Definition{
		Name:        ComposeDynamicFunctions,
		Description: "Compose previously stored functions into a new one. The composition's hash is returned.",
		Params: []Param{
			{Name: "name", Type: ParamString, Description: "symbolic name of the composition", Required: true},
			{Name: "dependencies", Type: ParamStringList, Description: "hashes of the stored functions to compose, in application order", Required: true},
			{Name: "source", Type: ParamString, Description: "optional glue body applied around the composed functions"},
		},
		Handler: handleCompose,
	}
}

func runDefinition() *Definition {
	return &Definition{
		Name:        RunDynamicFunction,
		Description: "Execute a stored dynamic function with the given input and return its output.",
		Params: []Param{
			{Name: "hash", Type: ParamString, Description: "hash of the stored function", Required: true},
			{Name: "input", Type: ParamString, Description: "input passed to the function"},
		},
		Handler: handleRun,
	}
}

// handleGenerate records the declared dependencies against the function
// message, then resolves the resulting closure so that forbidden, missing,
// and cyclic dependencies fail the call before anything can execute it.
func handleGenerate(ctx context.Context, inv *Invocation) (any, error) {
	deps := inv.StringListArg(2)
	if err := inv.Engine.recordDependencies(ctx, inv, deps); err != nil {
		return nil, err
	}
	if _, err := inv.Engine.ResolveClosure(ctx, inv.Message.Hash); err != nil {
		return nil, err
	}
	return string(inv.Message.Hash), nil
}

func handleCompose(ctx context.Context, inv *Invocation) (any, error) {
	deps := inv.StringListArg(1)
	if len(deps) == 0 {
		return nil, fmt.Errorf("%w: %s.dependencies", ErrMissingParameter, ComposeDynamicFunctions)
	}
	if err := inv.Engine.recordDependencies(ctx, inv, deps); err != nil {
		return nil, err
	}
	if _, err := inv.Engine.ResolveClosure(ctx, inv.Message.Hash); err != nil {
		return nil, err
	}
	return string(inv.Message.Hash), nil
}

func handleRun(ctx context.Context, inv *Invocation) (any, error) {
	hash := core.Hash(inv.StringArg(0))
	return inv.Engine.ExecuteDynamic(ctx, hash, inv.StringArg(1))
}

// recordDependencies persists each named dependency against the invocation's
// function message, rejecting denylisted names up front.
func (e *Engine) recordDependencies(ctx context.Context, inv *Invocation, deps []string) error {
	for _, name := range deps {
		if _, denied := e.denylist[name]; denied {
			return fmt.Errorf("%w: %s", ErrForbiddenDependency, name)
		}
		if _, err := e.functions.AddFunctionDependency(ctx, inv.Message.Hash, inv.UUID, name); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteDynamic resolves the stored function's dependency closure and runs
// it in the configured sandbox. The returned stream carries one item per
// intermediate output; a sandbox failure surfaces as a stream error, which
// leaves the owning call without a completion marker.
func (e *Engine) ExecuteDynamic(ctx context.Context, hash core.Hash, input string) (<-chan StreamEvent, error) {
	if e.runner == nil {
		return nil, ErrRunnerRequired
	}
	if _, err := e.ResolveClosure(ctx, hash); err != nil {
		return nil, err
	}
	events, err := e.runner.Run(ctx, RunPayload{FunctionHash: hash, Input: input})
	if err != nil {
		return nil, err
	}
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for event := range events {
			switch event.Kind {
			case RunError:
				out <- StreamEvent{Err: fmt.Errorf("%w: %s", ErrInvocation, event.Text)}
				return
			case RunComplete:
				if event.Text != "" {
					out <- StreamEvent{Text: event.Text}
				}
				return
			default:
				out <- StreamEvent{Text: event.Text}
			}
		}
	}()
	return out, nil
}
