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
	"sort"
	"sync"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/conversation"
	"github.com/poiesic/arbor/core"
)

// ParamType enumerates the parameter types a function may declare.
type ParamType string

const (
	ParamString     ParamType = "string"
	ParamNumber     ParamType = "number"
	ParamBool       ParamType = "boolean"
	ParamStringList ParamType = "string-list"
	ParamStringMap  ParamType = "string-map"
)

// Param declares one positional parameter of a registered function.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// StreamEvent is one item of a streaming function outcome. A non-nil Err
// aborts accumulation and leaves the call without a completion marker.
type StreamEvent struct {
	Text string
	Err  error
}

// Invocation carries everything an implementation needs for one call.
// Args holds the coerced parameter values in declaration order.
type Invocation struct {
	UUID    string
	Args    []any
	Call    *ai.ToolCall
	Message *core.PersistedMessage
	Conv    *conversation.Conversation
	Engine  *Engine
	Parent  core.Hash
}

// Arg returns the positional argument at i, or nil when the optional
// parameter was omitted.
func (inv *Invocation) Arg(i int) any {
	if i < 0 || i >= len(inv.Args) {
		return nil
	}
	return inv.Args[i]
}

// StringArg returns the positional argument at i as a string.
func (inv *Invocation) StringArg(i int) string {
	s, _ := inv.Arg(i).(string)
	return s
}

// NumberArg returns the positional argument at i as a float64.
func (inv *Invocation) NumberArg(i int) float64 {
	n, _ := inv.Arg(i).(float64)
	return n
}

// StringListArg returns the positional argument at i as a string slice.
func (inv *Invocation) StringListArg(i int) []string {
	l, _ := inv.Arg(i).([]string)
	return l
}

// Handler implements a registered function. The returned outcome may be a
// string (one payload), a []string (one payload each), a <-chan StreamEvent
// (one payload per event, completion on close), or nil (no payloads). Any
// other type is an invocation error.
type Handler func(ctx context.Context, inv *Invocation) (any, error)

// Definition describes one callable function: its name, the positional
// parameter schema exposed to the model, and the implementation.
type Definition struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty function name", core.ErrInvalidCandidate)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvocation, d.Name)
	}
	for _, p := range d.Params {
		switch p.Type {
		case ParamString, ParamNumber, ParamBool, ParamStringList, ParamStringMap:
		default:
			return fmt.Errorf("%w: %s.%s declares %q", ErrUnsupportedParameterType, d.Name, p.Name, p.Type)
		}
	}
	return nil
}

// schema renders the JSON-schema object the completion API expects.
func (d *Definition) schema() map[string]any {
	properties := make(map[string]any, len(d.Params))
	required := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		var prop map[string]any
		switch p.Type {
		case ParamNumber:
			prop = map[string]any{"type": "number"}
		case ParamBool:
			prop = map[string]any{"type": "boolean"}
		case ParamStringList:
			prop = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
		case ParamStringMap:
			prop = map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}}
		default:
			prop = map[string]any{"type": "string"}
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Registry holds the set of callable functions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition, rejecting duplicates and invalid schemas.
func (r *Registry) Register(def *Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	return def, nil
}

// Names returns the registered function names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns tool definitions for the named functions, skipping
// unknown names. An empty names slice exposes every registered function.
func (r *Registry) Definitions(names []string) []ai.ToolDefinition {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]ai.ToolDefinition, 0, len(names))
	for _, name := range names {
		def, ok := r.defs[name]
		if !ok {
			continue
		}
		tools = append(tools, ai.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.schema(),
		})
	}
	return tools
}

// coerceArgs maps the decoded argument object onto the declared positional
// parameters, converting each value to its Go representation.
func coerceArgs(def *Definition, params map[string]any) ([]any, error) {
	args := make([]any, len(def.Params))
	for i, p := range def.Params {
		raw, ok := params[p.Name]
		if !ok || raw == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: %s.%s", ErrMissingParameter, def.Name, p.Name)
			}
			continue
		}
		coerced, err := coerceValue(p.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvocation, def.Name, p.Name, err)
		}
		args[i] = coerced
	}
	return args, nil
}

func coerceValue(t ParamType, raw any) (any, error) {
	switch t {
	case ParamString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case ParamNumber:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
		return nil, fmt.Errorf("expected number, got %T", raw)
	case ParamBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}
		return b, nil
	case ParamStringList:
		switch l := raw.(type) {
		case []string:
			return l, nil
		case []any:
			out := make([]string, len(l))
			for i, v := range l {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("expected string at index %d, got %T", i, v)
				}
				out[i] = s
			}
			return out, nil
		}
		return nil, fmt.Errorf("expected string array, got %T", raw)
	case ParamStringMap:
		switch m := raw.(type) {
		case map[string]string:
			return m, nil
		case map[string]any:
			out := make(map[string]string, len(m))
			for k, v := range m {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("expected string for key %q, got %T", k, v)
				}
				out[k] = s
			}
			return out, nil
		}
		return nil, fmt.Errorf("expected string map, got %T", raw)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedParameterType, t)
}
