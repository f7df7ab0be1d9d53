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
	"errors"
	"fmt"

	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
)

// Closure is the resolved dependency tree of a dynamic function. Builtin
// leaves carry only a name; dynamic nodes carry the function message hash
// and the stored source body.
type Closure struct {
	Name         string
	Hash         core.Hash
	Source       string
	Builtin      bool
	Dependencies []*Closure
}

// Flatten returns the closure's nodes in dependency-first order, each hash
// or builtin name at most once.
func (c *Closure) Flatten() []*Closure {
	seen := make(map[string]struct{})
	var out []*Closure
	var walk func(node *Closure)
	walk = func(node *Closure) {
		key := node.Name
		if !node.Builtin {
			key = string(node.Hash)
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		for _, dep := range node.Dependencies {
			walk(dep)
		}
		out = append(out, node)
	}
	walk(c)
	return out
}

// ResolveClosure resolves the full dependency tree of the dynamic function
// stored at hash. Resolution fails fast: a denylisted name yields
// ErrForbiddenDependency, a name that is neither registered nor a stored
// function message yields ErrMissingDependency, and revisiting a hash
// already on the resolution path yields ErrDependencyCycle.
func (e *Engine) ResolveClosure(ctx context.Context, hash core.Hash) (*Closure, error) {
	return e.resolveClosure(ctx, hash, make(map[core.Hash]struct{}))
}

func (e *Engine) resolveClosure(ctx context.Context, hash core.Hash, path map[core.Hash]struct{}) (*Closure, error) {
	if _, ok := path[hash]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, hash.Short())
	}
	path[hash] = struct{}{}
	defer delete(path, hash)

	msg, err := e.messages.GetMessage(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, hash.Short())
		}
		return nil, err
	}
	if msg.Role != core.RoleFunction {
		return nil, fmt.Errorf("%w: %s is not a function message", ErrMissingDependency, hash.Short())
	}
	envelope, err := core.ParseEnvelope(msg.Content)
	if err != nil {
		return nil, err
	}

	node := &Closure{
		Name:   dynamicName(envelope),
		Hash:   hash,
		Source: dynamicSource(envelope),
	}
	deps, err := e.functions.FunctionDependencies(ctx, hash)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		resolved, err := e.resolveDependency(ctx, dep.Name, path)
		if err != nil {
			return nil, err
		}
		node.Dependencies = append(node.Dependencies, resolved)
	}
	return node, nil
}

// resolveDependency maps a recorded dependency name to a closure node.
// Registered function names resolve to builtin leaves; anything else is
// treated as a function message hash and resolved recursively.
func (e *Engine) resolveDependency(ctx context.Context, name string, path map[core.Hash]struct{}) (*Closure, error) {
	if _, denied := e.denylist[name]; denied {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenDependency, name)
	}
	if _, err := e.registry.Get(name); err == nil {
		return &Closure{Name: name, Builtin: true}, nil
	}
	return e.resolveClosure(ctx, core.Hash(name), path)
}

func dynamicName(envelope *core.FunctionCallEnvelope) string {
	if name, ok := envelope.Parameters["name"].(string); ok && name != "" {
		return name
	}
	return envelope.Name
}

func dynamicSource(envelope *core.FunctionCallEnvelope) string {
	source, _ := envelope.Parameters["source"].(string)
	return source
}
