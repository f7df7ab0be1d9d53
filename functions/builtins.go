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
	"io"
	"net/http"
	"time"

	"github.com/poiesic/arbor/core"
)

// Builtin function names.
const (
	SearchMessages = "search_messages"
	Fetch          = "fetch"
	PinMessage     = "pin_message"
	UnpinMessage   = "unpin_message"
	ListPins       = "list_pins"
)

// fetchBodyLimit caps how much of a fetched document is returned.
const fetchBodyLimit = 64 << 10

// RegisterBuiltins registers every builtin function, including the dynamic
// function family and rag.
func RegisterBuiltins(r *Registry) error {
	defs := []*Definition{
		searchDefinition(),
		fetchDefinition(),
		pinDefinition(),
		unpinDefinition(),
		listPinsDefinition(),
		generateDefinition(),
		composeDefinition(),
		runDefinition(),
		ragDefinition(),
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func searchDefinition() *Definition {
	return &Definition{
		Name:        SearchMessages,
		Description: "Search stored messages by semantic similarity to a query.",
		Params: []Param{
			{Name: "query", Type: ParamString, Description: "text to search for", Required: true},
			{Name: "limit", Type: ParamNumber, Description: "maximum number of hits, default 5"},
		},
		Handler: handleSearch,
	}
}

func handleSearch(ctx context.Context, inv *Invocation) (any, error) {
	e := inv.Engine
	if e.searcher == nil {
		return nil, fmt.Errorf("%w: no searcher configured", ErrInvocation)
	}
	limit := int(inv.NumberArg(1))
	if limit <= 0 {
		limit = 5
	}
	results, err := e.searcher.FindSimilar(ctx, inv.StringArg(0), limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return "no matching messages", nil
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = fmt.Sprintf("%s (%.3f): %s", r.Message.Hash.Short(), r.Score, r.Message.Content)
	}
	return out, nil
}

func fetchDefinition() *Definition {
	return &Definition{
		Name:        Fetch,
		Description: "Fetch a URL over HTTP and return the response body.",
		Params: []Param{
			{Name: "url", Type: ParamString, Description: "URL to fetch", Required: true},
		},
		Handler: handleFetch,
	}
}

func handleFetch(ctx context.Context, inv *Invocation) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inv.StringArg(0), nil)
	if err != nil {
		return nil, err
	}
	resp, err := inv.Engine.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: %s", inv.StringArg(0), resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return nil, err
	}
	return string(body), nil
}

func pinDefinition() *Definition {
	return &Definition{
		Name:        PinMessage,
		Description: "Pin a message, marking it as externally archived.",
		Params: []Param{
			{Name: "hash", Type: ParamString, Description: "hash of the message to pin", Required: true},
		},
		Handler: handlePin,
	}
}

func handlePin(ctx context.Context, inv *Invocation) (any, error) {
	hash := core.Hash(inv.StringArg(0))
	if _, err := inv.Engine.metadata.AddPin(ctx, hash, time.Now().UTC()); err != nil {
		return nil, err
	}
	return fmt.Sprintf("pinned %s", hash.Short()), nil
}

func unpinDefinition() *Definition {
	return &Definition{
		Name:        UnpinMessage,
		Description: "Remove a message's pin.",
		Params: []Param{
			{Name: "hash", Type: ParamString, Description: "hash of the message to unpin", Required: true},
		},
		Handler: handleUnpin,
	}
}

func handleUnpin(ctx context.Context, inv *Invocation) (any, error) {
	hash := core.Hash(inv.StringArg(0))
	if err := inv.Engine.metadata.RemovePin(ctx, hash); err != nil {
		return nil, err
	}
	return fmt.Sprintf("unpinned %s", hash.Short()), nil
}

func listPinsDefinition() *Definition {
	return &Definition{
		Name:        ListPins,
		Description: "List all pinned messages.",
		Params:      nil,
		Handler:     handleListPins,
	}
}

func handleListPins(ctx context.Context, inv *Invocation) (any, error) {
	pins, err := inv.Engine.metadata.ListPinned(ctx)
	if err != nil {
		return nil, err
	}
	if len(pins) == 0 {
		return "no pinned messages", nil
	}
	out := make([]string, len(pins))
	for i, pin := range pins {
		out[i] = fmt.Sprintf("%s pinned at %s", pin.MessageHash.Short(), pin.RemoteAt.Format(time.RFC3339))
	}
	return out, nil
}
