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
	"strings"
	"time"

	"github.com/poiesic/arbor/conversation"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/pipeline"
)

// RAG is the retrieval-augmented generation builtin.
const RAG = "rag"

// noSupplementsMarker is sent when the retrieval function produced nothing.
const noSupplementsMarker = "No supplemental messages were found for this query."

const ragTimeout = 2 * time.Minute

// ErrProviderRequired is returned when rag runs without an AI provider.
var ErrProviderRequired = errors.New("ai provider is required")

func ragDefinition() *Definition {
	return &Definition{
		Name:        RAG,
		Description: "Answer a query with retrieval-augmented generation: run a stored retrieval function, feed its output to a fresh completion over the current conversation, and relay the answer.",
		Params: []Param{
			{Name: "hash", Type: ParamString, Description: "hash of the stored retrieval function", Required: true},
			{Name: "query", Type: ParamString, Description: "query passed to the retrieval function", Required: true},
		},
		Handler: handleRAG,
	}
}

// handleRAG runs a stored retrieval function, then spins up a throwaway
// conversation seeded from the call's parent to answer the query over the
// retrieved supplements. The nested assistant's typing and answer are
// relayed into the originating conversation; the throwaway conversation is
// torn down as soon as its first answer arrives.
func handleRAG(ctx context.Context, inv *Invocation) (any, error) {
	e := inv.Engine
	if e.provider == nil {
		return nil, ErrProviderRequired
	}
	ctx, cancel := context.WithTimeout(ctx, ragTimeout)
	defer cancel()

	supplements, err := e.retrieve(ctx, core.Hash(inv.StringArg(0)), inv.StringArg(1))
	if err != nil {
		return nil, err
	}

	answer, err := e.answerWithSupplements(ctx, inv, supplements)
	if err != nil {
		return nil, err
	}
	if err := e.relay(inv.Conv, answer); err != nil {
		return nil, err
	}
	return supplements, nil
}

// retrieve executes the retrieval function and collects its output chunks.
func (e *Engine) retrieve(ctx context.Context, hash core.Hash, query string) ([]string, error) {
	stream, err := e.ExecuteDynamic(ctx, hash, query)
	if err != nil {
		return nil, err
	}
	var supplements []string
	for event := range stream {
		if event.Err != nil {
			return nil, event.Err
		}
		if event.Text != "" {
			supplements = append(supplements, event.Text)
		}
	}
	return supplements, nil
}

// answerWithSupplements runs one completion in a throwaway conversation
// seeded from the invocation's parent message and returns the first
// assistant answer. Typing updates are mirrored to the originating
// conversation while the answer streams.
func (e *Engine) answerWithSupplements(ctx context.Context, inv *Invocation, supplements []string) (string, error) {
	var model []conversation.Option
	if inv.Conv != nil && inv.Conv.Model() != "" {
		model = append(model, conversation.WithModel(inv.Conv.Model()))
	}
	nested := conversation.NewConversation(model...)
	defer nested.Close()

	pipe, err := pipeline.New(nested, e.provider.Completer(), e.messages, e.metadata,
		pipeline.WithLeaf(inv.Parent),
		pipeline.WithLogger(e.logger),
	)
	if err != nil {
		return "", err
	}
	if err := pipe.Start(ctx); err != nil {
		return "", err
	}
	defer pipe.Stop()

	seeder, err := nested.AddParticipant(core.RoleSystem)
	if err != nil {
		return "", err
	}
	events, cancelEvents := nested.SubscribeMessages()
	defer cancelEvents()
	typing, cancelTyping := nested.SubscribeTyping()
	defer cancelTyping()
	go e.mirrorTyping(inv.Conv, typing)

	if err := nested.SendMessage(seeder, supplementPrompt(supplements)); err != nil {
		return "", err
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event, ok := <-events:
			if !ok {
				return "", fmt.Errorf("%w: retrieval conversation closed before answering", ErrInvocation)
			}
			if event.Err != nil {
				return "", event.Err
			}
			if event.Role == core.RoleAssistant {
				return event.Content, nil
			}
		}
	}
}

// mirrorTyping forwards the nested assistant's typing states to the
// originating conversation through a transient assistant participant.
func (e *Engine) mirrorTyping(parent *conversation.Conversation, typing <-chan conversation.TypingEvent) {
	if parent == nil {
		return
	}
	relay, err := parent.AddParticipant(core.RoleAssistant)
	if err != nil {
		return
	}
	defer parent.RemoveParticipant(relay)
	for event := range typing {
		text := ""
		for _, state := range event.States {
			if state != "" {
				text = state
				break
			}
		}
		if err := parent.TypeMessage(relay, text); err != nil {
			return
		}
	}
}

// relay publishes the nested answer into the originating conversation.
func (e *Engine) relay(parent *conversation.Conversation, answer string) error {
	if parent == nil || answer == "" {
		return nil
	}
	p, err := parent.AddParticipant(core.RoleAssistant)
	if err != nil {
		return err
	}
	defer parent.RemoveParticipant(p)
	return parent.SendMessage(p, answer)
}

func supplementPrompt(supplements []string) string {
	if len(supplements) == 0 {
		return noSupplementsMarker
	}
	var b strings.Builder
	b.WriteString("Supplemental messages retrieved for the pending query. Use them to answer.\n")
	for _, s := range supplements {
		fmt.Fprintf(&b, "\n```\n%s\n```\n", s)
	}
	return b.String()
}
