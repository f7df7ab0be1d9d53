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


// Package pipeline connects a live conversation to the completion API.
//
// A Pipeline subscribes to one conversation's outgoing messages,
// persists them onto the message tree, and fires a streaming completion
// whenever the conversation becomes respondable. Streamed text is
// republished as assistant typing; a finished completion becomes a sent
// message; tool calls from the model are handed to a Dispatcher, which
// records them as function messages before executing them.
//
// # Interruption
//
// A user message arriving while the assistant is mid-stream is not fed
// into the primary completion. A secondary classification call, limited
// to the append_response and cancel_response tools, decides whether the
// draft continues, is discarded, or needs no action; the outcome is
// recorded as a system message so later completions see a coherent
// history instead of an orphaned partial.
//
// # Switch semantics
//
// Completions are latest-wins: each new respondable state invalidates
// the previous in-flight completion, whose late events are discarded.
// The same discipline applies to interruption classification.
package pipeline
