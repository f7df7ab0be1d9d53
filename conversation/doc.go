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


// Package conversation implements the in-memory event model for a live
// chat session.
//
// A Conversation owns a set of Participants (human or AI) and merges
// their events into two streams: an ordered outgoing-message stream with
// a bounded replay window, and a typing-state map republished on every
// update. Subscribers observe messages in publish order; late subscribers
// first receive the replay window.
//
// Conversations are never persisted. They exist while a branch of the
// message tree is open and are torn down when it is closed; persistence
// happens downstream, by subscribers that save the relayed messages.
//
// Removing a participant signals that participant's stop channel before
// detaching it, so work owned by the participant (a streaming completion,
// for example) can cancel itself cleanly.
package conversation
