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


package core

import "errors"

// Domain errors
var (
	// ErrIntegrity indicates that a message hash already exists with a
	// different parent. This is fatal: it signals a corrupted or
	// maliciously crafted record and is never retried.
	ErrIntegrity = errors.New("message integrity violation")

	// ErrParentNotFound indicates that a candidate references a parent
	// hash that does not exist in the store.
	ErrParentNotFound = errors.New("parent message not found")

	// ErrReferential indicates that metadata was attached to a message
	// hash that does not exist in the store.
	ErrReferential = errors.New("metadata references missing message")

	// ErrRateLimited indicates that too many completion calls were
	// attempted in the configured window.
	ErrRateLimited = errors.New("completion rate limit exceeded")

	// ErrUpstream indicates that an external completion or embedding call
	// failed. It is surfaced as a conversation-level error event and does
	// not terminate the process.
	ErrUpstream = errors.New("upstream AI call failed")

	// ErrEnvelope indicates that a function message's content failed to
	// parse as a function call envelope.
	ErrEnvelope = errors.New("malformed function call envelope")

	// ErrResultsCompleted indicates an attempt to append a result or
	// dependency to a function invocation that already carries its
	// completion marker.
	ErrResultsCompleted = errors.New("function results already completed")
)

// Validation errors
var (
	// ErrInvalidCandidate indicates a Candidate failed validation.
	ErrInvalidCandidate = errors.New("invalid message candidate")

	// ErrEmptyContent indicates the Content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidRole indicates an invalid Role value.
	ErrInvalidRole = errors.New("invalid role")
)
