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


// Package storage provides the storage abstraction layer for arbor.
//
// This package defines repository interfaces that decouple storage
// implementation from the conversation engine. It allows different storage
// backends (BadgerDB, in-memory, etc.) to be used interchangeably.
//
// # Repositories
//
//   - MessageRepository: the content-addressed, append-only message forest
//   - MetadataRepository: per-message derived metadata (embeddings,
//     summaries, summary embeddings, pins) with referential integrity
//     against the message forest
//   - FunctionRepository: ordered function invocation results and
//     dynamic-function dependency records
//
// # Constructor Return Type Pattern
//
// Public constructors return interfaces to enforce abstraction:
//
//	messages, err := badger.NewMessageRepository(backend)  // storage.MessageRepository
//
// Internal constructors may return concrete types since they're only used
// within the implementation package.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support concurrent
// access from multiple goroutines. Concurrent saves of the same message
// hash must be safe to race: check-then-insert is serialized per record by
// the backend's transaction conflict detection.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation. Lazy
// traversals stop issuing lookups once the context is cancelled.
package storage
