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


// Package ai provides abstractions for AI services used in Arbor.
//
// This package defines interfaces for AI operations including streaming
// chat completions, text embeddings, and summarization. It follows the
// dependency inversion principle, allowing the core domain and business
// logic to depend on abstractions rather than concrete implementations.
//
// # Design Principles
//
// The package is designed around four key interfaces:
//
//   - Completer: Streams chat completions, including tool call requests
//   - Embedder: Generates vector embeddings from text
//   - Summarizer: Condenses message content into short summaries
//   - AIProvider: Aggregates AI services for convenient initialization
//
// # Implementation Packages
//
// The ai package includes two implementation sub-packages:
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Completion Streams
//
// A Completer delivers results as an ordered event stream: partial text
// fragments arrive as they are generated, tool invocations requested by
// the model arrive as call events, and a single final event carries the
// full completion text along with a truncation flag when the model hit
// its token budget.
package ai
