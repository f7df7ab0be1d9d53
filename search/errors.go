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


package search

import "errors"

var (
	// ErrMessageRepositoryRequired is returned when a message repository is not provided.
	ErrMessageRepositoryRequired = errors.New("message repository required")

	// ErrMetadataRepositoryRequired is returned when a metadata repository is not provided.
	ErrMetadataRepositoryRequired = errors.New("metadata repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrDimensionMismatch is returned when a stored vector and the query
	// vector have different lengths.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyQuery is returned when the query vector has no components.
	ErrEmptyQuery = errors.New("empty query vector")
)
