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


// Package search ranks stored messages by cosine similarity to a query
// vector. A search walks the descendants of a chosen message (or the whole
// store from the root), compares the query against each message's content
// or summary embedding, and returns the best hits in score order.
//
// FindSimilar is the text-level entry point: it embeds the query with the
// configured embedder, searches the whole store, and boosts hits that
// contain every significant query word verbatim.
package search
