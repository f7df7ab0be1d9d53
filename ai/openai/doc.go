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


// Package openai implements the ai service interfaces against
// OpenAI-compatible HTTP APIs.
//
// The implementations target local OpenAI-compatible servers (Ollama,
// LocalAI, vLLM) as well as the hosted OpenAI API. All clients are built
// on langchaingo and share the ai.Config host and model settings.
//
// Completions stream through the API's server-sent event channel; tool
// call arguments and summarizer responses pass through a small JSON
// repair step because local models occasionally emit malformed objects.
package openai
