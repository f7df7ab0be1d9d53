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


package badger

// NewMemoryRepositories creates in-memory message, metadata and function
// repositories for testing. Returns messages, metadata, functions, backend,
// and error. Caller must close the repos and backend when done.
func NewMemoryRepositories() (*MessageRepository, *MetadataRepository, *FunctionRepository, *Backend, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	messages, err := NewMessageRepository(backend)
	if err != nil {
		backend.Close()
		return nil, nil, nil, nil, err
	}

	metadata := NewMetadataRepository(backend, messages)

	functions, err := NewFunctionRepository(backend)
	if err != nil {
		messages.Close()
		backend.Close()
		return nil, nil, nil, nil, err
	}

	return messages, metadata, functions, backend, nil
}
