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


package arbor

import (
	"log/slog"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/ai/openai"
	"github.com/poiesic/arbor/enrich"
	"github.com/poiesic/arbor/functions"
	"github.com/poiesic/arbor/search"
	"github.com/poiesic/arbor/storage"
	"github.com/poiesic/arbor/storage/badger"
)

// Store is the root aggregate: the message forest, its derived metadata,
// function invocation records, and the AI provider, opened together over
// one badger database.
type Store struct {
	backend      *badger.Backend
	messageRepo  storage.MessageRepository
	metadataRepo storage.MetadataRepository
	functionRepo storage.FunctionRepository
	provider     ai.AIProvider
	logger       *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	aiConfig *ai.Config
	provider ai.AIProvider
	inMemory bool
}

// WithAIConfig sets the AI provider configuration.
func WithAIConfig(config *ai.Config) StoreOption {
	return func(o *storeOptions) {
		if config != nil {
			o.aiConfig = config
		}
	}
}

// WithAIProvider injects an already-built provider instead of dialing the
// configured hosts. Useful for tests.
func WithAIProvider(provider ai.AIProvider) StoreOption {
	return func(o *storeOptions) {
		o.provider = provider
	}
}

// WithInMemory opens the store without touching disk.
func WithInMemory() StoreOption {
	return func(o *storeOptions) {
		o.inMemory = true
	}
}

// NewStore opens the store at filePath.
func NewStore(filePath string, opts ...StoreOption) (*Store, error) {
	options := &storeOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	messageRepo, err := badger.NewMessageRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	metadataRepo := badger.NewMetadataRepository(backend, messageRepo)
	functionRepo, err := badger.NewFunctionRepository(backend)
	if err != nil {
		messageRepo.Close()
		backend.Close()
		return nil, err
	}

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			functionRepo.Close()
			messageRepo.Close()
			backend.Close()
			return nil, err
		}
	}

	return &Store{
		backend:      backend,
		messageRepo:  messageRepo,
		metadataRepo: metadataRepo,
		functionRepo: functionRepo,
		provider:     provider,
		logger:       slog.Default(),
	}, nil
}

// Close releases the provider, the repositories, and the backend.
func (s *Store) Close() error {
	if err := s.provider.Close(); err != nil {
		s.logger.Error("error closing AI provider", "err", err)
	}
	if err := s.functionRepo.Close(); err != nil {
		s.logger.Error("error closing function repository", "err", err)
		return err
	}
	if err := s.metadataRepo.Close(); err != nil {
		s.logger.Error("error closing metadata repository", "err", err)
		return err
	}
	if err := s.messageRepo.Close(); err != nil {
		s.logger.Error("error closing message repository", "err", err)
		return err
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

// MessageRepository returns the message forest repository.
func (s *Store) MessageRepository() storage.MessageRepository {
	return s.messageRepo
}

// MetadataRepository returns the derived metadata repository.
func (s *Store) MetadataRepository() storage.MetadataRepository {
	return s.metadataRepo
}

// FunctionRepository returns the function invocation repository.
func (s *Store) FunctionRepository() storage.FunctionRepository {
	return s.functionRepo
}

// Provider returns the AI provider.
func (s *Store) Provider() ai.AIProvider {
	return s.provider
}

// NewSearcher builds a similarity searcher over the store.
func (s *Store) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(s.messageRepo, s.metadataRepo, s.provider.Embedder(), opts...)
}

// NewEnricher builds a metadata enricher over the store.
func (s *Store) NewEnricher(opts ...enrich.Option) (*enrich.Enricher, error) {
	return enrich.NewEnricher(s.messageRepo, s.metadataRepo, s.provider, opts...)
}

// NewEngine builds a function-calling engine with the builtin functions
// registered and the store's searcher and provider wired in.
func (s *Store) NewEngine(opts ...functions.EngineOption) (*functions.Engine, error) {
	registry := functions.NewRegistry()
	if err := functions.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	searcher, err := s.NewSearcher()
	if err != nil {
		return nil, err
	}
	base := []functions.EngineOption{
		functions.WithSearcher(searcher),
		functions.WithProvider(s.provider),
	}
	return functions.NewEngine(registry, s.messageRepo, s.metadataRepo, s.functionRepo, append(base, opts...)...)
}

// Producers returns metadata producers backed by the store's provider, for
// wiring into pipelines so new messages are enriched as they are saved.
func (s *Store) Producers() storage.MetadataProducers {
	embedder := s.provider.Embedder()
	summarizer := s.provider.Summarizer()
	return storage.MetadataProducers{
		Embedding:        embedder.EmbedText,
		Summary:          summarizer.SummarizeText,
		SummaryEmbedding: embedder.EmbedText,
	}
}
