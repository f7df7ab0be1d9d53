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


package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
)

const defaultBatchSize = 32

// Enricher produces missing derived metadata for stored messages:
// content embeddings, summaries, and summary embeddings. Work submitted
// through Enrich runs asynchronously on worker pools; BackfillAll walks the
// whole forest synchronously.
type Enricher struct {
	messages   storage.MessageRepository
	metadata   storage.MetadataRepository
	embedder   ai.Embedder
	summarizer ai.Summarizer

	embeddingPool *ants.Pool
	summaryPool   *ants.Pool

	maxRetries     int
	retryBaseDelay time.Duration
	batchSize      int
	logger         *slog.Logger

	wg sync.WaitGroup
}

// Option configures an Enricher.
type Option func(*Enricher) error

// WithPoolSize sets the worker pool size for async enrichment.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(e *Enricher) error {
		if size < 1 {
			size = 1
		}
		if e.embeddingPool != nil {
			e.embeddingPool.Release()
		}
		if e.summaryPool != nil {
			e.summaryPool.Release()
		}
		embeddingPool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		summaryPool, err := ants.NewPool(size)
		if err != nil {
			embeddingPool.Release()
			return err
		}
		e.embeddingPool = embeddingPool
		e.summaryPool = summaryPool
		return nil
	}
}

// WithRetry configures the retry policy for AI calls.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Enricher) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		e.maxRetries = maxAttempts
		e.retryBaseDelay = baseDelay
		return nil
	}
}

// WithBatchSize sets how many messages BackfillAll embeds per batch.
func WithBatchSize(size int) Option {
	return func(e *Enricher) error {
		if size < 1 {
			size = 1
		}
		e.batchSize = size
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enricher) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEnricher creates an enricher over the given repositories and provider.
func NewEnricher(
	messages storage.MessageRepository,
	metadata storage.MetadataRepository,
	provider ai.AIProvider,
	opts ...Option,
) (*Enricher, error) {
	if messages == nil {
		return nil, ErrMessageRepositoryRequired
	}
	if metadata == nil {
		return nil, ErrMetadataRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	embeddingPool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	summaryPool, err := ants.NewPool(poolSize)
	if err != nil {
		embeddingPool.Release()
		return nil, err
	}

	e := &Enricher{
		messages:       messages,
		metadata:       metadata,
		embedder:       provider.Embedder(),
		summarizer:     provider.Summarizer(),
		embeddingPool:  embeddingPool,
		summaryPool:    summaryPool,
		maxRetries:     3,
		retryBaseDelay: time.Second,
		batchSize:      defaultBatchSize,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(e); optErr != nil {
			e.Release()
			return nil, optErr
		}
	}
	return e, nil
}

// Enrich submits the messages for async enrichment. Errors during
// processing are logged but never surfaced to the caller.
func (e *Enricher) Enrich(hashes ...core.Hash) {
	if len(hashes) == 0 {
		return
	}
	batch := make([]core.Hash, len(hashes))
	copy(batch, hashes)

	e.wg.Add(1)
	if err := e.embeddingPool.Submit(func() {
		defer e.wg.Done()
		if _, err := e.processEmbeddings(context.Background(), batch); err != nil {
			e.logger.Error("error processing embeddings", "err", err)
		}
	}); err != nil {
		e.wg.Done()
		e.logger.Error("error submitting embedding work", "err", err)
	}
	e.wg.Add(1)
	if err := e.summaryPool.Submit(func() {
		defer e.wg.Done()
		if _, err := e.processSummaries(context.Background(), batch); err != nil {
			e.logger.Error("error processing summaries", "err", err)
		}
	}); err != nil {
		e.wg.Done()
		e.logger.Error("error submitting summary work", "err", err)
	}
}

// Wait blocks until all async enrichment submitted so far has finished.
func (e *Enricher) Wait() {
	e.wg.Wait()
}

// BackfillStats reports what a backfill pass touched.
type BackfillStats struct {
	Scanned    int
	Embedded   int
	Summarized int
}

// BackfillAll walks every message in the forest and fills in missing
// metadata, batch by batch. Function messages carry machine-readable
// envelopes and are skipped. Progress may be nil.
func (e *Enricher) BackfillAll(ctx context.Context, progress *ProgressTracker) (*BackfillStats, error) {
	stats := &BackfillStats{}
	batch := make([]core.Hash, 0, e.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		embedded, err := e.processEmbeddings(ctx, batch)
		if err != nil {
			return err
		}
		summarized, err := e.processSummaries(ctx, batch)
		if err != nil {
			return err
		}
		stats.Embedded += embedded
		stats.Summarized += summarized
		if progress != nil {
			progress.Increment(len(batch))
		}
		batch = batch[:0]
		return nil
	}

	for visit := range e.messages.Descendants(ctx, core.RootHash, 0) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if visit.Err != nil {
			return stats, visit.Err
		}
		stats.Scanned++
		if visit.Message.Role == core.RoleFunction {
			continue
		}
		batch = append(batch, visit.Message.Hash)
		if len(batch) >= e.batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// processEmbeddings embeds the messages in the batch that have no stored
// embedding yet and returns how many it embedded.
func (e *Enricher) processEmbeddings(ctx context.Context, hashes []core.Hash) (int, error) {
	var pending []*core.PersistedMessage
	for _, hash := range hashes {
		if _, err := e.metadata.GetEmbedding(ctx, hash); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
		msg, err := e.messages.GetMessage(ctx, hash)
		if err != nil {
			return 0, err
		}
		pending = append(pending, msg)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, msg := range pending {
		texts[i] = msg.Content
	}
	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var embedErr error
		vectors, embedErr = e.embedder.EmbedTexts(ctx, texts)
		return embedErr
	}, e.maxRetries, e.retryBaseDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings after %d attempts: %w", e.maxRetries, err)
	}
	if len(vectors) != len(pending) {
		return 0, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(pending), len(vectors))
	}

	for i, msg := range pending {
		if _, err := e.metadata.SaveEmbedding(ctx, msg.Hash, vectors[i]); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// processSummaries summarizes each message in the batch that has no stored
// summary, then embeds any summary lacking a summary embedding.
func (e *Enricher) processSummaries(ctx context.Context, hashes []core.Hash) (int, error) {
	summarized := 0
	for _, hash := range hashes {
		summary, err := e.summaryFor(ctx, hash, &summarized)
		if err != nil {
			return summarized, err
		}
		if summary == "" {
			continue
		}
		if _, err := e.metadata.GetSummaryEmbedding(ctx, hash); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return summarized, err
		}
		var vector []float32
		err = RetryWithBackoff(ctx, func() error {
			var embedErr error
			vector, embedErr = e.embedder.EmbedText(ctx, summary)
			return embedErr
		}, e.maxRetries, e.retryBaseDelay)
		if err != nil {
			return summarized, err
		}
		if _, err := e.metadata.SaveSummaryEmbedding(ctx, hash, vector); err != nil {
			return summarized, err
		}
	}
	return summarized, nil
}

// summaryFor returns the message's summary, producing and storing it first
// if absent.
func (e *Enricher) summaryFor(ctx context.Context, hash core.Hash, summarized *int) (string, error) {
	record, err := e.metadata.GetSummary(ctx, hash)
	if err == nil {
		return record.Summary, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	msg, err := e.messages.GetMessage(ctx, hash)
	if err != nil {
		return "", err
	}
	var summary string
	err = RetryWithBackoff(ctx, func() error {
		var sumErr error
		summary, sumErr = e.summarizer.SummarizeText(ctx, msg.Content)
		return sumErr
	}, e.maxRetries, e.retryBaseDelay)
	if err != nil {
		return "", err
	}
	if _, err := e.metadata.SaveSummary(ctx, hash, summary); err != nil {
		return "", err
	}
	*summarized++
	return summary, nil
}

// Release releases the worker pools. The enricher must not be used after
// calling Release.
func (e *Enricher) Release() {
	if e.embeddingPool != nil {
		e.embeddingPool.Release()
	}
	if e.summaryPool != nil {
		e.summaryPool.Release()
	}
}
