package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
)

// VectorKind selects which stored vector a query is compared against.
type VectorKind int

const (
	// KindContent compares against embeddings of full message content.
	KindContent VectorKind = iota
	// KindSummary compares against embeddings of message summaries.
	KindSummary
)

// Result is a single search hit.
type Result struct {
	Message *core.PersistedMessage
	Score   float32
	Depth   int
}

// Query describes one similarity search over a message subtree.
type Query struct {
	// Vector is the query embedding.
	Vector []float32
	// Root bounds the search to descendants of this message.
	// core.RootHash searches the whole store.
	Root core.Hash
	// MaxDepth bounds traversal depth; 0 means unbounded.
	MaxDepth int
	// Kind selects content or summary vectors.
	Kind VectorKind
	// MinScore drops hits scoring below this value.
	MinScore float32
	// Limit caps the number of results. Zero means no cap.
	Limit int
}

// Searcher ranks messages in a subtree by cosine similarity to a query vector.
type Searcher struct {
	messages storage.MessageRepository
	metadata storage.MetadataRepository
	embedder ai.Embedder
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	messages storage.MessageRepository,
	metadata storage.MetadataRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Searcher, error) {
	if messages == nil {
		return nil, ErrMessageRepositoryRequired
	}
	if metadata == nil {
		return nil, ErrMetadataRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		messages: messages,
		metadata: metadata,
		embedder: embedder,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Search ranks every embedded descendant of q.Root against q.Vector.
// Messages without a stored vector of the requested kind are skipped.
func (s *Searcher) Search(ctx context.Context, q Query) ([]*Result, error) {
	return s.SearchWithMonitor(ctx, q, nil)
}

// SearchWithMonitor runs Search with per-stage callbacks.
func (s *Searcher) SearchWithMonitor(ctx context.Context, q Query, monitor SearchMonitor) ([]*Result, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if len(q.Vector) == 0 {
		return nil, ErrEmptyQuery
	}

	monitor.Start(q.Vector)

	// Hits are collected into a bounded working set: once it overflows we
	// re-sort and truncate so memory stays proportional to the limit, not
	// to the subtree size.
	overflow := 0
	if q.Limit > 0 {
		overflow = q.Limit * 4
	}

	var hits []*Result
	for visit := range s.messages.Descendants(ctx, q.Root, q.MaxDepth) {
		if visit.Err != nil {
			s.logger.Error("traversal failed during search", "err", visit.Err)
			return nil, visit.Err
		}
		monitor.Visited(visit.Message.Hash, visit.Depth)

		vector, err := s.lookupVector(ctx, q.Kind, visit.Message.Hash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				monitor.Skipped(visit.Message.Hash)
				continue
			}
			s.logger.Error("error loading vector", "hash", visit.Message.Hash.Short(), "err", err)
			return nil, err
		}

		score, err := cosineSimilarity(q.Vector, vector)
		if err != nil {
			s.logger.Error("error scoring message", "hash", visit.Message.Hash.Short(), "err", err)
			return nil, err
		}
		if score < q.MinScore {
			continue
		}

		result := &Result{Message: visit.Message, Score: score, Depth: visit.Depth}
		monitor.Hit(result)
		hits = append(hits, result)

		if overflow > 0 && len(hits) >= overflow {
			sortByScore(hits)
			hits = hits[:q.Limit]
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortByScore(hits)
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	monitor.Finish(hits)

	return hits, nil
}

// FindSimilar embeds the query text and searches the whole store.
// Hits containing every significant query word verbatim get a score boost.
// Returns up to maxHits results, ranked by relevance score.
func (s *Searcher) FindSimilar(ctx context.Context, query string, maxHits int) ([]*Result, error) {
	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	// Over-fetch so the verbatim boost can promote results past the cutoff.
	results, err := s.Search(ctx, Query{
		Vector: embedding,
		Root:   core.RootHash,
		Limit:  maxHits * 2,
	})
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		if containsAllQueryWords(result.Message.Content, query) {
			result.Score += 0.3
		}
	}

	sortByScore(results)
	if maxHits > 0 && len(results) > maxHits {
		results = results[:maxHits]
	}

	return results, nil
}

func (s *Searcher) lookupVector(ctx context.Context, kind VectorKind, hash core.Hash) ([]float32, error) {
	if kind == KindSummary {
		record, err := s.metadata.GetSummaryEmbedding(ctx, hash)
		if err != nil {
			return nil, err
		}
		return record.Vector, nil
	}
	record, err := s.metadata.GetEmbedding(ctx, hash)
	if err != nil {
		return nil, err
	}
	return record.Vector, nil
}

func sortByScore(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Stable tie-break: older messages first.
		return results[i].Message.Seq < results[j].Message.Seq
	})
}
