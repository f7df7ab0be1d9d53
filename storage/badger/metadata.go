package badger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
	"golang.org/x/sync/errgroup"
)

// MetadataRepository implements storage.MetadataRepository for BadgerDB.
// All saves are write-once: an existing record is returned unchanged, and
// inserts verify the owning message exists in the same transaction.
type MetadataRepository struct {
	backend  *Backend
	messages *MessageRepository
	logger   *slog.Logger
}

var _ storage.MetadataRepository = (*MetadataRepository)(nil)

// NewMetadataRepository creates a new MetadataRepository layered on the
// message repository.
func NewMetadataRepository(backend *Backend, messages *MessageRepository) *MetadataRepository {
	return &MetadataRepository{
		backend:  backend,
		messages: messages,
		logger:   slog.Default().With("component", "metadata-repository"),
	}
}

// Close releases repository resources. The underlying backend is owned by
// the caller.
func (r *MetadataRepository) Close() error {
	return nil
}

// requireMessage returns core.ErrReferential unless the message exists.
func requireMessage(tx *badger.Txn, hash core.Hash) error {
	m, err := readMessage(tx, makeMessageKey(hash))
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", core.ErrReferential, hash.Short())
	}
	return nil
}

// GetEmbedding retrieves the embedding record for a message hash.
func (r *MetadataRepository) GetEmbedding(ctx context.Context, hash core.Hash) (*core.EmbeddingRecord, error) {
	var result *core.EmbeddingRecord
	err := r.backend.WithView(func(tx *badger.Txn) error {
		item, err := tx.Get(makeEmbeddingKey(hash))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			result, err = storage.UnmarshalEmbedding(val)
			return err
		})
	})
	return result, err
}

// SaveEmbedding stores an embedding record for a message, idempotently.
func (r *MetadataRepository) SaveEmbedding(ctx context.Context, hash core.Hash, vector []float32) (*core.EmbeddingRecord, error) {
	var result *core.EmbeddingRecord
	err := r.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makeEmbeddingKey(hash)
		if item, err := tx.Get(key); err == nil {
			return item.Value(func(val []byte) error {
				var unmarshalErr error
				result, unmarshalErr = storage.UnmarshalEmbedding(val)
				return unmarshalErr
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := requireMessage(tx, hash); err != nil {
			return err
		}

		result = &core.EmbeddingRecord{MessageHash: hash, Vector: vector, CreatedAt: time.Now().UTC()}
		return tx.Set(key, storage.MarshalEmbedding(result))
	})
	return result, err
}

// GetSummary retrieves the summary record for a message hash.
func (r *MetadataRepository) GetSummary(ctx context.Context, hash core.Hash) (*core.SummaryRecord, error) {
	var result *core.SummaryRecord
	err := r.backend.WithView(func(tx *badger.Txn) error {
		item, err := tx.Get(makeSummaryKey(hash))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			result, err = storage.UnmarshalSummary(val)
			return err
		})
	})
	return result, err
}

// SaveSummary stores a summary record for a message, idempotently.
func (r *MetadataRepository) SaveSummary(ctx context.Context, hash core.Hash, summary string) (*core.SummaryRecord, error) {
	var result *core.SummaryRecord
	err := r.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makeSummaryKey(hash)
		if item, err := tx.Get(key); err == nil {
			return item.Value(func(val []byte) error {
				var unmarshalErr error
				result, unmarshalErr = storage.UnmarshalSummary(val)
				return unmarshalErr
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := requireMessage(tx, hash); err != nil {
			return err
		}

		result = &core.SummaryRecord{MessageHash: hash, Summary: summary, CreatedAt: time.Now().UTC()}
		return tx.Set(key, storage.MarshalSummary(result))
	})
	return result, err
}

// GetSummaryEmbedding retrieves the summary embedding record for a message hash.
func (r *MetadataRepository) GetSummaryEmbedding(ctx context.Context, hash core.Hash) (*core.SummaryEmbeddingRecord, error) {
	var result *core.SummaryEmbeddingRecord
	err := r.backend.WithView(func(tx *badger.Txn) error {
		item, err := tx.Get(makeSummaryEmbeddingKey(hash))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			result, err = storage.UnmarshalSummaryEmbedding(val)
			return err
		})
	})
	return result, err
}

// SaveSummaryEmbedding stores a summary embedding record, idempotently.
func (r *MetadataRepository) SaveSummaryEmbedding(ctx context.Context, hash core.Hash, vector []float32) (*core.SummaryEmbeddingRecord, error) {
	var result *core.SummaryEmbeddingRecord
	err := r.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makeSummaryEmbeddingKey(hash)
		if item, err := tx.Get(key); err == nil {
			return item.Value(func(val []byte) error {
				var unmarshalErr error
				result, unmarshalErr = storage.UnmarshalSummaryEmbedding(val)
				return unmarshalErr
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := requireMessage(tx, hash); err != nil {
			return err
		}

		result = &core.SummaryEmbeddingRecord{MessageHash: hash, Vector: vector, CreatedAt: time.Now().UTC()}
		return tx.Set(key, storage.MarshalSummaryEmbedding(result))
	})
	return result, err
}

// SaveMessageWithMetadata persists the candidate, then runs the producers
// whose metadata is absent. The embedding and summary producers run
// concurrently; the summary embedding producer waits on the summary. The
// message itself is durable before any producer runs, so producer failures
// leave a message that can be enriched again later.
func (r *MetadataRepository) SaveMessageWithMetadata(ctx context.Context, cand *core.Candidate, producers storage.MetadataProducers) (*core.PersistedMessage, error) {
	msg, err := r.messages.SaveMessage(ctx, cand)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	if producers.Embedding != nil {
		g.Go(func() error {
			if _, err := r.GetEmbedding(gctx, msg.Hash); err == nil {
				return nil
			} else if err != storage.ErrNotFound {
				return err
			}
			vector, err := producers.Embedding(gctx, msg.Content)
			if err != nil {
				return err
			}
			_, err = r.SaveEmbedding(gctx, msg.Hash, vector)
			return err
		})
	}

	if producers.Summary != nil || producers.SummaryEmbedding != nil {
		g.Go(func() error {
			var summary string
			existing, err := r.GetSummary(gctx, msg.Hash)
			switch err {
			case nil:
				summary = existing.Summary
			case storage.ErrNotFound:
				if producers.Summary == nil {
					return nil
				}
				summary, err = producers.Summary(gctx, msg.Content)
				if err != nil {
					return err
				}
				if _, err := r.SaveSummary(gctx, msg.Hash, summary); err != nil {
					return err
				}
			default:
				return err
			}

			if producers.SummaryEmbedding == nil {
				return nil
			}
			if _, err := r.GetSummaryEmbedding(gctx, msg.Hash); err == nil {
				return nil
			} else if err != storage.ErrNotFound {
				return err
			}
			vector, err := producers.SummaryEmbedding(gctx, summary)
			if err != nil {
				return err
			}
			_, err = r.SaveSummaryEmbedding(gctx, msg.Hash, vector)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return msg, err
	}
	return msg, nil
}

// AddPin marks a message as externally archived, idempotently.
func (r *MetadataRepository) AddPin(ctx context.Context, hash core.Hash, remoteAt time.Time) (*core.PinRecord, error) {
	var result *core.PinRecord
	err := r.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makePinKey(hash)
		if item, err := tx.Get(key); err == nil {
			return item.Value(func(val []byte) error {
				var unmarshalErr error
				result, unmarshalErr = storage.UnmarshalPin(val)
				return unmarshalErr
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := requireMessage(tx, hash); err != nil {
			return err
		}

		result = &core.PinRecord{MessageHash: hash, RemoteAt: remoteAt.UTC(), CreatedAt: time.Now().UTC()}
		return tx.Set(key, storage.MarshalPin(result))
	})
	return result, err
}

// RemovePin removes a pin. Removing an absent pin is a no-op.
func (r *MetadataRepository) RemovePin(ctx context.Context, hash core.Hash) error {
	return r.backend.WithUpdate(func(tx *badger.Txn) error {
		return tx.Delete(makePinKey(hash))
	})
}

// HasPin reports whether a pin exists for the message hash.
func (r *MetadataRepository) HasPin(ctx context.Context, hash core.Hash) (bool, error) {
	var found bool
	err := r.backend.WithView(func(tx *badger.Txn) error {
		_, err := tx.Get(makePinKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// ListPinned returns all pin records.
func (r *MetadataRepository) ListPinned(ctx context.Context) ([]*core.PinRecord, error) {
	var results []*core.PinRecord
	err := r.backend.WithView(func(tx *badger.Txn) error {
		prefix := []byte(pinPrefix + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var pin *core.PinRecord
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				pin, err = storage.UnmarshalPin(val)
				return err
			}); err != nil {
				return err
			}
			results = append(results, pin)
		}
		return nil
	})
	return results, err
}
