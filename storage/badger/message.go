package badger

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
)

// MessageRepository implements storage.MessageRepository for BadgerDB.
type MessageRepository struct {
	backend *Backend
	seq     *badger.Sequence
	pool    *ants.Pool
	logger  *slog.Logger
}

var _ storage.MessageRepository = (*MessageRepository)(nil)

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(backend *Backend) (*MessageRepository, error) {
	seq, err := backend.GetSequence(messageSeq)
	if err != nil {
		return nil, err
	}

	poolSize := runtime.NumCPU()
	if poolSize < 2 {
		poolSize = 2
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		seq.Release()
		return nil, err
	}

	return &MessageRepository{
		backend: backend,
		seq:     seq,
		pool:    pool,
		logger:  slog.Default().With("component", "message-repository"),
	}, nil
}

// Close releases the insertion sequence and the traversal pool.
func (r *MessageRepository) Close() error {
	r.pool.Release()
	return r.seq.Release()
}

// nextSeq returns the next insertion sequence value.
// BadgerDB sequences can return 0 on first call, so we skip it.
func (r *MessageRepository) nextSeq() (uint64, error) {
	next, err := r.seq.Next()
	if err != nil {
		return 0, err
	}
	if next == 0 {
		next, err = r.seq.Next()
		if err != nil {
			return 0, err
		}
	}
	return next, nil
}

// SaveMessage persists a candidate message, idempotently by hash.
//
// If the hash already exists the stored record is returned unchanged after
// verifying its parent matches the candidate's (core.ErrIntegrity
// otherwise). A candidate with a non-root parent requires the parent to
// exist (core.ErrParentNotFound). The check-then-insert runs inside one
// write transaction; racing saves of the same hash conflict at commit and
// retry, so exactly one insert wins and the rest observe it.
func (r *MessageRepository) SaveMessage(ctx context.Context, cand *core.Candidate) (*core.PersistedMessage, error) {
	if err := core.ValidateCandidate(cand); err != nil {
		return nil, err
	}
	hash := cand.EnsureHash()

	var result *core.PersistedMessage
	err := r.backend.WithUpdate(func(tx *badger.Txn) error {
		existing, err := readMessage(tx, makeMessageKey(hash))
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Parent != cand.Parent {
				return fmt.Errorf("%w: hash %s stored with parent %s, candidate has parent %s",
					core.ErrIntegrity, hash.Short(), existing.Parent.Short(), cand.Parent.Short())
			}
			result = existing
			return nil
		}

		if !cand.Parent.IsRoot() {
			parent, err := readMessage(tx, makeMessageKey(cand.Parent))
			if err != nil {
				return err
			}
			if parent == nil {
				return fmt.Errorf("%w: %s", core.ErrParentNotFound, cand.Parent.Short())
			}
		}

		seq, err := r.nextSeq()
		if err != nil {
			return err
		}

		m := &core.PersistedMessage{
			Hash:       hash,
			Parent:     cand.Parent,
			Role:       cand.Role,
			Content:    cand.Content,
			Seq:        seq,
			InsertedAt: time.Now().UTC(),
		}

		if err := tx.Set(makeMessageKey(hash), storage.MarshalMessage(m)); err != nil {
			return err
		}
		if err := tx.Set(makeChildKey(cand.Parent, seq), storage.MarshalHash(hash)); err != nil {
			return err
		}
		result = m
		return nil
	})

	return result, err
}

// GetMessage retrieves a single message by hash.
func (r *MessageRepository) GetMessage(ctx context.Context, hash core.Hash) (*core.PersistedMessage, error) {
	var result *core.PersistedMessage
	err := r.backend.WithView(func(tx *badger.Txn) error {
		var err error
		result, err = readMessage(tx, makeMessageKey(hash))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return result, err
}

// ConversationFromLeaf walks parent links from leaf to root and returns the
// chain root-first. A broken link terminates the walk and the partial path
// below the break is returned; tolerating partial histories is deliberate.
func (r *MessageRepository) ConversationFromLeaf(ctx context.Context, leaf core.Hash) ([]*core.PersistedMessage, error) {
	var chain []*core.PersistedMessage
	err := r.backend.WithView(func(tx *badger.Txn) error {
		cursor := leaf
		for !cursor.IsRoot() {
			m, err := readMessage(tx, makeMessageKey(cursor))
			if err != nil {
				return err
			}
			if m == nil {
				if cursor == leaf {
					return storage.ErrNotFound
				}
				r.logger.Warn("broken parent link, returning partial path",
					"leaf", leaf.Short(), "missing", cursor.Short())
				break
			}
			chain = append(chain, m)
			cursor = m.Parent
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(chain)
	return chain, nil
}

// DirectChildren retrieves the immediate children of a message, most
// recently inserted first. Pass core.RootHash for the forest roots.
func (r *MessageRepository) DirectChildren(ctx context.Context, parent core.Hash) ([]*core.PersistedMessage, error) {
	var results []*core.PersistedMessage
	err := r.backend.WithView(func(tx *badger.Txn) error {
		var err error
		results, err = readChildren(tx, parent, true)
		return err
	})
	return results, err
}

// DirectSiblings retrieves the messages sharing a parent with the given
// message, itself included, in insertion order.
func (r *MessageRepository) DirectSiblings(ctx context.Context, hash core.Hash) ([]*core.PersistedMessage, error) {
	var results []*core.PersistedMessage
	err := r.backend.WithView(func(tx *badger.Txn) error {
		m, err := readMessage(tx, makeMessageKey(hash))
		if err != nil {
			return err
		}
		if m == nil {
			return storage.ErrNotFound
		}
		results, err = readChildren(tx, m.Parent, false)
		return err
	})
	return results, err
}

// Helper functions

// readMessage reads a message record from the transaction.
// Returns nil (no error) when the key is absent.
func readMessage(tx *badger.Txn, key []byte) (*core.PersistedMessage, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var m *core.PersistedMessage
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		m, unmarshalErr = storage.UnmarshalMessage(val)
		return unmarshalErr
	})
	return m, err
}

// readChildren scans the child index of a parent. Reverse iteration yields
// most recently inserted first.
func readChildren(tx *badger.Txn, parent core.Hash, reverse bool) ([]*core.PersistedMessage, error) {
	prefix := makePartialChildKey(parent)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse

	iter := tx.NewIterator(opts)
	defer iter.Close()

	start := prefix
	if reverse {
		// Seek past the last possible child key for this parent.
		start = makeChildKey(parent, ^uint64(0))
	}

	var results []*core.PersistedMessage
	for iter.Seek(start); iter.ValidForPrefix(prefix); iter.Next() {
		var childHash core.Hash
		if err := iter.Item().Value(func(val []byte) error {
			var err error
			childHash, err = storage.UnmarshalHash(val)
			return err
		}); err != nil {
			return nil, err
		}

		child, err := readMessage(tx, makeMessageKey(childHash))
		if err != nil {
			return nil, err
		}
		if child != nil {
			results = append(results, child)
		}
	}
	return results, nil
}
