package badger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
)

// FunctionRepository implements storage.FunctionRepository for BadgerDB.
type FunctionRepository struct {
	backend *Backend
	seq     *badger.Sequence
	logger  *slog.Logger
}

var _ storage.FunctionRepository = (*FunctionRepository)(nil)

// NewFunctionRepository creates a new FunctionRepository.
func NewFunctionRepository(backend *Backend) (*FunctionRepository, error) {
	seq, err := backend.GetSequence(resultSeq)
	if err != nil {
		return nil, err
	}

	return &FunctionRepository{
		backend: backend,
		seq:     seq,
		logger:  slog.Default().With("component", "function-repository"),
	}, nil
}

// Close releases the result sequence.
func (r *FunctionRepository) Close() error {
	return r.seq.Release()
}

// nextSeq returns the next result sequence value, skipping the 0 BadgerDB
// sequences can return on first call.
func (r *FunctionRepository) nextSeq() (uint64, error) {
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

// isCompleted reports whether the invocation's completion marker exists.
func isCompleted(tx *badger.Txn, uuid string) (bool, error) {
	_, err := tx.Get(makeResultDoneKey(uuid))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AppendFunctionResult adds a payload record to an invocation's ordered
// result sequence. The sequence is global and monotonic, which preserves
// per-invocation emission order.
func (r *FunctionRepository) AppendFunctionResult(ctx context.Context, uuid string, payload string) (*core.FunctionResult, error) {
	var result *core.FunctionResult
	err := r.backend.WithUpdate(func(tx *badger.Txn) error {
		done, err := isCompleted(tx, uuid)
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("%w: %s", core.ErrResultsCompleted, uuid)
		}

		seq, err := r.nextSeq()
		if err != nil {
			return err
		}

		result = &core.FunctionResult{UUID: uuid, Seq: seq, Result: payload}
		return tx.Set(makeResultKey(uuid, seq), storage.MarshalFunctionResult(result))
	})
	return result, err
}

// CompleteFunction writes the invocation's terminal completion marker.
func (r *FunctionRepository) CompleteFunction(ctx context.Context, uuid string) (*core.FunctionResult, error) {
	var result *core.FunctionResult
	err := r.backend.WithUpdate(func(tx *badger.Txn) error {
		done, err := isCompleted(tx, uuid)
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("%w: %s", core.ErrResultsCompleted, uuid)
		}

		seq, err := r.nextSeq()
		if err != nil {
			return err
		}

		result = &core.FunctionResult{UUID: uuid, Seq: seq, Completed: true}
		return tx.Set(makeResultDoneKey(uuid), storage.MarshalFunctionResult(result))
	})
	return result, err
}

// FunctionResults returns payload records in append order, followed by the
// completion marker if the invocation has completed. Callers must treat a
// missing marker as "still streaming or failed", never as empty.
func (r *FunctionRepository) FunctionResults(ctx context.Context, uuid string) ([]*core.FunctionResult, error) {
	var results []*core.FunctionResult
	err := r.backend.WithView(func(tx *badger.Txn) error {
		prefix := makePartialResultKey(uuid)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var rec *core.FunctionResult
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				rec, err = storage.UnmarshalFunctionResult(val)
				return err
			}); err != nil {
				return err
			}
			results = append(results, rec)
		}

		item, err := tx.Get(makeResultDoneKey(uuid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			marker, err := storage.UnmarshalFunctionResult(val)
			if err != nil {
				return err
			}
			results = append(results, marker)
			return nil
		})
	})
	return results, err
}

// FunctionCompleted reports whether the invocation's completion marker exists.
func (r *FunctionRepository) FunctionCompleted(ctx context.Context, uuid string) (bool, error) {
	var done bool
	err := r.backend.WithView(func(tx *badger.Txn) error {
		var err error
		done, err = isCompleted(tx, uuid)
		return err
	})
	return done, err
}

// AddFunctionDependency records that the function message at hash depends
// on the named function. Idempotent per (hash, name). Dependencies may
// only be attached while the owning invocation's results are not yet
// completed.
func (r *FunctionRepository) AddFunctionDependency(ctx context.Context, hash core.Hash, uuid string, name string) (*core.FunctionDependency, error) {
	var result *core.FunctionDependency
	err := r.backend.WithUpdate(func(tx *badger.Txn) error {
		done, err := isCompleted(tx, uuid)
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("%w: %s", core.ErrResultsCompleted, uuid)
		}

		key := makeDependencyKey(hash, name)
		if item, err := tx.Get(key); err == nil {
			return item.Value(func(val []byte) error {
				var unmarshalErr error
				result, unmarshalErr = storage.UnmarshalFunctionDependency(val)
				return unmarshalErr
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := requireMessage(tx, hash); err != nil {
			return err
		}

		result = &core.FunctionDependency{FunctionHash: hash, Name: name, CreatedAt: time.Now().UTC()}
		return tx.Set(key, storage.MarshalFunctionDependency(result))
	})
	return result, err
}

// FunctionDependencies returns the dependencies recorded for a function
// message hash, in name order.
func (r *FunctionRepository) FunctionDependencies(ctx context.Context, hash core.Hash) ([]*core.FunctionDependency, error) {
	var results []*core.FunctionDependency
	err := r.backend.WithView(func(tx *badger.Txn) error {
		prefix := makePartialDependencyKey(hash)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var dep *core.FunctionDependency
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				dep, err = storage.UnmarshalFunctionDependency(val)
				return err
			}); err != nil {
				return err
			}
			results = append(results, dep)
		}
		return nil
	})
	return results, err
}
