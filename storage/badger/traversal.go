package badger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
)

// Descendants lazily streams every node below ancestor. Each frontier
// level's child lookups are issued concurrently on the repository's worker
// pool; nodes are emitted as their own children are counted, so the Leaf
// flag is authoritative at emission time. Emission order within a level is
// nondeterministic.
//
// maxDepth 0 means unbounded; a branch is truncated once maxDepth is
// exceeded, without marking the nodes past the cutoff. Cancelling ctx
// stops further child lookups; the concurrent fan-out deliberately accepts
// wasted lookups for the level in flight when the consumer stops draining.
//
// A storage failure aborts the walk and emits one final Visit carrying the
// error, so consumers never mistake a truncated walk for a finished one.
func (r *MessageRepository) Descendants(ctx context.Context, ancestor core.Hash, maxDepth int) <-chan storage.Visit {
	out := make(chan storage.Visit)

	go func() {
		defer close(out)

		fail := func(err error) {
			select {
			case out <- storage.Visit{Err: err}:
			case <-ctx.Done():
			}
		}

		frontier, err := r.DirectChildren(ctx, ancestor)
		if err != nil {
			r.logger.Error("error reading traversal root children",
				"ancestor", ancestor.Short(), "err", err)
			fail(err)
			return
		}

		var (
			cancelled atomic.Bool
			errMu     sync.Mutex
			walkErr   error
		)
		abort := func(err error) {
			errMu.Lock()
			if walkErr == nil {
				walkErr = err
			}
			errMu.Unlock()
			cancelled.Store(true)
		}

		for depth := 1; len(frontier) > 0; depth++ {
			if maxDepth > 0 && depth > maxDepth {
				return
			}

			var (
				mu   sync.Mutex
				next []*core.PersistedMessage
				wg   sync.WaitGroup
			)

			for _, node := range frontier {
				if cancelled.Load() || ctx.Err() != nil {
					break
				}

				node := node
				wg.Add(1)
				submitErr := r.pool.Submit(func() {
					defer wg.Done()

					children, err := r.DirectChildren(ctx, node.Hash)
					if err != nil {
						r.logger.Error("error reading children during traversal",
							"node", node.Hash.Short(), "err", err)
						abort(err)
						return
					}

					select {
					case out <- storage.Visit{Message: node, Depth: depth, Leaf: len(children) == 0}:
					case <-ctx.Done():
						cancelled.Store(true)
						return
					}

					mu.Lock()
					next = append(next, children...)
					mu.Unlock()
				})
				if submitErr != nil {
					wg.Done()
					r.logger.Error("error submitting traversal task", "err", submitErr)
					abort(submitErr)
				}
			}

			wg.Wait()
			if cancelled.Load() {
				errMu.Lock()
				err := walkErr
				errMu.Unlock()
				if err != nil {
					fail(err)
				}
				return
			}
			frontier = next
		}
	}()

	return out
}

// LeafDescendants is Descendants filtered to nodes with no children.
// Terminal error visits pass through unfiltered.
func (r *MessageRepository) LeafDescendants(ctx context.Context, ancestor core.Hash, maxDepth int) <-chan storage.Visit {
	out := make(chan storage.Visit)
	go func() {
		defer close(out)
		for visit := range r.Descendants(ctx, ancestor, maxDepth) {
			if visit.Err == nil && !visit.Leaf {
				continue
			}
			select {
			case out <- visit:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
