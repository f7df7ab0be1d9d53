package storage

import (
	"context"
	"time"

	"github.com/poiesic/arbor/core"
)

// Visit is one node produced by a DAG traversal. Leaf marks nodes with no
// children; Depth is the distance from the traversal ancestor. A visit
// with Err set is terminal: the traversal died on a storage error and
// emits nothing further, so consumers can tell a failed walk from a
// completed one.
type Visit struct {
	Message *core.PersistedMessage
	Depth   int
	Leaf    bool
	Err     error
}

// MetadataProducers is a sparse set of async callbacks for computing
// derived metadata. Each producer is invoked only if its record is absent.
// Embedding and Summary run concurrently; SummaryEmbedding waits on the
// Summary producer's output.
type MetadataProducers struct {
	Embedding        func(ctx context.Context, content string) ([]float32, error)
	Summary          func(ctx context.Context, content string) (string, error)
	SummaryEmbedding func(ctx context.Context, summary string) ([]float32, error)
}

// MessageRepository provides operations over the content-addressed message
// forest. The forest is append-only: no update or delete operations exist.
// Implementations must be thread-safe; concurrent SaveMessage calls for the
// same hash must be safe to race.
type MessageRepository interface {
	// SaveMessage persists a candidate. If a message with the candidate's
	// hash already exists it is returned unchanged after verifying that
	// the parents match (mismatch of non-root parents is core.ErrIntegrity).
	// A non-root parent must already exist (core.ErrParentNotFound).
	SaveMessage(ctx context.Context, cand *core.Candidate) (*core.PersistedMessage, error)

	// GetMessage retrieves a message by hash.
	// Returns ErrNotFound if the message doesn't exist.
	GetMessage(ctx context.Context, hash core.Hash) (*core.PersistedMessage, error)

	// ConversationFromLeaf walks parent links from leaf to root and returns
	// the chain in root-first order. A broken link yields the partial path
	// below the break; missing ancestors are never an error.
	ConversationFromLeaf(ctx context.Context, leaf core.Hash) ([]*core.PersistedMessage, error)

	// DirectChildren returns the immediate children of a message (or of the
	// forest root when parent is core.RootHash), most recently inserted first.
	DirectChildren(ctx context.Context, parent core.Hash) ([]*core.PersistedMessage, error)

	// DirectSiblings returns the messages sharing a parent with the given
	// message, itself included, in insertion order.
	DirectSiblings(ctx context.Context, hash core.Hash) ([]*core.PersistedMessage, error)

	// Descendants lazily streams every node below ancestor, fanning out
	// child lookups concurrently. A branch is truncated once maxDepth is
	// exceeded (0 means unbounded). Cancelling ctx stops further lookups;
	// the channel closes when the traversal ends.
	Descendants(ctx context.Context, ancestor core.Hash, maxDepth int) <-chan Visit

	// LeafDescendants is Descendants filtered to childless nodes.
	LeafDescendants(ctx context.Context, ancestor core.Hash, maxDepth int) <-chan Visit

	// Close releases repository resources.
	Close() error
}

// MetadataRepository manages per-message derived metadata. All saves are
// transactional check-then-insert: an existing record is returned unchanged
// (write-once), and a record may only be created if its message hash exists
// (core.ErrReferential otherwise).
type MetadataRepository interface {
	// GetEmbedding retrieves the embedding record for a message hash.
	// Returns ErrNotFound if absent.
	GetEmbedding(ctx context.Context, hash core.Hash) (*core.EmbeddingRecord, error)

	// SaveEmbedding stores an embedding record, idempotently.
	SaveEmbedding(ctx context.Context, hash core.Hash, vector []float32) (*core.EmbeddingRecord, error)

	// GetSummary retrieves the summary record for a message hash.
	GetSummary(ctx context.Context, hash core.Hash) (*core.SummaryRecord, error)

	// SaveSummary stores a summary record, idempotently.
	SaveSummary(ctx context.Context, hash core.Hash, summary string) (*core.SummaryRecord, error)

	// GetSummaryEmbedding retrieves the summary embedding record.
	GetSummaryEmbedding(ctx context.Context, hash core.Hash) (*core.SummaryEmbeddingRecord, error)

	// SaveSummaryEmbedding stores a summary embedding record, idempotently.
	SaveSummaryEmbedding(ctx context.Context, hash core.Hash, vector []float32) (*core.SummaryEmbeddingRecord, error)

	// SaveMessageWithMetadata persists the candidate, then runs the absent
	// producers concurrently and stores their results. Producer errors are
	// returned after the message itself has been persisted.
	SaveMessageWithMetadata(ctx context.Context, cand *core.Candidate, producers MetadataProducers) (*core.PersistedMessage, error)

	// AddPin marks a message as externally archived.
	AddPin(ctx context.Context, hash core.Hash, remoteAt time.Time) (*core.PinRecord, error)

	// RemovePin removes a pin. Removing an absent pin is not an error.
	RemovePin(ctx context.Context, hash core.Hash) error

	// HasPin reports whether a pin exists for the message hash.
	HasPin(ctx context.Context, hash core.Hash) (bool, error)

	// ListPinned returns all pin records.
	ListPinned(ctx context.Context) ([]*core.PinRecord, error)

	// Close releases repository resources.
	Close() error
}

// FunctionRepository stores function invocation results and dependency
// records. Results for a UUID form an ordered sequence of payload records
// followed by exactly one completion marker.
type FunctionRepository interface {
	// AppendFunctionResult adds a payload record to an invocation's result
	// sequence. Returns core.ErrResultsCompleted once the marker exists.
	AppendFunctionResult(ctx context.Context, uuid string, payload string) (*core.FunctionResult, error)

	// CompleteFunction writes the invocation's terminal completion marker.
	// Completing twice returns core.ErrResultsCompleted.
	CompleteFunction(ctx context.Context, uuid string) (*core.FunctionResult, error)

	// FunctionResults returns payload records in append order, followed by
	// the completion marker if present.
	FunctionResults(ctx context.Context, uuid string) ([]*core.FunctionResult, error)

	// FunctionCompleted reports whether the completion marker exists.
	FunctionCompleted(ctx context.Context, uuid string) (bool, error)

	// AddFunctionDependency records that the function message at hash,
	// whose invocation is identified by uuid, depends on the named
	// function. Idempotent per (hash, name); rejected with
	// core.ErrResultsCompleted once the owning invocation completed.
	AddFunctionDependency(ctx context.Context, hash core.Hash, uuid string, name string) (*core.FunctionDependency, error)

	// FunctionDependencies returns the dependencies recorded for a
	// function message hash, in name order.
	FunctionDependencies(ctx context.Context, hash core.Hash) ([]*core.FunctionDependency, error)

	// Close releases repository resources.
	Close() error
}
