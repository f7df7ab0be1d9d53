package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/storage"
)

func TestEmbeddingWriteOnce(t *testing.T) {
	messages, metadata, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()

	msg, err := messages.SaveMessage(ctx, &core.Candidate{Role: core.RoleUser, Content: "embed me"})
	if err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}

	first, err := metadata.SaveEmbedding(ctx, msg.Hash, []float32{0.1, 0.2, 0.3})
	if err != nil {
		t.Fatalf("Failed to save embedding: %v", err)
	}

	// A second save is a no-op: the original record wins.
	second, err := metadata.SaveEmbedding(ctx, msg.Hash, []float32{9, 9, 9})
	if err != nil {
		t.Fatalf("Failed to re-save embedding: %v", err)
	}
	if second.Vector[0] != first.Vector[0] || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("Expected original embedding preserved, got %+v", second)
	}

	got, err := metadata.GetEmbedding(ctx, msg.Hash)
	if err != nil {
		t.Fatalf("Failed to get embedding: %v", err)
	}
	if len(got.Vector) != 3 || got.Vector[2] != 0.3 {
		t.Fatalf("Unexpected embedding: %v", got.Vector)
	}
}

func TestMetadataReferential(t *testing.T) {
	messages, metadata, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()
	missing := core.Hash("no-such-message")

	if _, err := metadata.SaveEmbedding(ctx, missing, []float32{1}); !errors.Is(err, core.ErrReferential) {
		t.Fatalf("Expected ErrReferential for embedding, got %v", err)
	}
	if _, err := metadata.SaveSummary(ctx, missing, "summary"); !errors.Is(err, core.ErrReferential) {
		t.Fatalf("Expected ErrReferential for summary, got %v", err)
	}
	if _, err := metadata.AddPin(ctx, missing, time.Now()); !errors.Is(err, core.ErrReferential) {
		t.Fatalf("Expected ErrReferential for pin, got %v", err)
	}
}

func TestSummaryAndSummaryEmbedding(t *testing.T) {
	messages, metadata, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()

	msg, err := messages.SaveMessage(ctx, &core.Candidate{Role: core.RoleAssistant, Content: "a long reply"})
	if err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}

	if _, err := metadata.GetSummary(ctx, msg.Hash); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before save, got %v", err)
	}

	if _, err := metadata.SaveSummary(ctx, msg.Hash, "a reply"); err != nil {
		t.Fatalf("Failed to save summary: %v", err)
	}
	if _, err := metadata.SaveSummaryEmbedding(ctx, msg.Hash, []float32{0.5, 0.5}); err != nil {
		t.Fatalf("Failed to save summary embedding: %v", err)
	}

	sum, err := metadata.GetSummary(ctx, msg.Hash)
	if err != nil {
		t.Fatalf("Failed to get summary: %v", err)
	}
	if sum.Summary != "a reply" {
		t.Fatalf("Unexpected summary: %q", sum.Summary)
	}

	emb, err := metadata.GetSummaryEmbedding(ctx, msg.Hash)
	if err != nil {
		t.Fatalf("Failed to get summary embedding: %v", err)
	}
	if len(emb.Vector) != 2 {
		t.Fatalf("Unexpected summary embedding: %v", emb.Vector)
	}
}

func TestSaveMessageWithMetadata(t *testing.T) {
	messages, metadata, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()

	embedCalls := 0
	summaryCalls := 0
	producers := storage.MetadataProducers{
		Embedding: func(ctx context.Context, text string) ([]float32, error) {
			embedCalls++
			return []float32{float32(len(text))}, nil
		},
		Summary: func(ctx context.Context, text string) (string, error) {
			summaryCalls++
			return "short: " + text, nil
		},
		SummaryEmbedding: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1.0}, nil
		},
	}

	msg, err := metadata.SaveMessageWithMetadata(ctx, &core.Candidate{
		Role: core.RoleUser, Content: "annotate me",
	}, producers)
	if err != nil {
		t.Fatalf("Failed to save with metadata: %v", err)
	}
	if embedCalls != 1 || summaryCalls != 1 {
		t.Fatalf("Expected one producer call each, got embed=%d summary=%d", embedCalls, summaryCalls)
	}

	if _, err := metadata.GetEmbedding(ctx, msg.Hash); err != nil {
		t.Fatalf("Expected embedding to exist: %v", err)
	}
	if _, err := metadata.GetSummary(ctx, msg.Hash); err != nil {
		t.Fatalf("Expected summary to exist: %v", err)
	}
	if _, err := metadata.GetSummaryEmbedding(ctx, msg.Hash); err != nil {
		t.Fatalf("Expected summary embedding to exist: %v", err)
	}

	// Re-saving the same candidate must not re-run producers.
	if _, err := metadata.SaveMessageWithMetadata(ctx, &core.Candidate{
		Role: core.RoleUser, Content: "annotate me",
	}, producers); err != nil {
		t.Fatalf("Failed to re-save with metadata: %v", err)
	}
	if embedCalls != 1 || summaryCalls != 1 {
		t.Fatalf("Producers re-ran on duplicate save: embed=%d summary=%d", embedCalls, summaryCalls)
	}
}

func TestPinLifecycle(t *testing.T) {
	messages, metadata, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()

	a, _ := messages.SaveMessage(ctx, &core.Candidate{Role: core.RoleUser, Content: "pin a"})
	b, _ := messages.SaveMessage(ctx, &core.Candidate{Role: core.RoleUser, Content: "pin b"})

	if _, err := metadata.AddPin(ctx, a.Hash, time.Now()); err != nil {
		t.Fatalf("Failed to pin: %v", err)
	}
	// Pinning twice is idempotent.
	if _, err := metadata.AddPin(ctx, a.Hash, time.Now()); err != nil {
		t.Fatalf("Failed to re-pin: %v", err)
	}
	if _, err := metadata.AddPin(ctx, b.Hash, time.Now()); err != nil {
		t.Fatalf("Failed to pin: %v", err)
	}

	pinned, err := metadata.HasPin(ctx, a.Hash)
	if err != nil || !pinned {
		t.Fatalf("Expected pinned, got %v, %v", pinned, err)
	}

	pins, err := metadata.ListPinned(ctx)
	if err != nil {
		t.Fatalf("Failed to list pins: %v", err)
	}
	if len(pins) != 2 {
		t.Fatalf("Expected 2 pins, got %d", len(pins))
	}

	if err := metadata.RemovePin(ctx, a.Hash); err != nil {
		t.Fatalf("Failed to unpin: %v", err)
	}
	// Unpinning an unpinned message is a no-op.
	if err := metadata.RemovePin(ctx, a.Hash); err != nil {
		t.Fatalf("Failed to re-unpin: %v", err)
	}

	pinned, err = metadata.HasPin(ctx, a.Hash)
	if err != nil || pinned {
		t.Fatalf("Expected unpinned, got %v, %v", pinned, err)
	}
}
