package arbor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/ai/mock"
	"github.com/poiesic/arbor/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("", WithInMemory(), WithAIProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "arbor.db"), WithAIProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg, err := store.MessageRepository().SaveMessage(ctx, &core.Candidate{
		Role:    core.RoleUser,
		Content: "the lighthouse keeper kept a journal",
		Parent:  core.RootHash,
	})
	require.NoError(t, err)

	enricher, err := store.NewEnricher()
	require.NoError(t, err)
	defer enricher.Release()
	stats, err := enricher.BackfillAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Embedded)

	searcher, err := store.NewSearcher()
	require.NoError(t, err)
	results, err := searcher.FindSimilar(ctx, "lighthouse journal", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, msg.Hash, results[0].Message.Hash)
}

func TestStoreEngineWiring(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root, err := store.MessageRepository().SaveMessage(ctx, &core.Candidate{
		Role:    core.RoleUser,
		Content: "pin this",
		Parent:  core.RootHash,
	})
	require.NoError(t, err)

	engine, err := store.NewEngine()
	require.NoError(t, err)

	tools := engine.Definitions(nil)
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "search_messages")
	assert.Contains(t, names, "rag")
	assert.Contains(t, names, "generate_dynamic_function")

	call := &ai.ToolCall{Name: "pin_message", Arguments: `{"hash":"` + string(root.Hash) + `"}`}
	_, err = engine.Dispatch(ctx, nil, call, root.Hash)
	require.NoError(t, err)
	engine.Wait()

	pinned, err := store.MetadataRepository().HasPin(ctx, root.Hash)
	require.NoError(t, err)
	assert.True(t, pinned)
}

func TestStoreProducers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	producers := store.Producers()
	require.NotNil(t, producers.Embedding)
	require.NotNil(t, producers.Summary)
	require.NotNil(t, producers.SummaryEmbedding)

	msg, err := store.MetadataRepository().SaveMessageWithMetadata(ctx, &core.Candidate{
		Role:    core.RoleUser,
		Content: "produced on save",
		Parent:  core.RootHash,
	}, producers)
	require.NoError(t, err)

	embedding, err := store.MetadataRepository().GetEmbedding(ctx, msg.Hash)
	require.NoError(t, err)
	assert.NotEmpty(t, embedding.Vector)
	summary, err := store.MetadataRepository().GetSummary(ctx, msg.Hash)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.Summary)
}
