package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pxl-research/tai-mcp-memory/pkg/embedder/mock"
	"github.com/pxl-research/tai-mcp-memory/pkg/index"
)

func setupClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(&Config{}, mock.New(64))
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	err := client.Upsert(ctx, index.CollectionMemories, "1", "hello world", map[string]string{
		"topic": "greetings",
	})
	require.NoError(t, err)

	entry, err := client.Get(ctx, index.CollectionMemories, "1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", entry.Text)
	assert.Equal(t, "greetings", entry.Metadata["topic"])
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	_, err := client.Get(ctx, index.CollectionMemories, "nope")
	assert.ErrorIs(t, err, index.ErrNotIndexed)
}

func TestUpsertPreservesUntouchedMetadata(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	err := client.Upsert(ctx, index.CollectionMemories, "1", "original", map[string]string{
		"topic":      "alpha",
		"created_at": "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	// Partial update: no created_at in the new metadata.
	err = client.Upsert(ctx, index.CollectionMemories, "1", "updated", map[string]string{
		"topic": "beta",
	})
	require.NoError(t, err)

	entry, err := client.Get(ctx, index.CollectionMemories, "1")
	require.NoError(t, err)
	assert.Equal(t, "updated", entry.Text)
	assert.Equal(t, "beta", entry.Metadata["topic"])
	assert.Equal(t, "2026-01-01T00:00:00Z", entry.Metadata["created_at"])
}

func TestQueryEmptyCollection(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	ids, err := client.Query(ctx, index.CollectionSummaries, "anything", 5, nil)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestQueryBoundedByCollectionSize(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	require.NoError(t, client.Upsert(ctx, index.CollectionMemories, "1", "only entry", nil))

	// k larger than the collection must not error.
	ids, err := client.Query(ctx, index.CollectionMemories, "entry", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
}

func TestQueryMetadataFilter(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	require.NoError(t, client.Upsert(ctx, index.CollectionSummaries, "1", "cooking notes", map[string]string{"topic": "cooking"}))
	require.NoError(t, client.Upsert(ctx, index.CollectionSummaries, "2", "coding notes", map[string]string{"topic": "coding"}))

	ids, err := client.Query(ctx, index.CollectionSummaries, "notes", 5, map[string]string{"topic": "coding"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	require.NoError(t, client.Upsert(ctx, index.CollectionMemories, "1", "to delete", nil))
	require.NoError(t, client.Delete(ctx, index.CollectionMemories, "1"))

	_, err := client.Get(ctx, index.CollectionMemories, "1")
	assert.ErrorIs(t, err, index.ErrNotIndexed)

	count, err := client.Count(ctx, index.CollectionMemories)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestResetClearsAllCollections(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	require.NoError(t, client.Upsert(ctx, index.CollectionMemories, "1", "a", nil))
	require.NoError(t, client.Upsert(ctx, index.CollectionSummaries, "2", "b", nil))
	require.NoError(t, client.Upsert(ctx, index.CollectionTopics, "t", "c", nil))

	require.NoError(t, client.Reset(ctx))

	for _, col := range index.Collections {
		count, err := client.Count(ctx, col)
		require.NoError(t, err)
		assert.Equal(t, 0, count, "collection %s", col)
	}

	// Writable again after reset.
	require.NoError(t, client.Upsert(ctx, index.CollectionMemories, "3", "fresh", nil))
}

func TestCollectionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	require.NoError(t, client.Upsert(ctx, index.CollectionMemories, "1", "memory text", nil))

	count, err := client.Count(ctx, index.CollectionSummaries)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = client.Get(ctx, index.CollectionSummaries, "1")
	assert.ErrorIs(t, err, index.ErrNotIndexed)
}
