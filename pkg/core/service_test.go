package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mockEmbedder "github.com/pxl-research/tai-mcp-memory/pkg/embedder/mock"
	chromemIndex "github.com/pxl-research/tai-mcp-memory/pkg/index/chromem"
	"github.com/pxl-research/tai-mcp-memory/pkg/llm"
	"github.com/pxl-research/tai-mcp-memory/pkg/store"
	sqliteStore "github.com/pxl-research/tai-mcp-memory/pkg/store/sqlite"
	"github.com/pxl-research/tai-mcp-memory/pkg/summarizer"
)

// fakeLLM counts generation calls and returns a canned response.
type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setupService(t *testing.T, provider llm.Provider) *Service {
	t.Helper()

	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.StorageRoot = dir
	cfg.Backup.Enabled = false
	cfg.Embedder = EmbedderConfig{Provider: "mock", Dimensions: 64}

	recordStore, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(dir, "memory.db"),
	})
	require.NoError(t, err)

	emb := mockEmbedder.New(64)
	idx, err := chromemIndex.NewClient(&chromemIndex.Config{}, emb)
	require.NoError(t, err)

	svc, err := NewService(cfg,
		WithStore(recordStore),
		WithIndex(idx),
		WithEmbedder(emb),
		WithLLM(provider),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = svc.Close() })

	return svc
}

func TestStoreTinyContentSkipsGenerator(t *testing.T) {
	ctx := context.Background()
	fake := &fakeLLM{response: "should not be called"}
	svc := setupService(t, fake)

	result, err := svc.Store(ctx, "User prefers snake_case", "preferences", []string{"style"})
	require.NoError(t, err)

	assert.True(t, result.RecordStored)
	assert.True(t, result.Indexed)
	assert.True(t, result.TopicIndexed)
	assert.Equal(t, TierDirectTiny, result.Summary.Tier)
	assert.True(t, result.Summary.Generated)
	assert.True(t, result.Summary.Stored)
	assert.True(t, result.Summary.Indexed)
	assert.Equal(t, 0, fake.callCount())

	summary, err := svc.store.GetSummaryByID(ctx, result.Summary.SummaryID)
	require.NoError(t, err)
	assert.Equal(t, string(TierDirectTiny), summary.SummaryType)
	assert.Equal(t, "User prefers snake_case", summary.SummaryText)
}

func TestStoreShortArticleUsesExtractiveTier(t *testing.T) {
	ctx := context.Background()
	fake := &fakeLLM{response: "A short extractive summary."}
	svc := setupService(t, fake)

	article := strings.Repeat("Some article text. ", 64) // ~1200 chars
	require.GreaterOrEqual(t, len(article), DefaultTinyThreshold)
	require.Less(t, len(article), DefaultSmallThreshold)

	result, err := svc.Store(ctx, article, "articles", nil)
	require.NoError(t, err)

	assert.Equal(t, TierExtractiveShort, result.Summary.Tier)
	assert.True(t, result.Summary.Generated)
	assert.Equal(t, 1, fake.callCount())

	summary, err := svc.store.GetSummaryByID(ctx, result.Summary.SummaryID)
	require.NoError(t, err)
	assert.Equal(t, "A short extractive summary.", summary.SummaryText)
	assert.Equal(t, string(TierExtractiveShort), summary.SummaryType)
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	_, err := svc.Store(ctx, "", "topic", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Store(ctx, "content", "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStoreDegradesWhenGenerationFails(t *testing.T) {
	ctx := context.Background()
	fake := &fakeLLM{err: errors.New("provider down")}
	svc := setupService(t, fake)

	article := strings.Repeat("text ", 300)
	result, err := svc.Store(ctx, article, "articles", nil)
	require.NoError(t, err)

	assert.True(t, result.RecordStored)
	assert.True(t, result.Indexed)
	assert.False(t, result.Summary.Generated)
	assert.False(t, result.Summary.Stored)

	// The memory is durable despite the failed summary.
	item, err := svc.store.GetMemory(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, article, item.Content)
}

func TestRetrieveReturnsEmptyList(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	results, err := svc.Retrieve(ctx, "anything at all", 5, "", ReturnFullText)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetrieveReturnTypes(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	stored, err := svc.Store(ctx, "The quick brown fox jumps over the lazy dog", "animals", nil)
	require.NoError(t, err)

	results, err := svc.Retrieve(ctx, "quick brown fox", 5, "", ReturnBoth)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, stored.ID, results[0].ID)
	assert.Equal(t, "animals", results[0].Topic)
	assert.Equal(t, "The quick brown fox jumps over the lazy dog", results[0].Content)
	assert.Equal(t, "The quick brown fox jumps over the lazy dog", results[0].Summary)
	assert.Equal(t, string(TierDirectTiny), results[0].SummaryType)

	results, err = svc.Retrieve(ctx, "quick brown fox", 5, "", ReturnSummary)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Content)
	assert.NotEmpty(t, results[0].Summary)
}

func TestRetrieveTopicFilter(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	_, err := svc.Store(ctx, "Notes about cooking pasta", "cooking", nil)
	require.NoError(t, err)
	stored, err := svc.Store(ctx, "Notes about debugging Go", "engineering", nil)
	require.NoError(t, err)

	results, err := svc.Retrieve(ctx, "notes", 5, "engineering", ReturnFullText)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, stored.ID, results[0].ID)
}

func TestStoreDeleteRetrieveExcludesDeleted(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	stored, err := svc.Store(ctx, "Ephemeral fact about widgets", "widgets", nil)
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted.SummaryVectorsDeleted)
	assert.True(t, deleted.MemoryVectorDeleted)

	results, err := svc.Retrieve(ctx, "Ephemeral fact about widgets", 5, "", ReturnFullText)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, stored.ID, r.ID)
	}
}

func TestDeleteUnknownIDFails(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	_, err := svc.Delete(ctx, 123456789)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateTagsOnly(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	stored, err := svc.Store(ctx, "Original content stays put", "notes", []string{"old"})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	tags := []string{"new", "shiny"}
	result, err := svc.Update(ctx, stored.ID, &store.MemoryPatch{Tags: &tags})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Version)
	assert.Nil(t, result.Summary)

	item, err := svc.store.GetMemory(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original content stays put", item.Content)
	assert.Equal(t, "notes", item.Topic)
	assert.Equal(t, tags, item.Tags)
	assert.True(t, item.UpdatedAt.After(item.CreatedAt))
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	_, err := svc.Update(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Update(ctx, 1, &store.MemoryPatch{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	empty := ""
	_, err = svc.Update(ctx, 1, &store.MemoryPatch{Content: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	content := "anything"
	_, err := svc.Update(ctx, 42, &store.MemoryPatch{Content: &content})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateTopicChangeOnLastItemKeepsMemory(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	stored, err := svc.Store(ctx, "Sole item in its topic", "doomed-topic", nil)
	require.NoError(t, err)

	newTopic := "fresh-topic"
	result, err := svc.Update(ctx, stored.ID, &store.MemoryPatch{Topic: &newTopic})
	require.NoError(t, err)
	assert.Equal(t, "fresh-topic", result.Topic)

	// The memory survived the old topic's removal.
	item, err := svc.store.GetMemory(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-topic", item.Topic)
	assert.Equal(t, "Sole item in its topic", item.Content)

	topics, err := svc.ListTopics(ctx)
	require.NoError(t, err)
	names := map[string]int{}
	for _, topic := range topics {
		names[topic.Name] = topic.ItemCount
	}
	assert.NotContains(t, names, "doomed-topic")
	assert.Equal(t, 1, names["fresh-topic"])
}

func TestUpdateContentRetiersSummaryInPlace(t *testing.T) {
	ctx := context.Background()
	fake := &fakeLLM{response: "Regenerated summary."}
	svc := setupService(t, fake)

	stored, err := svc.Store(ctx, "tiny note", "notes", nil)
	require.NoError(t, err)
	require.Equal(t, TierDirectTiny, stored.Summary.Tier)

	long := strings.Repeat("Now the note has grown considerably. ", 80) // > SMALL
	require.GreaterOrEqual(t, len(long), DefaultSmallThreshold)

	result, err := svc.Update(ctx, stored.ID, &store.MemoryPatch{Content: &long})
	require.NoError(t, err)
	require.NotNil(t, result.Summary)
	assert.Equal(t, TierAbstractiveMedium, result.Summary.Tier)
	assert.True(t, result.Summary.Stored)

	// Same row, overwritten in place.
	assert.Equal(t, stored.Summary.SummaryID, result.Summary.SummaryID)

	summary, err := svc.store.GetSummaryByID(ctx, result.Summary.SummaryID)
	require.NoError(t, err)
	assert.Equal(t, string(TierAbstractiveMedium), summary.SummaryType)
	assert.Equal(t, "Regenerated summary.", summary.SummaryText)

	summaries, err := svc.store.SummariesForMemory(ctx, stored.ID)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestTopicCounterInvariant(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	first, err := svc.Store(ctx, "first in alpha", "alpha", nil)
	require.NoError(t, err)
	_, err = svc.Store(ctx, "second in alpha", "alpha", nil)
	require.NoError(t, err)
	_, err = svc.Store(ctx, "only one in beta", "beta", nil)
	require.NoError(t, err)

	_, err = svc.Delete(ctx, first.ID)
	require.NoError(t, err)

	topics, err := svc.ListTopics(ctx)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, topic := range topics {
		counts[topic.Name] = topic.ItemCount
	}
	assert.Equal(t, 1, counts["alpha"])
	assert.Equal(t, 1, counts["beta"])
}

func TestDeleteCascadesSummaries(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	stored, err := svc.Store(ctx, "cascade target", "cascade", nil)
	require.NoError(t, err)
	require.True(t, stored.Summary.Stored)

	_, err = svc.Delete(ctx, stored.ID)
	require.NoError(t, err)

	_, err = svc.store.GetSummary(ctx, stored.ID, string(TierDirectTiny))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.store.AnySummaryForMemory(ctx, stored.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteEmptyTopic(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	stored, err := svc.Store(ctx, "occupies the topic", "busy", nil)
	require.NoError(t, err)

	// Refused while occupied.
	deleted, err := svc.DeleteEmptyTopic(ctx, "busy")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = svc.Delete(ctx, stored.ID)
	require.NoError(t, err)

	deleted, err = svc.DeleteEmptyTopic(ctx, "busy")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = svc.DeleteEmptyTopic(ctx, "never-existed")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInitializeIdempotentAndReset(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	_, err := svc.Store(ctx, "survives re-init", "durability", nil)
	require.NoError(t, err)

	// reset=false never loses data.
	require.NoError(t, svc.Initialize(ctx, false))
	require.NoError(t, svc.Initialize(ctx, false))

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalMemories)

	// reset=true clears both stores.
	require.NoError(t, svc.Initialize(ctx, true))

	status, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.TotalMemories)
	assert.Equal(t, 0, status.TotalTopics)
	assert.Equal(t, 0, status.TotalSummaries)
	assert.Equal(t, 0, status.IndexedMemories)
	assert.Equal(t, 0, status.IndexedSummaries)
}

func TestStatusCounts(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	_, err := svc.Store(ctx, "alpha one", "alpha", nil)
	require.NoError(t, err)
	_, err = svc.Store(ctx, "alpha two", "alpha", nil)
	require.NoError(t, err)

	status, err := svc.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, status.TotalMemories)
	assert.Equal(t, 1, status.TotalTopics)
	assert.Equal(t, 2, status.TotalSummaries)
	assert.Equal(t, 2, status.IndexedMemories)
	assert.Equal(t, 2, status.IndexedSummaries)
	require.Len(t, status.TopTopics, 1)
	assert.Equal(t, "alpha", status.TopTopics[0].Name)
	assert.Equal(t, 2, status.TopTopics[0].Count)
	require.NotNil(t, status.LatestItemAt)
	assert.Equal(t, svc.config.StorageRoot, status.StorageRoot)
}

func TestSummarizeByMemoryID(t *testing.T) {
	ctx := context.Background()
	fake := &fakeLLM{response: "Condensed."}
	svc := setupService(t, fake)

	stored, err := svc.Store(ctx, "Content worth condensing", "notes", nil)
	require.NoError(t, err)

	result, err := svc.Summarize(ctx, &SummarizeRequest{
		MemoryID: stored.ID,
		Style:    string(summarizer.StyleExtractive),
		Length:   string(summarizer.LengthShort),
	})
	require.NoError(t, err)

	assert.Equal(t, "Condensed.", result.Summary)
	assert.Equal(t, "memory", result.Source)
	assert.Equal(t, 1, result.MemoryCount)
	assert.Equal(t, string(summarizer.StyleExtractive), result.Style)
}

func TestSummarizeByTopic(t *testing.T) {
	ctx := context.Background()
	fake := &fakeLLM{response: "Topic digest."}
	svc := setupService(t, fake)

	_, err := svc.Store(ctx, "First note on gardening", "gardening", nil)
	require.NoError(t, err)
	_, err = svc.Store(ctx, "Second note on gardening", "gardening", nil)
	require.NoError(t, err)

	result, err := svc.Summarize(ctx, &SummarizeRequest{Topic: "gardening"})
	require.NoError(t, err)

	assert.Equal(t, "Topic digest.", result.Summary)
	assert.Equal(t, "topic", result.Source)
	assert.Equal(t, 2, result.MemoryCount)
}

func TestSummarizeSourceValidation(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	_, err := svc.Summarize(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Summarize(ctx, &SummarizeRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Summarize(ctx, &SummarizeRequest{MemoryID: 1, Query: "both set"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSummarizeQueryFocusedRequiresQuery(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{response: "ignored"})

	stored, err := svc.Store(ctx, "Some content", "notes", nil)
	require.NoError(t, err)

	_, err = svc.Summarize(ctx, &SummarizeRequest{
		MemoryID: stored.ID,
		Style:    string(summarizer.StyleQueryFocused),
	})
	assert.ErrorIs(t, err, summarizer.ErrQueryRequired)
}

func TestSummarizeUnknownMemory(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	_, err := svc.Summarize(ctx, &SummarizeRequest{MemoryID: 999})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReindexRebuildsFromRecords(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &fakeLLM{})

	stored, err := svc.Store(ctx, "Reindexable fact about lighthouses", "maritime", nil)
	require.NoError(t, err)
	_, err = svc.Store(ctx, "Another maritime fact", "maritime", nil)
	require.NoError(t, err)

	// Simulate total index loss.
	require.NoError(t, svc.index.Reset(ctx))

	results, err := svc.Retrieve(ctx, "lighthouses", 5, "", ReturnFullText)
	require.NoError(t, err)
	assert.Empty(t, results)

	rebuilt, err := svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rebuilt.Memories)
	assert.Equal(t, 2, rebuilt.Summaries)
	assert.Equal(t, 1, rebuilt.Topics)

	results, err = svc.Retrieve(ctx, "Reindexable fact about lighthouses", 5, "", ReturnFullText)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	found := false
	for _, r := range results {
		if r.ID == stored.ID {
			found = true
		}
	}
	assert.True(t, found)
}
