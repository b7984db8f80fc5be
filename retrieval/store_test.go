package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbedding maps text to letter frequencies, giving deterministic
// similarity without a model.
func letterEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec, nil
}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	store, err := NewStore(cfg, letterEmbedding)
	require.NoError(t, err)
	return store
}

func TestStoreIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, Config{})

	require.NoError(t, store.Ingest(ctx, "animals", []Document{
		{ID: "d1", Content: "aaaa aaaa", Metadata: map[string]string{"source": "a.md"}},
		{ID: "d2", Content: "zzzz zzzz", Metadata: map[string]string{"source": "z.md"}},
	}))

	results, err := store.Retrieve(ctx, "aaa", []string{"animals"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, "aaa", result.Query)
	assert.Equal(t, "animals", result.KnowledgeBaseID)
	require.Len(t, result.Chunks, 2)

	// Best match first.
	assert.Equal(t, "aaaa aaaa", result.Chunks[0].Content)
	assert.Equal(t, "a.md", result.Chunks[0].Metadata["source"])
	assert.Greater(t, result.Chunks[0].Score, result.Chunks[1].Score)
}

func TestStoreRetrieveCapsTopK(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, Config{})

	require.NoError(t, store.Ingest(ctx, "kb", []Document{
		{Content: "alpha"},
	}))

	// topK larger than the collection must not error.
	results, err := store.Retrieve(ctx, "alpha", []string{"kb"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0].Chunks, 1)
}

func TestStoreRetrieveSkipsUnknownBases(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, Config{})

	require.NoError(t, store.Ingest(ctx, "known", []Document{{Content: "abc"}}))

	results, err := store.Retrieve(ctx, "abc", []string{"missing", "known"}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "known", results[0].KnowledgeBaseID)
}

func TestStoreMinScoreFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, Config{MinScore: 0.99})

	require.NoError(t, store.Ingest(ctx, "kb", []Document{
		{Content: "aaaa"},
		{Content: "zzzz"},
	}))

	results, err := store.Retrieve(ctx, "aaaa", []string{"kb"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Only the near-identical document clears the threshold.
	require.Len(t, results[0].Chunks, 1)
	assert.Equal(t, "aaaa", results[0].Chunks[0].Content)
}

func TestStoreSeparateKnowledgeBases(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, Config{})

	require.NoError(t, store.Ingest(ctx, "kb1", []Document{{Content: "abc"}}))
	require.NoError(t, store.Ingest(ctx, "kb2", []Document{{Content: "xyz"}}))

	assert.ElementsMatch(t, []string{"kb1", "kb2"}, store.KnowledgeBases())

	results, err := store.Retrieve(ctx, "abc", []string{"kb1", "kb2"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "abc", results[0].Chunks[0].Content)
	assert.Equal(t, "xyz", results[1].Chunks[0].Content)

	require.NoError(t, store.DeleteKnowledgeBase("kb1"))
	assert.Equal(t, []string{"kb2"}, store.KnowledgeBases())
}

func TestStorePersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := newTestStore(t, Config{PersistPath: dir})
	require.NoError(t, store.Ingest(ctx, "kb", []Document{{ID: "d1", Content: "hello world"}}))
	require.NoError(t, store.Close())

	// A new store over the same path sees the data.
	reopened := newTestStore(t, Config{PersistPath: dir})
	results, err := reopened.Retrieve(ctx, "hello", []string{"kb"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Chunks, 1)
	assert.Equal(t, "hello world", results[0].Chunks[0].Content)
}
