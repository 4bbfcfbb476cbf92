package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCollections is an in-memory collectionAPI. Search returns results in
// reverse insertion order so callers must impose their own tie order.
type fakeCollections struct {
	mu          sync.Mutex
	metric      map[string]Metric
	desc        map[string]string
	rows        map[string][]milvusRow
	aliases     map[string]string
	failInsert  bool
	dropped     []string
	searchCalls int
}

func newFakeCollections() *fakeCollections {
	return &fakeCollections{
		metric:  map[string]Metric{},
		desc:    map[string]string{},
		rows:    map[string][]milvusRow{},
		aliases: map[string]string{},
	}
}

func (f *fakeCollections) Has(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.desc[name]
	return ok, nil
}

func (f *fakeCollections) Create(_ context.Context, name, description string, _ int, metric Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desc[name] = description
	f.metric[name] = metric
	return nil
}

func (f *fakeCollections) Insert(_ context.Context, name string, _ int, rows []milvusRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return errors.New("insert refused")
	}
	for _, r := range rows {
		if len(r.DocID) > maxVarCharBytes || len(r.Text) > maxVarCharBytes {
			return errors.New("varchar field exceeds max_length")
		}
	}
	f.rows[name] = append(f.rows[name], rows...)
	return nil
}

func (f *fakeCollections) Finalize(context.Context, string) error { return nil }

func (f *fakeCollections) Description(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.desc[name]
	if !ok {
		return "", errors.New("collection not found")
	}
	return d, nil
}

func (f *fakeCollections) Search(_ context.Context, name string, vec []float32, k int) ([]milvusHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	rows := f.rows[name]
	hits := make([]milvusHit, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		var score float32
		if f.metric[name] == MetricL2 {
			d := l2distance(vec, r.Vector)
			score = d * d
		} else {
			score = cosine(vec, r.Vector, l2norm(vec), l2norm(r.Vector))
		}
		hits = append(hits, milvusHit{milvusRow: r, Score: score})
	}
	if f.metric[name] == MetricL2 {
		sortAscending(hits)
	} else {
		sortDescending(hits)
	}
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeCollections) Drop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, target := range f.aliases {
		if target == name {
			return errors.New("collection has an alias")
		}
	}
	delete(f.desc, name)
	delete(f.rows, name)
	delete(f.metric, name)
	f.dropped = append(f.dropped, name)
	return nil
}

func (f *fakeCollections) List(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.desc))
	for name := range f.desc {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeCollections) Resolve(_ context.Context, alias string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.aliases[alias]
	return name, ok, nil
}

func (f *fakeCollections) SetAlias(_ context.Context, alias, collection string, exists bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.desc[collection]; !ok {
		return errors.New("collection not found")
	}
	if _, ok := f.aliases[alias]; ok != exists {
		return errors.New("alias state mismatch")
	}
	if _, ok := f.desc[alias]; ok {
		return errors.New("alias name is taken by a collection")
	}
	f.aliases[alias] = collection
	return nil
}

func (f *fakeCollections) DropAlias(_ context.Context, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.aliases, alias)
	return nil
}

func (f *fakeCollections) Close(context.Context) error { return nil }

func sortDescending(h []milvusHit) {
	for i := 1; i < len(h); i++ {
		for j := i; j > 0 && h[j].Score > h[j-1].Score; j-- {
			h[j], h[j-1] = h[j-1], h[j]
		}
	}
}

func sortAscending(h []milvusHit) {
	for i := 1; i < len(h); i++ {
		for j := i; j > 0 && h[j].Score < h[j-1].Score; j-- {
			h[j], h[j-1] = h[j-1], h[j]
		}
	}
}

func TestMilvusStoreBuildAndQuery(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	spec := Spec{Dimension: 2, Metric: MetricCosine, EmbedderModel: "test"}
	store := newMilvusStore(api, MilvusConfig{Address: "localhost:19530", Collection: "knowledge", Spec: spec}, nil)

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	entries := []core.Entry{
		entry("first", 0, 0, 1),
		entry("second", 1, 0, 1),
		entry("other", 2, 1, 0),
	}
	_, err = store.Build(ctx, entries)
	require.NoError(t, err)

	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	require.Len(t, api.desc, 1)
	live := api.aliases["knowledge"]
	assert.True(t, strings.HasPrefix(live, "knowledge_v"), live)
	assert.Contains(t, api.desc, live)

	idx, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "first", hits[0].Chunk.DocID)
	assert.Equal(t, "second", hits[1].Chunk.DocID)
	assert.Equal(t, "other", hits[2].Chunk.DocID)

	_, err = idx.Query(ctx, []float32{0, 1, 0}, 1)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestMilvusStoreL2Scores(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	spec := Spec{Dimension: 2, Metric: MetricL2, EmbedderModel: "test"}
	store := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: spec}, nil)

	idx, err := store.Build(ctx, []core.Entry{entry("far", 0, 3, 4), entry("near", 1, 1, 0)})
	require.NoError(t, err)

	hits, err := idx.Query(ctx, []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].Chunk.DocID)
	assert.InDelta(t, -1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, -5.0, hits[1].Score, 1e-5)
	assert.False(t, math.IsNaN(float64(hits[1].Score)))
}

func TestMilvusStoreLoadRejectsForeignCollection(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	require.NoError(t, api.Create(ctx, "knowledge", "Document vectors for RAG", 2, MetricCosine))

	store := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: Spec{Dimension: 2, EmbedderModel: "test"}}, nil)
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, core.ErrCorruptIndex)

	other := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: Spec{Dimension: 2, EmbedderModel: "old"}}, nil)
	_, err = other.Build(ctx, []core.Entry{entry("a", 0, 1, 0)})
	require.NoError(t, err)
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, core.ErrCorruptIndex)
}

func TestMilvusStoreFailedBuildKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	store := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: Spec{Dimension: 2, EmbedderModel: "test"}}, nil)

	_, err := store.Build(ctx, []core.Entry{entry("a", 0, 1, 0)})
	require.NoError(t, err)

	api.failInsert = true
	_, err = store.Build(ctx, []core.Entry{entry("b", 0, 0, 1)})
	require.Error(t, err)

	require.Len(t, api.dropped, 1)
	assert.True(t, strings.HasPrefix(api.dropped[0], "knowledge_v"))

	idx, err := store.Load(ctx)
	require.NoError(t, err)
	hits, err := idx.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", hits[0].Chunk.DocID)
}

func TestMilvusStoreRemove(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	store := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: Spec{Dimension: 2, EmbedderModel: "test"}}, nil)

	require.NoError(t, store.Remove(ctx))
	_, err := store.Build(ctx, []core.Entry{entry("a", 0, 1, 0)})
	require.NoError(t, err)
	require.NoError(t, store.Remove(ctx))

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "milvus:///knowledge", store.Location())
}

func TestMilvusStoreSwapsAlias(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	spec := Spec{Dimension: 2, EmbedderModel: "test"}
	writer := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: spec}, nil)
	reader := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: spec}, nil)

	_, err := writer.Build(ctx, []core.Entry{entry("first", 0, 1, 0)})
	require.NoError(t, err)
	held, err := reader.Load(ctx)
	require.NoError(t, err)

	var versions []string
	for i, doc := range []string{"second", "third"} {
		_, err := writer.Build(ctx, []core.Entry{entry(doc, i, 1, 0)})
		require.NoError(t, err)
		versions = append(versions, api.aliases["knowledge"])

		// The name resolves to a complete collection after every swap.
		idx, err := reader.Load(ctx)
		require.NoError(t, err)
		hits, err := idx.Query(ctx, []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.Equal(t, doc, hits[0].Chunk.DocID)

		if i == 0 {
			// The replaced version survives one build for open handles.
			hits, err = held.Query(ctx, []float32{1, 0}, 1)
			require.NoError(t, err)
			assert.Equal(t, "first", hits[0].Chunk.DocID)
		}
	}

	names, err := api.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, versions, names)
}

func TestMilvusStoreReplacesPlainCollection(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	require.NoError(t, api.Create(ctx, "knowledge", "Document vectors for RAG", 2, MetricCosine))

	store := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: Spec{Dimension: 2, EmbedderModel: "test"}}, nil)
	_, err := store.DiscardInvalid(ctx)
	require.NoError(t, err)
	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, api.Create(ctx, "knowledge", "Document vectors for RAG", 2, MetricCosine))
	_, err = store.Build(ctx, []core.Entry{entry("a", 0, 1, 0)})
	require.NoError(t, err)
	assert.Contains(t, api.dropped, "knowledge")

	idx, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestMilvusStoreDiscardKeepsValidIndex(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	store := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: Spec{Dimension: 2, EmbedderModel: "test"}}, nil)

	_, err := store.Build(ctx, []core.Entry{entry("a", 0, 1, 0)})
	require.NoError(t, err)

	idx, err := store.DiscardInvalid(ctx)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, api.dropped)
}

func TestMilvusStoreLongFields(t *testing.T) {
	ctx := context.Background()
	api := newFakeCollections()
	store := newMilvusStore(api, MilvusConfig{Collection: "knowledge", Spec: Spec{Dimension: 2, EmbedderModel: "test"}}, nil)

	// A deeply nested Hindi path is far beyond 512 bytes.
	docID := strings.Repeat("कृषि-सलाह/", 60) + "सरसों.pdf#page=12"
	require.Greater(t, len(docID), 512)
	text := strings.Repeat("फसल", 8000)
	require.Greater(t, len(text), maxVarCharBytes)

	_, err := store.Build(ctx, []core.Entry{{
		Chunk:  core.Chunk{DocID: docID, Text: text},
		Vector: []float32{1, 0},
	}})
	require.NoError(t, err)

	idx, err := store.Load(ctx)
	require.NoError(t, err)
	hits, err := idx.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, docID, hits[0].Chunk.DocID)
	assert.LessOrEqual(t, len(hits[0].Chunk.Text), maxVarCharBytes)
	assert.True(t, utf8.ValidString(hits[0].Chunk.Text))
	assert.True(t, strings.HasPrefix(text, hits[0].Chunk.Text))
}
