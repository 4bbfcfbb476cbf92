package retriever

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/embed"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	idx rag.Index
	err error
}

func (s staticSource) Index() (rag.Index, error) { return s.idx, s.err }

func buildIndex(t *testing.T, e core.Embedder, texts ...string) rag.Index {
	t.Helper()
	store, err := rag.NewLocalStore(rag.LocalStoreConfig{
		Dir:  filepath.Join(t.TempDir(), "index"),
		Spec: rag.Spec{Dimension: e.Dimension(), EmbedderModel: e.Model()},
	}, nil)
	require.NoError(t, err)

	var entries []core.Entry
	for i, text := range texts {
		vec, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		entries = append(entries, core.Entry{
			Chunk:  core.Chunk{DocID: "doc", Seq: i, Text: text},
			Vector: vec,
		})
	}
	idx, err := store.Build(context.Background(), entries)
	require.NoError(t, err)
	return idx
}

func TestLocalRetrieve(t *testing.T) {
	e := embed.NewHash(384)
	idx := buildIndex(t, e,
		"Drought-resistant crops include millet and sorghum.",
		"Pest control: neem oil repels aphids.",
		"Drip irrigation saves water during drought.",
	)
	r := NewLocal(staticSource{idx: idx}, e, 2)

	chunks, err := r.Retrieve(context.Background(), "How to control pests", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Pest control: neem oil repels aphids.", chunks[0].Text)

	chunks, err = r.Retrieve(context.Background(), "drought", 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 2, "k < 1 uses the default")

	chunks, err = r.Retrieve(context.Background(), "drought", 10)
	require.NoError(t, err)
	assert.Len(t, chunks, 3)

	hits, err := r.Hits(context.Background(), "neem oil", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Greater(t, hits[0].Score, float32(0))
}

func TestLocalRetrieveUnavailable(t *testing.T) {
	e := embed.NewHash(384)
	idx := buildIndex(t, e, "Pest control: neem oil repels aphids.")

	tests := []struct {
		name string
		r    *Local
	}{
		{"no index", NewLocal(staticSource{err: core.ErrRetrieverUnavailable}, e, 4)},
		{"empty index", NewLocal(staticSource{idx: rag.NewFlat(nil, idx.Manifest())}, e, 4)},
		{"different embedder model", NewLocal(staticSource{idx: idx}, renamed{e}, 4)},
		{"different dimension", NewLocal(staticSource{idx: idx}, embed.NewHash(128), 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.r.Retrieve(context.Background(), "pests", 4)
			assert.ErrorIs(t, err, core.ErrRetrieverUnavailable)
		})
	}

	_, err := NewLocal(staticSource{idx: idx}, e, 4).Retrieve(context.Background(), "  ", 4)
	assert.ErrorIs(t, err, core.ErrEmptyInput)
}

type renamed struct{ core.Embedder }

func (renamed) Model() string { return "all-MiniLM-L6-v2" }

func TestRemoteRetrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, RetrievePath, r.URL.Path)

		var req RetrieveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "neem", req.Query)
		assert.Equal(t, 2, req.K)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RetrieveResponse{
			Chunks: []core.Chunk{{DocID: "pests.txt", Text: "neem oil"}, {DocID: "pests.txt", Seq: 1, Text: "aphids"}},
			Scores: []float32{0.9},
		})
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL+"/", 0)
	chunks, err := remote.Retrieve(context.Background(), "neem", 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "neem oil", chunks[0].Text)
	assert.Equal(t, 1, chunks[1].Seq)

	hits, err := remote.Hits(context.Background(), "neem", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)
	assert.Zero(t, hits[1].Score)
}

func TestRemoteRetrieveErrors(t *testing.T) {
	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "index is not open", http.StatusServiceUnavailable)
	}))
	defer unavailable.Close()

	_, err := NewRemote(unavailable.URL, 0).Retrieve(context.Background(), "neem", 2)
	assert.ErrorIs(t, err, core.ErrRetrieverUnavailable)

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	_, err = NewRemote(url, 0).Retrieve(context.Background(), "neem", 2)
	assert.ErrorIs(t, err, core.ErrRetrieverUnavailable)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()
	_, err = NewRemote(bad.URL, 0).Retrieve(context.Background(), "neem", 2)
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrRetrieverUnavailable)
}
