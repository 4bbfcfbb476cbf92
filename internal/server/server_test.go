package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fasalrakshak/fasalrakshak/internal/agent"
	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/ingest"
	"github.com/fasalrakshak/fasalrakshak/internal/llm"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
	"github.com/fasalrakshak/fasalrakshak/internal/retriever"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type echoAgent struct{ err error }

func (a echoAgent) Reply(_ context.Context, _ int64, history []llm.Message, input string) (string, []llm.Message, error) {
	if a.err != nil {
		return "", nil, a.err
	}
	reply := fmt.Sprintf("turn %d: %s", len(history)/2+1, input)
	return reply, append(history, llm.Message{Role: llm.RoleUser, Content: input}, llm.Message{Role: llm.RoleAssistant, Content: reply}), nil
}

type fakeSearcher struct{ err error }

func (f fakeSearcher) Hits(_ context.Context, query string, k int) ([]core.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(query) == "" {
		return nil, core.ErrEmptyInput
	}
	return []core.Hit{
		{Chunk: core.Chunk{DocID: "pests.txt", Text: "neem oil"}, Score: 0.9},
		{Chunk: core.Chunk{DocID: "pests.txt", Seq: 1, Text: "aphids"}, Score: 0.5},
	}[:k], nil
}

type runnerFunc func(ctx context.Context, input string) string

func (f runnerFunc) Run(ctx context.Context, input string) string { return f(ctx, input) }

type fakeHandle struct {
	open       bool
	rebuildErr error
	rebuilds   int
}

func (h *fakeHandle) Index() (rag.Index, error) {
	if !h.open {
		return nil, core.ErrRetrieverUnavailable
	}
	m := rag.Manifest{SchemaVersion: rag.SchemaVersion, Dimension: 2, Metric: rag.MetricCosine, EmbedderModel: "hash-fnv1a", Count: 1}
	return rag.NewFlat([]core.Entry{{Chunk: core.Chunk{DocID: "a"}, Vector: []float32{1, 0}}}, m), nil
}

func (h *fakeHandle) Report() (ingest.Report, bool) {
	return ingest.Report{Location: "/var/fasal_index", Loaded: true}, h.open
}

func (h *fakeHandle) Rebuild(context.Context) (ingest.Report, error) {
	h.rebuilds++
	return ingest.Report{Documents: 3, Entries: 12}, h.rebuildErr
}

func newTestServer(t *testing.T, deps Deps, cfg config.ServerConfig) *Server {
	t.Helper()
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.NewRegistry()
	}
	s, err := NewServer(deps, cfg, zap.NewNop())
	require.NoError(t, err)
	return s
}

func do(s *Server, method, target, body string, header ...string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	return rec
}

func TestNewServerRequiresLogger(t *testing.T) {
	_, err := NewServer(Deps{}, config.ServerConfig{}, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	h := &fakeHandle{}
	s := newTestServer(t, Deps{Index: h}, config.ServerConfig{})

	rec := do(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Index.Ready)

	h.open = true
	rec = do(s, http.MethodGet, "/healthz", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Index.Ready)
	assert.Equal(t, 1, resp.Index.Entries)
	assert.Equal(t, "hash-fnv1a", resp.Index.Embedder)
	assert.Equal(t, "/var/fasal_index", resp.Index.Location)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "fasal_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newTestServer(t, Deps{Gatherer: reg}, config.ServerConfig{})
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fasal_test_total 1")
}

func TestChat(t *testing.T) {
	s := newTestServer(t, Deps{Agent: echoAgent{}, Sessions: agent.NewSessions(10)}, config.ServerConfig{})

	rec := do(s, http.MethodPost, "/api/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var first ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	_, err := uuid.Parse(first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "turn 1: hello", first.Reply)

	rec = do(s, http.MethodPost, "/api/chat", fmt.Sprintf(`{"session_id":%q,"message":"again"}`, first.SessionID))
	require.Equal(t, http.StatusOK, rec.Code)
	var second ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "turn 2: again", second.Reply)
}

func TestChatErrors(t *testing.T) {
	s := newTestServer(t, Deps{Agent: echoAgent{}, Sessions: agent.NewSessions(10)}, config.ServerConfig{})
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/chat", `{"message":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/chat", `{"session_id":"x","message":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/chat", `{`).Code)

	failing := newTestServer(t, Deps{Agent: echoAgent{err: errors.New("down")}, Sessions: agent.NewSessions(10)}, config.ServerConfig{})
	rec := do(failing, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "I'm sorry, I encountered an error")
}

func TestRetrieve(t *testing.T) {
	s := newTestServer(t, Deps{Searcher: fakeSearcher{}}, config.ServerConfig{})

	rec := do(s, http.MethodPost, retriever.RetrievePath, `{"query":"neem","k":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp retriever.RetrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, "neem oil", resp.Chunks[0].Text)
	assert.Equal(t, []float32{0.9, 0.5}, resp.Scores)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, retriever.RetrievePath, `{"query":""}`).Code)

	down := newTestServer(t, Deps{Searcher: fakeSearcher{err: core.ErrRetrieverUnavailable}}, config.ServerConfig{})
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodPost, retriever.RetrievePath, `{"query":"neem"}`).Code)
}

// The server's own Remote client must understand its replies.
func TestRetrieveWithRemoteClient(t *testing.T) {
	s := newTestServer(t, Deps{Searcher: fakeSearcher{}}, config.ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	chunks, err := retriever.NewRemote(srv.URL, 0).Retrieve(context.Background(), "neem", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "neem oil", chunks[0].Text)

	down := newTestServer(t, Deps{Searcher: fakeSearcher{err: core.ErrRetrieverUnavailable}}, config.ServerConfig{})
	downSrv := httptest.NewServer(down.Handler())
	defer downSrv.Close()
	_, err = retriever.NewRemote(downSrv.URL, 0).Retrieve(context.Background(), "neem", 1)
	assert.ErrorIs(t, err, core.ErrRetrieverUnavailable)
}

func TestToolRoutes(t *testing.T) {
	s := newTestServer(t, Deps{
		Weather: runnerFunc(func(_ context.Context, city string) string { return "weather in " + city }),
		Advice:  runnerFunc(func(_ context.Context, q string) string { return "advice on " + q }),
	}, config.ServerConfig{})

	rec := do(s, http.MethodGet, "/api/tools/weather?city=Jodhpur", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"weather in Jodhpur"}`, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/tools/weather", "").Code)

	rec = do(s, http.MethodPost, "/api/tools/advice", `{"query":"drought"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"advice on drought"}`, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/tools/advice", `{"query":""}`).Code)
}

func TestAdminRebuild(t *testing.T) {
	h := &fakeHandle{open: true}
	s := newTestServer(t, Deps{Index: h}, config.ServerConfig{AdminToken: "secret"})

	rec := do(s, http.MethodPost, "/admin/rebuild", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, h.rebuilds)

	rec = do(s, http.MethodPost, "/admin/rebuild", "", "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var report ingest.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 12, report.Entries)
	assert.Equal(t, 1, h.rebuilds)

	h.rebuildErr = errors.New("no documents found")
	rec = do(s, http.MethodPost, "/admin/rebuild", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	s := newTestServer(t, Deps{Index: &fakeHandle{open: true}}, config.ServerConfig{})
	rec := do(s, http.MethodPost, "/admin/rebuild", "", "Authorization", "Bearer anything")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
