package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fasalrakshak/fasalrakshak/internal/agent"
	"github.com/fasalrakshak/fasalrakshak/internal/chunker"
	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/embed"
	"github.com/fasalrakshak/fasalrakshak/internal/ingest"
	"github.com/fasalrakshak/fasalrakshak/internal/llm"
	"github.com/fasalrakshak/fasalrakshak/internal/loader"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
	"github.com/fasalrakshak/fasalrakshak/internal/retriever"
	"github.com/fasalrakshak/fasalrakshak/internal/tools"
	"go.uber.org/multierr"
)

// searcher is what both retrievers offer.
type searcher interface {
	core.Retriever
	Hits(ctx context.Context, query string, k int) ([]core.Hit, error)
}

// app holds the components shared by the commands. Fields stay nil until
// the open* method that needs them runs.
type app struct {
	cfg *config.Config

	embedder core.Embedder
	pipeline *ingest.Pipeline
	// index is nil when retrieval goes to a remote server.
	index     *ingest.Handle
	retriever searcher

	weather *tools.Weather
	advice  *tools.Advice

	provider llm.Provider
	prompts  *llm.PromptGenerator
	sessions *agent.Sessions

	closers []io.Closer
}

func newApp(cfg *config.Config) *app {
	return &app{
		cfg:     cfg,
		weather: tools.NewWeather(cfg.Weather),
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Close releases everything opened, last opened first.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}

// openPipeline builds the embedder, store and ingestion pipeline without
// touching the index.
func (a *app) openPipeline(ctx context.Context) error {
	if a.pipeline != nil {
		return nil
	}

	emb, closer, err := embed.New(ctx, a.cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	a.closers = append(a.closers, closer)
	a.embedder = emb

	store, err := a.openStore(ctx, emb)
	if err != nil {
		return err
	}

	a.pipeline = &ingest.Pipeline{
		Loader:   loader.NewDir(a.cfg.RAG.DocsDir),
		Embedder: emb,
		Store:    store,
		Chunking: chunker.Config{Size: a.cfg.RAG.ChunkSize, Overlap: a.cfg.RAG.ChunkOverlap},
		Logger:   logger.Zap(),
	}
	return nil
}

func (a *app) openStore(ctx context.Context, emb core.Embedder) (rag.Store, error) {
	spec := rag.Spec{
		Dimension:     emb.Dimension(),
		Metric:        rag.Metric(a.cfg.RAG.Metric),
		EmbedderModel: emb.Model(),
	}

	switch a.cfg.RAG.Backend {
	case config.BackendMilvus:
		m := a.cfg.RAG.Milvus
		store, err := rag.NewMilvusStore(ctx, rag.MilvusConfig{
			Address:    m.Address,
			Username:   m.Username,
			Password:   m.Password,
			Collection: m.Collection,
			Spec:       spec,
		}, logger.Zap())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(func() error {
			return store.Close(context.Background())
		}))
		return store, nil
	default:
		return rag.NewLocalStore(rag.LocalStoreConfig{
			Dir:      a.cfg.RAG.PersistDir,
			Spec:     spec,
			Compress: true,
		}, logger.Zap())
	}
}

// openKnowledge makes the advice tool usable. With rag.remote_url set the
// queries go to that server; otherwise the local index is opened, building
// it from the documents when no valid one is persisted.
func (a *app) openKnowledge(ctx context.Context) error {
	if a.retriever != nil {
		return nil
	}

	if url := a.cfg.RAG.RemoteURL; url != "" {
		logger.RAGInfo("Using remote knowledge base at %s", url)
		a.retriever = retriever.NewRemote(url, a.cfg.Embedder.Timeout)
		a.advice = tools.NewAdvice(a.retriever, a.cfg.RAG.TopK)
		return nil
	}

	if err := a.openPipeline(ctx); err != nil {
		return err
	}
	handle := ingest.NewHandle(a.pipeline)
	a.closers = append(a.closers, handle)

	report, err := handle.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open knowledge base from %s: %w", a.cfg.RAG.DocsDir, err)
	}
	if report.Loaded {
		logger.RAGInfo("Loaded knowledge base from %s (%d entries)", report.Location, report.Entries)
	} else {
		logger.RAGInfo("Built knowledge base at %s: %d documents, %d chunks, %d skipped",
			report.Location, report.Documents, report.Chunks, report.Skipped)
	}

	a.index = handle
	a.retriever = retriever.NewLocal(handle, a.embedder, a.cfg.RAG.TopK)
	a.advice = tools.NewAdvice(a.retriever, a.cfg.RAG.TopK)
	return nil
}

// openLLM creates the chat provider, persona and session store.
func (a *app) openLLM(ctx context.Context) error {
	if a.provider != nil {
		return nil
	}

	persona, err := llm.LoadPersona(a.cfg.PersonaFile)
	if err != nil {
		return err
	}
	provider, closer, err := llm.New(ctx, a.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	a.closers = append(a.closers, closer)

	logger.LLMInfo("Using %s model %s", a.cfg.LLM.Provider, provider.Model())
	a.provider = provider
	a.prompts = llm.NewPromptGenerator(persona)
	a.sessions = agent.NewSessions(a.cfg.LLM.MaxHistory)
	return nil
}

// newAgent returns an agent whose tools are checked against policy. A nil
// policy allows every tool.
func (a *app) newAgent(policy tools.PolicyService) *agent.Agent {
	router := tools.NewRouter(policy, a.weather, a.advice)
	return agent.New(a.provider, router, a.prompts, agent.Config{
		Temperature:   a.cfg.LLM.Temperature,
		MaxToolRounds: a.cfg.LLM.MaxToolRounds,
	})
}

