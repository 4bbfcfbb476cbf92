// Package server exposes the advisor over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/ingest"
	"github.com/fasalrakshak/fasalrakshak/internal/llm"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
	"github.com/fasalrakshak/fasalrakshak/internal/retriever"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Replier answers one chat turn.
type Replier interface {
	Reply(ctx context.Context, userID int64, history []llm.Message, input string) (string, []llm.Message, error)
}

// SessionStore keeps chat history per session ID.
type SessionStore interface {
	Get(key string) []llm.Message
	Set(key string, history []llm.Message)
}

// Searcher returns scored chunks for a query.
type Searcher interface {
	Hits(ctx context.Context, query string, k int) ([]core.Hit, error)
}

// Runner is a single-argument text tool.
type Runner interface {
	Run(ctx context.Context, input string) string
}

// IndexHandle reports on and rebuilds the served index.
type IndexHandle interface {
	Index() (rag.Index, error)
	Report() (ingest.Report, bool)
	Rebuild(ctx context.Context) (ingest.Report, error)
}

// Deps are the components behind the routes. A nil dependency disables the
// routes that need it.
type Deps struct {
	Agent    Replier
	Sessions SessionStore
	Searcher Searcher
	Weather  Runner
	Advice   Runner
	Index    IndexHandle
	Gatherer prometheus.Gatherer
	// ErrorReply is the chat error message; the default persona's when empty.
	ErrorReply string
}

// Server provides the HTTP API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	cfg    config.ServerConfig
	logger *zap.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(deps Deps, cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.ErrorReply == "" {
		deps.ErrorReply = llm.DefaultPersona().ErrorReply
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{echo: e, deps: deps, cfg: cfg, logger: logger}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	if s.deps.Searcher != nil {
		s.echo.POST(retriever.RetrievePath, s.handleRetrieve)
	}

	api := s.echo.Group("/api")
	if s.deps.Agent != nil && s.deps.Sessions != nil {
		api.POST("/chat", s.handleChat)
	}
	if s.deps.Weather != nil {
		api.GET("/tools/weather", s.handleWeather)
	}
	if s.deps.Advice != nil {
		api.POST("/tools/advice", s.handleAdvice)
	}

	// Without a token the admin routes do not exist.
	if s.cfg.AdminToken != "" && s.deps.Index != nil {
		admin := s.echo.Group("/admin", middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.AdminToken)) == 1, nil
		}))
		admin.POST("/rebuild", s.handleRebuild)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.cfg.Addr))
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// IndexStatus is the index part of the health response.
type IndexStatus struct {
	Ready    bool   `json:"ready"`
	Entries  int    `json:"entries"`
	Location string `json:"location,omitempty"`
	Embedder string `json:"embedder,omitempty"`
	Loaded   bool   `json:"loaded_from_disk"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string       `json:"status"`
	Index  *IndexStatus `json:"index,omitempty"`
}

// handleHealth reports ok when the index is open and degraded otherwise.
// Both are 200: the process is up and answering.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.deps.Index == nil {
		return c.JSON(http.StatusOK, resp)
	}

	status := &IndexStatus{}
	if idx, err := s.deps.Index.Index(); err == nil {
		status.Ready = true
		status.Entries = idx.Len()
		status.Embedder = idx.Manifest().EmbedderModel
	}
	if report, ok := s.deps.Index.Report(); ok {
		status.Location = report.Location
		status.Loaded = report.Loaded
	}
	if !status.Ready {
		resp.Status = "degraded"
	}
	resp.Index = status
	return c.JSON(http.StatusOK, resp)
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the response body for POST /api/chat.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	} else if _, err := uuid.Parse(req.SessionID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id must be a UUID")
	}

	key := "http:" + req.SessionID
	reply, history, err := s.deps.Agent.Reply(c.Request().Context(), 0, s.deps.Sessions.Get(key), req.Message)
	if err != nil {
		s.logger.Error("chat failed", zap.String("session_id", req.SessionID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, s.deps.ErrorReply)
	}
	s.deps.Sessions.Set(key, history)

	return c.JSON(http.StatusOK, ChatResponse{SessionID: req.SessionID, Reply: reply})
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req retriever.RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	hits, err := s.deps.Searcher.Hits(c.Request().Context(), req.Query, req.K)
	switch {
	case errors.Is(err, core.ErrEmptyInput):
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	case errors.Is(err, core.ErrRetrieverUnavailable):
		s.logger.Warn("retrieve unavailable", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("retrieve failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "retrieval failed")
	}

	resp := retriever.RetrieveResponse{
		Chunks: make([]core.Chunk, len(hits)),
		Scores: make([]float32, len(hits)),
	}
	for i, h := range hits {
		resp.Chunks[i] = h.Chunk
		resp.Scores[i] = h.Score
	}
	return c.JSON(http.StatusOK, resp)
}

// ToolResponse is the response body of the tool routes.
type ToolResponse struct {
	Result string `json:"result"`
}

func (s *Server) handleWeather(c echo.Context) error {
	city := strings.TrimSpace(c.QueryParam("city"))
	if city == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "city query parameter is required")
	}
	return c.JSON(http.StatusOK, ToolResponse{Result: s.deps.Weather.Run(c.Request().Context(), city)})
}

// AdviceRequest is the request body for POST /api/tools/advice.
type AdviceRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleAdvice(c echo.Context) error {
	var req AdviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	return c.JSON(http.StatusOK, ToolResponse{Result: s.deps.Advice.Run(c.Request().Context(), req.Query)})
}

func (s *Server) handleRebuild(c echo.Context) error {
	report, err := s.deps.Index.Rebuild(c.Request().Context())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
