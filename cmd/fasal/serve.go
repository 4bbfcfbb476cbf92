package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/auth"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/server"
	"github.com/fasalrakshak/fasalrakshak/internal/telegram"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// serveCmd runs the HTTP API and, with a token configured, the Telegram bot
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the Telegram bot",
	Long: `Run the HTTP API (chat, retrieval, tools, health and metrics). When a
Telegram token is configured the bot runs in the same process and shares the
knowledge base.

The knowledge base is opened before anything starts serving. If it can
neither be loaded nor built the command exits with an error.

Examples:
  # Serve with settings from a file
  fasal serve --config configs/fasal.example.yaml

  # Serve on another port
  FASAL_SERVER__ADDR=:9090 fasal serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// botCmd runs only the Telegram bot
var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot",
	Long: `Run the Telegram bot without the HTTP API. The token is read from
telegram.token, TELEGRAM_BOT_TOKEN or TG_BOT_TOKEN.

Examples:
  TELEGRAM_BOT_TOKEN=123:abc fasal bot`,
	Args: cobra.NoArgs,
	RunE: runBot,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a := newApp(cfg)
	defer closeApp(a)

	if err := a.openKnowledge(ctx); err != nil {
		return err
	}
	if err := a.openLLM(ctx); err != nil {
		return err
	}

	deps := server.Deps{
		Agent:      a.newAgent(nil),
		Sessions:   a.sessions,
		Searcher:   a.retriever,
		Weather:    a.weather,
		Advice:     a.advice,
		Gatherer:   prometheus.DefaultGatherer,
		ErrorReply: a.prompts.Persona().ErrorReply,
	}
	if a.index != nil {
		deps.Index = a.index
	}
	srv, err := server.NewServer(deps, cfg.Server, logger.Zap())
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	if cfg.Telegram.Token != "" {
		b, err := newTelegramBot(a)
		if err != nil {
			return err
		}
		go b.Start(ctx)
	} else {
		logger.Info("No Telegram token configured, running the HTTP API only")
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("Server has been shut down")
	return nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("%w: set telegram.token or TELEGRAM_BOT_TOKEN", core.ErrMissingCredential)
	}

	ctx := cmd.Context()
	a := newApp(cfg)
	defer closeApp(a)

	if err := a.openKnowledge(ctx); err != nil {
		return err
	}
	if err := a.openLLM(ctx); err != nil {
		return err
	}

	b, err := newTelegramBot(a)
	if err != nil {
		return err
	}
	logger.Info("Starting bot...")
	b.Start(ctx)
	logger.Info("Bot has been shut down")
	return nil
}

// newTelegramBot wires the bot with per-user tool policy. /rebuild is only
// offered when the index is local.
func newTelegramBot(a *app) (*telegram.Bot, error) {
	policy := auth.NewPolicyService(cfg.Telegram.AdminUserIDs, cfg.Telegram.AllowedUserIDs)

	var rebuilder telegram.Rebuilder
	if a.index != nil {
		rebuilder = a.index
	}
	return telegram.NewBot(cfg.Telegram.Token, a.newAgent(policy), a.sessions, policy, rebuilder, a.prompts.Persona())
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		logger.Warn("Error during cleanup: %v", err)
	}
}
