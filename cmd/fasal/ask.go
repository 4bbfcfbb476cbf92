package main

import (
	"fmt"
	"strings"

	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/mcpserver"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
	"github.com/fasalrakshak/fasalrakshak/internal/tools"
	"github.com/spf13/cobra"
)

var (
	retrieveK    int
	retrieveJSON bool
)

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveK, "top-k", "k", 0, "number of chunks to return (default rag.top_k)")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "print scored hits as JSON")
}

// askCmd answers one question with the full agent
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the advisor a single question",
	Long: `Ask the advisor one question and print its answer. The agent may look up
the weather and the knowledge base before answering.

Examples:
  fasal ask "Should I irrigate my bajra this week in Jodhpur?"
  fasal ask "गेहूं में दीमक का उपचार क्या है?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := newApp(cfg)
		defer closeApp(a)

		if err := a.openKnowledge(ctx); err != nil {
			return err
		}
		if err := a.openLLM(ctx); err != nil {
			return err
		}

		answer, err := a.newAgent(nil).Ask(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

// retrieveCmd prints knowledge base advice for a query
var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Search the knowledge base",
	Long: `Print the knowledge base passages most relevant to a query, exactly as
the advisor's knowledge base tool would return them.

Examples:
  fasal retrieve "pest control for mustard"
  fasal retrieve -k 2 --json "drought resistant crops"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := newApp(cfg)
		defer closeApp(a)

		if err := a.openKnowledge(ctx); err != nil {
			return err
		}

		query := strings.Join(args, " ")
		k := retrieveK
		if k < 1 {
			k = cfg.RAG.TopK
		}

		out := cmd.OutOrStdout()
		if retrieveJSON {
			hits, err := a.retriever.Hits(ctx, query, k)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rag.FormatHitsAsJSON(hits))
			return nil
		}
		fmt.Fprintln(out, tools.NewAdvice(a.retriever, k).Run(ctx, query))
		return nil
	},
}

// weatherCmd prints the current weather for a city
var weatherCmd = &cobra.Command{
	Use:   "weather <city>",
	Short: "Show the current weather for a city",
	Long: `Show the current weather for a city from OpenWeatherMap. The API key is
read from weather.api_key or OPENWEATHERMAP_API_KEY.

Examples:
  fasal weather Jodhpur`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tools.NewWeather(cfg.Weather)
		fmt.Fprintln(cmd.OutOrStdout(), w.Run(cmd.Context(), strings.Join(args, " ")))
		return nil
	},
}

// mcpCmd serves the tools over MCP on stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the weather and knowledge base tools over MCP",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing the
WeatherForecast and AgriculturalKnowledgeBase tools. Logs go to stderr.

Examples:
  # Register with an MCP client
  {"command": "fasal", "args": ["mcp", "--config", "/etc/fasal.yaml"]}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a := newApp(cfg)
		defer closeApp(a)

		if err := a.openKnowledge(ctx); err != nil {
			return err
		}

		mcpCfg := mcpserver.DefaultConfig()
		mcpCfg.Version = version
		mcpCfg.Logger = logger.Zap()
		srv, err := mcpserver.NewServer(mcpCfg, tools.NewRouter(nil, a.weather, a.advice))
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}
