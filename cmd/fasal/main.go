// Package main implements the fasal CLI: the advisor's servers, the Telegram
// bot and one-shot commands against the knowledge base and tools.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML file passed with --config
	configPath string
	debug      bool
	// version information
	version = "dev"

	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fasal",
	Short: "Fasal Rakshak, a farming advisor for Rajasthan",
	Long: `fasal runs the Fasal Rakshak advisor: an agent that answers farmers'
questions using current weather and a knowledge base of expert documents.

Settings come from the --config YAML file, FASAL_* environment variables and
a .env file in the working directory.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Init(debug || cfg.Log.Level == "debug", cfg.Log.Format)
		metrics.MustRegister(prometheus.DefaultRegisterer)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(weatherCmd)
	rootCmd.AddCommand(mcpCmd)
}
