package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "thenoted",
	Short: "Creative session backend daemon",
	Long: `thenoted - the creative session backend.

Clients open sessions, stream audio frames for real-time analysis,
request generated lyric/melody content, render vocal takes and store
consented profile memory. Events fan out to WebSocket subscribers.

Examples:
  # Run the daemon with defaults (listen :8080, data under ./data)
  thenoted serve

  # Run with a config file
  thenoted serve --config /etc/thenoted/thenoted.yaml

  # Dump counters from a running daemon
  thenoted telemetry --addr http://localhost:8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// newLogger builds the process logger from the --log-level flag.
func newLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
