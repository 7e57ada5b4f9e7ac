// Command relbotd is the release-approval daemon: it listens for
// deployment requests and approval clicks in chat and drives the SSO and
// Jenkins orchestrators to completion. Structured as a cobra root command
// with signal-based graceful shutdown, following cmd/semspec/main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version and BuildTime are set via -ldflags at release build time.
	Version   = "dev"
	BuildTime = "unknown"

	dbPath      string
	natsURL     string
	metricsAddr string
	slackToken  string
	slackAppTok string
	logLevel    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "relbotd",
		Short:   "relbot release-approval daemon",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		RunE:    runDaemon,
	}
	rootCmd.Flags().StringVar(&dbPath, "db", "relbot.db", "path to the relbot sqlite database")
	rootCmd.Flags().StringVar(&natsURL, "nats-url", "", "external NATS URL; empty starts an embedded server")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics and /healthz on")
	rootCmd.Flags().StringVar(&slackToken, "slack-bot-token", os.Getenv("SLACK_BOT_TOKEN"), "Slack bot token")
	rootCmd.Flags().StringVar(&slackAppTok, "slack-app-token", os.Getenv("SLACK_APP_TOKEN"), "Slack app-level token for Socket Mode")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("relbotd: fatal error", "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
