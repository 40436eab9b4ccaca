package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskflow/mailcenter/internal/api"
	"github.com/taskflow/mailcenter/internal/config"
	"github.com/taskflow/mailcenter/internal/directory"
	"github.com/taskflow/mailcenter/internal/history"
	"github.com/taskflow/mailcenter/internal/mailer"
	"github.com/taskflow/mailcenter/internal/metrics"
	"github.com/taskflow/mailcenter/internal/templatestore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign service",
	RunE:  runServe,
}

var configFile string

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/mailcenter/config.yaml", "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	sender, err := buildSender(cfg, logger)
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer hist.Close()

	srv := api.NewServer(
		cfg,
		templatestore.NewClient(cfg.Templates),
		directory.NewClient(cfg.Directory),
		sender,
		hist,
		metrics.New(),
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()
	}()

	return srv.Run(ctx)
}

func buildSender(cfg *config.Config, logger *slog.Logger) (mailer.Sender, error) {
	switch cfg.Mailer.Provider {
	case "http":
		return mailer.NewClient(cfg.Mailer.HTTP), nil
	case "smtp":
		return mailer.NewSMTPSender(cfg.Mailer.SMTP)
	default:
		return mailer.NewNoop(logger), nil
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
