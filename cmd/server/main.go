package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mixelka/replydesk/internal/api"
	"github.com/mixelka/replydesk/internal/assistant"
	"github.com/mixelka/replydesk/internal/auth"
	"github.com/mixelka/replydesk/internal/billing"
	"github.com/mixelka/replydesk/internal/config"
	"github.com/mixelka/replydesk/internal/database"
	"github.com/mixelka/replydesk/internal/mailbox"
	"github.com/mixelka/replydesk/internal/normalizer"
	"github.com/mixelka/replydesk/internal/provider"
	"github.com/mixelka/replydesk/internal/reply"
	"github.com/mixelka/replydesk/internal/secret"
	"github.com/mixelka/replydesk/internal/usage"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "replydesk",
		Short:         "Gmail reply assistant API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSession()
			if err != nil {
				return err
			}
			token, err := issueToken(cfg, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	})

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting reply assistant")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	server, err := buildServer(cfg, db, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	// Wait for a shutdown signal
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down http server", "error", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

func buildServer(cfg *config.Config, db *database.DB, logger *slog.Logger) (*api.Server, error) {
	cipher, err := secret.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	sessions, err := auth.New(cfg.SessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	gmailClient := provider.NewGmail(provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Endpoint:     cfg.GmailEndpoint,
		Timeout:      cfg.ProviderTimeout,
		RateLimit:    cfg.GmailRateLimit,
	}, logger)
	mailboxService := mailbox.NewService(gmailClient, db, cipher, logger)

	var classifier normalizer.Classifier = normalizer.ReplyAll{}
	if cfg.ReplyPolicy == config.ReplyPolicyAutomated {
		classifier = normalizer.NewAutomatedSenderClassifier()
	}

	completer := reply.NewOpenAICompleter(reply.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})

	meter := usage.NewMeter(db, usage.Limits{
		MessagesPerDay: cfg.FreeMessagesPerDay,
		DraftsPerDay:   cfg.FreeDraftsPerDay,
	}, loc)

	assistantService := assistant.NewService(assistant.Deps{
		Store:      db,
		Mailbox:    mailboxService,
		Normalizer: normalizer.New(normalizer.WithClassifier(classifier)),
		Generator:  reply.NewGenerator(completer, logger),
		Meter:      meter,
		Tiers:      billing.NewService(db, logger),
		Logger:     logger,
		FetchLimit: cfg.FetchMaxResults,
	})

	logger.Info("components ready",
		"model", cfg.OpenAIModel,
		"reply_policy", cfg.ReplyPolicy,
		"usage_timezone", loc.String(),
	)

	return api.NewServer(assistantService, mailboxService, sessions, logger), nil
}

func issueToken(cfg *config.Session, userID string, now time.Time) (string, error) {
	sessions, err := auth.New(cfg.SessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return "", err
	}
	return sessions.Issue(userID, now)
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
