// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github-visibility-bot/internal/api"
	"github-visibility-bot/internal/authz"
	"github-visibility-bot/internal/config"
	"github-visibility-bot/internal/credential"
	"github-visibility-bot/internal/database"
	"github-visibility-bot/internal/database/memory"
	"github-visibility-bot/internal/dispatcher"
	"github-visibility-bot/internal/encryption"
	"github-visibility-bot/internal/github"
	"github-visibility-bot/internal/logging"
	"github-visibility-bot/internal/telegram"
	"github-visibility-bot/internal/visibility"
)

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "github-visibility-bot",
	Short: "Telegram bot that switches GitHub repositories between public and private",
	Long: `A Telegram bot for managing GitHub repository visibility.

Users register named GitHub tokens, pick one as active and flip repositories
between public and private, one at a time or in batches. Every change is
recorded in an audit log.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the HTTP server",
	Long:  `Apply pending migrations, then serve Telegram updates and the health endpoint until interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a fresh base64 ENCRYPTION_KEY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := encryption.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(keygenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the process logger from it.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, _, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	slog.SetDefault(logger)
	logger.Info("Configuration loaded successfully", "config", cfg)
	return cfg, logger, nil
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrations need STORE_DRIVER=%s", config.StoreDriverPostgres)
	}
	if err := database.Migrate(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cipher, err := encryption.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// Application components
	ghClient := github.NewClient(cfg.GitHubAPIURL, cfg.GitHubTimeout, logger)
	limiter := authz.NewRateLimiter(cfg.RateLimitCount, cfg.RateLimitWindow)
	gate := authz.NewGate(store, limiter, cfg.AdminUserIDs, logger)
	creds := credential.NewManager(store, ghClient, cipher, logger)
	vis := visibility.NewController(ghClient, creds, store, cfg.BatchMaxSize, logger)
	disp := dispatcher.New(gate, creds, vis, store, logger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	logger.Info("Telegram bot authorized", "bot", botAPI.Self.UserName)

	webhook := cfg.TelegramMode == config.TelegramModeWebhook
	bot := telegram.NewBot(botAPI, disp, telegram.Options{
		Webhook:    webhook,
		WebhookURL: webhookURL(cfg),
	}, logger)

	var receiver api.WebhookReceiver
	if webhook {
		receiver = bot
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(store, receiver, cfg.TelegramWebhookSecret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})
	g.Go(func() error {
		pruneLimiter(gctx, limiter, cfg.RateLimitWindow)
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("Application started. Waiting for shutdown signal...")
	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}

// openStore returns the configured store and its close func. The postgres
// store is migrated before use.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("Using the in-memory store, all data is lost on restart")
		return memory.New(), func() {}, nil
	}

	if err := database.Migrate(cfg.DBURL); err != nil {
		return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	pg, err := database.Open(ctx, database.PoolConfig{
		URL:      cfg.DBURL,
		MinConns: cfg.DBMinConns,
		MaxConns: cfg.DBMaxConns,
		Timeout:  cfg.StoreTimeout,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Database connection established")
	return pg, pg.Close, nil
}

// webhookURL is the public address Telegram posts updates to.
func webhookURL(cfg *config.Config) string {
	return strings.TrimRight(cfg.TelegramWebhookURL, "/") + "/telegram/" + cfg.TelegramWebhookSecret
}

func pruneLimiter(ctx context.Context, limiter *authz.RateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
		}
	}
}
