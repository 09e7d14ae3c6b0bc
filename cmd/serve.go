package cmd

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

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/voxmail/voxmail/internal/config"
	"github.com/voxmail/voxmail/internal/credential"
	"github.com/voxmail/voxmail/internal/google"
	"github.com/voxmail/voxmail/internal/instrumentation"
	"github.com/voxmail/voxmail/internal/llm"
	"github.com/voxmail/voxmail/internal/logging"
	"github.com/voxmail/voxmail/internal/mcptools"
	"github.com/voxmail/voxmail/internal/router"
	"github.com/voxmail/voxmail/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		transport      string
		httpAddr       string
		metricsEnabled bool
		metricsAddr    string
		debugMode      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant server",
		Long: `Start the voxmail assistant server.

Supports two transport types:
  - http: JSON API for a chat frontend (default)
  - mcp-stdio: Model Context Protocol over stdio for AI assistants

Configuration comes from environment variables (a .env file is loaded when
present); flags override the listen addresses and metrics settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("metrics-enabled") {
				cfg.MetricsEnabled = metricsEnabled
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if debugMode {
				cfg.LogLevel = "debug"
			}
			return runServe(transport, cfg)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "http", "Transport type: http or mcp-stdio")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for http transport)")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Serve Prometheus metrics on a separate port")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(transport string, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Stdout carries the protocol in stdio mode, so logs go to stderr.
	logOut := os.Stdout
	if transport == "mcp-stdio" {
		logOut = os.Stderr
	}
	logger := logging.Setup(logOut, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	repo, err := credential.OpenRepo(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open credential database: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("credential database close failed", logging.Err(err))
		}
	}()

	googleCfg := &google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
	}

	store := credential.NewStore(cfg.SessionTTL, logger)
	defer store.Stop()

	manager := credential.NewManager(store, repo, googleCfg, logger)
	manager.SetMetrics(provider.Metrics())

	llmClient, err := llm.NewOpenAIClient(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, llm.AssistantTools())
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	switch transport {
	case "http":
		return runHTTP(ctx, cfg, logger, provider, manager, googleCfg, llmClient)
	case "mcp-stdio":
		return runStdio(manager, googleCfg, provider, logger)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: http, mcp-stdio)", transport)
	}
}

func runHTTP(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	provider *instrumentation.Provider,
	manager *credential.Manager,
	googleCfg *google.Config,
	llmClient llm.Client,
) error {
	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.HasPrometheus() {
		var err error
		metricsServer, err = server.NewMetricsServer(cfg.MetricsAddr, provider, logger)
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	srv := server.New(server.Options{
		Addr:       cfg.HTTPAddr,
		Logger:     logger,
		Manager:    manager,
		Google:     googleCfg,
		Router:     router.NewRouter(llmClient, logger),
		Metrics:    provider.Metrics(),
		SessionTTL: cfg.SessionTTL,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func runStdio(
	manager *credential.Manager,
	googleCfg *google.Config,
	provider *instrumentation.Provider,
	logger *slog.Logger,
) error {
	mcpSrv := mcpserver.NewMCPServer("voxmail", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	if err := mcptools.Register(mcpSrv, mcptools.Deps{
		Manager: manager,
		Google:  googleCfg,
		Metrics: provider.Metrics(),
		Logger:  logger,
	}); err != nil {
		return fmt.Errorf("failed to register mcp tools: %w", err)
	}

	logger.Info("starting mcp server on stdio")
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}
