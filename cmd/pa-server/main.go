package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/priorauth/priorauth/internal/config"
	"github.com/priorauth/priorauth/internal/domain/clinical"
	"github.com/priorauth/priorauth/internal/domain/workitem"
	"github.com/priorauth/priorauth/internal/pipeline"
	"github.com/priorauth/priorauth/internal/platform/analysis"
	"github.com/priorauth/priorauth/internal/platform/db"
	"github.com/priorauth/priorauth/internal/platform/docgen"
	"github.com/priorauth/priorauth/internal/platform/eventhub"
	"github.com/priorauth/priorauth/internal/platform/middleware"
	"github.com/priorauth/priorauth/internal/platform/notify"
	"github.com/priorauth/priorauth/internal/platform/records"
	"github.com/priorauth/priorauth/internal/platform/resultcache"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pa-server",
		Short: "Prior-authorization workflow server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prior-authorization API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withMigrator loads config, opens a pool and hands a ready Migrator to fn.
func withMigrator(dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.UseMemoryStore() {
		return fmt.Errorf("DATABASE_URL is required to migrate")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "migrations", "migrations directory")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", applied)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied " + s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%03d %-30s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	})

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	// State store
	ctx := context.Background()
	var store workitem.Store
	if cfg.UseMemoryStore() {
		logger.Warn().Msg("no DATABASE_URL, using in-memory state store")
		store = workitem.NewMemoryStore(workitem.WithMaxRetries(cfg.CASMaxRetries))
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		store = workitem.NewPGStore(pool, workitem.WithPGMaxRetries(cfg.CASMaxRetries))
	}
	svc := workitem.NewService(store)

	// Clinical record source
	fhirClient := records.NewClient(cfg.FHIRBaseURL,
		records.WithToken(cfg.FHIRToken),
		records.WithLogger(logger))
	aggregator := clinical.NewAggregator(fhirClient, logger,
		clinical.WithObservationLookback(cfg.ObservationLookback()),
		clinical.WithProcedureLookback(cfg.ProcedureLookback()))

	// Analyzer
	var analyzer analysis.Analyzer
	if cfg.AnthropicAPIKey != "" {
		analyzer = analysis.NewAnthropicAnalyzer(cfg.AnthropicAPIKey, cfg.AnalysisModel, logger)
		logger.Info().Msg("using model-backed analyzer")
	} else {
		analyzer = analysis.NewRuleAnalyzer()
		logger.Warn().Msg("no ANTHROPIC_API_KEY, using rule-based analyzer")
	}

	// Pipeline collaborators
	hub := eventhub.New(logger)
	renderer := docgen.NewPDFRenderer()
	cache := resultcache.NewMemoryCache()
	processor := pipeline.NewProcessor(aggregator, analyzer, store, hub, renderer, cache,
		cfg.DefaultProcedureCode, logger)

	// Background run lifetime; cancelled on shutdown.
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	// Slack milestone notifier
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		notifier := notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, logger)
		go notifier.Run(runCtx, hub.Subscribe())
		logger.Info().Str("channel", cfg.SlackChannel).Msg("slack notifier attached")
	}

	// Stale-item sweeper
	if cfg.SweepSchedule != "" {
		sweeper := pipeline.NewSweeper(store, hub, cfg.StaleAfter(), logger)
		if err := sweeper.Start(cfg.SweepSchedule); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	apiV1 := e.Group("/api/v1")
	workitem.NewHandler(svc).RegisterRoutes(apiV1)
	eventhub.NewHandler(hub).RegisterRoutes(apiV1)
	pipeline.NewHandler(processor, svc, runCtx, logger).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancelRuns()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
