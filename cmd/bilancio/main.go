package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"bilancio/internal/backend"
	"bilancio/internal/config"
	"bilancio/internal/engine"
	"bilancio/internal/log"
	"bilancio/internal/storage"
	"bilancio/internal/store"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     parseLogLevel(cfg.LogLevel),
		Component: log.ComponentApp,
	})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local durable state: budgets, session, device identity.
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize local database", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	actor, err := repo.LoadOrCreateActor(ctx)
	if err != nil {
		logger.Error("Failed to load device actor id", log.FieldError, err)
		os.Exit(1)
	}

	// Replica backend selected by configuration.
	backendCfg, err := backend.FromAppConfig(cfg, actor)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	if err := backendCfg.Validate(); err != nil {
		logger.Error("Backend configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	factory := backend.NewFactory(logger)
	result, err := factory.CreateClient(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize replica backend", log.FieldError, err,
			"backend", backendCfg.Type)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Warn("Backend cleanup failed", log.FieldError, err)
			}
		}()
	}

	st := store.New(repo, logger)
	if err := st.Load(ctx); err != nil {
		logger.Error("Failed to load local state", log.FieldError, err)
		os.Exit(1)
	}

	eng := engine.New(engine.Config{Actor: actor}, result.Client, st, logger)
	st.Bind(eng)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx)
	})
	if result.Run != nil {
		g.Go(func() error {
			return result.Run(gctx)
		})
	}

	// Reconnect to the family this device belongs to. The persisted
	// linkage wins over the environment; a failed connect leaves the
	// engine in its error state for a manual retry instead of killing
	// the process.
	g.Go(func() error {
		familyRef, err := repo.LoadFamilyRef(gctx)
		if err != nil {
			return err
		}
		fromEnv := false
		if familyRef == "" && cfg.FamilyRef != "" {
			familyRef = cfg.FamilyRef
			fromEnv = true
		}
		if familyRef == "" {
			logger.Info("No family linked, running standalone", log.FieldActor, actor)
			return nil
		}

		if err := eng.Connect(gctx, familyRef); err != nil {
			logger.Warn("Family connect failed",
				log.FieldError, err,
				log.FieldFamilyRef, familyRef)
			return nil
		}
		if fromEnv {
			if err := repo.SaveFamilyRef(gctx, familyRef); err != nil {
				logger.Warn("Failed to persist family linkage", log.FieldError, err)
			}
		}
		return nil
	})

	logger.Info("bilancio started",
		log.FieldActor, actor,
		"backend", backendCfg.Type,
		"db_path", cfg.SQLiteDBPath)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Runtime failure", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("bilancio stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
