package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/client/analytics"
	"github.com/zhouzirui/rabbitt-console/internal/config"
	"github.com/zhouzirui/rabbitt-console/internal/handler"
	"github.com/zhouzirui/rabbitt-console/internal/handler/voice"
	"github.com/zhouzirui/rabbitt-console/internal/logging"
	"github.com/zhouzirui/rabbitt-console/internal/model/persona"
	"github.com/zhouzirui/rabbitt-console/internal/service/session"
	"github.com/zhouzirui/rabbitt-console/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{Format: "console"})
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	store, err := storage.Open(ctx, storage.Config{
		Driver:     cfg.Store.Driver,
		SQLitePath: cfg.Store.SQLitePath,
		RedisURL:   cfg.Store.RedisURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open state store")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("state store ready")

	client := analytics.New(analytics.Options{
		BaseURL: cfg.Analytics.BaseURL,
		Timeout: cfg.Analytics.Timeout,
		Logger:  logger,
	})
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Health(checkCtx); err != nil {
		logger.Warn().Err(err).Str("base_url", cfg.Analytics.BaseURL).Msg("analytics backend not reachable yet")
	}
	cancel()

	personaStore := persona.NewMemoryStore(persona.Seed())

	sessions := session.NewManager(session.Deps{
		Backend:      client,
		Storage:      store,
		Personas:     personaStore,
		Logger:       logger,
		VoiceEnabled: cfg.Session.VoiceEnabled,
	}, cfg.Session.TTL)
	defer sessions.Close()

	var voiceBackend voice.Backend
	if cfg.Session.VoiceEnabled {
		voiceBackend = client
	} else {
		logger.Info().Msg("voice disabled by configuration")
	}

	router := handler.NewRouter(personaStore, sessions, voiceBackend, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("Rabbitt console listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
