package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/api"
	"github.com/neonrush/race-coordinator/internal/archive"
	"github.com/neonrush/race-coordinator/internal/config"
	"github.com/neonrush/race-coordinator/internal/lobby"
	"github.com/neonrush/race-coordinator/internal/store"
)

func main() {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	factory, closeStore, err := buildStoreFactory(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer closeStore()

	archiver, closeArchive, err := buildArchiver(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize archive")
	}
	defer closeArchive()

	registry := api.NewRegistry(factory, archiver, lobby.Config{
		CountdownSeconds: cfg.CountdownSeconds,
		CountdownTick:    cfg.CountdownTick,
		TrackID:          cfg.TrackID,
		Laps:             cfg.Laps,
	}, cfg.TeardownDelay, cfg.HandoffDir, log)

	handler := api.NewHandler(registry, log)

	router := chi.NewRouter()
	router.Use(api.RequestIDMiddleware)
	router.Use(middleware.RealIP)
	router.Use(api.LoggingMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Mount("/", handler.Routes())

	server := &http.Server{
		Addr:    cfg.Address(),
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	registry.CloseAll(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("Server exited")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

// buildStoreFactory returns a per-player store opener for the configured
// backend, plus a shutdown func for any shared resources.
func buildStoreFactory(cfg *config.Config, log zerolog.Logger) (api.StoreFactory, func(), error) {
	switch cfg.StoreBackend {
	case "redis":
		factory := func(playerID string) (store.Store, func(), error) {
			s, err := store.NewRedis(store.RedisConfig{
				Addr:         cfg.Redis.Addr,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				Namespace:    cfg.Redis.Namespace,
				HeartbeatTTL: cfg.Redis.HeartbeatTTL,
				ReapInterval: cfg.Redis.ReapInterval,
			}, log.With().Str("player_id", playerID).Logger())
			if err != nil {
				return nil, nil, err
			}
			return s, func() { _ = s.Close() }, nil
		}
		return factory, func() {}, nil
	default:
		mem := store.NewMemory()
		factory := func(playerID string) (store.Store, func(), error) {
			conn := mem.Connect()
			return conn, conn.Drop, nil
		}
		return factory, func() {}, nil
	}
}

func buildArchiver(cfg *config.Config, log zerolog.Logger) (archive.Archiver, func(), error) {
	switch cfg.ArchiveBackend {
	case "cassandra":
		c, err := archive.NewCassandra(archive.CassandraConfig{
			Hosts:       cfg.Cassandra.Hosts,
			Keyspace:    cfg.Cassandra.Keyspace,
			Username:    cfg.Cassandra.Username,
			Password:    cfg.Cassandra.Password,
			Consistency: cfg.Cassandra.Consistency,
			Timeout:     cfg.Cassandra.Timeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return archive.NewMemory(), func() {}, nil
	}
}
