package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fundraisely/quizsync/internal/config"
	"github.com/fundraisely/quizsync/internal/ledger"
	"github.com/fundraisely/quizsync/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(getEnv("CONFIG_FILE", "quizsync.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ledgerStore ledger.Store
	if os.Getenv("LEDGER_ENABLED") == "true" {
		pool, err := ledger.Connect(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("connecting ledger database")
		}
		defer pool.Close()
		ledgerStore = ledger.NewRepository(pool)
		log.Info().Str("database", cfg.Database.Database).Msg("ledger store connected")
	}

	var relay server.EventPublisher
	if cfg.Relay.Enabled {
		r, err := server.NewRelay(cfg.Relay)
		if err != nil {
			log.Fatal().Err(err).Msg("connecting event relay")
		}
		defer r.Close()
		relay = r
		log.Info().Str("url", cfg.Relay.URL).Msg("event relay connected")
	}

	srv := server.New(clockwork.NewRealClock(), ledgerStore, relay)

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     h2c.NewHandler(srv.Routes(), &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("room server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("room server shutdown complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
