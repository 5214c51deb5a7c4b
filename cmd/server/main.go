package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/relay/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/relay/sqlite"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/logging"
	"github.com/rs/zerolog/log"
)

type store interface {
	port.RelayChannel
	Close() error
}

func openStore(cfg config.Config) (store, error) {
	if cfg.Store == config.StoreSQLite {
		return sqlite.Open(cfg.SQLitePath, cfg.PollInterval)
	}
	return memory.NewRelay(), nil
}

func main() {
	cfg, err := config.Load("yacall-server", os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := logging.Setup(cfg.LogLevel, string(cfg.LogFormat), os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Invalid logging configuration")
	}

	relay, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", string(cfg.Store)).Msg("Failed to open store")
	}

	hub := ws.NewHub()
	h := handler.NewHandler(relay, hub)

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("store", string(cfg.Store)).Msg("Starting relay server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	if err := relay.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close store")
	}
	log.Info().Msg("Server exited")
}
