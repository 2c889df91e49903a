package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/gateway/ws"
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/presence/memory"
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/presence/redis"
	handler "github.com/vasanthgoud799/connectify-sub001/internal/adapter/driving/http"
	"github.com/vasanthgoud799/connectify-sub001/internal/auth"
	"github.com/vasanthgoud799/connectify-sub001/internal/config"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/service"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := presenceStore(ctx, cfg)
	hub := ws.NewHub()
	presence := service.NewPresenceRegistry(store, cfg.PresenceTTL)
	relay := service.NewRelay(presence, hub)
	h := handler.NewHandler(relay, presence, hub, auth.NewValidator(cfg.JWTSecret), handler.Options{
		PingInterval:   cfg.PingInterval,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Dur("presence_ttl", cfg.PresenceTTL).Msg("Starting signaling server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	if c, ok := store.(interface{ Close() error }); ok {
		c.Close()
	}
	log.Info().Msg("Server exited")
}

// presenceStore uses Redis when REDIS_URL is set so several instances share
// one registry, and an in-process map otherwise.
func presenceStore(ctx context.Context, cfg *config.Server) port.PresenceStore {
	if cfg.RedisURL != "" {
		s := redis.NewPresenceStore(cfg.RedisURL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Using Redis presence store")
		return s
	}

	s := memory.NewPresenceStore()
	go func() {
		ticker := time.NewTicker(cfg.PresenceTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Debug().Int("expired", n).Msg("Swept presence records")
				}
			}
		}
	}()
	return s
}
