package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/media/pion"
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/signaling/ws"
	"github.com/vasanthgoud799/connectify-sub001/internal/auth"
	"github.com/vasanthgoud799/connectify-sub001/internal/config"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/service"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	self, tokens, err := identity(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve identity")
	}
	l := log.With().Str("user_id", self.ID.String()).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signaler := ws.NewClient(cfg.SignalURL, tokens, ws.Options{
		Protocol:          cfg.Protocol,
		HeartbeatInterval: cfg.HeartbeatInterval,
		OnState: func(connected bool) {
			l.Info().Bool("connected", connected).Msg("Signaling state changed")
		},
	})

	devices, err := newDevices()
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to open media devices")
	}
	engine, err := pion.NewEngine(cfg.ICEServers, devices)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create media engine")
	}
	tracked := &trackingEngine{Engine: engine}

	machine := service.NewCallMachine(self, signaler, tracked)
	machine.OnChange(func(s service.Session) {
		ev := l.Info().Str("state", s.State.String())
		if s.Remote != nil {
			ev = ev.Str("remote", s.Remote.ID.String()).Str("call_type", string(s.CallType))
		}
		ev.Msg("Call state changed")
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		signaler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		machine.Run(ctx)
	}()

	c := &console{machine: machine, stats: tracked.stats, out: os.Stdout}
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if quit := c.exec(scanner.Text()); quit {
				break
			}
		}
		stop()
	}()

	l.Info().Str("url", cfg.SignalURL).Str("protocol", cfg.Protocol.String()).Msg("Call client started")
	<-ctx.Done()
	wg.Wait()
	l.Info().Msg("Call client exited")
}

// identity picks the token source. A configured token is used as is and the
// user is read from it; otherwise tokens are minted with the shared secret.
func identity(cfg *config.Client) (domain.RemoteUser, port.TokenSource, error) {
	if cfg.AuthToken != "" {
		user, err := auth.ProfileOf(cfg.AuthToken)
		if err != nil {
			return domain.RemoteUser{}, nil, err
		}
		return user, auth.StaticTokenSource(cfg.AuthToken), nil
	}
	user := domain.RemoteUser{ID: cfg.UserID, Name: cfg.DisplayName}
	return user, &auth.IssuerTokenSource{Issuer: auth.NewIssuer(cfg.JWTSecret, 0), User: user}, nil
}

// trackingEngine remembers the latest transport for the status command.
type trackingEngine struct {
	*pion.Engine

	mu   sync.Mutex
	last *pion.Transport
}

func (e *trackingEngine) NewTransport(hooks port.TransportHooks) (port.MediaTransport, error) {
	t, err := e.Engine.NewTransport(hooks)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.last, _ = t.(*pion.Transport)
	e.mu.Unlock()
	return t, nil
}

func (e *trackingEngine) stats() (pion.CandidateStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return pion.CandidateStats{}, false
	}
	return e.last.Stats(), true
}
