package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/waveroom/spaces/internal/adapters/http"
	"github.com/waveroom/spaces/internal/adapters/redistransport"
	"github.com/waveroom/spaces/internal/adapters/wstransport"
	"github.com/waveroom/spaces/internal/api"
	"github.com/waveroom/spaces/internal/app"
	"github.com/waveroom/spaces/internal/config"
	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
	"github.com/waveroom/spaces/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StatePath).Msg("failed to open state store")
	}
	defer st.Close()

	var tokens core.TokenProvider = api.StaticToken(cfg.AuthToken)
	if cfg.AuthToken == "" {
		tokens = api.EnvToken("SPACES_TOKEN")
	}
	listing := api.NewClient(cfg.APIBaseURL, tokens, cfg.CallTimeout)

	var transport core.Transport
	switch cfg.Transport {
	case "redis":
		transport = redistransport.New(cfg.RedisAddr, cfg.PresenceTTL)
	default:
		transport = wstransport.New(cfg.WSURL)
	}

	engine := app.New(app.Options{
		Identity:         domain.UserID(cfg.Identity),
		Transport:        transport,
		Listing:          listing,
		Store:            st,
		PageSize:         cfg.PageSize,
		CallTimeout:      cfg.CallTimeout,
		PresenceInterval: cfg.PresenceInterval,
	})

	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("engine start failed")
	}

	if err := engine.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("message", engine.LastError()).Msg("initial listing load failed")
	}

	// Log the engine's event stream; a UI would subscribe the same way.
	events, unsubscribe := engine.Bus().Subscribe(64)
	defer unsubscribe()
	go func() {
		for ev := range events {
			log.Info().Str("module", "main").Int("kind", int(ev.Kind())).Interface("event", ev).Msg("engine event")
		}
	}()

	r := router.SetupRouter(cfg, engine)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Info().Str("addr", addr).Str("transport", cfg.Transport).Msg("spacesd started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	engine.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
