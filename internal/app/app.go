package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/weblobby/weblobby-client/internal/chat"
	"github.com/weblobby/weblobby-client/internal/config"
	"github.com/weblobby/weblobby-client/internal/lobby"
	"github.com/weblobby/weblobby-client/internal/log"
	"github.com/weblobby/weblobby-client/internal/protocol"
	"github.com/weblobby/weblobby-client/internal/protocol/tas"
	"github.com/weblobby/weblobby-client/internal/protocol/zk"
	"github.com/weblobby/weblobby-client/internal/store"
	"github.com/weblobby/weblobby-client/internal/store/sqlite"
	"github.com/weblobby/weblobby-client/internal/translog"
	"github.com/weblobby/weblobby-client/internal/transport"
	transporthttp "github.com/weblobby/weblobby-client/internal/transport/http"
)

// App wires together the engine, its collaborators and the UI bridge.
type App struct {
	engine          *lobby.Engine
	server          *stdhttp.Server
	store           store.Store
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("settings store initialized")

	var adapter protocol.Adapter
	switch cfg.Backend {
	case config.BackendZK:
		adapter = zk.New()
	default:
		adapter = tas.New()
	}

	var trans transport.Transport
	if strings.HasPrefix(cfg.ServerAddr, "ws://") || strings.HasPrefix(cfg.ServerAddr, "wss://") {
		trans = &transport.WS{}
	} else {
		trans = &transport.TCP{}
	}

	cache := transporthttp.NewCache()

	engine, err := lobby.New(lobby.Options{
		Addr:           cfg.ServerAddr,
		Adapter:        adapter,
		Transport:      trans,
		Store:          st,
		Transcript:     transcriptOrNil(cfg.TranscriptDir, logger),
		Alert:          logAlerter{logger},
		Logger:         log.Component(logger, "engine"),
		OnState:        cache.SetState,
		OnChat:         cache.SetChat,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	server := transporthttp.NewServer(engine, cache, *cfg, log.Component(logger, "bridge"))

	return &App{
		engine:          engine,
		server:          server,
		store:           st,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}, nil
}

// transcriptOrNil avoids storing a typed nil in the chat.Transcript slot.
func transcriptOrNil(dir string, logger *zerolog.Logger) chat.Transcript {
	if w := translog.New(dir, logger); w != nil {
		return w
	}
	return nil
}

// logAlerter stands in for a sound sink; the UI rings through the bridge.
type logAlerter struct{ log *zerolog.Logger }

func (a logAlerter) Ring() {
	a.log.Info().Msg("ring")
}

// Run starts the engine and the UI bridge, blocking until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	engineCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()

	go a.engine.Run(engineCtx)
	a.engine.Connect()

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup(cancelEngine)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down ui bridge")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup(cancelEngine)
			return err
		}

		a.cleanup(cancelEngine)
		return <-serverErr
	}
}

// cleanup stops the engine and closes the settings store.
func (a *App) cleanup(cancelEngine context.CancelFunc) {
	cancelEngine()
	select {
	case <-a.engine.Done():
	case <-time.After(a.shutdownTimeout):
		a.log.Warn().Msg("engine did not stop in time")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
