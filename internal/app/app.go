package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatline/chatline-server/internal/config"
	"github.com/chatline/chatline-server/internal/core"
	"github.com/chatline/chatline-server/internal/roomlog"
	"github.com/chatline/chatline-server/internal/store"
	"github.com/chatline/chatline-server/internal/store/disk"
	"github.com/chatline/chatline-server/internal/transport/tcp"
)

// App wires together the registries, transfer store, and TCP transport.
type App struct {
	server          *tcp.Server
	registry        *core.Registry
	directory       *core.Directory
	store           store.TransferStore
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := disk.New(cfg.IndexPath, cfg.FileDir, cfg.VoiceDir)
	if err != nil {
		return nil, fmt.Errorf("init transfer store: %w", err)
	}
	logger.Info().Str("index_path", cfg.IndexPath).Msg("transfer store initialized")

	sinks, err := roomlog.NewProvider(cfg.RoomLogDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init room logs: %w", err)
	}

	registry, err := core.NewRegistry(func(room string) (core.LogSink, error) {
		return sinks.Open(room)
	}, cfg.DefaultRooms, *logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init room registry: %w", err)
	}

	directory := core.NewDirectory()
	server := tcp.NewServer(cfg.Addr, registry, directory, st, cfg.DefaultRoom, cfg.MaxTransferBytes, *logger)

	return &App{
		server:          server,
		registry:        registry,
		directory:       directory,
		store:           st,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}, nil
}

// Run starts the TCP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		serverErr <- a.server.Run(ctx)
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		a.log.Info().Msg("shutting down tcp server")
		select {
		case err := <-serverErr:
			a.cleanup()
			return err
		case <-time.After(a.shutdownTimeout):
			a.cleanup()
			return nil
		}
	}
}

// cleanup closes live sessions, room logs, and the transfer store.
func (a *App) cleanup() {
	a.directory.Each(func(s *core.Session) {
		s.Close()
	})

	if err := a.registry.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close room logs")
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close transfer store")
	} else {
		a.log.Info().Msg("transfer store closed")
	}
}
