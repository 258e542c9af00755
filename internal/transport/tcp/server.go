package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/chatline/chatline-server/internal/core"
	"github.com/chatline/chatline-server/internal/store"
	"github.com/chatline/chatline-server/internal/utils"
)

// Server accepts connections and runs one session goroutine per client.
type Server struct {
	addr        string
	registry    *core.Registry
	directory   *core.Directory
	store       store.TransferStore
	defaultRoom string
	maxTransfer int64
	log         zerolog.Logger
}

// NewServer builds a server around the shared registries and transfer store.
func NewServer(addr string, registry *core.Registry, directory *core.Directory, st store.TransferStore, defaultRoom string, maxTransfer int64, logger zerolog.Logger) *Server {
	return &Server{
		addr:        addr,
		registry:    registry,
		directory:   directory,
		store:       st,
		defaultRoom: defaultRoom,
		maxTransfer: maxTransfer,
		log:         logger,
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	rooms := make([]string, 0)
	for _, room := range s.registry.List() {
		rooms = append(rooms, room.Name)
	}
	s.log.Info().Str("addr", ln.Addr().String()).Strs("rooms", rooms).Msg("chat server listening")

	return s.Serve(ctx, ln)
}

// Serve accepts on an existing listener until ctx is cancelled or the
// listener fails. Sessions run on their own goroutines and outlive Serve;
// the app closes them through the directory at shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		id := utils.NewID()
		s.log.Info().Str("session_id", id).Str("remote", conn.RemoteAddr().String()).Msg("client connected")

		go func() {
			defer func() {
				// One misbehaving session must not take down the listener.
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Str("session_id", id).Msg("session panicked")
					conn.Close()
				}
			}()

			sess := core.NewSession(NewConn(conn), core.Deps{
				ID:          id,
				Registry:    s.registry,
				Directory:   s.directory,
				Store:       s.store,
				DefaultRoom: s.defaultRoom,
				MaxTransfer: s.maxTransfer,
				Logger:      s.log,
			})
			sess.Run()
		}()
	}
}
