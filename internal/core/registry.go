package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry is the process-wide room table. Creation is an atomic
// check-and-insert: two sessions racing on /create with the same name can
// never both succeed.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	sinks SinkProvider
	log   zerolog.Logger
}

// NewRegistry builds a registry seeded with the default room set.
func NewRegistry(sinks SinkProvider, defaults []string, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		rooms: make(map[string]*Room),
		sinks: sinks,
		log:   logger,
	}
	for _, name := range defaults {
		if _, err := r.Create(name); err != nil {
			return nil, fmt.Errorf("seed room %q: %w", name, err)
		}
	}
	return r, nil
}

// Create registers a new room and opens its log sink. Returns ErrRoomExists
// if the name is taken.
func (r *Registry) Create(name string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[name]; exists {
		return nil, ErrRoomExists
	}

	var sink LogSink
	if r.sinks != nil {
		s, err := r.sinks(name)
		if err != nil {
			// A room without a log still serves chat.
			r.log.Warn().Err(err).Str("room", name).Msg("failed to open room log")
		} else {
			sink = s
		}
	}

	room := NewRoom(name, sink)
	r.rooms[name] = room
	r.log.Info().Str("room", name).Msg("room created")
	return room, nil
}

// Get looks up a room by name.
func (r *Registry) Get(name string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	return room, ok
}

// List returns all rooms sorted by name.
func (r *Registry) List() []*Room {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// Close closes every room's log sink. Called once at process shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, room := range r.rooms {
		if err := room.closeSink(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
