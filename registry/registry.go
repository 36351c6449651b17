// Package registry implements the session registry: a process-wide
// directory that creates per-room servers on freshly allocated endpoints
// and routes clients to them by room id.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voicechat/backend/room"
)

var (
	ErrCreate   = errors.New("unable to create room")
	ErrNotFound = errors.New("room is not found")
)

type (
	Config struct {
		Logger    *zerolog.Logger
		Allocator *Allocator
		Host      string

		// Room server parameters, forwarded to every created room.
		ChunkSize  int
		SampleRate int
		Channels   int
		QueueDepth int
	}

	Registry struct {
		logger zerolog.Logger
		alloc  *Allocator
		host   string

		chunkSize  int
		sampleRate int
		channels   int
		queueDepth int

		mu    sync.Mutex
		rooms map[int]*room.Server
	}
)

func New(cfg Config) *Registry {
	return &Registry{
		logger:     cfg.Logger.With().Str("component", "registry").Logger(),
		alloc:      cfg.Allocator,
		host:       cfg.Host,
		chunkSize:  cfg.ChunkSize,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		queueDepth: cfg.QueueDepth,
		rooms:      make(map[int]*room.Server),
	}
}

// CreateRoom allocates a new room server, starts its listener and registers
// it. On bind failure nothing is registered and the error is returned to
// the caller; the allocated id and port are simply skipped.
func (r *Registry) CreateRoom() (int, string, error) {
	id, port := r.alloc.Next()
	srv := room.NewServer(room.Config{
		Logger:     &r.logger,
		ID:         id,
		Host:       r.host,
		Port:       port,
		ChunkSize:  r.chunkSize,
		SampleRate: r.sampleRate,
		Channels:   r.channels,
		QueueDepth: r.queueDepth,
	})
	if err := srv.Start(); err != nil {
		return 0, "", errors.Join(ErrCreate, err)
	}

	r.mu.Lock()
	r.rooms[id] = srv
	r.mu.Unlock()

	r.logger.Info().
		Int("roomID", id).
		Str("endpoint", srv.Endpoint()).
		Msg("room created")
	return id, srv.Endpoint(), nil
}

// Join resolves a room id to its endpoint. Registry state is unchanged;
// the client connects to the room server itself afterwards.
func (r *Registry) Join(roomID int) (string, error) {
	r.mu.Lock()
	srv, ok := r.rooms[roomID]
	r.mu.Unlock()

	if !ok {
		return "", ErrNotFound
	}
	return srv.Endpoint(), nil
}

// ListRooms returns all registered room ids in ascending order,
// regardless of occupancy.
func (r *Registry) ListRooms() []int {
	r.mu.Lock()
	ids := make([]int, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Ints(ids)
	return ids
}

// Close shuts down every registered room listener.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	rooms := make([]*room.Server, 0, len(r.rooms))
	for _, srv := range r.rooms {
		rooms = append(rooms, srv)
	}
	r.rooms = make(map[int]*room.Server)
	r.mu.Unlock()

	for _, srv := range rooms {
		if err := srv.Close(ctx); err != nil {
			r.logger.Error().Err(err).Int("roomID", srv.ID()).Msg("room shutdown failed")
		}
	}
}
