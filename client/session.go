// Package client implements the client half of both voicechat protocols:
// a registry session for discovering and creating rooms, and a room session
// for participating in one.
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicechat/backend/model"
	"github.com/voicechat/backend/transport"
)

const defaultQueueDepth = 64

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrRequest          = errors.New("request failed")
)

// Session is a connection to the session registry. Request helpers block
// until the matching reply kind arrives or the connection goes down; there
// is no request timeout beyond the caller's context.
type Session struct {
	logger zerolog.Logger
	conn   *websocket.Conn
	wire   transport.Wire[model.RegistryEvent]
	cancel context.CancelFunc
	closed chan struct{}

	mu      sync.Mutex
	rooms   []int
	waiters map[model.RegistryEventType]chan model.RegistryEvent
}

// Dial connects to the registry at addr ("host:port").
func Dial(ctx context.Context, addr string, logger *zerolog.Logger) (*Session, error) {
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	s := &Session{
		logger:  logger.With().Str("component", "registry-session").Logger(),
		conn:    conn,
		wire:    transport.NewWire[model.RegistryEvent](defaultQueueDepth),
		closed:  make(chan struct{}),
		waiters: make(map[model.RegistryEventType]chan model.RegistryEvent),
	}

	cctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go transport.Pump(cctx, cancel, conn, s.wire, &s.logger)
	go s.listen(cctx)

	s.logger.Debug().Str("addr", addr).Msg("connected to registry")
	return s, nil
}

// Close tears down the connection. Pending requests fail with
// ErrConnectionClosed.
func (s *Session) Close() {
	s.cancel()
	_ = s.conn.Close()
}

// Connected reports whether the session is still up.
func (s *Session) Connected() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Rooms returns the room ids from the most recent ROOM_LIST reply.
func (s *Session) Rooms() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.rooms...)
}

// CreateRoom asks the registry for a new room and returns its id and
// endpoint.
func (s *Session) CreateRoom(ctx context.Context) (int, string, error) {
	ev, err := s.roundTrip(ctx, model.RegistryEvent{Type: model.CreateRoom}, model.RoomEndpoint)
	if err != nil {
		return 0, "", err
	}
	if ev.Error != "" {
		return 0, "", errors.Join(ErrRequest, errors.New(ev.Error))
	}
	return ev.RoomID, ev.Endpoint, nil
}

// JoinRoom resolves an existing room id to its endpoint.
func (s *Session) JoinRoom(ctx context.Context, roomID int) (string, error) {
	ev, err := s.roundTrip(ctx, model.RegistryEvent{Type: model.JoinRoom, RoomID: roomID}, model.RoomEndpoint)
	if err != nil {
		return "", err
	}
	if ev.Error != "" {
		return "", errors.Join(ErrRequest, errors.New(ev.Error))
	}
	return ev.Endpoint, nil
}

// ListRooms fetches the ids of all currently registered rooms.
func (s *Session) ListRooms(ctx context.Context) ([]int, error) {
	ev, err := s.roundTrip(ctx, model.RegistryEvent{Type: model.ListRooms}, model.RoomList)
	if err != nil {
		return nil, err
	}
	return ev.RoomIDs, nil
}

func (s *Session) send(ctx context.Context, ev model.RegistryEvent) error {
	// TX is buffered, a send could otherwise succeed against a dead pump.
	select {
	case <-s.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case s.wire.TX <- ev:
		return nil
	case <-s.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) roundTrip(ctx context.Context, req model.RegistryEvent, replyKind model.RegistryEventType) (model.RegistryEvent, error) {
	reply := make(chan model.RegistryEvent, 1)
	s.mu.Lock()
	s.waiters[replyKind] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, replyKind)
		s.mu.Unlock()
	}()

	if err := s.send(ctx, req); err != nil {
		return model.RegistryEvent{}, err
	}
	select {
	case ev := <-reply:
		return ev, nil
	case <-s.closed:
		return model.RegistryEvent{}, ErrConnectionClosed
	case <-ctx.Done():
		return model.RegistryEvent{}, ctx.Err()
	}
}

func (s *Session) listen(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.rooms = nil
		s.mu.Unlock()
		close(s.closed)
		s.logger.Debug().Msg("registry session disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.wire.RX:
			switch ev.Type {
			case model.RoomEndpoint, model.RoomList:
				if ev.Type == model.RoomList {
					s.mu.Lock()
					s.rooms = ev.RoomIDs
					s.mu.Unlock()
				}
				s.deliver(ev)
			default:
				s.logger.Debug().Int("type", int(ev.Type)).Msg("ignoring unsupported event")
			}
		}
	}
}

func (s *Session) deliver(ev model.RegistryEvent) {
	s.mu.Lock()
	waiter := s.waiters[ev.Type]
	s.mu.Unlock()
	if waiter == nil {
		return
	}
	select {
	case waiter <- ev:
	default:
	}
}
