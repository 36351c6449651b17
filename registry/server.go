package registry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicechat/backend/model"
	"github.com/voicechat/backend/transport"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// Directory is the registry surface the websocket server dispatches to.
	Directory interface {
		CreateRoom() (int, string, error)
		Join(roomID int) (string, error)
		ListRooms() []int
	}

	ServerConfig struct {
		Logger     *zerolog.Logger
		Directory  Directory
		ListenAddr string
		QueueDepth int
	}

	// Server answers the registry protocol over websocket connections.
	Server struct {
		dir Directory
		ws  *websocket.Upgrader
		*http.Server

		queueDepth int
		logger     zerolog.Logger
	}
)

func NewServer(cfg ServerConfig) *Server {
	srv := &Server{
		logger:     cfg.Logger.With().Str("component", "registry-server").Logger(),
		dir:        cfg.Directory,
		ws:         transport.NewUpgrader(),
		queueDepth: cfg.QueueDepth,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handle)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	wire := transport.NewWire[model.RegistryEvent](srv.queueDepth)
	ctx, cancel := context.WithCancel(context.Background()) // long-living connection context

	logger := srv.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	go transport.Pump(ctx, cancel, conn, wire, &logger)
	go srv.dispatch(ctx, cancel, wire)
}

func (srv *Server) dispatch(ctx context.Context, cancel context.CancelFunc, wire transport.Wire[model.RegistryEvent]) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-wire.RX:
			switch ev.Type {
			case model.CreateRoom:
				id, endpoint, err := srv.dir.CreateRoom()
				srv.reply(ctx, wire, endpointReply(id, endpoint, err))

			case model.JoinRoom:
				endpoint, err := srv.dir.Join(ev.RoomID)
				srv.reply(ctx, wire, endpointReply(ev.RoomID, endpoint, err))

			case model.ListRooms:
				srv.reply(ctx, wire, model.RegistryEvent{
					Type:    model.RoomList,
					RoomIDs: srv.dir.ListRooms(),
				})

			default:
				srv.logger.Debug().Int("type", int(ev.Type)).Msg("ignoring unsupported event")
			}
		}
	}
}

// endpointReply builds the ROOM_ENDPOINT answer for both create and join.
// Failures travel back in the same event kind with the error string set.
func endpointReply(roomID int, endpoint string, err error) model.RegistryEvent {
	ev := model.RegistryEvent{
		Type:     model.RoomEndpoint,
		RoomID:   roomID,
		Endpoint: endpoint,
	}
	if err != nil {
		ev.RoomID = 0
		ev.Endpoint = ""
		ev.Error = err.Error()
	}
	return ev
}

func (srv *Server) reply(ctx context.Context, wire transport.Wire[model.RegistryEvent], ev model.RegistryEvent) {
	select {
	case wire.TX <- ev:
	case <-ctx.Done():
	}
}
