// Package transport holds the websocket plumbing shared by the registry
// server, the room servers and the client sessions: a pair of pump goroutines
// that move JSON-encoded events between a gorilla connection and a Wire of
// typed channels.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWebsocketReadBufferSize  = 65536
	defaultWebsocketWriteBufferSize = 65536

	// Large enough for one base64 artifact chunk plus its JSON envelope,
	// or one second of raw samples.
	defaultWebSocketMaxMessageSize = 2 << 20

	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give peer to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

// Wire carries decoded events between a connection and its owner.
// RX holds events received from the peer, TX events to be sent to it.
type Wire[T any] struct {
	RX chan T
	TX chan T
}

func NewWire[T any](depth int) Wire[T] {
	return Wire[T]{
		RX: make(chan T, depth),
		TX: make(chan T, depth),
	}
}

// NewUpgrader returns an upgrader sized for the voicechat protocols.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		HandshakeTimeout: defaultWebSocketHandshakeTimeout,
		ReadBufferSize:   defaultWebsocketReadBufferSize,
		WriteBufferSize:  defaultWebsocketWriteBufferSize,
		CheckOrigin:      func(r *http.Request) bool { return true },
	}
}

// Dial connects to a voicechat websocket endpoint given as "host:port".
func Dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: endpoint, Path: "/"}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Pump runs the receive and send loops for conn until either side fails or
// ctx is canceled, then closes the connection. It blocks; callers run it in
// its own goroutine. cancel is invoked as soon as one of the loops exits so
// the owner's dispatch loop observes the teardown.
func Pump[T any](ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, wire Wire[T], logger *zerolog.Logger) {
	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		receiver(ctx, wg, conn, wire.RX, logger)
		cancel()
	}()
	go func() {
		sender(ctx, wg, conn, wire.TX, logger)
		cancel()
	}()
	wg.Wait()
	closeConn(conn, logger)
}

func sender[T any](
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan T,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case ev, ok := <-tx:
			if !ok {
				break SendLoop
			}

			b, wsErr := json.Marshal(&ev)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to marshall outgoing event")
				break SendLoop
			}

			wsErr = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.TextMessage, b)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing event")
				break SendLoop
			}
		}
	}
}

func receiver[T any](
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	rx chan<- T,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var ev T
			if wsErr = json.Unmarshal(msg, &ev); wsErr != nil {
				// Malformed events are dropped, the connection stays up.
				logger.Error().Err(wsErr).Msg("failed to unmarshall incoming event")
			} else {
				if logger.GetLevel() <= zerolog.TraceLevel {
					logger.Trace().Msg(spew.Sdump(ev))
				}
				select {
				case rx <- ev:
				case <-ctx.Done():
					break RecvLoop
				}
			}
		}
	}
}

func closeConn(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to send close message")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
