// Package room implements the per-room broadcast server: participant
// membership, audio/image fan-out, capability toggles and the recording
// state machine with chunked artifact delivery.
package room

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicechat/backend/model"
	"github.com/voicechat/backend/recorder"
	"github.com/voicechat/backend/transport"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	// Per-chunk deadline when streaming an artifact to one recipient.
	// A recipient that cannot take a chunk within this window is
	// considered dead and receives no further chunks.
	defaultChunkSendTimeout = 5 * time.Second
)

var (
	ErrBind = errors.New("unable to start room listener")
)

type (
	Config struct {
		Logger     *zerolog.Logger
		ID         int
		Host       string
		Port       int
		ChunkSize  int
		SampleRate int
		Channels   int
		QueueDepth int
	}

	// Server is one room. All membership and recording state is guarded
	// by a single room-level mutex; broadcasts snapshot the participant
	// set under the lock and fan out after releasing it.
	Server struct {
		logger     zerolog.Logger
		id         int
		host       string
		port       int
		chunkSize  int
		queueDepth int
		ws         *websocket.Upgrader
		httpSrv    *http.Server

		mu           sync.Mutex
		participants map[int]*session
		order        []int
		nextID       int
		recording    bool
		rec          *recorder.Recorder

		bcast sync.WaitGroup
	}

	// session is one admitted participant's record. The connection's
	// dispatch goroutine holds the id; the record never references the
	// connection back.
	session struct {
		state model.Participant
		out   chan<- model.RoomEvent
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().
			Str("component", "room-server").
			Int("roomID", cfg.ID).
			Logger(),
		id:           cfg.ID,
		host:         cfg.Host,
		port:         cfg.Port,
		chunkSize:    cfg.ChunkSize,
		queueDepth:   cfg.QueueDepth,
		ws:           transport.NewUpgrader(),
		participants: make(map[int]*session),
		nextID:       1,
		rec:          recorder.New(cfg.Channels, cfg.SampleRate),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handle)
	srv.httpSrv = &http.Server{Handler: mux}
	return srv
}

// ID returns the room identifier the registry assigned at creation.
func (s *Server) ID() int {
	return s.id
}

// Endpoint returns the "host:port" address clients connect to.
func (s *Server) Endpoint() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start binds the room listener. On bind failure the room is unusable and
// the caller must not register it.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Endpoint())
	if err != nil {
		return errors.Join(ErrBind, err)
	}
	go func() {
		if srvErr := s.httpSrv.Serve(ln); !errors.Is(srvErr, http.ErrServerClosed) {
			s.logger.Error().Err(srvErr).Msg("room listener failed")
		}
	}()
	s.logger.Info().Str("endpoint", s.Endpoint()).Msg("room server started")
	return nil
}

// Close waits for in-flight artifact broadcasts to finish, then stops the
// listener so new connections are refused.
func (s *Server) Close(ctx context.Context) error {
	s.bcast.Wait()
	shCtx, shCancel := context.WithTimeout(ctx, defaultShutdownDeadline)
	defer shCancel()
	err := s.httpSrv.Shutdown(shCtx)
	s.logger.Info().Msg("room server closed")
	return err
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.ws.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	wire := transport.NewWire[model.RoomEvent](s.queueDepth)
	ctx, cancel := context.WithCancel(context.Background()) // long-living connection context

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	go transport.Pump(ctx, cancel, conn, wire, &logger)
	go s.dispatch(ctx, cancel, wire)
}

// dispatch consumes events from one connection. The participant id stays 0
// until the peer requests an identity; requests arriving before admission
// are answered where possible and ignored otherwise.
func (s *Server) dispatch(ctx context.Context, cancel context.CancelFunc, wire transport.Wire[model.RoomEvent]) {
	var id int
	defer func() {
		cancel()
		if id != 0 {
			s.remove(id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-wire.RX:
			switch ev.Type {
			case model.RequestIdentity:
				if id == 0 {
					id = s.admit(wire.TX)
				}
				s.reply(ctx, wire, model.RoomEvent{Type: model.Identity, ID: id})

			case model.RequestParticipants:
				s.reply(ctx, wire, model.RoomEvent{Type: model.Participants, List: s.snapshot()})

			case model.RequestRecordingStatus:
				s.reply(ctx, wire, model.RoomEvent{Type: model.RecordingStatus, Status: s.recordingStatus()})

			case model.Audio:
				if id != 0 {
					s.relayAudio(id, ev.Data)
				}

			case model.Image:
				if id != 0 {
					s.storeImage(id, ev.Image)
				}

			case model.ToggleRecording:
				s.toggleRecording()

			case model.ToggleMic, model.ToggleSpeaker, model.ToggleWebcam:
				if id != 0 {
					s.toggle(id, ev.Type)
				}

			default:
				// Unknown tags are unsupported requests, the loop continues.
				s.logger.Debug().Int("type", int(ev.Type)).Msg("ignoring unsupported event")
			}
		}
	}
}

func (s *Server) reply(ctx context.Context, wire transport.Wire[model.RoomEvent], ev model.RoomEvent) {
	select {
	case wire.TX <- ev:
	case <-ctx.Done():
	}
}

// admit registers a new participant with default capability flags and
// returns its identifier. Identifiers are never reused within a room.
func (s *Server) admit(out chan<- model.RoomEvent) int {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.participants[id] = &session{
		state: model.Participant{
			ID:         id,
			Microphone: true,
			Speaker:    true,
			Webcam:     false,
		},
		out: out,
	}
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.logger.Debug().Int("participantID", id).Msg("participant admitted")
	return id
}

// remove drops a participant after its connection closed. If the room
// empties while a recording is active, the recording is force-stopped and
// the drained artifact discarded since no one is left to receive it.
func (s *Server) remove(id int) {
	s.mu.Lock()
	if _, ok := s.participants[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.participants, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	stopped := false
	if len(s.participants) == 0 && s.recording {
		s.recording = false
		s.rec.Drain()
		stopped = true
	}
	s.mu.Unlock()

	s.logger.Debug().Int("participantID", id).Msg("participant left")
	if stopped {
		s.logger.Info().Msg("recording stopped, room is empty")
	}
}

// snapshot returns all participants' full state in admission order.
func (s *Server) snapshot() []model.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]model.Participant, 0, len(s.order))
	for _, pid := range s.order {
		list = append(list, s.participants[pid].state)
	}
	return list
}

func (s *Server) recordingStatus() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// RecordingActive reports whether a recording is currently running.
func (s *Server) RecordingActive() bool {
	return s.recordingStatus()
}

// ParticipantCount returns the number of currently admitted participants.
func (s *Server) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// relayAudio broadcasts one audio frame to every participant except the
// sender and feeds a copy to the recorder while recording is active.
// A recipient with a saturated outbound queue has the frame dropped,
// the sender is never blocked.
func (s *Server) relayAudio(senderID int, data []float64) {
	s.mu.Lock()
	if s.recording {
		s.rec.Record(data)
	}
	targets := make([]chan<- model.RoomEvent, 0, len(s.participants))
	for pid, sess := range s.participants {
		if pid != senderID {
			targets = append(targets, sess.out)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	ev := model.RoomEvent{Type: model.AudioBroadcast, Data: data}
	for _, out := range targets {
		select {
		case out <- ev:
		default:
			s.logger.Trace().Msg("recipient queue full, audio frame dropped")
		}
	}
}

// storeImage overwrites the sender's last-known webcam frame. Images are
// not broadcast, they surface through directory queries only.
func (s *Server) storeImage(id int, img []byte) {
	s.mu.Lock()
	if sess, ok := s.participants[id]; ok {
		sess.state.Image = img
	}
	s.mu.Unlock()
}

func (s *Server) toggle(id int, kind model.RoomEventType) {
	s.mu.Lock()
	if sess, ok := s.participants[id]; ok {
		switch kind {
		case model.ToggleMic:
			sess.state.Microphone = !sess.state.Microphone
		case model.ToggleSpeaker:
			sess.state.Speaker = !sess.state.Speaker
		case model.ToggleWebcam:
			sess.state.Webcam = !sess.state.Webcam
		}
	}
	s.mu.Unlock()
}

// toggleRecording flips the room's recording flag. Stopping drains the
// recorder and, if any audio was captured, streams the artifact to every
// current participant including the one who toggled.
func (s *Server) toggleRecording() {
	s.mu.Lock()
	was := s.recording
	s.recording = !was

	var (
		name       string
		data       []byte
		recipients []chan<- model.RoomEvent
	)
	if was {
		name, data = s.rec.Drain()
		recipients = make([]chan<- model.RoomEvent, 0, len(s.order))
		for _, pid := range s.order {
			recipients = append(recipients, s.participants[pid].out)
		}
	}
	s.mu.Unlock()

	if !was {
		s.logger.Info().Msg("recording started")
		return
	}
	s.logger.Info().Msg("recording stopped")
	if len(data) > 0 {
		s.broadcastArtifact(name, data, recipients)
	}
}

// broadcastArtifact streams the encoded artifact to all recipients in
// chunks. Each recipient gets its own ordered stream; ordering across
// recipients is not coordinated.
func (s *Server) broadcastArtifact(name string, data []byte, recipients []chan<- model.RoomEvent) {
	encoded := base64.StdEncoding.EncodeToString(data)
	parts := splitChunks(encoded, s.chunkSize)

	for _, out := range recipients {
		s.bcast.Add(1)
		go func(out chan<- model.RoomEvent) {
			defer s.bcast.Done()
			for i, part := range parts {
				ev := model.RoomEvent{
					Type:       model.RecordingArtifact,
					Name:       name,
					FileData:   part,
					ChunkIndex: i + 1,
					ChunkCount: len(parts),
				}
				t := time.NewTimer(defaultChunkSendTimeout)
				select {
				case out <- ev:
					t.Stop()
				case <-t.C:
					s.logger.Error().
						Str("artifact", name).
						Int("chunk", i+1).
						Msg("dead recipient, aborting artifact stream")
					return
				}
			}
		}(out)
	}
	s.logger.Info().
		Str("artifact", name).
		Int("chunks", len(parts)).
		Msg("artifact broadcast")
}

// splitChunks slices data into pieces of exactly size bytes, the final
// piece holding the remainder. Concatenating the pieces in order yields
// the input unchanged.
func splitChunks(data string, size int) []string {
	n := (len(data) + size - 1) / size
	parts := make([]string, 0, n)
	for len(data) > size {
		parts = append(parts, data[:size])
		data = data[size:]
	}
	return append(parts, data)
}
