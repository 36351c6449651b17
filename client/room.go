package client

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicechat/backend/model"
	"github.com/voicechat/backend/transport"
)

type (
	RoomConfig struct {
		Logger *zerolog.Logger

		// Audio plays received broadcasts while the speaker flag is on.
		// Optional; without it broadcasts are dropped on the floor.
		Audio AudioDevice

		// Sink receives reassembled recording artifacts. Optional.
		Sink ArtifactSink

		QueueDepth int
	}

	// RoomSession is a connection to one room server. Local capability
	// flags mirror the server-side participant record and reset to their
	// disconnected defaults when the connection goes down.
	RoomSession struct {
		logger zerolog.Logger
		conn   *websocket.Conn
		wire   transport.Wire[model.RoomEvent]
		cancel context.CancelFunc
		closed chan struct{}
		audio  AudioDevice
		sink   ArtifactSink

		mu           sync.Mutex
		id           int
		micOn        bool
		speakerOn    bool
		webcamOn     bool
		recording    bool
		participants []model.Participant
		artifactName string
		artifact     strings.Builder
		waiters      map[model.RoomEventType]chan model.RoomEvent
	}
)

// DialRoom connects to a room server endpoint and requests an identity.
func DialRoom(ctx context.Context, endpoint string, cfg RoomConfig) (*RoomSession, error) {
	conn, err := transport.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	depth := cfg.QueueDepth
	if depth == 0 {
		depth = defaultQueueDepth
	}
	rs := &RoomSession{
		logger: cfg.Logger.With().
			Str("component", "room-session").
			Str("endpoint", endpoint).
			Logger(),
		conn:      conn,
		wire:      transport.NewWire[model.RoomEvent](depth),
		closed:    make(chan struct{}),
		audio:     cfg.Audio,
		sink:      cfg.Sink,
		micOn:     true,
		speakerOn: true,
		waiters:   make(map[model.RoomEventType]chan model.RoomEvent),
	}

	cctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	go transport.Pump(cctx, cancel, conn, rs.wire, &rs.logger)
	go rs.listen(cctx)

	if _, err = rs.RequestIdentity(ctx); err != nil {
		rs.Close()
		return nil, err
	}
	rs.logger.Debug().Msg("joined room")
	return rs, nil
}

// Close leaves the room. The server removes the participant on close.
func (rs *RoomSession) Close() {
	rs.cancel()
	_ = rs.conn.Close()
}

func (rs *RoomSession) Connected() bool {
	select {
	case <-rs.closed:
		return false
	default:
		return true
	}
}

// ID returns the identity assigned by the room server, 0 if none yet.
func (rs *RoomSession) ID() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.id
}

// Flags returns the local microphone/speaker/webcam state.
func (rs *RoomSession) Flags() (mic, speaker, webcam bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.micOn, rs.speakerOn, rs.webcamOn
}

// Participants returns the cached result of the last directory query.
func (rs *RoomSession) Participants() []model.Participant {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]model.Participant(nil), rs.participants...)
}

// Recording returns the cached recording status.
func (rs *RoomSession) Recording() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.recording
}

// RequestIdentity asks the server for this connection's participant id.
// Repeating the request returns the same id.
func (rs *RoomSession) RequestIdentity(ctx context.Context) (int, error) {
	ev, err := rs.roundTrip(ctx, model.RoomEvent{Type: model.RequestIdentity}, model.Identity)
	if err != nil {
		return 0, err
	}
	rs.mu.Lock()
	rs.id = ev.ID
	rs.mu.Unlock()
	return ev.ID, nil
}

// RequestParticipants fetches a snapshot of every participant's state.
func (rs *RoomSession) RequestParticipants(ctx context.Context) ([]model.Participant, error) {
	ev, err := rs.roundTrip(ctx, model.RoomEvent{Type: model.RequestParticipants}, model.Participants)
	if err != nil {
		return nil, err
	}
	return ev.List, nil
}

// RequestRecordingStatus fetches the room's recording flag.
func (rs *RoomSession) RequestRecordingStatus(ctx context.Context) (bool, error) {
	ev, err := rs.roundTrip(ctx, model.RoomEvent{Type: model.RequestRecordingStatus}, model.RecordingStatus)
	if err != nil {
		return false, err
	}
	return ev.Status, nil
}

// SendAudio ships one captured audio frame to the room.
func (rs *RoomSession) SendAudio(ctx context.Context, data []float64) error {
	return rs.send(ctx, model.RoomEvent{Type: model.Audio, Data: data})
}

// SendImage ships the latest captured webcam frame to the room.
func (rs *RoomSession) SendImage(ctx context.Context, frame []byte) error {
	return rs.send(ctx, model.RoomEvent{Type: model.Image, Image: frame})
}

func (rs *RoomSession) ToggleMicrophone(ctx context.Context) error {
	return rs.toggle(ctx, model.ToggleMic, &rs.micOn)
}

func (rs *RoomSession) ToggleSpeaker(ctx context.Context) error {
	return rs.toggle(ctx, model.ToggleSpeaker, &rs.speakerOn)
}

func (rs *RoomSession) ToggleWebcam(ctx context.Context) error {
	return rs.toggle(ctx, model.ToggleWebcam, &rs.webcamOn)
}

// ToggleRecording flips the room-wide recording state.
func (rs *RoomSession) ToggleRecording(ctx context.Context) error {
	return rs.send(ctx, model.RoomEvent{Type: model.ToggleRecording})
}

func (rs *RoomSession) toggle(ctx context.Context, kind model.RoomEventType, flag *bool) error {
	if err := rs.send(ctx, model.RoomEvent{Type: kind}); err != nil {
		return err
	}
	rs.mu.Lock()
	*flag = !*flag
	rs.mu.Unlock()
	return nil
}

func (rs *RoomSession) send(ctx context.Context, ev model.RoomEvent) error {
	// TX is buffered, a send could otherwise succeed against a dead pump.
	select {
	case <-rs.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case rs.wire.TX <- ev:
		return nil
	case <-rs.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rs *RoomSession) roundTrip(ctx context.Context, req model.RoomEvent, replyKind model.RoomEventType) (model.RoomEvent, error) {
	reply := make(chan model.RoomEvent, 1)
	rs.mu.Lock()
	rs.waiters[replyKind] = reply
	rs.mu.Unlock()
	defer func() {
		rs.mu.Lock()
		delete(rs.waiters, replyKind)
		rs.mu.Unlock()
	}()

	if err := rs.send(ctx, req); err != nil {
		return model.RoomEvent{}, err
	}
	select {
	case ev := <-reply:
		return ev, nil
	case <-rs.closed:
		return model.RoomEvent{}, ErrConnectionClosed
	case <-ctx.Done():
		return model.RoomEvent{}, ctx.Err()
	}
}

// listen dispatches server events to local state until the connection goes
// down, then resets everything to its disconnected defaults.
func (rs *RoomSession) listen(ctx context.Context) {
	defer func() {
		rs.mu.Lock()
		rs.id = 0
		rs.micOn = true
		rs.speakerOn = true
		rs.webcamOn = false
		rs.recording = false
		rs.participants = nil
		rs.artifactName = ""
		rs.artifact.Reset()
		rs.mu.Unlock()
		close(rs.closed)
		rs.logger.Debug().Msg("room session disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-rs.wire.RX:
			switch ev.Type {
			case model.Identity, model.Participants, model.RecordingStatus:
				rs.cacheReply(ev)
				rs.deliver(ev)

			case model.AudioBroadcast:
				rs.mu.Lock()
				play := rs.speakerOn
				rs.mu.Unlock()
				if play && rs.audio != nil {
					rs.audio.Play(ev.Data)
				}

			case model.RecordingArtifact:
				rs.collectChunk(ev)

			default:
				rs.logger.Debug().Int("type", int(ev.Type)).Msg("ignoring unsupported event")
			}
		}
	}
}

func (rs *RoomSession) cacheReply(ev model.RoomEvent) {
	rs.mu.Lock()
	switch ev.Type {
	case model.Participants:
		rs.participants = ev.List
	case model.RecordingStatus:
		rs.recording = ev.Status
	}
	rs.mu.Unlock()
}

func (rs *RoomSession) deliver(ev model.RoomEvent) {
	rs.mu.Lock()
	waiter := rs.waiters[ev.Type]
	rs.mu.Unlock()
	if waiter == nil {
		return
	}
	select {
	case waiter <- ev:
	default:
	}
}

// collectChunk appends one artifact chunk; the chunk carrying
// index == count completes the artifact, which is then decoded and handed
// to the sink.
func (rs *RoomSession) collectChunk(ev model.RoomEvent) {
	rs.mu.Lock()
	rs.artifactName = ev.Name
	rs.artifact.WriteString(ev.FileData)
	done := ev.ChunkIndex == ev.ChunkCount
	var (
		name    string
		encoded string
	)
	if done {
		name = rs.artifactName
		encoded = rs.artifact.String()
		rs.artifactName = ""
		rs.artifact.Reset()
	}
	rs.mu.Unlock()

	if !done {
		return
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		rs.logger.Error().Err(err).Str("artifact", name).Msg("failed to decode artifact")
		return
	}
	rs.logger.Info().Str("artifact", name).Int("size", len(data)).Msg("recording received")
	if rs.sink != nil {
		if err = rs.sink.Save(name, data); err != nil {
			rs.logger.Error().Err(err).Str("artifact", name).Msg("failed to save artifact")
		}
	}
}
