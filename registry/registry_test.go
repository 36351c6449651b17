package registry_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicechat/backend/client"
	"github.com/voicechat/backend/registry"
)

var portSeq int32

func newRegistry(t *testing.T, roomBase int) *registry.Registry {
	t.Helper()
	logger := zerolog.Nop()
	reg := registry.New(registry.Config{
		Logger:     &logger,
		Allocator:  registry.NewAllocator(roomBase),
		Host:       "127.0.0.1",
		ChunkSize:  1 << 19,
		SampleRate: 44100,
		Channels:   2,
		QueueDepth: 64,
	})
	t.Cleanup(func() {
		reg.Close(context.Background())
	})
	return reg
}

func startRegistryServer(t *testing.T) (string, *registry.Registry) {
	t.Helper()
	n := int(atomic.AddInt32(&portSeq, 1))
	regPort := 19100 + n
	reg := newRegistry(t, 19500+n*10)

	logger := zerolog.Nop()
	addr := fmt.Sprintf("127.0.0.1:%d", regPort)
	srv := registry.NewServer(registry.ServerConfig{
		Logger:     &logger,
		Directory:  reg,
		ListenAddr: addr,
		QueueDepth: 64,
	})

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	errc := make(chan error, 1)
	wg.Add(1)
	go srv.Run(ctx, wg, errc)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 3*time.Second, 50*time.Millisecond)
	return addr, reg
}

func TestRegistryDirect(t *testing.T) {
	reg := newRegistry(t, 19700)

	assert.Empty(t, reg.ListRooms())

	id, endpoint, err := reg.CreateRoom()
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, "127.0.0.1:19701", endpoint)

	got, err := reg.Join(id)
	require.NoError(t, err)
	assert.Equal(t, endpoint, got)

	_, err = reg.Join(99)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	id2, endpoint2, err := reg.CreateRoom()
	require.NoError(t, err)
	assert.Equal(t, 2, id2)
	assert.NotEqual(t, endpoint, endpoint2)

	assert.Equal(t, []int{1, 2}, reg.ListRooms())
}

func TestCreateRoomBindFailure(t *testing.T) {
	reg := newRegistry(t, 19720)

	// occupy the port the allocator will hand out
	ln, err := net.Listen("tcp", "127.0.0.1:19721")
	require.NoError(t, err)
	defer func() {
		_ = ln.Close()
	}()

	_, _, err = reg.CreateRoom()
	assert.Error(t, err)
	// the failed room must not be registered
	assert.Empty(t, reg.ListRooms())
}

func TestRegistryProtocol(t *testing.T) {
	addr, _ := startRegistryServer(t)
	logger := zerolog.Nop()
	ctx := context.Background()

	s, err := client.Dial(ctx, addr, &logger)
	require.NoError(t, err)
	defer s.Close()

	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	id, endpoint, err := s.CreateRoom(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.NotEmpty(t, endpoint)

	got, err := s.JoinRoom(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, endpoint, got)

	_, err = s.JoinRoom(ctx, 42)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not found")

	rooms, err = s.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, rooms)
	assert.Equal(t, []int{1}, s.Rooms())
}

func TestEndToEndAudioThroughRegistry(t *testing.T) {
	addr, _ := startRegistryServer(t)
	logger := zerolog.Nop()
	ctx := context.Background()

	s, err := client.Dial(ctx, addr, &logger)
	require.NoError(t, err)
	defer s.Close()

	_, endpoint, err := s.CreateRoom(ctx)
	require.NoError(t, err)

	speaker := &collectingAudio{played: make(chan []float64, 4)}
	a, err := client.DialRoom(ctx, endpoint, client.RoomConfig{Logger: &logger})
	require.NoError(t, err)
	defer a.Close()
	b, err := client.DialRoom(ctx, endpoint, client.RoomConfig{Logger: &logger, Audio: speaker})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SendAudio(ctx, []float64{7, 8, 9}))

	select {
	case frame := <-speaker.played:
		assert.Equal(t, []float64{7, 8, 9}, frame)
	case <-time.After(3 * time.Second):
		t.Fatal("audio never reached the second participant")
	}
}

type collectingAudio struct {
	played chan []float64
}

func (c *collectingAudio) Capture() ([]float64, bool) { return nil, false }

func (c *collectingAudio) Play(data []float64) {
	c.played <- data
}
