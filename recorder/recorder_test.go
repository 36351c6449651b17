package recorder

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainEmpty(t *testing.T) {
	r := New(2, 44100)

	name, data := r.Drain()
	assert.Empty(t, name)
	assert.Nil(t, data)
}

func TestDrainResetsBuffer(t *testing.T) {
	r := New(2, 44100)
	r.Record([]float64{1, 2, 3})
	require.Equal(t, 3, r.Len())

	name, data := r.Drain()
	require.NotEmpty(t, name)
	require.NotNil(t, data)

	assert.Equal(t, 0, r.Len())
	name, data = r.Drain()
	assert.Empty(t, name)
	assert.Nil(t, data)
}

func TestArtifactName(t *testing.T) {
	r := New(2, 44100)
	r.Record([]float64{1})
	name, _ := r.Drain()

	assert.True(t, strings.HasSuffix(name, ".wav"))

	r.Record([]float64{1})
	other, _ := r.Drain()
	assert.NotEqual(t, name, other)
}

func TestWAVHeader(t *testing.T) {
	r := New(2, 44100)
	r.Record([]float64{0.5, -1.0})
	r.Record([]float64{0.25})

	_, data := r.Drain()
	require.Len(t, data, 44+2*3)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(36+2*3), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]))     // PCM
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[22:24]))     // channels
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(data[24:28])) // sample rate
	assert.Equal(t, uint32(88200), binary.LittleEndian.Uint32(data[28:32])) // byte rate
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[32:34]))     // block align
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]))    // bits per sample

	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(2*3), binary.LittleEndian.Uint32(data[40:44]))
}

func TestNormalization(t *testing.T) {
	r := New(2, 44100)
	r.Record([]float64{0.5, -1.0, 0.25})

	_, data := r.Drain()
	require.Len(t, data, 44+2*3)

	samples := make([]int16, 3)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[44+2*i : 46+2*i]))
	}
	// peak absolute sample maps to ±32767
	assert.Equal(t, int16(16384), samples[0])
	assert.Equal(t, int16(-32767), samples[1])
	assert.Equal(t, int16(8192), samples[2])
}

func TestNormalizationConstantSignal(t *testing.T) {
	r := New(2, 44100)
	frame := make([]float64, 100)
	for i := range frame {
		frame[i] = 100
	}
	r.Record(frame)

	_, data := r.Drain()
	require.Len(t, data, 44+2*100)
	for i := 0; i < 100; i++ {
		assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(data[44+2*i:46+2*i])))
	}
}

func TestAllZeroSamples(t *testing.T) {
	r := New(2, 44100)
	r.Record(make([]float64, 4))

	_, data := r.Drain()
	require.Len(t, data, 44+2*4)
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(data[44+2*i:46+2*i]))
	}
}
