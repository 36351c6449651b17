// Package recorder accumulates raw audio samples while a room is recording
// and assembles them into a single WAV artifact on stop.
package recorder

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	headerSize      = 44
	bitsPerSample   = 16
	pcmFormat       = 1
	fmtSubchunkSize = 16
)

// Recorder buffers audio frames pushed into it. It is owned by a room server
// and is not safe for concurrent use; the room lock serializes access.
type Recorder struct {
	channels int
	rate     int
	samples  []float64
}

func New(channels, rate int) *Recorder {
	return &Recorder{
		channels: channels,
		rate:     rate,
	}
}

// Record appends one audio frame to the buffer.
func (r *Recorder) Record(data []float64) {
	r.samples = append(r.samples, data...)
}

// Len returns the number of buffered samples.
func (r *Recorder) Len() int {
	return len(r.samples)
}

// Drain takes ownership of the buffered samples, resets the buffer and
// returns a unique artifact name together with the encoded WAV bytes.
// If nothing was recorded it returns an empty name and nil data.
func (r *Recorder) Drain() (string, []byte) {
	samples := r.samples
	r.samples = nil

	if len(samples) == 0 {
		return "", nil
	}
	return artifactName(), encodeWAV(samples, r.channels, r.rate)
}

func artifactName() string {
	return time.Now().Format("20060102150405") + "-" + uuid.NewString()[:8] + ".wav"
}

// encodeWAV produces an uncompressed little-endian 16-bit linear-PCM
// container: 44-byte RIFF/WAVE header followed by the normalized samples.
// The peak absolute input sample maps to ±32767.
func encodeWAV(samples []float64, channels, rate int) []byte {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	var scale float64
	if peak > 0 {
		scale = math.MaxInt16 / peak
	}

	size := len(samples)
	buf := make([]byte, 0, headerSize+2*size)

	buf = append(buf, 'R', 'I', 'F', 'F')
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+2*size))
	buf = append(buf, 'W', 'A', 'V', 'E')

	buf = append(buf, 'f', 'm', 't', ' ')
	buf = binary.LittleEndian.AppendUint32(buf, fmtSubchunkSize)
	buf = binary.LittleEndian.AppendUint16(buf, pcmFormat)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rate*2)) // byte rate
	buf = binary.LittleEndian.AppendUint16(buf, 2)              // block align
	buf = binary.LittleEndian.AppendUint16(buf, bitsPerSample)

	buf = append(buf, 'd', 'a', 't', 'a')
	buf = binary.LittleEndian.AppendUint32(buf, uint32(2*size))

	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(int16(math.Round(s*scale))))
	}
	return buf
}
