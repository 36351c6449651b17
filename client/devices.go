package client

import (
	"os"
	"path/filepath"
)

// AudioDevice is the physical capture/playback collaborator. Capture
// returns the next microphone frame, or ok=false when nothing is buffered.
type AudioDevice interface {
	Capture() (data []float64, ok bool)
	Play(data []float64)
}

// ImageDevice is the webcam collaborator. Capture returns the next encoded
// frame, or ok=false when the webcam yields nothing.
type ImageDevice interface {
	Capture() (frame []byte, ok bool)
}

// ArtifactSink receives a fully reassembled session recording.
type ArtifactSink interface {
	Save(name string, data []byte) error
}

// FileSink writes recordings into a directory.
type FileSink struct {
	Dir string
}

func (f FileSink) Save(name string, data []byte) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(f.Dir, name), data, 0o644)
}
