package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	sink := FileSink{Dir: dir}

	require.NoError(t, sink.Save("session.wav", []byte{1, 2, 3}))

	data, err := os.ReadFile(filepath.Join(dir, "session.wav"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}
