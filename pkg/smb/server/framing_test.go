package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrameSkipsKeepalive(t *testing.T) {
	t.Parallel()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		_, _ = a.Write([]byte{nbSessionKeepAlive, 0, 0, 0})
		_, _ = a.Write([]byte{nbSessionMessage, 0, 0, 5, 0xFE, 'S', 'M', 'B', 1})
	}()

	frame, err := readFrame(b, 0, time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 'S', 'M', 'B', 1}, frame)
}

func TestReadFrameLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hdr  []byte
	}{
		{"too large", []byte{nbSessionMessage, 0x01, 0x00, 0x01}},
		{"too short", []byte{nbSessionMessage, 0, 0, 2}},
		{"bad type", []byte{0x81, 0, 0, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := net.Pipe()
			defer a.Close()
			defer b.Close()
			go func() { _, _ = a.Write(tt.hdr) }()

			_, err := readFrame(b, 1024, time.Second, time.Second)
			assert.Error(t, err)
		})
	}
}

func TestFrameWriterUses24BitLength(t *testing.T) {
	t.Parallel()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	payload := make([]byte, 70000)
	payload[0] = 0xFE
	w := &frameWriter{conn: a, timeout: time.Second}
	go func() { _ = w.write(payload) }()

	frame, err := readFrame(b, 0, time.Second, time.Second)
	require.NoError(t, err)
	assert.Len(t, frame, 70000)
}

func TestFrameWriterRejectsOversize(t *testing.T) {
	t.Parallel()
	w := &frameWriter{}
	err := w.write(make([]byte, 0x1000000))
	assert.ErrorIs(t, err, errFrameTooLarge)
}
