package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/dittocifs/pkg/bufpool"
)

// NetBIOS session service message types [RFC 1002 4.3.1].
const (
	nbSessionMessage   byte = 0x00
	nbSessionKeepAlive byte = 0x85
)

// minFrameSize is the smallest payload worth parsing: a bare SMB protocol ID.
const minFrameSize = 4

var errFrameTooLarge = errors.New("frame exceeds maximum message size")

// readFrame reads one session message. Keepalives are skipped. The length
// is the 24-bit form used by direct TCP transport on port 445. idle bounds
// the wait for a frame to start, read the time to receive its payload.
func readFrame(conn net.Conn, maxSize int, idle, read time.Duration) ([]byte, error) {
	var hdr [4]byte
	for {
		if idle > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return nil, err
			}
		}
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return nil, err
		}
		if hdr[0] == nbSessionKeepAlive {
			continue
		}
		if hdr[0] != nbSessionMessage {
			return nil, fmt.Errorf("unexpected NetBIOS session type 0x%02x", hdr[0])
		}

		size := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
		if size < minFrameSize {
			return nil, fmt.Errorf("frame of %d bytes is too short", size)
		}
		if maxSize > 0 && size > maxSize {
			return nil, fmt.Errorf("%w: %d > %d", errFrameTooLarge, size, maxSize)
		}

		if read > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(read)); err != nil {
				return nil, err
			}
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// frameWriter serialises replies on one connection.
type frameWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

func (w *frameWriter) write(payload []byte) error {
	if len(payload) > 0xFFFFFF {
		return fmt.Errorf("%w: reply of %d bytes", errFrameTooLarge, len(payload))
	}
	buf := bufpool.Get(4 + len(payload))
	defer bufpool.Put(buf)
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	buf[0] = nbSessionMessage
	copy(buf[4:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return err
		}
	}
	_, err := w.conn.Write(buf)
	return err
}
