package procpool

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Stdio framing: a 4-byte big-endian length followed by a msgpack body.

// maxFrameSize bounds a frame body (64 MiB); larger reads indicate a
// corrupted stream.
const maxFrameSize = 64 << 20

// taskFrame is the parent → child task message.
type taskFrame struct {
	JobID     string `msgpack:"job_id"`
	Name      string `msgpack:"name"`
	Args      []byte `msgpack:"args,omitempty"`
	TimeoutMS int64  `msgpack:"timeout_ms,omitempty"`
}

// resultFrame is the child → parent outcome message.
type resultFrame struct {
	JobID  string `msgpack:"job_id"`
	Result []byte `msgpack:"result,omitempty"`
	Error  string `msgpack:"error,omitempty"`
}

func writeFrameTo(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("procpool: encode frame: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body))) //nolint:gosec // bounded by maxFrameSize
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("procpool: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("procpool: write frame body: %w", err)
	}
	return nil
}

func readFrameFrom(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("procpool: read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return fmt.Errorf("procpool: frame of %d bytes exceeds limit", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("procpool: read frame body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("procpool: decode frame: %w", err)
	}
	return nil
}
