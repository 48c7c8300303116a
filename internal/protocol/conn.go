package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxPayloadSize bounds a single frame payload.
const MaxPayloadSize = 1 << 20

// Conn frames messages over a stream as
//
//	[tag byte][uvarint payload length][payload]
//
// Writes are serialized so that concurrent senders never interleave frames.
// ReadMessage must be called from a single goroutine.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	writeMu sync.Mutex
	w       *bufio.Writer

	closeOnce sync.Once
	closeErr  error
}

func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		r:   bufio.NewReader(rwc),
		w:   bufio.NewWriter(rwc),
	}
}

// RemoteAddr returns the peer address when the underlying stream is a
// network connection.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rwc.(net.Conn); ok {
		return nc.RemoteAddr().String()
	}
	return ""
}

// WriteMessage writes m as one frame and flushes it.
func (c *Conn) WriteMessage(m Message) error {
	return c.WriteMessages(m)
}

// WriteMessages writes ms back to back with no frame of another writer in
// between, then flushes.
func (c *Conn) WriteMessages(ms ...Message) error {
	var frames []byte
	for _, m := range ms {
		frames = appendFrame(frames, m)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.w.Write(frames); err != nil {
		return fmt.Errorf("failed to write %s: %w", ms[0].Tag(), err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", ms[0].Tag(), err)
	}
	return nil
}

func appendFrame(b []byte, m Message) []byte {
	payload := Encode(m)
	b = append(b, byte(m.Tag()))
	b = protowire.AppendVarint(b, uint64(len(payload)))
	return append(b, payload...)
}

// ReadMessage reads the next frame. It returns io.EOF when the stream ends
// cleanly before a tag byte and an error wrapping ErrProtocolViolation for
// unknown tags or malformed payloads.
func (c *Conn) ReadMessage() (Message, error) {
	tagByte, err := c.r.ReadByte()
	if err != nil {
		return nil, err
	}
	tag := Tag(tagByte)
	if tag < TagClientName || tag > TagAbortSession {
		return nil, fmt.Errorf("%w: unknown tag %d", ErrProtocolViolation, tagByte)
	}

	size, err := binary.ReadUvarint(c.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, unexpectedEOF(err)
	}
	return Decode(tag, payload)
}

// Close closes the underlying stream. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// a stream ending inside a frame is not a clean shutdown
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
