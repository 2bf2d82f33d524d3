package bifaci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameReadWriter is the pair of operations the handshake needs from a transport.
type FrameReadWriter interface {
	ReadFrame() (*Frame, error)
	WriteFrame(frame *Frame) error
}

// HandshakeError reports a failed HELLO exchange.
type HandshakeError struct {
	Message string
	Err     error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Handshake failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("Handshake failed: %s", e.Message)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// FrameReader reads length-prefixed CBOR frames from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// ReadFrame reads a single frame from the stream
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	// Read 4-byte length prefix (big-endian)
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if err := CheckFrameSize(int(length), fr.limits); err != nil {
		return nil, err
	}

	frameBuf := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, frameBuf); err != nil {
		return nil, err
	}

	return DecodeFrame(frameBuf)
}

// FrameWriter writes length-prefixed CBOR frames to a stream
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits
}

// WriteFrame writes a single frame to the stream
func (fw *FrameWriter) WriteFrame(frame *Frame) error {
	frameBuf, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if err := CheckFrameSize(len(frameBuf), fw.limits); err != nil {
		return err
	}

	// Prefix and body go out in one write so a frame is never torn by a
	// concurrent writer sharing the stream.
	buf := make([]byte, 4+len(frameBuf))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(frameBuf)))
	copy(buf[4:], frameBuf)
	_, err = fw.writer.Write(buf)
	return err
}

// CheckFrameSize enforces the negotiated max_frame and the hard limit.
func CheckFrameSize(size int, limits Limits) error {
	if size > limits.MaxFrame {
		return fmt.Errorf("frame size %d exceeds max_frame limit %d", size, limits.MaxFrame)
	}
	if size > MaxFrameHardLimit {
		return fmt.Errorf("frame size %d exceeds hard limit %d", size, MaxFrameHardLimit)
	}
	return nil
}

// HandshakeInitiate performs the handshake from the dialing side.
// Returns the descriptor of the root object served by the peer and the
// negotiated limits.
func HandshakeInitiate(rw FrameReadWriter, local Limits) (string, Limits, error) {
	if err := rw.WriteFrame(NewHello(local, "")); err != nil {
		return "", Limits{}, &HandshakeError{Message: "failed to write HELLO", Err: err}
	}

	responseFrame, err := rw.ReadFrame()
	if err != nil {
		return "", Limits{}, &HandshakeError{Message: "failed to read HELLO response", Err: err}
	}
	if responseFrame.FrameType != FrameTypeHello {
		return "", Limits{}, &HandshakeError{Message: fmt.Sprintf("expected HELLO response, got %s", responseFrame.FrameType)}
	}

	remote := DefaultLimits()
	if limits := responseFrame.HelloLimits(); limits != nil {
		remote = *limits
	}

	return responseFrame.HelloDescriptor(), NegotiateLimits(local.sanitize(), remote.sanitize()), nil
}

// HandshakeAccept performs the handshake from the serving side, announcing
// the descriptor of the root object.
func HandshakeAccept(rw FrameReadWriter, local Limits, descriptor string) (Limits, error) {
	helloFrame, err := rw.ReadFrame()
	if err != nil {
		return Limits{}, &HandshakeError{Message: "failed to read HELLO", Err: err}
	}
	if helloFrame.FrameType != FrameTypeHello {
		return Limits{}, &HandshakeError{Message: "expected HELLO frame", Err: errors.New(helloFrame.FrameType.String())}
	}

	remote := DefaultLimits()
	if limits := helloFrame.HelloLimits(); limits != nil {
		remote = *limits
	}

	if err := rw.WriteFrame(NewHello(local, descriptor)); err != nil {
		return Limits{}, &HandshakeError{Message: "failed to write HELLO response", Err: err}
	}

	return NegotiateLimits(local.sanitize(), remote.sanitize()), nil
}
