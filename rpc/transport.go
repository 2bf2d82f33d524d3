package rpc

import (
	"io"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/machinefabric/adsbridge-go/bifaci"
)

// Transport moves whole frames between two peers.
type Transport interface {
	ReadFrame() (*bifaci.Frame, error)
	WriteFrame(frame *bifaci.Frame) error
	SetLimits(limits bifaci.Limits)
	Close() error
}

// streamTransport carries length-prefixed frames over a byte stream.
type streamTransport struct {
	closer io.Closer
	reader *bifaci.FrameReader
	writer *bifaci.FrameWriter
}

// NewStreamTransport wraps a byte stream such as a net.Conn or a pipe.
func NewStreamTransport(rwc io.ReadWriteCloser) Transport {
	return &streamTransport{
		closer: rwc,
		reader: bifaci.NewFrameReader(rwc),
		writer: bifaci.NewFrameWriter(rwc),
	}
}

func (t *streamTransport) ReadFrame() (*bifaci.Frame, error) {
	return t.reader.ReadFrame()
}

func (t *streamTransport) WriteFrame(frame *bifaci.Frame) error {
	return t.writer.WriteFrame(frame)
}

func (t *streamTransport) SetLimits(limits bifaci.Limits) {
	t.reader.SetLimits(limits)
	t.writer.SetLimits(limits)
}

func (t *streamTransport) Close() error {
	return t.closer.Close()
}

// wsTransport carries one frame per WebSocket binary message.
type wsTransport struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	limits bifaci.Limits
}

// NewWebSocketTransport wraps an established WebSocket connection.
func NewWebSocketTransport(ws *websocket.Conn) Transport {
	t := &wsTransport{ws: ws}
	t.SetLimits(bifaci.DefaultLimits())
	return t
}

func (t *wsTransport) ReadFrame() (*bifaci.Frame, error) {
	for {
		messageType, message, err := t.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		t.mu.Lock()
		limits := t.limits
		t.mu.Unlock()
		if err := bifaci.CheckFrameSize(len(message), limits); err != nil {
			return nil, err
		}
		return bifaci.DecodeFrame(message)
	}
}

func (t *wsTransport) WriteFrame(frame *bifaci.Frame) error {
	message, err := bifaci.EncodeFrame(frame)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := bifaci.CheckFrameSize(len(message), t.limits); err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.BinaryMessage, message)
}

func (t *wsTransport) SetLimits(limits bifaci.Limits) {
	t.mu.Lock()
	t.limits = limits
	t.mu.Unlock()
	t.ws.SetReadLimit(int64(limits.MaxFrame))
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}
