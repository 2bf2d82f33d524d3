package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/bifaci"
)

// DefaultMaxBody bounds one reassembled request or reply body.
const DefaultMaxBody = 128 << 20

// Config tunes a connection. The zero value uses protocol defaults and
// discards logs.
type Config struct {
	Limits  bifaci.Limits
	MaxBody int
	Logger  *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Limits.MaxFrame <= 0 || c.Limits.MaxChunk <= 0 {
		c.Limits = bifaci.DefaultLimits()
	}
	if c.MaxBody <= 0 {
		c.MaxBody = DefaultMaxBody
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type callResult struct {
	body []byte
	err  error
}

// Conn multiplexes requests between the objects exported on each side of
// one transport. The serving side exports its root object at handle 0; the
// dialing side reaches it through Root.
type Conn struct {
	transport      Transport
	limits         bifaci.Limits
	maxBody        int
	log            *zap.Logger
	peerDescriptor string

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu          sync.Mutex
	exports     map[uint64]RemoteObject
	exportIndex map[RemoteObject]uint64
	nextHandle  uint64
	pending     map[string]chan callResult
	closed      bool
	closeErr    error
	onClose     []func(error)

	done     chan struct{}
	readDone chan struct{}
	handlers sync.WaitGroup
}

// NewClientConn performs the dialing side of the handshake and starts
// serving the connection.
func NewClientConn(transport Transport, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	descriptor, limits, err := bifaci.HandshakeInitiate(transport, cfg.Limits)
	if err != nil {
		transport.Close()
		return nil, err
	}
	c := newConn(transport, limits, cfg)
	c.peerDescriptor = descriptor
	go c.readLoop()
	return c, nil
}

// NewServerConn performs the accepting side of the handshake, exporting
// root at handle 0.
func NewServerConn(transport Transport, root RemoteObject, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	limits, err := bifaci.HandshakeAccept(transport, cfg.Limits, root.Descriptor())
	if err != nil {
		transport.Close()
		return nil, err
	}
	c := newConn(transport, limits, cfg)
	c.exports[bifaci.RootHandle] = root
	c.exportIndex[root] = bifaci.RootHandle
	go c.readLoop()
	return c, nil
}

func newConn(transport Transport, limits bifaci.Limits, cfg Config) *Conn {
	transport.SetLimits(limits)
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		transport:   transport,
		limits:      limits,
		maxBody:     cfg.MaxBody,
		log:         cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
		exports:     make(map[uint64]RemoteObject),
		exportIndex: make(map[RemoteObject]uint64),
		nextHandle:  bifaci.RootHandle + 1,
		pending:     make(map[string]chan callResult),
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
	}
}

// Root returns a proxy for the object the peer serves at handle 0.
func (c *Conn) Root() RemoteObject {
	return &proxy{conn: c, handle: bifaci.RootHandle, descriptor: c.peerDescriptor}
}

// Limits returns the negotiated limits.
func (c *Conn) Limits() bifaci.Limits {
	return c.limits
}

// Done is closed once the connection stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection stopped, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// OnClose registers fn to run once after the connection stops. Registering
// on a closed connection runs fn immediately.
func (c *Conn) OnClose(fn func(error)) {
	c.mu.Lock()
	if !c.closed {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	err := c.closeErr
	c.mu.Unlock()
	fn(err)
}

// Close stops the connection and waits for the read loop to exit.
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	<-c.readDone
	return nil
}

// Wait blocks until the read loop and every in-flight handler have finished.
func (c *Conn) Wait() {
	<-c.readDone
	c.handlers.Wait()
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cause == nil || errors.Is(cause, io.EOF) {
		cause = ErrClosed
	}
	c.closeErr = cause
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	if err := c.transport.Close(); err != nil {
		c.log.Debug("transport close", zap.Error(err))
	}
}

func (c *Conn) readLoop() {
	err := c.readFrames()
	c.shutdown(err)
	close(c.readDone)

	c.mu.Lock()
	hooks := c.onClose
	c.onClose = nil
	cause := c.closeErr
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(cause)
	}
}

func (c *Conn) readFrames() error {
	assembler := bifaci.NewAssembler(c.maxBody)
	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			return err
		}

		switch frame.FrameType {
		case bifaci.FrameTypeReq, bifaci.FrameTypeReply, bifaci.FrameTypeChunk, bifaci.FrameTypeEnd:
			header, body, done, err := assembler.Accept(frame)
			if err != nil {
				c.log.Warn("dropping malformed body", zap.String("id", frame.Id.ToString()), zap.Error(err))
				assembler.Discard(frame.Id)
				if !c.complete(frame.Id, callResult{err: fmt.Errorf("rpc: malformed reply: %w", err)}) {
					c.writeErr(frame.Id, errCodeBadRequest, err.Error())
				}
				continue
			}
			if !done {
				continue
			}
			if header.FrameType == bifaci.FrameTypeReq {
				c.handlers.Add(1)
				go c.serve(header, body)
			} else {
				c.complete(header.Id, callResult{body: body})
			}

		case bifaci.FrameTypeErr:
			assembler.Discard(frame.Id)
			c.complete(frame.Id, callResult{err: &RemoteError{Code: frame.ErrorCode(), Message: frame.ErrorMessage()}})

		case bifaci.FrameTypeRelease:
			c.release(*frame.Target)

		default:
			return fmt.Errorf("rpc: unexpected %s frame", frame.FrameType)
		}
	}
}

// complete hands a result to the waiting caller. Returns false when no call
// is waiting for id.
func (c *Conn) complete(id bifaci.MessageId, result callResult) bool {
	c.mu.Lock()
	ch, ok := c.pending[id.ToString()]
	if ok {
		delete(c.pending, id.ToString())
	}
	c.mu.Unlock()
	if ok {
		ch <- result
	}
	return ok
}

// serve runs one inbound request against the addressed local object.
func (c *Conn) serve(header *bifaci.Frame, body []byte) {
	defer c.handlers.Done()

	id := header.Id
	obj := c.lookup(*header.Target)
	if obj == nil {
		c.writeErr(id, errCodeNoObject, fmt.Sprintf("no object at handle %d", *header.Target))
		return
	}

	fields, err := decodeFields(body, c.importObject)
	if err != nil {
		c.writeErr(id, errCodeBadRequest, err.Error())
		return
	}
	data := NewMessageSequence()
	_ = data.load(fields)
	reply := NewMessageSequence()
	defer data.Reclaim()
	defer reply.Reclaim()

	err = obj.SendMessageRequest(c.ctx, *header.Code, data, reply, MessageOption{})
	if header.Async {
		if err != nil {
			c.log.Warn("async request failed", zap.Uint32("code", *header.Code), zap.Error(err))
		}
		return
	}
	if err != nil {
		var remoteErr *RemoteError
		switch {
		case errors.As(err, &remoteErr):
			c.writeErr(id, remoteErr.Code, remoteErr.Message)
		case errors.Is(err, ErrRequestRejected):
			c.writeErr(id, errCodeRejected, err.Error())
		default:
			c.writeErr(id, errCodeHandler, err.Error())
		}
		return
	}

	replyBody, err := encodeSequence(reply, c.exportObject)
	if err != nil {
		c.writeErr(id, errCodeHandler, err.Error())
		return
	}
	if err := c.writeBody(bifaci.NewReply(id), replyBody); err != nil {
		c.log.Warn("failed to write reply", zap.String("id", id.ToString()), zap.Error(err))
	}
}

// call sends a request to a peer handle and, unless async, waits for the reply.
func (c *Conn) call(ctx context.Context, handle uint64, code uint32, data, reply *MessageSequence, option MessageOption) error {
	if data == nil {
		return fmt.Errorf("rpc: nil request data")
	}
	body, err := encodeSequence(data, c.exportObject)
	if err != nil {
		return err
	}

	id := bifaci.NewMessageIdRandom()
	key := id.ToString()
	var ch chan callResult
	if !option.Async {
		ch = make(chan callResult, 1)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		c.pending[key] = ch
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.pending, key)
			c.mu.Unlock()
		}()
	}

	if err := c.writeBody(bifaci.NewReq(id, handle, code, option.Async), body); err != nil {
		return fmt.Errorf("rpc: send request: %w", err)
	}
	if option.Async {
		return nil
	}

	select {
	case result := <-ch:
		if result.err != nil {
			return result.err
		}
		if reply == nil {
			return nil
		}
		fields, err := decodeFields(result.body, c.importObject)
		if err != nil {
			return err
		}
		return reply.load(fields)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.Err()
	}
}

func (c *Conn) writeBody(header *bifaci.Frame, body []byte) error {
	frames := bifaci.SplitBody(header, body, c.limits.MaxChunk)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, frame := range frames {
		if err := c.transport.WriteFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) writeErr(id bifaci.MessageId, code, message string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.transport.WriteFrame(bifaci.NewErr(id, code, message)); err != nil {
		c.log.Debug("failed to write ERR frame", zap.String("code", code), zap.Error(err))
	}
}

func (c *Conn) lookup(handle uint64) RemoteObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exports[handle]
}

func (c *Conn) release(handle uint64) {
	if handle == bifaci.RootHandle {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.exports[handle]; ok {
		delete(c.exports, handle)
		delete(c.exportIndex, obj)
	}
}

// Exported returns how many objects this side currently exports.
func (c *Conn) Exported() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exports)
}

func (c *Conn) exportObject(obj RemoteObject) (objectRef, error) {
	if p, ok := obj.(*proxy); ok && p.conn == c {
		return objectRef{handle: p.handle, yours: true, descriptor: p.descriptor}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return objectRef{}, ErrClosed
	}
	handle, ok := c.exportIndex[obj]
	if !ok {
		handle = c.nextHandle
		c.nextHandle++
		c.exports[handle] = obj
		c.exportIndex[obj] = handle
	}
	return objectRef{handle: handle, descriptor: obj.Descriptor()}, nil
}

func (c *Conn) importObject(ref objectRef) (RemoteObject, error) {
	if ref.yours {
		if obj := c.lookup(ref.handle); obj != nil {
			return obj, nil
		}
		return nil, fmt.Errorf("handle %d: %w", ref.handle, ErrUnknownObject)
	}
	return &proxy{conn: c, handle: ref.handle, descriptor: ref.descriptor}, nil
}

// proxy forwards requests to an object exported by the peer.
type proxy struct {
	conn       *Conn
	handle     uint64
	descriptor string
	released   atomic.Bool
}

func (p *proxy) Descriptor() string {
	return p.descriptor
}

func (p *proxy) SendMessageRequest(ctx context.Context, code uint32, data, reply *MessageSequence, option MessageOption) error {
	if p.released.Load() {
		return fmt.Errorf("handle %d released: %w", p.handle, ErrUnknownObject)
	}
	return p.conn.call(ctx, p.handle, code, data, reply, option)
}

// Release tells the peer it may drop the object. The root handle is never
// released.
func (p *proxy) Release() error {
	if p.handle == bifaci.RootHandle || !p.released.CompareAndSwap(false, true) {
		return nil
	}
	p.conn.writeMu.Lock()
	defer p.conn.writeMu.Unlock()
	return p.conn.transport.WriteFrame(bifaci.NewRelease(p.handle))
}
