// Package rpc implements remote objects that exchange MessageSequence
// requests, either in-process or across a framed connection.
package rpc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrRequestRejected = errors.New("rpc: request rejected by remote object")
	ErrClosed          = errors.New("rpc: connection closed")
	ErrReclaimed       = errors.New("rpc: message sequence reclaimed")
	ErrFieldMismatch   = errors.New("rpc: field type mismatch")
	ErrNoMoreFields    = errors.New("rpc: no more fields to read")
	ErrUnknownObject   = errors.New("rpc: unknown object handle")
)

// ERR frame codes
const (
	errCodeRejected   = "REJECTED"
	errCodeNoObject   = "NO_OBJECT"
	errCodeBadRequest = "BAD_REQUEST"
	errCodeHandler    = "HANDLER_ERROR"
)

// RemoteError is an ERR frame returned by the peer for a request.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error [%s] %s", e.Code, e.Message)
}

// Is lets errors.Is match a remote rejection against ErrRequestRejected.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRequestRejected:
		return e.Code == errCodeRejected
	case ErrUnknownObject:
		return e.Code == errCodeNoObject
	}
	return false
}

// MessageOption controls how a request is delivered.
type MessageOption struct {
	// Async requests return as soon as they are sent; no reply is read.
	Async bool
}

// RemoteObject is anything that accepts RPC requests: a local Stub or a
// proxy for an object living on the other side of a connection.
// Implementations must be comparable (pointer types), since connections key
// their export tables by object identity.
type RemoteObject interface {
	// Descriptor names the interface the object implements.
	Descriptor() string
	// SendMessageRequest delivers one request. A handler that refuses the
	// request surfaces as ErrRequestRejected.
	SendMessageRequest(ctx context.Context, code uint32, data, reply *MessageSequence, option MessageOption) error
}

// Handler receives requests delivered to a Stub. Returning false rejects the
// request.
type Handler interface {
	OnRemoteMessageRequest(code uint32, data, reply *MessageSequence, option MessageOption) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(code uint32, data, reply *MessageSequence, option MessageOption) bool

// OnRemoteMessageRequest calls f.
func (f HandlerFunc) OnRemoteMessageRequest(code uint32, data, reply *MessageSequence, option MessageOption) bool {
	return f(code, data, reply, option)
}

// Stub is a local remote object: requests are handed to its Handler in the
// calling process.
type Stub struct {
	descriptor string
	handler    Handler
	log        *zap.Logger
}

// NewStub creates a Stub. A nil logger discards logs.
func NewStub(descriptor string, handler Handler, log *zap.Logger) *Stub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stub{descriptor: descriptor, handler: handler, log: log}
}

// Descriptor returns the interface descriptor given at construction.
func (s *Stub) Descriptor() string {
	return s.descriptor
}

// SendMessageRequest hands the request to the handler. Async requests run
// on their own goroutine against a copy of data.
func (s *Stub) SendMessageRequest(ctx context.Context, code uint32, data, reply *MessageSequence, option MessageOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("rpc: nil request data")
	}
	if option.Async {
		copied := data.clone()
		go func() {
			scratch := NewMessageSequence()
			s.dispatch(code, copied, scratch, option)
			copied.Reclaim()
			scratch.Reclaim()
		}()
		return nil
	}
	if reply == nil {
		reply = NewMessageSequence()
		defer reply.Reclaim()
	}
	if !s.dispatch(code, data, reply, option) {
		return ErrRequestRejected
	}
	return nil
}

// dispatch never lets a handler panic cross the request boundary.
func (s *Stub) dispatch(code uint32, data, reply *MessageSequence, option MessageOption) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("remote object handler panicked",
				zap.String("descriptor", s.descriptor),
				zap.Uint32("code", code),
				zap.Any("panic", r))
			accepted = false
		}
	}()
	return s.handler.OnRemoteMessageRequest(code, data, reply, option)
}

// Releaser is implemented by proxies whose peer keeps a handle alive.
type Releaser interface {
	Release() error
}

// Release lets the owner of obj drop it if obj is a proxy; local objects
// need no release.
func Release(obj RemoteObject) error {
	if r, ok := obj.(Releaser); ok {
		return r.Release()
	}
	return nil
}
