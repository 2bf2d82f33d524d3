package bridge

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/rpc"
)

// CallbackKind selects how a CallbackObject decodes and dispatches.
type CallbackKind int

const (
	KindBridge CallbackKind = iota + 1
	KindParseResponse
)

func (k CallbackKind) String() string {
	switch k {
	case KindBridge:
		return "bridge"
	case KindParseResponse:
		return "parse-response"
	}
	return "unknown"
}

// code is the dispatch code the kind accepts.
func (k CallbackKind) code() uint32 {
	if k == KindParseResponse {
		return CodeParseResponse
	}
	return CodeBridgeCall
}

// CallbackState tracks the single message a CallbackObject handles.
type CallbackState int32

const (
	StateIdle CallbackState = iota
	StateDispatched
	StateRejected
	StateFailed
)

func (s CallbackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ParseResponseListener receives the outcome of a parse-response call.
type ParseResponseListener struct {
	OnSuccess func(result map[string]interface{})
	OnFailure func(code int, message string)
}

// CallbackObject is the remote object handed to the ability with each call.
// It accepts exactly one message; everything after its first message is
// rejected, so the bound handler runs at most once.
type CallbackObject struct {
	*rpc.Stub

	kind     CallbackKind
	onData   func(data string)
	listener ParseResponseListener
	log      *zap.Logger

	state atomic.Int32
	done  chan struct{}
	once  sync.Once
}

// NewBridgeCallback creates a callback object that passes the reassembled
// string to onData.
func NewBridgeCallback(onData func(data string), log *zap.Logger) *CallbackObject {
	return newCallbackObject(KindBridge, onData, ParseResponseListener{}, log)
}

// NewParseResponseCallback creates a callback object that dispatches a
// response code and payload to listener.
func NewParseResponseCallback(listener ParseResponseListener, log *zap.Logger) *CallbackObject {
	return newCallbackObject(KindParseResponse, nil, listener, log)
}

func newCallbackObject(kind CallbackKind, onData func(string), listener ParseResponseListener, log *zap.Logger) *CallbackObject {
	if log == nil {
		log = zap.NewNop()
	}
	c := &CallbackObject{
		kind:     kind,
		onData:   onData,
		listener: listener,
		log:      log,
		done:     make(chan struct{}),
	}
	c.Stub = rpc.NewStub(CallbackDescriptor, c, log)
	return c
}

// Kind reports the variant.
func (c *CallbackObject) Kind() CallbackKind {
	return c.kind
}

// State reports where the object is in its lifecycle.
func (c *CallbackObject) State() CallbackState {
	return CallbackState(c.state.Load())
}

// Done is closed once the object leaves the idle state.
func (c *CallbackObject) Done() <-chan struct{} {
	return c.done
}

func (c *CallbackObject) transition(to CallbackState) bool {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(to)) {
		return false
	}
	c.once.Do(func() { close(c.done) })
	return true
}

// OnRemoteMessageRequest decodes one inbound message and invokes the bound
// handler.
func (c *CallbackObject) OnRemoteMessageRequest(code uint32, data, reply *rpc.MessageSequence, option rpc.MessageOption) bool {
	c.log.Info("onRemoteMessageRequest enter", zap.Stringer("kind", c.kind), zap.Uint32("code", code))
	if code != c.kind.code() {
		c.log.Error("onRemoteMessageRequest code error", zap.Uint32("code", code))
		c.transition(StateRejected)
		return false
	}
	if c.State() != StateIdle {
		c.log.Warn("callback already handled a message", zap.Stringer("state", c.State()))
		return false
	}

	switch c.kind {
	case KindBridge:
		return c.dispatchBridge(data)
	case KindParseResponse:
		return c.dispatchParseResponse(data)
	}
	return false
}

func (c *CallbackObject) dispatchBridge(data *rpc.MessageSequence) bool {
	payload, err := DecodeBridgeMessage(data)
	if err != nil {
		c.log.Error("handle rpc error", zap.Error(err))
		c.transition(StateRejected)
		return false
	}
	if !c.transition(StateDispatched) {
		return false
	}
	if c.onData == nil {
		return true
	}
	return c.deliver(func() { c.onData(payload) })
}

func (c *CallbackObject) dispatchParseResponse(data *rpc.MessageSequence) bool {
	respCode, respData, err := DecodeParseResponseMessage(data)
	if err != nil {
		c.log.Error("handle rpc error", zap.Error(err))
		c.transition(StateRejected)
		return false
	}
	if !c.transition(StateDispatched) {
		return false
	}
	return c.deliver(func() { c.dispatchResponseCode(respCode, respData) })
}

func (c *CallbackObject) dispatchResponseCode(respCode int32, respData string) {
	switch respCode {
	case CodeSuccess:
		result := make(map[string]interface{})
		if err := json.Unmarshal([]byte(respData), &result); err != nil {
			c.log.Error("parse ad response failed", zap.Error(err))
			c.failure(CodeParseResponseError, MsgParseResponseError)
			return
		}
		if c.listener.OnSuccess != nil {
			c.listener.OnSuccess(result)
		}
	case CodeDeviceNotSupported:
		c.failure(CodeDeviceNotSupported, MsgDeviceNotSupported)
	case CodeParseResponseError:
		c.failure(CodeParseResponseError, MsgParseResponseError)
	default:
		c.failure(int(respCode), respData)
	}
}

// deliver runs the bound handler. A handler panic leaves the object
// rejected.
func (c *CallbackObject) deliver(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("callback handler panicked", zap.Any("panic", r))
			c.state.Store(int32(StateRejected))
			ok = false
		}
	}()
	fn()
	return true
}

func (c *CallbackObject) failure(code int, message string) {
	if c.listener.OnFailure != nil {
		c.listener.OnFailure(code, message)
	}
}

// Fail reports a failure through the listener unless a message was already
// dispatched. It returns whether the listener was called.
func (c *CallbackObject) Fail(code int, message string) bool {
	if !c.transition(StateFailed) {
		return false
	}
	if c.kind == KindParseResponse {
		c.failure(code, message)
	}
	return true
}
