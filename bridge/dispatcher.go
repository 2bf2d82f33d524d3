package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/ability"
	"github.com/machinefabric/adsbridge-go/config"
	"github.com/machinefabric/adsbridge-go/rpc"
)

// Callback receives the result of a bridge call. ok is false when the call
// could not be routed, in which case data is empty.
type Callback func(data string, ok bool)

// Options configures a Dispatcher.
type Options struct {
	Connector ability.Connector
	Config    config.Source
	Logger    *zap.Logger

	// ConnectTimeout bounds the wait for a connection. Zero waits until the
	// connector reports an outcome or the dispatcher closes.
	ConnectTimeout time.Duration

	// ChunkLen overrides MaxChunkLen.
	ChunkLen int
}

// Dispatcher runs connect, send and cleanup for each bridge call and each
// parse-response call. Every call gets its own message, reply and callback
// object; nothing is shared between calls.
type Dispatcher struct {
	connector ability.Connector
	cfg       config.Source
	log       *zap.Logger
	timeout   time.Duration
	chunkLen  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	chunkLen := opts.ChunkLen
	if chunkLen <= 0 {
		chunkLen = MaxChunkLen
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		connector: opts.Connector,
		cfg:       opts.Config,
		log:       log.Named("advertising"),
		timeout:   opts.ConnectTimeout,
		chunkLen:  chunkLen,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ChunkLen is the chunk size used for outgoing payloads.
func (d *Dispatcher) ChunkLen() int {
	return d.chunkLen
}

// Wait blocks until every call started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close abandons calls still waiting for a connection or a callback and
// waits for them to unwind.
func (d *Dispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}

// Invoke sends method and arg to the JS bridge ability. callback fires at
// most once: with the ability's answer, or with ok false when the ability
// cannot be identified. A connection or send failure is logged and leaves
// callback uncalled. Only an invalid argument is returned as an error.
func (d *Dispatcher) Invoke(method, arg string, callback Callback) error {
	if callback == nil {
		return ErrParam("Invalid input parameter, callback is null.")
	}
	if PayloadLen(arg) > MaxPayloadLen {
		d.log.Error("invokeAsync arg too long")
		return ErrParam("Invalid input parameter, arg exceeds the maximum length.")
	}
	cb := onceCallback(callback)

	element, ok := d.element(config.KeyProviderJSAbilityName)
	if !ok {
		d.log.Error("bundleName or abilityName is null")
		cb("", false)
		return nil
	}

	obj := NewBridgeCallback(func(data string) { cb(data, true) }, d.log)
	err := d.Send(element, obj, CodeBridgeCall, func(remote rpc.RemoteObject) (*rpc.MessageSequence, error) {
		return EncodeBridgeCall(remote.Descriptor(), obj, method, Chunk(arg, d.chunkLen))
	})
	if err != nil {
		d.log.Error("invokeAsync error", zap.Error(err))
		cb("", false)
	}
	return nil
}

// ParseResponse asks the API ability to parse an ad response. A missing
// listener handler, an oversized payload or an unidentifiable ability is
// returned as an error; every later failure reaches listener.OnFailure.
func (d *Dispatcher) ParseResponse(payload string, listener ParseResponseListener) error {
	if listener.OnSuccess == nil || listener.OnFailure == nil {
		return ErrParam("Invalid input parameter, listener is null.")
	}
	if PayloadLen(payload) > MaxPayloadLen {
		return ErrParam("Invalid input parameter, adResponse exceeds the maximum length.")
	}

	element, ok := d.element(config.KeyProviderApiAbilityName)
	if !ok {
		d.log.Error("bundleName or abilityName is null")
		return ErrInternal()
	}

	obj := NewParseResponseCallback(listener, d.log)
	err := d.Send(element, obj, CodeParseResponse, func(remote rpc.RemoteObject) (*rpc.MessageSequence, error) {
		return EncodeParseResponseCall(remote.Descriptor(), obj, Chunk(payload, d.chunkLen))
	})
	if err != nil {
		d.log.Error("parseAdResponse error", zap.Error(err))
		return ErrInternal()
	}
	return nil
}

func (d *Dispatcher) element(abilityKey string) (ability.ElementName, bool) {
	var m map[string]string
	if d.cfg != nil {
		m = d.cfg.Resolve()
	}
	e := ability.ElementName{
		BundleName:  m[config.KeyProviderBundleName],
		AbilityName: m[abilityKey],
	}
	return e, !e.IsZero()
}

// EncodeFunc builds the request once the remote is known.
type EncodeFunc func(remote rpc.RemoteObject) (*rpc.MessageSequence, error)

// Responder is the callback object sent along with a request. The remote
// answers through it; the dispatcher fails it when the request cannot be
// delivered and holds the connection open until it is Done.
type Responder interface {
	rpc.RemoteObject
	Fail(code int, message string) bool
	Done() <-chan struct{}
}

// Send connects to element and sends the request built by encode with
// code, carrying responder. Only a failure to request the connection is
// returned; everything after that is reported through responder.
func (d *Dispatcher) Send(element ability.ElementName, responder Responder, code uint32, encode EncodeFunc) error {
	if d.connector == nil {
		return errors.New("bridge: no ability connector")
	}
	want := ability.Want{BundleName: element.BundleName, AbilityName: element.AbilityName}
	pending := ability.NewPending(want)
	id, err := d.connector.ConnectServiceExtensionAbility(d.ctx, want, pending.Options())
	if err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(id, element, pending, responder, encode, code)
	}()
	return nil
}

func (d *Dispatcher) run(id string, element ability.ElementName, pending *ability.Pending, obj Responder, encode EncodeFunc, code uint32) {
	log := d.log.With(zap.Stringer("element", element), zap.String("connection", id))

	waitCtx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(d.ctx, d.timeout)
		defer cancel()
	}
	remote, err := pending.Wait(waitCtx)
	if err != nil {
		log.Error("connect ability failed", zap.Error(err))
		if waitCtx.Err() != nil {
			// abandon a connection that may still complete
			d.disconnect(log, id)
		}
		obj.Fail(CodeInternalError, MsgInternalError)
		return
	}

	if !d.send(log, remote, encode, code) {
		obj.Fail(CodeInternalError, MsgInternalError)
		d.disconnect(log, id)
		return
	}

	// The ability answers through obj, possibly after the reply. Hold the
	// connection until it has.
	select {
	case <-obj.Done():
	case <-d.ctx.Done():
	}
	d.disconnect(log, id)
}

// send transmits one request. The data and reply sequences are reclaimed
// whatever the outcome.
func (d *Dispatcher) send(log *zap.Logger, remote rpc.RemoteObject, encode EncodeFunc, code uint32) bool {
	data, err := encode(remote)
	if err != nil {
		log.Error("onConnect error", zap.Error(err))
		return false
	}
	reply := rpc.NewMessageSequence()
	defer func() {
		data.Reclaim()
		reply.Reclaim()
	}()

	if err := remote.SendMessageRequest(d.ctx, code, data, reply, rpc.MessageOption{}); err != nil {
		log.Error("sendMessageRequest error", zap.Uint32("code", code), zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) disconnect(log *zap.Logger, id string) {
	if err := d.connector.DisconnectServiceExtensionAbility(id); err != nil {
		log.Debug("disconnect ability", zap.Error(err))
	}
}

func onceCallback(cb Callback) Callback {
	var once sync.Once
	return func(data string, ok bool) {
		once.Do(func() { cb(data, ok) })
	}
}
