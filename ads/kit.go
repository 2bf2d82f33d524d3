package ads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/bridge"
	"github.com/machinefabric/adsbridge-go/rpc"
)

const (
	// KitServiceDescriptor is the interface descriptor of the ad kit ability.
	KitServiceDescriptor = "com.ohos.AdsKitService"
	// KitCallbackDescriptor is the interface descriptor of load callbacks.
	KitCallbackDescriptor = "com.ohos.AdLoadCallback"

	CodeLoadAd      uint32 = 1
	CodeRequestBody uint32 = 2
	CodeShowAd      uint32 = 3

	codeCallbackSuccess uint32 = 1
	codeCallbackFailure uint32 = 2
)

// Load types carried with CodeLoadAd.
const (
	LoadTypeSingle int32 = 1
	LoadTypeMulti  int32 = 2
)

// KitRequest is a decoded ad kit request as the ability sees it.
type KitRequest struct {
	Token      string
	Callback   rpc.RemoteObject
	Request    string
	Options    string
	LoadAdType int32
}

// EncodeKitRequest builds an ad kit request: interface token, callback
// object, chunked request JSON, options JSON and load type.
func EncodeKitRequest(token string, callback rpc.RemoteObject, requestChunks []string, options string, loadAdType int32) (*rpc.MessageSequence, error) {
	m := rpc.NewMessageSequence()
	err := func() error {
		if err := m.WriteInterfaceToken(token); err != nil {
			return err
		}
		if err := m.WriteRemoteObject(callback); err != nil {
			return err
		}
		if err := m.WriteStringArray(requestChunks); err != nil {
			return err
		}
		if err := m.WriteString(options); err != nil {
			return err
		}
		return m.WriteInt(loadAdType)
	}()
	if err != nil {
		m.Reclaim()
		return nil, err
	}
	return m, nil
}

// DecodeKitRequest reads a request written by EncodeKitRequest.
func DecodeKitRequest(m *rpc.MessageSequence) (KitRequest, error) {
	var req KitRequest
	var err error
	if req.Token, err = m.ReadInterfaceToken(); err != nil {
		return KitRequest{}, err
	}
	if req.Callback, err = m.ReadRemoteObject(); err != nil {
		return KitRequest{}, err
	}
	chunks, err := m.ReadStringArray()
	if err != nil {
		return KitRequest{}, err
	}
	req.Request = strings.Join(chunks, "")
	if req.Options, err = m.ReadString(); err != nil {
		return KitRequest{}, err
	}
	if req.LoadAdType, err = m.ReadInt(); err != nil {
		return KitRequest{}, err
	}
	return req, nil
}

// kitCallback receives the single answer to an ad kit request.
type kitCallback struct {
	*rpc.Stub

	cb  NativeLoadCallback
	log *zap.Logger

	fired atomic.Bool
	done  chan struct{}
}

func newKitCallback(cb NativeLoadCallback, log *zap.Logger) *kitCallback {
	k := &kitCallback{cb: cb, log: log, done: make(chan struct{})}
	k.Stub = rpc.NewStub(KitCallbackDescriptor, k, log)
	return k
}

func (k *kitCallback) finish() bool {
	if !k.fired.CompareAndSwap(false, true) {
		return false
	}
	close(k.done)
	return true
}

func (k *kitCallback) Done() <-chan struct{} {
	return k.done
}

// Fail reports that the ad kit could not be reached.
func (k *kitCallback) Fail(code int, _ string) bool {
	if !k.finish() {
		return false
	}
	k.cb.OnAdLoadFailure(code, msgConnectKitFailed)
	return true
}

func (k *kitCallback) OnRemoteMessageRequest(code uint32, data, reply *rpc.MessageSequence, option rpc.MessageOption) bool {
	switch code {
	case codeCallbackSuccess:
		chunks, err := data.ReadStringArray()
		if err != nil {
			k.log.Error("decode load result", zap.Error(err))
			return false
		}
		if !k.finish() {
			return false
		}
		k.cb.OnAdLoadSuccess(strings.Join(chunks, ""))
		return true
	case codeCallbackFailure:
		errCode, err := data.ReadInt()
		if err != nil {
			k.log.Error("decode load failure", zap.Error(err))
			return false
		}
		msg, err := data.ReadString()
		if err != nil {
			k.log.Error("decode load failure", zap.Error(err))
			return false
		}
		if !k.finish() {
			return false
		}
		k.cb.OnAdLoadFailure(int(errCode), msg)
		return true
	}
	k.log.Error("unexpected callback code", zap.Uint32("code", code))
	return false
}

// LoadHandler serves an ad load. It returns the ads as JSON text.
type LoadHandler func(ctx context.Context, request, options string, loadAdType int32) (string, error)

// BodyHandler builds an ad request body.
type BodyHandler func(ctx context.Context, request, options string) (string, error)

// ShowHandler displays an ad.
type ShowHandler func(ctx context.Context, ad, options string) error

// KitService is a reference ad kit ability. Requests without a registered
// handler are answered with CodeDeviceNotSupported.
type KitService struct {
	*rpc.Stub

	ctx      context.Context
	log      *zap.Logger
	chunkLen int

	mu   sync.RWMutex
	load LoadHandler
	body BodyHandler
	show ShowHandler
}

// NewKitService creates an ad kit with no handlers.
func NewKitService(ctx context.Context, log *zap.Logger) *KitService {
	if log == nil {
		log = zap.NewNop()
	}
	k := &KitService{ctx: ctx, log: log.Named("adkit"), chunkLen: bridge.MaxChunkLen}
	k.Stub = rpc.NewStub(KitServiceDescriptor, k, log)
	return k
}

func (k *KitService) HandleLoad(h LoadHandler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.load = h
}

func (k *KitService) HandleRequestBody(h BodyHandler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.body = h
}

func (k *KitService) HandleShow(h ShowHandler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.show = h
}

var errNoHandler = errors.New("ads: no handler")

func (k *KitService) OnRemoteMessageRequest(code uint32, data, reply *rpc.MessageSequence, option rpc.MessageOption) bool {
	req, err := DecodeKitRequest(data)
	if err != nil {
		k.log.Error("request rejected", zap.Uint32("code", code), zap.Error(err))
		return false
	}
	defer rpc.Release(req.Callback)
	if req.Token != KitServiceDescriptor {
		k.log.Error("request rejected", zap.String("token", req.Token))
		return false
	}

	k.mu.RLock()
	load, body, show := k.load, k.body, k.show
	k.mu.RUnlock()

	var result string
	var handlerErr error = errNoHandler
	switch code {
	case CodeLoadAd:
		if load != nil {
			result, handlerErr = load(k.ctx, req.Request, req.Options, req.LoadAdType)
		}
	case CodeRequestBody:
		if body != nil {
			result, handlerErr = body(k.ctx, req.Request, req.Options)
		}
	case CodeShowAd:
		if show != nil {
			handlerErr = show(k.ctx, req.Request, req.Options)
		}
	default:
		k.log.Error("request rejected", zap.Uint32("code", code))
		return false
	}

	if err := k.answer(req.Callback, result, handlerErr); err != nil {
		k.log.Error("answer callback", zap.Error(err))
		return false
	}
	return true
}

func (k *KitService) answer(callback rpc.RemoteObject, result string, handlerErr error) error {
	msg := rpc.NewMessageSequence()
	reply := rpc.NewMessageSequence()
	defer msg.Reclaim()
	defer reply.Reclaim()

	code := codeCallbackSuccess
	var err error
	if handlerErr != nil {
		code = codeCallbackFailure
		errCode, errMsg := failureOf(handlerErr)
		if err = msg.WriteInt(int32(errCode)); err == nil {
			err = msg.WriteString(errMsg)
		}
	} else {
		err = msg.WriteStringArray(bridge.Chunk(result, k.chunkLen))
	}
	if err != nil {
		return err
	}
	if err := callback.SendMessageRequest(k.ctx, code, msg, reply, rpc.MessageOption{}); err != nil {
		return fmt.Errorf("send to callback: %w", err)
	}
	return nil
}

func failureOf(err error) (int, string) {
	if errors.Is(err, errNoHandler) {
		return CodeDeviceNotSupported, bridge.MsgDeviceNotSupported
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code, be.Message
	}
	return CodeRequestFail, err.Error()
}
