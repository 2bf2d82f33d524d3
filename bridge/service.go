package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/rpc"
)

// ServiceDescriptor is the interface descriptor of the reference ability.
const ServiceDescriptor = "com.ohos.AdsJsBridgeService"

// MethodHandler answers one bridge call.
type MethodHandler func(ctx context.Context, arg string) (string, error)

// ParseHandler turns an ad response into a result code and payload.
type ParseHandler func(ctx context.Context, payload string) (code int32, data string)

var errUnknownMethod = errors.New("bridge: unknown method")

// Service is the ability side of the bridge protocol: it checks the
// interface token, runs the named method or the parse handler and answers
// through the callback object the caller sent along.
type Service struct {
	*rpc.Stub

	ctx      context.Context
	log      *zap.Logger
	chunkLen int

	mu      sync.RWMutex
	methods map[string]MethodHandler
	parse   ParseHandler
}

// NewService creates a service with no methods. ctx bounds the callbacks it
// makes.
func NewService(ctx context.Context, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		ctx:      ctx,
		log:      log.Named("service"),
		chunkLen: MaxChunkLen,
		methods:  make(map[string]MethodHandler),
	}
	s.Stub = rpc.NewStub(ServiceDescriptor, s, log)
	return s
}

// Handle registers h for method.
func (s *Service) Handle(method string, h MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = h
}

// HandleParse sets the parse-response handler.
func (s *Service) HandleParse(h ParseHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parse = h
}

// OnRemoteMessageRequest serves one request. The answer reaches the caller
// through its callback object before this returns.
func (s *Service) OnRemoteMessageRequest(code uint32, data, reply *rpc.MessageSequence, option rpc.MessageOption) bool {
	var err error
	switch code {
	case CodeBridgeCall:
		err = s.serveBridgeCall(data)
	case CodeParseResponse:
		err = s.serveParse(data)
	default:
		err = fmt.Errorf("unexpected code %d", code)
	}
	if err != nil {
		s.log.Error("request rejected", zap.Uint32("code", code), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) serveBridgeCall(data *rpc.MessageSequence) error {
	call, err := DecodeBridgeCall(data)
	if err != nil {
		return err
	}
	defer rpc.Release(call.Callback)
	if call.Token != ServiceDescriptor {
		return fmt.Errorf("interface token %q does not match", call.Token)
	}

	s.mu.RLock()
	h, ok := s.methods[call.Method]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownMethod, call.Method)
	}

	result, err := h(s.ctx, call.Arg)
	if err != nil {
		return fmt.Errorf("method %s: %w", call.Method, err)
	}

	msg, err := EncodeBridgeMessage(Chunk(result, s.chunkLen))
	if err != nil {
		return err
	}
	return s.answer(call.Callback, CodeBridgeCall, msg)
}

func (s *Service) serveParse(data *rpc.MessageSequence) error {
	req, err := DecodeParseRequest(data)
	if err != nil {
		return err
	}
	defer rpc.Release(req.Listener)
	if req.Token != ServiceDescriptor {
		return fmt.Errorf("interface token %q does not match", req.Token)
	}

	s.mu.RLock()
	h := s.parse
	s.mu.RUnlock()
	code, result := int32(CodeDeviceNotSupported), ""
	if h != nil {
		code, result = h(s.ctx, req.Payload)
	}

	msg, err := EncodeParseResponseMessage(code, result)
	if err != nil {
		return err
	}
	return s.answer(req.Listener, CodeParseResponse, msg)
}

func (s *Service) answer(callback rpc.RemoteObject, code uint32, msg *rpc.MessageSequence) error {
	reply := rpc.NewMessageSequence()
	defer msg.Reclaim()
	defer reply.Reclaim()
	if err := callback.SendMessageRequest(s.ctx, code, msg, reply, rpc.MessageOption{}); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}
