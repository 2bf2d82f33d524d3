package ads

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/ability"
	"github.com/machinefabric/adsbridge-go/bridge"
	"github.com/machinefabric/adsbridge-go/config"
	"github.com/machinefabric/adsbridge-go/rpc"
)

// RemoteService sends ad kit requests to the provider abilities named in
// the ad service config. Element names are resolved on first use and kept.
// When the config source reports a generation (config.Cached does), the
// kept names are dropped once it changes, so a change seen by
// config.Cached.Watch reaches the next request.
type RemoteService struct {
	dispatcher *bridge.Dispatcher
	cfg        config.Source
	log        *zap.Logger

	mu       sync.Mutex
	elements map[string]ability.ElementName
	gen      uint64
}

type generational interface {
	Generation() uint64
}

// NewRemoteService creates a service that connects through dispatcher.
func NewRemoteService(dispatcher *bridge.Dispatcher, cfg config.Source, log *zap.Logger) *RemoteService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteService{
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.Named("AdLoadService"),
		elements:   make(map[string]ability.ElementName),
	}
}

// LoadAd asks the ad kit ability to load ads. A failure to reach the kit is
// reported as OnAdLoadFailure(CodeInternalError, "connect ad kit fail").
func (s *RemoteService) LoadAd(request, options string, cb NativeLoadCallback, loadAdType int32) error {
	return s.request(config.KeyProviderAbilityName, CodeLoadAd, request, options, loadAdType, cb)
}

// RequestAdBody asks the API ability to build an ad request body.
func (s *RemoteService) RequestAdBody(request, options string, cb NativeLoadCallback) error {
	return s.request(config.KeyProviderApiAbilityName, CodeRequestBody, request, options, 0, cb)
}

// ShowAd asks the ad kit ability to display ad.
func (s *RemoteService) ShowAd(ad, options string, cb NativeLoadCallback) error {
	return s.request(config.KeyProviderAbilityName, CodeShowAd, ad, options, 0, cb)
}

func (s *RemoteService) request(abilityKey string, code uint32, request, options string, loadAdType int32, cb NativeLoadCallback) error {
	if cb.OnAdLoadSuccess == nil || cb.OnAdLoadFailure == nil {
		s.log.Info("ad load callback is null")
		return ErrParam("Invalid input parameter, callback is null.")
	}
	if bridge.PayloadLen(request) > bridge.MaxPayloadLen {
		return ErrParam("Invalid input parameter, request exceeds the maximum length.")
	}

	obj := newKitCallback(cb, s.log)
	element, ok := s.element(abilityKey)
	if !ok {
		s.log.Error("ad kit element name is empty", zap.String("key", abilityKey))
		obj.Fail(CodeInternalError, msgConnectKitFailed)
		return nil
	}
	chunkLen := s.dispatcher.ChunkLen()
	err := s.dispatcher.Send(element, obj, code, func(remote rpc.RemoteObject) (*rpc.MessageSequence, error) {
		return EncodeKitRequest(remote.Descriptor(), obj, bridge.Chunk(request, chunkLen), options, loadAdType)
	})
	if err != nil {
		s.log.Error("connect ad kit failed", zap.Stringer("element", element), zap.Error(err))
		obj.Fail(CodeInternalError, msgConnectKitFailed)
	}
	return nil
}

func (s *RemoteService) element(abilityKey string) (ability.ElementName, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.cfg.(generational); ok {
		if gen := g.Generation(); gen != s.gen {
			s.log.Info("ad service config changed, resolving element names again")
			s.elements = make(map[string]ability.ElementName)
			s.gen = gen
		}
	}
	if e, ok := s.elements[abilityKey]; ok {
		return e, true
	}
	if s.cfg == nil {
		return ability.ElementName{}, false
	}
	m := s.cfg.Resolve()
	e := ability.ElementName{
		BundleName:  m[config.KeyProviderBundleName],
		AbilityName: m[abilityKey],
	}
	if e.BundleName == "" || e.AbilityName == "" {
		return ability.ElementName{}, false
	}
	s.elements[abilityKey] = e
	return e, true
}

// RemoteLoader is a NativeSDK backed by a RemoteService. Requests and
// options travel as JSON.
type RemoteLoader struct {
	service *RemoteService
}

// NewRemoteLoader wraps service.
func NewRemoteLoader(service *RemoteService) *RemoteLoader {
	return &RemoteLoader{service: service}
}

func (r *RemoteLoader) LoadAd(ctx context.Context, params AdRequestParams, options AdOptions, cb NativeLoadCallback) error {
	request, opts, err := marshalRequest(params, options)
	if err != nil {
		return err
	}
	return r.service.LoadAd(request, opts, cb, LoadTypeSingle)
}

func (r *RemoteLoader) LoadAdWithMultiSlots(ctx context.Context, params []AdRequestParams, options AdOptions, cb NativeLoadCallback) error {
	request, opts, err := marshalRequest(params, options)
	if err != nil {
		return err
	}
	return r.service.LoadAd(request, opts, cb, LoadTypeMulti)
}

func (r *RemoteLoader) GetAdRequestBody(ctx context.Context, params []AdRequestParams, options AdOptions) (string, error) {
	request, opts, err := marshalRequest(params, options)
	if err != nil {
		return "", err
	}
	return await(ctx, func(cb NativeLoadCallback) error {
		return r.service.RequestAdBody(request, opts, cb)
	})
}

func (r *RemoteLoader) ShowAd(ctx context.Context, ad Advertisement, options AdDisplayOptions) error {
	request, opts, err := marshalRequest(ad, options)
	if err != nil {
		return err
	}
	_, err = await(ctx, func(cb NativeLoadCallback) error {
		return r.service.ShowAd(request, opts, cb)
	})
	return err
}

type loadResult struct {
	data string
	err  error
}

// await turns a callback-style request into a blocking call bounded by ctx.
func await(ctx context.Context, start func(cb NativeLoadCallback) error) (string, error) {
	results := make(chan loadResult, 1)
	var once sync.Once
	deliver := func(r loadResult) {
		once.Do(func() { results <- r })
	}
	err := start(NativeLoadCallback{
		OnAdLoadSuccess: func(data string) { deliver(loadResult{data: data}) },
		OnAdLoadFailure: func(code int, message string) {
			deliver(loadResult{err: &BusinessError{Code: code, Message: message}})
		},
	})
	if err != nil {
		return "", err
	}
	select {
	case r := <-results:
		return r.data, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func marshalRequest(request, options interface{}) (string, string, error) {
	req, err := json.Marshal(request)
	if err != nil {
		return "", "", ErrParam("Invalid input parameter, " + err.Error())
	}
	opts, err := json.Marshal(options)
	if err != nil {
		return "", "", ErrParam("Invalid input parameter, " + err.Error())
	}
	return string(req), string(opts), nil
}
