package ads

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

const keyOAID = "oaid"

// AdLoader loads ads through a NativeSDK, decoding the JSON the SDK reports
// into caller-facing structures.
type AdLoader struct {
	sdk  NativeSDK
	oaid OAIDProvider
	log  *zap.Logger
}

// NewAdLoader creates a loader. oaid may be nil, in which case requests go
// out without an advertising identifier.
func NewAdLoader(sdk NativeSDK, oaid OAIDProvider, log *zap.Logger) *AdLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdLoader{sdk: sdk, oaid: oaid, log: log.Named("AdLoaderProxy")}
}

// LoadAd loads ads for one slot. Invalid arguments are returned; everything
// after the request is handed to the SDK reaches listener.
func (l *AdLoader) LoadAd(ctx context.Context, params AdRequestParams, options AdOptions, listener AdLoadListener) error {
	l.log.Info("start to load ad")
	if listener.OnAdLoadSuccess == nil || listener.OnAdLoadFailure == nil {
		return ErrParam("Invalid input parameter, listener is null.")
	}
	if err := checkRequest(params, options); err != nil {
		return err
	}

	oaid := l.fetchOAID(ctx)
	cb := NativeLoadCallback{
		OnAdLoadFailure: listener.OnAdLoadFailure,
		OnAdLoadSuccess: func(ads string) {
			l.log.Info("on receive loading single slot ad resp")
			var decoded []Advertisement
			if err := json.Unmarshal([]byte(ads), &decoded); err != nil {
				l.log.Error("decode ads failed", zap.Error(err))
				listener.OnAdLoadFailure(CodeRequestFail, err.Error())
				return
			}
			listener.OnAdLoadSuccess(decoded)
		},
	}
	return l.sdk.LoadAd(ctx, withOAID(params, oaid), normalizeOptions(options), cb)
}

// LoadAdWithMultiSlots loads ads for several slots at once. Success yields
// the ads grouped by slot id.
func (l *AdLoader) LoadAdWithMultiSlots(ctx context.Context, params []AdRequestParams, options AdOptions, listener MultiSlotsAdLoadListener) error {
	l.log.Info("start to load ad with multi-slots")
	if listener.OnAdLoadSuccess == nil || listener.OnAdLoadFailure == nil {
		return ErrParam("Invalid input parameter, listener is null.")
	}
	if err := checkMultiRequest(params, options); err != nil {
		return err
	}

	oaid := l.fetchOAID(ctx)
	slots := make([]AdRequestParams, 0, len(params))
	for _, p := range params {
		slots = append(slots, withOAID(p, oaid))
	}
	cb := NativeLoadCallback{
		OnAdLoadFailure: listener.OnAdLoadFailure,
		OnAdLoadSuccess: func(ads string) {
			l.log.Info("on receive loading-ad resp")
			decoded, err := decodeSlots(ads)
			if err != nil {
				l.log.Error("decode ads failed", zap.Error(err))
				listener.OnAdLoadFailure(CodeRequestFail, err.Error())
				return
			}
			listener.OnAdLoadSuccess(decoded)
		},
	}
	return l.sdk.LoadAdWithMultiSlots(ctx, slots, normalizeOptions(options), cb)
}

// fetchOAID asks for the identifier permission and reads the identifier.
// Denial or any failure yields an empty identifier.
func (l *AdLoader) fetchOAID(ctx context.Context) string {
	if l.oaid == nil {
		return ""
	}
	granted, err := l.oaid.RequestPermission(ctx)
	if err != nil {
		l.log.Warn("request oaid permission failed", zap.Error(err))
		return ""
	}
	if !granted {
		l.log.Info("oaid permission denied")
		return ""
	}
	oaid, err := l.oaid.OAID(ctx)
	if err != nil {
		l.log.Warn("get oaid failed", zap.Error(err))
		return ""
	}
	return oaid
}

func withOAID(params AdRequestParams, oaid string) AdRequestParams {
	out := copyParams(params)
	if _, ok := out[keyOAID]; !ok && oaid != "" {
		out[keyOAID] = oaid
	}
	return out
}

func checkRequest(params AdRequestParams, options AdOptions) error {
	if params == nil {
		return ErrParam("Invalid input parameter, adParam is null.")
	}
	if options == nil {
		return ErrParam("Invalid input parameter, adOptions is null.")
	}
	if err := validate(requestParamsValidator, "adParam", map[string]interface{}(params)); err != nil {
		return err
	}
	return validateOptions(options)
}

func checkMultiRequest(params []AdRequestParams, options AdOptions) error {
	if len(params) == 0 {
		return ErrParam("Invalid input parameter, adParams is empty.")
	}
	for _, p := range params {
		if p == nil {
			return ErrParam("Invalid input parameter, adParam is null.")
		}
		if err := validate(requestParamsValidator, "adParam", map[string]interface{}(p)); err != nil {
			return err
		}
	}
	if options == nil {
		return ErrParam("Invalid input parameter, adOptions is null.")
	}
	return validateOptions(options)
}

// validateOptions checks every option except nonPersonalizedAd, which is
// normalized rather than rejected.
func validateOptions(options AdOptions) error {
	checked := make(map[string]interface{}, len(options))
	for k, v := range options {
		if k != keyNonPersonalizedAd {
			checked[k] = v
		}
	}
	return validate(optionsValidator, "adOptions", checked)
}

func decodeSlots(ads string) (map[string][]Advertisement, error) {
	var decoded map[string][]Advertisement
	if err := json.Unmarshal([]byte(ads), &decoded); err != nil {
		return nil, err
	}
	if decoded == nil {
		decoded = make(map[string][]Advertisement)
	}
	return decoded, nil
}
