package ads

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/bridge"
)

// Advertising groups the facade operations that are not tied to a loader.
type Advertising struct {
	sdk        NativeSDK
	dispatcher *bridge.Dispatcher
	log        *zap.Logger
}

// New creates the facade. dispatcher may be nil when response parsing and
// web registration are not used.
func New(sdk NativeSDK, dispatcher *bridge.Dispatcher, log *zap.Logger) *Advertising {
	if log == nil {
		log = zap.NewNop()
	}
	return &Advertising{sdk: sdk, dispatcher: dispatcher, log: log.Named("advertising")}
}

// NewAdLoader creates a loader bound to the facade's SDK.
func (a *Advertising) NewAdLoader(oaid OAIDProvider) *AdLoader {
	return NewAdLoader(a.sdk, oaid, a.log)
}

// GetAdRequestBody builds the request body the ad server expects for params.
func (a *Advertising) GetAdRequestBody(ctx context.Context, params []AdRequestParams, options AdOptions) (string, error) {
	a.log.Info("getAdRequestBody enter")
	if err := checkMultiRequest(params, options); err != nil {
		return "", err
	}
	body, err := a.sdk.GetAdRequestBody(ctx, params, normalizeOptions(options))
	if err != nil {
		a.log.Error("getAdRequestBody failed", zap.Error(err))
		return "", asBusinessError(err)
	}
	return body, nil
}

// ParseAdResponse hands an ad server response to the ad kit for parsing and
// reports the ads grouped by slot id through listener.
func (a *Advertising) ParseAdResponse(adResponse string, listener MultiSlotsAdLoadListener) error {
	a.log.Info("parseAdResponse enter")
	if listener.OnAdLoadSuccess == nil || listener.OnAdLoadFailure == nil {
		return ErrParam("Invalid input parameter, listener is null.")
	}
	if a.dispatcher == nil {
		return ErrInternal()
	}
	return a.dispatcher.ParseResponse(adResponse, bridge.ParseResponseListener{
		OnFailure: listener.OnAdLoadFailure,
		OnSuccess: func(result map[string]interface{}) {
			adsMap, err := slotsFromResult(result)
			if err != nil {
				a.log.Error("convert parsed ads failed", zap.Error(err))
				listener.OnAdLoadFailure(CodeParseResponseError, bridge.MsgParseResponseError)
				return
			}
			listener.OnAdLoadSuccess(adsMap)
		},
	})
}

// ShowAd displays a loaded ad.
func (a *Advertising) ShowAd(ctx context.Context, ad Advertisement, options AdDisplayOptions) error {
	a.log.Info("showAd enter")
	if ad == nil {
		return ErrParam("Invalid input parameter, advertisement is null.")
	}
	if err := validate(advertisementValidator, "advertisement", map[string]interface{}(ad)); err != nil {
		return err
	}
	if options != nil {
		if err := validate(displayOptionsValidator, "adDisplayOptions", map[string]interface{}(options)); err != nil {
			return err
		}
	}
	if err := a.sdk.ShowAd(ctx, ad, options); err != nil {
		a.log.Error("showAd failed", zap.Error(err))
		return asBusinessError(err)
	}
	return nil
}

func slotsFromResult(result map[string]interface{}) (map[string][]Advertisement, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return decodeSlots(string(raw))
}

func asBusinessError(err error) error {
	var be *BusinessError
	if errors.As(err, &be) {
		return be
	}
	return ErrInternal()
}
