// Package ads is the caller-facing advertising API: ad loading, request
// body construction, response parsing, ad display and web view
// registration. Ad serving itself happens in a native SDK or a remote ad
// kit ability.
package ads

import (
	"context"
	"math"
)

// NonPersonalizedUnset is sent for nonPersonalizedAd when the caller gave
// no usable value.
const NonPersonalizedUnset = -111111

const keyNonPersonalizedAd = "nonPersonalizedAd"

// AdRequestParams describes one ad slot request. Known keys: adId, adType,
// adCount, adWidth, adHeight, adSearchKeyword; others pass through.
type AdRequestParams map[string]interface{}

// AdOptions carries request-wide options such as tagForChildProtection,
// adContentClassification and nonPersonalizedAd.
type AdOptions map[string]interface{}

// AdDisplayOptions controls how an ad is shown.
type AdDisplayOptions map[string]interface{}

// Advertisement is one ad returned by the ad kit.
type Advertisement map[string]interface{}

// AdLoadListener receives the outcome of a single-slot load.
type AdLoadListener struct {
	OnAdLoadFailure func(code int, message string)
	OnAdLoadSuccess func(ads []Advertisement)
}

// MultiSlotsAdLoadListener receives the outcome of a multi-slot load or of
// parsing an ad response, keyed by slot id.
type MultiSlotsAdLoadListener struct {
	OnAdLoadFailure func(code int, message string)
	OnAdLoadSuccess func(adsMap map[string][]Advertisement)
}

// NativeLoadCallback is how a NativeSDK reports a load. Success carries the
// raw JSON text of the ads.
type NativeLoadCallback struct {
	OnAdLoadSuccess func(ads string)
	OnAdLoadFailure func(code int, message string)
}

// NativeSDK is the ad kit the facade delegates to.
type NativeSDK interface {
	LoadAd(ctx context.Context, params AdRequestParams, options AdOptions, cb NativeLoadCallback) error
	LoadAdWithMultiSlots(ctx context.Context, params []AdRequestParams, options AdOptions, cb NativeLoadCallback) error
	GetAdRequestBody(ctx context.Context, params []AdRequestParams, options AdOptions) (string, error)
	ShowAd(ctx context.Context, ad Advertisement, options AdDisplayOptions) error
}

// OAIDProvider supplies the on-device advertising identifier, subject to a
// permission grant.
type OAIDProvider interface {
	RequestPermission(ctx context.Context) (granted bool, err error)
	OAID(ctx context.Context) (string, error)
}

// normalizeOptions returns a copy of options with nonPersonalizedAd set to
// an integer, NonPersonalizedUnset when absent or not integral.
func normalizeOptions(options AdOptions) AdOptions {
	out := make(AdOptions, len(options)+1)
	for k, v := range options {
		out[k] = v
	}
	out[keyNonPersonalizedAd] = nonPersonalizedValue(options[keyNonPersonalizedAd])
	return out
}

func nonPersonalizedValue(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n)
		}
	}
	return NonPersonalizedUnset
}

func copyParams(params AdRequestParams) AdRequestParams {
	out := make(AdRequestParams, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	return out
}
