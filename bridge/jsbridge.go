package bridge

import (
	"go.uber.org/zap"
)

const (
	// ExposedName is the name the bridge is registered under in a web view.
	ExposedName = "_OHAdsJsBridge"
	// MethodInvokeAsync is the one method web pages may call.
	MethodInvokeAsync = "invokeAsync"
)

// JsBridge is the object registered with a web view. Web pages call
// InvokeAsync with loosely typed values.
type JsBridge struct {
	dispatcher *Dispatcher
	log        *zap.Logger
}

// NewJsBridge creates the web-facing bridge over d.
func NewJsBridge(d *Dispatcher, log *zap.Logger) *JsBridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &JsBridge{dispatcher: d, log: log.Named("advertising")}
}

// Methods lists the methods exposed to web pages.
func (b *JsBridge) Methods() []string {
	return []string{MethodInvokeAsync}
}

// InvokeAsync forwards a call from a web page. A missing or mistyped
// method, arg or callback is logged and ignored. callback may be a
// func(string), a func(string, bool) or a Callback; the func(string) form
// receives "" when the call cannot be routed.
func (b *JsBridge) InvokeAsync(method, arg, callback interface{}) error {
	b.log.Info("invokeAsync enter")
	m, mOK := method.(string)
	a, aOK := arg.(string)
	cb := asCallback(callback)
	if !mOK || !aOK || cb == nil {
		b.log.Error("invokeAsync parameter error")
		return nil
	}
	return b.dispatcher.Invoke(m, a, cb)
}

func asCallback(v interface{}) Callback {
	switch fn := v.(type) {
	case Callback:
		return fn
	case func(string, bool):
		return fn
	case func(string):
		if fn == nil {
			return nil
		}
		return func(data string, _ bool) { fn(data) }
	}
	return nil
}
