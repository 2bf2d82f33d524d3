package ads

import (
	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/bridge"
)

// WebController is the part of a web view that exposes native objects to
// page scripts.
type WebController interface {
	RegisterJavaScriptProxy(obj interface{}, name string, methods []string) error
	DeleteJavaScriptRegister(name string) error
	Refresh() error
}

// RegisterWebAdInterface exposes the ads JS bridge to pages loaded in the
// controller's web view and reloads the page so scripts can see it.
func (a *Advertising) RegisterWebAdInterface(controller WebController) error {
	return RegisterWebAdInterface(controller, a.dispatcher, a.log)
}

// DeleteWebAdInterface removes the ads JS bridge from the controller's web
// view.
func (a *Advertising) DeleteWebAdInterface(controller WebController) error {
	return DeleteWebAdInterface(controller, a.log)
}

// RegisterWebAdInterface registers a JsBridge backed by dispatcher under
// the name page scripts use.
func RegisterWebAdInterface(controller WebController, dispatcher *bridge.Dispatcher, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("registerWebAdInterface enter")
	if controller == nil || dispatcher == nil {
		log.Error("parameter controller or context is null")
		return ErrParam("Invalid input parameter, controller or context is null.")
	}
	jsBridge := bridge.NewJsBridge(dispatcher, log)
	if err := controller.RegisterJavaScriptProxy(jsBridge, bridge.ExposedName, jsBridge.Methods()); err != nil {
		log.Error("registerWebAdInterface error", zap.Error(err))
		return ErrInternal()
	}
	if err := controller.Refresh(); err != nil {
		log.Error("registerWebAdInterface error", zap.Error(err))
		return ErrInternal()
	}
	return nil
}

// DeleteWebAdInterface unregisters the JS bridge and refreshes the page.
func DeleteWebAdInterface(controller WebController, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("deleteWebAdInterface enter")
	if controller == nil {
		log.Error("parameter controller is null")
		return ErrParam("Invalid input parameter, controller is null.")
	}
	if err := controller.DeleteJavaScriptRegister(bridge.ExposedName); err != nil {
		log.Error("deleteWebAdInterface error", zap.Error(err))
		return ErrInternal()
	}
	if err := controller.Refresh(); err != nil {
		log.Error("deleteWebAdInterface error", zap.Error(err))
		return ErrInternal()
	}
	return nil
}
