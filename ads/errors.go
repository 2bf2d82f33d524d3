package ads

import "github.com/machinefabric/adsbridge-go/bridge"

// BusinessError is the error returned synchronously by facade operations.
type BusinessError = bridge.BusinessError

const (
	CodeSuccess            = bridge.CodeSuccess
	CodeParamError         = bridge.CodeParamError
	CodeDeviceNotSupported = bridge.CodeDeviceNotSupported
	CodeInternalError      = bridge.CodeInternalError
	CodeRequestFail        = bridge.CodeRequestFail
	CodeParseResponseError = bridge.CodeParseResponseError
)

const msgConnectKitFailed = "connect ad kit fail"

// ErrParam reports an invalid input parameter.
func ErrParam(msg string) *BusinessError {
	return bridge.ErrParam(msg)
}

// ErrInternal reports a failure inside the facade or its collaborators.
func ErrInternal() *BusinessError {
	return bridge.ErrInternal()
}
