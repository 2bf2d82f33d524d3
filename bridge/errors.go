package bridge

import "fmt"

// Result codes surfaced to callers.
const (
	CodeSuccess            = 200
	CodeParamError         = 401
	CodeDeviceNotSupported = 801
	CodeInternalError      = 21800001
	CodeRequestFail        = 21800003
	CodeParseResponseError = 21800005
)

const (
	MsgInternalError      = "System internal error."
	MsgDeviceNotSupported = "Device not supported"
	MsgParseResponseError = "Failed to parse the ad response."
)

// BusinessError is the error returned synchronously to callers.
type BusinessError struct {
	Code    int
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// Is matches any BusinessError with the same code.
func (e *BusinessError) Is(target error) bool {
	t, ok := target.(*BusinessError)
	return ok && t.Code == e.Code
}

// ErrParam reports an invalid input parameter.
func ErrParam(msg string) *BusinessError {
	return &BusinessError{Code: CodeParamError, Message: msg}
}

// ErrInternal reports a failure inside the bridge or its collaborators.
func ErrInternal() *BusinessError {
	return &BusinessError{Code: CodeInternalError, Message: MsgInternalError}
}
