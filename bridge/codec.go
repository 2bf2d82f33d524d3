package bridge

import (
	"fmt"

	"github.com/machinefabric/adsbridge-go/rpc"
)

const (
	// CallbackDescriptor is the interface descriptor of callback objects.
	CallbackDescriptor = "com.ohos.AdsJsClientRpcObj"

	CodeBridgeCall    uint32 = 1
	CodeParseResponse uint32 = 2
)

// BridgeCall is a decoded bridge call as the remote ability sees it.
type BridgeCall struct {
	Token    string
	Callback rpc.RemoteObject
	Method   string
	Arg      string
}

// ParseRequest is a decoded parse-response call as the remote ability sees it.
type ParseRequest struct {
	Token    string
	Listener rpc.RemoteObject
	Payload  string
}

// EncodeBridgeCall builds the request for a bridge call: the remote's own
// descriptor as interface token, the callback object, the method name and
// the chunked argument.
func EncodeBridgeCall(token string, callback rpc.RemoteObject, method string, argChunks []string) (*rpc.MessageSequence, error) {
	return build(func(m *rpc.MessageSequence) error {
		if err := m.WriteInterfaceToken(token); err != nil {
			return err
		}
		if err := m.WriteRemoteObject(callback); err != nil {
			return err
		}
		if err := m.WriteString(method); err != nil {
			return err
		}
		return m.WriteStringArray(argChunks)
	})
}

// EncodeParseResponseCall builds the request asking the remote to parse an
// ad response: token, listener-bound callback object, chunked response.
func EncodeParseResponseCall(token string, listener rpc.RemoteObject, chunks []string) (*rpc.MessageSequence, error) {
	return build(func(m *rpc.MessageSequence) error {
		if err := m.WriteInterfaceToken(token); err != nil {
			return err
		}
		if err := m.WriteRemoteObject(listener); err != nil {
			return err
		}
		return m.WriteStringArray(chunks)
	})
}

// EncodeBridgeMessage builds the message a remote sends to a bridge
// callback object.
func EncodeBridgeMessage(chunks []string) (*rpc.MessageSequence, error) {
	return build(func(m *rpc.MessageSequence) error {
		return m.WriteStringArray(chunks)
	})
}

// EncodeParseResponseMessage builds the message a remote sends to a
// parse-response callback object.
func EncodeParseResponseMessage(code int32, payload string) (*rpc.MessageSequence, error) {
	return build(func(m *rpc.MessageSequence) error {
		if err := m.WriteInt(code); err != nil {
			return err
		}
		return m.WriteString(payload)
	})
}

// build reclaims the sequence if writing fails part way.
func build(write func(m *rpc.MessageSequence) error) (*rpc.MessageSequence, error) {
	m := rpc.NewMessageSequence()
	if err := write(m); err != nil {
		m.Reclaim()
		return nil, fmt.Errorf("bridge: encode message: %w", err)
	}
	return m, nil
}

// DecodeBridgeMessage reads the chunked string a bridge callback receives.
func DecodeBridgeMessage(m *rpc.MessageSequence) (string, error) {
	chunks, err := m.ReadStringArray()
	if err != nil {
		return "", err
	}
	return Reassemble(chunks), nil
}

// DecodeParseResponseMessage reads the response code and payload a
// parse-response callback receives.
func DecodeParseResponseMessage(m *rpc.MessageSequence) (int32, string, error) {
	code, err := m.ReadInt()
	if err != nil {
		return 0, "", err
	}
	payload, err := m.ReadString()
	if err != nil {
		return 0, "", err
	}
	return code, payload, nil
}

// DecodeBridgeCall is the inverse of EncodeBridgeCall.
func DecodeBridgeCall(m *rpc.MessageSequence) (BridgeCall, error) {
	var call BridgeCall
	var err error
	if call.Token, err = m.ReadInterfaceToken(); err != nil {
		return call, err
	}
	if call.Callback, err = m.ReadRemoteObject(); err != nil {
		return call, err
	}
	if call.Method, err = m.ReadString(); err != nil {
		return call, err
	}
	chunks, err := m.ReadStringArray()
	if err != nil {
		return call, err
	}
	call.Arg = Reassemble(chunks)
	return call, nil
}

// DecodeParseRequest is the inverse of EncodeParseResponseCall.
func DecodeParseRequest(m *rpc.MessageSequence) (ParseRequest, error) {
	var req ParseRequest
	var err error
	if req.Token, err = m.ReadInterfaceToken(); err != nil {
		return req, err
	}
	if req.Listener, err = m.ReadRemoteObject(); err != nil {
		return req, err
	}
	chunks, err := m.ReadStringArray()
	if err != nil {
		return req, err
	}
	req.Payload = Reassemble(chunks)
	return req, nil
}
