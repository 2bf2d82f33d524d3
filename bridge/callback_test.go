package bridge

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/adsbridge-go/rpc"
)

type listenerRecorder struct {
	successes []map[string]interface{}
	failures  []failureCall
}

type failureCall struct {
	code    int
	message string
}

func (r *listenerRecorder) listener() ParseResponseListener {
	return ParseResponseListener{
		OnSuccess: func(result map[string]interface{}) { r.successes = append(r.successes, result) },
		OnFailure: func(code int, message string) { r.failures = append(r.failures, failureCall{code, message}) },
	}
}

func sendParseResponse(t *testing.T, obj rpc.RemoteObject, code uint32, respCode int32, payload string) error {
	t.Helper()
	msg, err := EncodeParseResponseMessage(respCode, payload)
	require.NoError(t, err)
	defer msg.Reclaim()
	return obj.SendMessageRequest(context.Background(), code, msg, rpc.NewMessageSequence(), rpc.MessageOption{})
}

// TEST210: response codes dispatch to exactly one listener method
func Test210_parse_response_dispatch(t *testing.T) {
	tests := []struct {
		name      string
		respCode  int32
		payload   string
		successes []map[string]interface{}
		failures  []failureCall
	}{
		{
			name:      "success",
			respCode:  200,
			payload:   `{"a":"1"}`,
			successes: []map[string]interface{}{{"a": "1"}},
		},
		{
			name:     "device not supported",
			respCode: 801,
			payload:  "ignored",
			failures: []failureCall{{801, "Device not supported"}},
		},
		{
			name:     "parse error",
			respCode: 21800005,
			payload:  "ignored",
			failures: []failureCall{{21800005, MsgParseResponseError}},
		},
		{
			name:     "other code passes payload through",
			respCode: 500,
			payload:  "oops",
			failures: []failureCall{{500, "oops"}},
		},
		{
			name:     "success with malformed json",
			respCode: 200,
			payload:  "{not json",
			failures: []failureCall{{21800005, MsgParseResponseError}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &listenerRecorder{}
			obj := NewParseResponseCallback(rec.listener(), nil)
			require.NoError(t, sendParseResponse(t, obj, CodeParseResponse, tt.respCode, tt.payload))

			assert.Empty(t, cmp.Diff(tt.successes, rec.successes))
			assert.Empty(t, cmp.Diff(tt.failures, rec.failures, cmp.AllowUnexported(failureCall{})))
			assert.Equal(t, StateDispatched, obj.State())
		})
	}
}

// TEST211: a mismatched dispatch code rejects the object without calling the handler
func Test211_code_mismatch_rejected(t *testing.T) {
	rec := &listenerRecorder{}
	obj := NewParseResponseCallback(rec.listener(), nil)
	err := sendParseResponse(t, obj, CodeBridgeCall, 200, `{}`)
	assert.ErrorIs(t, err, rpc.ErrRequestRejected)
	assert.Empty(t, rec.successes)
	assert.Empty(t, rec.failures)
	assert.Equal(t, StateRejected, obj.State())
	select {
	case <-obj.Done():
	default:
		t.Fatal("done not closed after rejection")
	}

	// terminal: a later well-formed message is refused too
	err = sendParseResponse(t, obj, CodeParseResponse, 200, `{}`)
	assert.ErrorIs(t, err, rpc.ErrRequestRejected)
	assert.Empty(t, rec.successes)
	assert.False(t, obj.Fail(CodeInternalError, MsgInternalError))
	assert.Empty(t, rec.failures)

	called := false
	bridgeObj := NewBridgeCallback(func(string) { called = true }, nil)
	msg, err := EncodeBridgeMessage([]string{"x"})
	require.NoError(t, err)
	err = bridgeObj.SendMessageRequest(context.Background(), CodeParseResponse, msg, nil, rpc.MessageOption{})
	assert.ErrorIs(t, err, rpc.ErrRequestRejected)
	assert.False(t, called)
	assert.Equal(t, StateRejected, bridgeObj.State())
}

// TEST212: the bridge variant reassembles chunks and calls back once
func Test212_bridge_callback(t *testing.T) {
	var got []string
	obj := NewBridgeCallback(func(data string) { got = append(got, data) }, nil)
	assert.Equal(t, CallbackDescriptor, obj.Descriptor())
	assert.Equal(t, KindBridge, obj.Kind())

	msg, err := EncodeBridgeMessage(Chunk("hello world", 3))
	require.NoError(t, err)
	require.NoError(t, obj.SendMessageRequest(context.Background(), CodeBridgeCall, msg, nil, rpc.MessageOption{}))
	assert.Equal(t, []string{"hello world"}, got)
	select {
	case <-obj.Done():
	default:
		t.Fatal("done not closed after dispatch")
	}

	again, err := EncodeBridgeMessage([]string{"second"})
	require.NoError(t, err)
	err = obj.SendMessageRequest(context.Background(), CodeBridgeCall, again, nil, rpc.MessageOption{})
	assert.ErrorIs(t, err, rpc.ErrRequestRejected)
	assert.Equal(t, []string{"hello world"}, got)
}

// TEST213: an undecodable message is rejected and logged, never panics
func Test213_malformed_message_rejected(t *testing.T) {
	called := false
	obj := NewBridgeCallback(func(string) { called = true }, nil)
	msg := rpc.NewMessageSequence()
	require.NoError(t, msg.WriteInt(1))
	err := obj.SendMessageRequest(context.Background(), CodeBridgeCall, msg, nil, rpc.MessageOption{})
	assert.ErrorIs(t, err, rpc.ErrRequestRejected)
	assert.False(t, called)
	assert.Equal(t, StateRejected, obj.State())
}

// TEST214: Fail reaches the listener only while nothing was dispatched
func Test214_fail_after_dispatch_is_ignored(t *testing.T) {
	rec := &listenerRecorder{}
	obj := NewParseResponseCallback(rec.listener(), nil)
	require.NoError(t, sendParseResponse(t, obj, CodeParseResponse, 200, `{"k":2}`))
	assert.False(t, obj.Fail(CodeInternalError, MsgInternalError))
	assert.Empty(t, rec.failures)

	fresh := NewParseResponseCallback(rec.listener(), nil)
	assert.True(t, fresh.Fail(CodeInternalError, MsgInternalError))
	assert.Equal(t, []failureCall{{CodeInternalError, MsgInternalError}}, rec.failures)
	assert.Equal(t, StateFailed, fresh.State())
}

// TEST215: a panicking handler leaves the object rejected
func Test215_handler_panic_rejected(t *testing.T) {
	obj := NewBridgeCallback(func(string) { panic("boom") }, nil)
	msg, err := EncodeBridgeMessage([]string{"x"})
	require.NoError(t, err)
	err = obj.SendMessageRequest(context.Background(), CodeBridgeCall, msg, nil, rpc.MessageOption{})
	assert.ErrorIs(t, err, rpc.ErrRequestRejected)
	assert.Equal(t, StateRejected, obj.State())
	select {
	case <-obj.Done():
	default:
		t.Fatal("done not closed after handler panic")
	}

	parseObj := NewParseResponseCallback(ParseResponseListener{
		OnSuccess: func(map[string]interface{}) { panic("boom") },
	}, nil)
	err = sendParseResponse(t, parseObj, CodeParseResponse, 200, `{"a":"1"}`)
	assert.ErrorIs(t, err, rpc.ErrRequestRejected)
	assert.Equal(t, StateRejected, parseObj.State())
}

func TestCodecRoundTrip(t *testing.T) {
	cb := NewBridgeCallback(nil, nil)
	msg, err := EncodeBridgeCall(ServiceDescriptor, cb, "loadAd", Chunk("argument", 3))
	require.NoError(t, err)
	call, err := DecodeBridgeCall(msg)
	require.NoError(t, err)
	assert.Equal(t, ServiceDescriptor, call.Token)
	assert.Same(t, cb, call.Callback)
	assert.Equal(t, "loadAd", call.Method)
	assert.Equal(t, "argument", call.Arg)

	listener := NewParseResponseCallback(ParseResponseListener{}, nil)
	msg, err = EncodeParseResponseCall(ServiceDescriptor, listener, Chunk("resp", 2))
	require.NoError(t, err)
	req, err := DecodeParseRequest(msg)
	require.NoError(t, err)
	assert.Same(t, listener, req.Listener)
	assert.Equal(t, "resp", req.Payload)
}

func TestBusinessErrorIs(t *testing.T) {
	err := error(ErrParam("bad"))
	assert.ErrorIs(t, err, &BusinessError{Code: CodeParamError})
	assert.NotErrorIs(t, err, ErrInternal())
	assert.Equal(t, "code 401: bad", err.Error())
}
