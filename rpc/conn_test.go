package rpc

import (
	"context"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/adsbridge-go/bifaci"
)

const (
	codeEcho     = 1
	codeCallback = 2
	codeReject   = 3
)

// echoRoot replies with the first string it receives. On codeCallback it
// calls the object passed after the string, then replies.
func echoRoot(t *testing.T) *Stub {
	return NewStub("com.example.Echo", HandlerFunc(func(code uint32, data, reply *MessageSequence, option MessageOption) bool {
		switch code {
		case codeEcho:
			s, err := data.ReadString()
			if err != nil {
				return false
			}
			return reply.WriteString(s) == nil
		case codeCallback:
			s, err := data.ReadString()
			if err != nil {
				return false
			}
			cb, err := data.ReadRemoteObject()
			if err != nil {
				return false
			}
			req := NewMessageSequence()
			defer req.Reclaim()
			cbReply := NewMessageSequence()
			defer cbReply.Reclaim()
			if err := req.WriteString(strings.ToUpper(s)); err != nil {
				return false
			}
			if err := cb.SendMessageRequest(context.Background(), 9, req, cbReply, MessageOption{}); err != nil {
				t.Logf("callback failed: %v", err)
				return false
			}
			ack, err := cbReply.ReadString()
			if err != nil {
				return false
			}
			return reply.WriteString(ack) == nil
		}
		return false
	}), nil)
}

func newConnPair(t *testing.T, root RemoteObject, cfg Config) (client, server *Conn) {
	t.Helper()
	a, b := net.Pipe()

	type result struct {
		conn *Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := NewServerConn(NewStreamTransport(b), root, cfg)
		done <- result{c, err}
	}()

	client, err := NewClientConn(NewStreamTransport(a), cfg)
	require.NoError(t, err)
	r := <-done
	require.NoError(t, r.err)
	t.Cleanup(func() {
		client.Close()
		r.conn.Close()
		client.Wait()
		r.conn.Wait()
	})
	return client, r.conn
}

func callString(t *testing.T, obj RemoteObject, code uint32, s string) (string, error) {
	t.Helper()
	data := NewMessageSequence()
	defer data.Reclaim()
	reply := NewMessageSequence()
	defer reply.Reclaim()
	require.NoError(t, data.WriteString(s))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obj.SendMessageRequest(ctx, code, data, reply, MessageOption{}); err != nil {
		return "", err
	}
	return reply.ReadString()
}

// TEST120: a request reaches the peer's root object and the reply comes back
func Test120_conn_root_request(t *testing.T) {
	client, _ := newConnPair(t, echoRoot(t), Config{})

	root := client.Root()
	assert.Equal(t, "com.example.Echo", root.Descriptor())
	got, err := callString(t, root, codeEcho, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

// TEST121: bodies larger than max_chunk are chunked and reassembled both ways
func Test121_conn_chunked_bodies(t *testing.T) {
	cfg := Config{Limits: bifaci.Limits{MaxFrame: 4096, MaxChunk: 256}}
	client, _ := newConnPair(t, echoRoot(t), cfg)
	assert.Equal(t, 256, client.Limits().MaxChunk)

	big := strings.Repeat("0123456789abcdef", 4096)
	got, err := callString(t, client.Root(), codeEcho, big)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

// TEST122: a remote object passed in a request can be called back by the peer
func Test122_conn_callback_object(t *testing.T) {
	client, server := newConnPair(t, echoRoot(t), Config{})

	received := make(chan string, 1)
	callback := NewStub("com.example.Callback", HandlerFunc(func(code uint32, data, reply *MessageSequence, _ MessageOption) bool {
		assert.EqualValues(t, 9, code)
		s, _ := data.ReadString()
		received <- s
		return reply.WriteString("ack:"+s) == nil
	}), nil)

	data := NewMessageSequence()
	require.NoError(t, data.WriteString("ping"))
	require.NoError(t, data.WriteRemoteObject(callback))
	reply := NewMessageSequence()
	require.NoError(t, client.Root().SendMessageRequest(context.Background(), codeCallback, data, reply, MessageOption{}))

	ack, err := reply.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "ack:PING", ack)
	assert.Equal(t, "PING", <-received)

	assert.Equal(t, 1, client.Exported())
	assert.Equal(t, 1, server.Exported())
}

// TEST123: exporting the same object twice reuses its handle
func Test123_conn_export_reuses_handle(t *testing.T) {
	client, _ := newConnPair(t, echoRoot(t), Config{})
	stub := NewStub("x", HandlerFunc(func(uint32, *MessageSequence, *MessageSequence, MessageOption) bool { return true }), nil)

	first, err := client.exportObject(stub)
	require.NoError(t, err)
	second, err := client.exportObject(stub)
	require.NoError(t, err)
	assert.Equal(t, first.handle, second.handle)
	assert.False(t, first.yours)

	ref, err := client.exportObject(client.Root())
	require.NoError(t, err)
	assert.True(t, ref.yours)
	assert.EqualValues(t, bifaci.RootHandle, ref.handle)
}

// TEST124: a handler rejection arrives as ErrRequestRejected
func Test124_conn_rejection(t *testing.T) {
	client, _ := newConnPair(t, echoRoot(t), Config{})
	_, err := callString(t, client.Root(), codeReject, "x")
	assert.ErrorIs(t, err, ErrRequestRejected)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "REJECTED", remoteErr.Code)
}

// TEST125: calls on a closed connection fail with ErrClosed and hooks run
func Test125_conn_close(t *testing.T) {
	client, server := newConnPair(t, echoRoot(t), Config{})

	closed := make(chan error, 1)
	server.OnClose(func(err error) { closed <- err })

	require.NoError(t, client.Close())
	_, err := callString(t, client.Root(), codeEcho, "late")
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server never noticed the close")
	}
	<-server.Done()
}

// TEST126: an async request returns without a reply and still runs
func Test126_conn_async_request(t *testing.T) {
	got := make(chan string, 1)
	root := NewStub("x", HandlerFunc(func(_ uint32, data, _ *MessageSequence, _ MessageOption) bool {
		s, _ := data.ReadString()
		got <- s
		return true
	}), nil)
	client, _ := newConnPair(t, root, Config{})

	data := NewMessageSequence()
	require.NoError(t, data.WriteString("fire"))
	require.NoError(t, client.Root().SendMessageRequest(context.Background(), 1, data, nil, MessageOption{Async: true}))

	select {
	case s := <-got:
		assert.Equal(t, "fire", s)
	case <-time.After(2 * time.Second):
		t.Fatal("async request never arrived")
	}
}

// TEST127: released proxies drop the peer's export and refuse further calls
func Test127_conn_release(t *testing.T) {
	var captured RemoteObject
	root := NewStub("x", HandlerFunc(func(_ uint32, data, _ *MessageSequence, _ MessageOption) bool {
		obj, err := data.ReadRemoteObject()
		captured = obj
		return err == nil
	}), nil)
	client, _ := newConnPair(t, root, Config{})
	cb := NewStub("cb", HandlerFunc(func(uint32, *MessageSequence, *MessageSequence, MessageOption) bool { return true }), nil)

	data := NewMessageSequence()
	require.NoError(t, data.WriteRemoteObject(cb))
	require.NoError(t, client.Root().SendMessageRequest(context.Background(), 1, data, NewMessageSequence(), MessageOption{}))
	require.NotNil(t, captured)
	assert.Equal(t, 1, client.Exported())

	require.NoError(t, Release(captured))
	assert.Eventually(t, func() bool { return client.Exported() == 0 }, 2*time.Second, 10*time.Millisecond)

	err := captured.SendMessageRequest(context.Background(), 1, NewMessageSequence(), nil, MessageOption{})
	assert.ErrorIs(t, err, ErrUnknownObject)
}

// TEST128: the context bounds how long a caller waits for a reply
func Test128_conn_context_deadline(t *testing.T) {
	unblock := make(chan struct{})
	root := NewStub("x", HandlerFunc(func(uint32, *MessageSequence, *MessageSequence, MessageOption) bool {
		<-unblock
		return true
	}), nil)
	client, _ := newConnPair(t, root, Config{})
	defer close(unblock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Root().SendMessageRequest(ctx, 1, NewMessageSequence(), NewMessageSequence(), MessageOption{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TEST129: the same protocol runs over a WebSocket
func Test129_websocket_server(t *testing.T) {
	srv := NewServer(echoRoot(t), Config{})
	hs := httptest.NewServer(srv)
	defer hs.Close()
	defer srv.Close()

	conn, err := DialEndpoint(context.Background(), "ws"+strings.TrimPrefix(hs.URL, "http"), Config{})
	require.NoError(t, err)
	defer conn.Close()

	got, err := callString(t, conn.Root(), codeEcho, "over websocket")
	require.NoError(t, err)
	assert.Equal(t, "over websocket", got)
	assert.Eventually(t, func() bool { return srv.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// TEST130: a TCP listener serves stream connections
func Test130_tcp_server(t *testing.T) {
	srv := NewServer(echoRoot(t), Config{})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(l) }()

	conn, err := DialEndpoint(context.Background(), "tcp://"+l.Addr().String(), Config{})
	require.NoError(t, err)
	got, err := callString(t, conn.Root(), codeEcho, "over tcp")
	require.NoError(t, err)
	assert.Equal(t, "over tcp", got)

	conn.Close()
	require.NoError(t, srv.Close())
	assert.NoError(t, <-serveDone)
}

func TestParseEndpoint(t *testing.T) {
	scheme, addr, _, err := parseEndpoint("unix:///tmp/ads.sock")
	require.NoError(t, err)
	assert.Equal(t, "unix", scheme)
	assert.Equal(t, "/tmp/ads.sock", addr)

	scheme, addr, path, err := parseEndpoint("ws://127.0.0.1:9000/ads")
	require.NoError(t, err)
	assert.Equal(t, "ws", scheme)
	assert.Equal(t, "127.0.0.1:9000", addr)
	assert.Equal(t, "/ads", path)

	_, _, _, err = parseEndpoint("ftp://x")
	assert.Error(t, err)
	_, _, _, err = parseEndpoint("tcp://")
	assert.Error(t, err)
}

// TEST131: ListenAndServe serves until cancelled and binds nothing when an endpoint fails
func Test131_listen_and_serve(t *testing.T) {
	dir := t.TempDir()
	good := "unix://" + filepath.Join(dir, "ok.sock")
	bad := "unix://" + filepath.Join(dir, "missing", "bad.sock")

	err := NewServer(echoRoot(t), Config{}).ListenAndServe(context.Background(), []string{good, bad})
	require.Error(t, err)
	_, err = DialEndpoint(context.Background(), good, Config{})
	assert.Error(t, err, "first endpoint must not stay bound")

	srv := NewServer(echoRoot(t), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, []string{good}) }()

	var conn *Conn
	require.Eventually(t, func() bool {
		conn, err = DialEndpoint(context.Background(), good, Config{})
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	got, err := callString(t, conn.Root(), codeEcho, "over unix")
	require.NoError(t, err)
	assert.Equal(t, "over unix", got)
	conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
