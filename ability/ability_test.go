package ability

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/machinefabric/adsbridge-go/rpc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testElement = ElementName{BundleName: "com.example.ads", AbilityName: "JsBridgeAbility"}

func echoStub() *rpc.Stub {
	return rpc.NewStub("com.example.Echo", rpc.HandlerFunc(func(_ uint32, data, reply *rpc.MessageSequence, _ rpc.MessageOption) bool {
		s, err := data.ReadString()
		if err != nil {
			return false
		}
		return reply.WriteString(s) == nil
	}), nil)
}

func callEcho(t *testing.T, remote rpc.RemoteObject, s string) string {
	t.Helper()
	data := rpc.NewMessageSequence()
	reply := rpc.NewMessageSequence()
	require.NoError(t, data.WriteString(s))
	require.NoError(t, remote.SendMessageRequest(context.Background(), 1, data, reply, rpc.MessageOption{}))
	got, err := reply.ReadString()
	require.NoError(t, err)
	return got
}

func TestLocalConnectorConnects(t *testing.T) {
	c := NewLocalConnector(nil)
	c.Register(testElement, func() rpc.RemoteObject { return echoStub() })

	want := Want{BundleName: testElement.BundleName, AbilityName: testElement.AbilityName}
	pending := NewPending(want)
	id, err := c.ConnectServiceExtensionAbility(context.Background(), want, pending.Options())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	remote, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo", callEcho(t, remote, "echo"))

	require.NoError(t, c.DisconnectServiceExtensionAbility(id))
	assert.ErrorIs(t, c.DisconnectServiceExtensionAbility(id), ErrUnknownConnection)
	c.Wait()
}

func TestLocalConnectorUnknownAbility(t *testing.T) {
	c := NewLocalConnector(nil)
	want := Want{BundleName: "com.example.ads", AbilityName: "Missing"}
	pending := NewPending(want)
	_, err := c.ConnectServiceExtensionAbility(context.Background(), want, pending.Options())
	require.NoError(t, err)

	_, err = pending.Wait(context.Background())
	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, CodeAbilityNotFound, connectErr.Code)
	assert.Equal(t, want.Element(), connectErr.Element)
	c.Wait()
}

func TestConnectRejectsIncompleteWant(t *testing.T) {
	c := NewLocalConnector(nil)
	_, err := c.ConnectServiceExtensionAbility(context.Background(), Want{BundleName: "b"}, ConnectOptions{})
	assert.ErrorIs(t, err, ErrInvalidWant)
}

func TestPendingResolvesOnce(t *testing.T) {
	pending := NewPending(Want{BundleName: "b", AbilityName: "a"})
	opts := pending.Options()
	stub := echoStub()
	opts.OnConnect(testElement, stub)
	opts.OnFailed(CodeConnectFailed)
	opts.OnDisconnect(testElement)

	remote, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, stub, remote)
}

func TestPendingWaitHonorsContext(t *testing.T) {
	pending := NewPending(Want{BundleName: "b", AbilityName: "a"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pending.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNetConnector(t *testing.T) {
	srv := rpc.NewServer(echoStub(), rpc.Config{})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	defer srv.Close()

	c := NewNetConnector(map[ElementName]string{testElement: "tcp://" + l.Addr().String()}, rpc.Config{})
	defer c.Close()

	want := Want{BundleName: testElement.BundleName, AbilityName: testElement.AbilityName}
	disconnected := make(chan ElementName, 1)
	pending := NewPending(want)
	opts := pending.Options()
	opts.OnDisconnect = func(e ElementName) { disconnected <- e }

	id, err := c.ConnectServiceExtensionAbility(context.Background(), want, opts)
	require.NoError(t, err)
	remote, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.example.Echo", remote.Descriptor())
	assert.Equal(t, "over the net", callEcho(t, remote, "over the net"))

	require.NoError(t, c.DisconnectServiceExtensionAbility(id))
	select {
	case e := <-disconnected:
		assert.Equal(t, testElement, e)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never reported")
	}
}

func TestNetConnectorDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := NewNetConnector(map[ElementName]string{testElement: "tcp://" + addr}, rpc.Config{})
	defer c.Close()
	want := Want{BundleName: testElement.BundleName, AbilityName: testElement.AbilityName}
	pending := NewPending(want)
	_, err = c.ConnectServiceExtensionAbility(context.Background(), want, pending.Options())
	require.NoError(t, err)

	_, err = pending.Wait(context.Background())
	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, CodeConnectFailed, connectErr.Code)
}

func TestParseElementName(t *testing.T) {
	e, err := ParseElementName("com.example.ads/AdsAbility")
	require.NoError(t, err)
	assert.Equal(t, ElementName{BundleName: "com.example.ads", AbilityName: "AdsAbility"}, e)
	assert.Equal(t, "com.example.ads/AdsAbility", e.String())

	for _, bad := range []string{"", "noslash", "/ability", "bundle/"} {
		_, err := ParseElementName(bad)
		assert.Error(t, err, bad)
	}
}
