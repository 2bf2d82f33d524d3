package ability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/rpc"
)

var ErrUnknownConnection = errors.New("ability: unknown connection id")

// Factory builds the remote object served for one connection.
type Factory func() rpc.RemoteObject

type localConn struct {
	element ElementName
	opts    ConnectOptions
}

// LocalConnector serves abilities registered in the same process.
type LocalConnector struct {
	log *zap.Logger

	mu        sync.Mutex
	abilities map[ElementName]Factory
	conns     map[string]localConn
	wg        sync.WaitGroup
}

// NewLocalConnector creates an empty in-process registry.
func NewLocalConnector(log *zap.Logger) *LocalConnector {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalConnector{
		log:       log.Named("ability"),
		abilities: make(map[ElementName]Factory),
		conns:     make(map[string]localConn),
	}
}

// Register makes element connectable. A later registration replaces an
// earlier one.
func (c *LocalConnector) Register(element ElementName, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abilities[element] = factory
}

// Unregister removes element.
func (c *LocalConnector) Unregister(element ElementName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.abilities, element)
}

func (c *LocalConnector) ConnectServiceExtensionAbility(ctx context.Context, want Want, opts ConnectOptions) (string, error) {
	element := want.Element()
	if element.IsZero() {
		return "", ErrInvalidWant
	}
	id := ulid.Make().String()

	c.mu.Lock()
	factory, ok := c.abilities[element]
	if ok {
		c.conns[id] = localConn{element: element, opts: opts}
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if !ok {
			c.log.Warn("ability not registered", zap.Stringer("element", element))
			opts.failed(CodeAbilityNotFound)
			return
		}
		if err := ctx.Err(); err != nil {
			c.forget(id)
			opts.failed(CodeConnectFailed)
			return
		}
		c.log.Debug("ability connected", zap.Stringer("element", element), zap.String("id", id))
		opts.connected(element, factory())
	}()
	return id, nil
}

func (c *LocalConnector) DisconnectServiceExtensionAbility(id string) error {
	conn, ok := c.forget(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	conn.opts.disconnected(conn.element)
	return nil
}

func (c *LocalConnector) forget(id string) (localConn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[id]
	delete(c.conns, id)
	return conn, ok
}

// Wait blocks until every pending connect callback has run.
func (c *LocalConnector) Wait() {
	c.wg.Wait()
}

// NetConnector reaches abilities served over the network by rpc.Server,
// resolving element names through an endpoint directory.
type NetConnector struct {
	endpoints map[ElementName]string
	cfg       rpc.Config
	log       *zap.Logger

	mu    sync.Mutex
	conns map[string]*rpc.Conn
	dials map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// NewNetConnector creates a connector over endpoints, which map element
// names to addresses accepted by rpc.DialEndpoint.
func NewNetConnector(endpoints map[ElementName]string, cfg rpc.Config) *NetConnector {
	copied := make(map[ElementName]string, len(endpoints))
	for k, v := range endpoints {
		copied[k] = v
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &NetConnector{
		endpoints: copied,
		cfg:       cfg,
		log:       log.Named("ability"),
		conns:     make(map[string]*rpc.Conn),
		dials:     make(map[string]context.CancelFunc),
	}
}

func (c *NetConnector) ConnectServiceExtensionAbility(ctx context.Context, want Want, opts ConnectOptions) (string, error) {
	element := want.Element()
	if element.IsZero() {
		return "", ErrInvalidWant
	}
	id := ulid.Make().String()
	endpoint, ok := c.endpoints[element]

	dialCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.dials[id] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		if !ok {
			c.endDial(id)
			c.log.Warn("no endpoint for ability", zap.Stringer("element", element))
			opts.failed(CodeAbilityNotFound)
			return
		}
		conn, err := rpc.DialEndpoint(dialCtx, endpoint, c.cfg)
		if err != nil {
			c.endDial(id)
			c.log.Error("connect ability failed",
				zap.Stringer("element", element),
				zap.String("endpoint", endpoint),
				zap.Error(err))
			opts.failed(CodeConnectFailed)
			return
		}
		c.mu.Lock()
		delete(c.dials, id)
		if dialCtx.Err() != nil {
			// disconnected while dialing
			c.mu.Unlock()
			conn.Close()
			opts.failed(CodeConnectFailed)
			return
		}
		c.conns[id] = conn
		c.mu.Unlock()
		conn.OnClose(func(error) {
			c.mu.Lock()
			delete(c.conns, id)
			c.mu.Unlock()
			opts.disconnected(element)
		})
		c.log.Debug("ability connected", zap.Stringer("element", element), zap.String("id", id))
		opts.connected(element, conn.Root())
	}()
	return id, nil
}

// DisconnectServiceExtensionAbility closes an open connection or abandons
// one still being dialed.
func (c *NetConnector) DisconnectServiceExtensionAbility(id string) error {
	c.mu.Lock()
	conn, ok := c.conns[id]
	cancel, dialing := c.dials[id]
	c.mu.Unlock()
	switch {
	case ok:
		return conn.Close()
	case dialing:
		cancel()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
}

func (c *NetConnector) endDial(id string) {
	c.mu.Lock()
	delete(c.dials, id)
	c.mu.Unlock()
}

// Close drops every open connection and waits for pending connects.
func (c *NetConnector) Close() error {
	c.wg.Wait()
	c.mu.Lock()
	conns := make([]*rpc.Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
