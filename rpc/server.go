package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server exports one root object to every connection it accepts, over
// stream listeners and WebSocket upgrades alike.
type Server struct {
	root     RemoteObject
	cfg      Config
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[string]*Conn
	listeners []net.Listener
	closed    bool
	wg        sync.WaitGroup
}

// NewServer creates a server for root.
func NewServer(root RemoteObject, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		root: root,
		cfg:  cfg,
		log:  cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Limits.MaxChunk,
			WriteBufferSize: cfg.Limits.MaxChunk,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

// Serve accepts stream connections on l until l fails or the server closes.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	for {
		nc, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.accept(NewStreamTransport(nc), nc.RemoteAddr().String())
		}()
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.accept(NewWebSocketTransport(ws), r.RemoteAddr)
}

func (s *Server) accept(transport Transport, remote string) {
	id := ulid.Make().String()
	log := s.log.With(zap.String("conn", id), zap.String("remote", remote))
	cfg := s.cfg
	cfg.Logger = log

	conn, err := NewServerConn(transport, s.root, cfg)
	if err != nil {
		log.Warn("handshake failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[id] = conn
	s.mu.Unlock()
	log.Debug("connection accepted", zap.Int("max_frame", conn.Limits().MaxFrame), zap.Int("max_chunk", conn.Limits().MaxChunk))

	conn.Wait()

	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	log.Debug("connection closed", zap.Error(conn.Err()))
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops every listener and connection and waits for their handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

// ListenAndServe serves every endpoint until ctx is cancelled or one of
// them fails. Endpoints use the forms accepted by DialEndpoint; ws:// binds
// an HTTP server whose URL path serves the upgrade.
func (s *Server) ListenAndServe(ctx context.Context, endpoints []string) error {
	type binding struct {
		endpoint string
		l        net.Listener
		http     *http.Server
	}
	var bound []binding
	release := func() {
		for _, b := range bound {
			b.l.Close()
		}
	}

	// Bind everything before serving anything so a bad endpoint leaves
	// nothing running.
	for _, endpoint := range endpoints {
		scheme, addr, path, err := parseEndpoint(endpoint)
		if err != nil {
			release()
			return err
		}
		b := binding{endpoint: endpoint}
		switch scheme {
		case "unix", "tcp":
			b.l, err = net.Listen(scheme, addr)
		case "ws":
			if path == "" {
				path = "/"
			}
			mux := http.NewServeMux()
			mux.Handle(path, s)
			b.http = &http.Server{Handler: mux}
			b.l, err = net.Listen("tcp", addr)
		default:
			err = fmt.Errorf("cannot listen on %s endpoint", scheme)
		}
		if err != nil {
			release()
			return fmt.Errorf("listen %s: %w", endpoint, err)
		}
		bound = append(bound, b)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bound {
		b := b
		s.log.Info("listening", zap.String("endpoint", b.endpoint))
		if b.http == nil {
			g.Go(func() error { return s.Serve(b.l) })
			continue
		}
		g.Go(func() error {
			if err := b.http.Serve(b.l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		for _, b := range bound {
			if b.http != nil {
				b.http.Close()
			}
		}
		return s.Close()
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Dial connects to a stream endpoint such as "tcp" or "unix".
func Dial(ctx context.Context, network, addr string, cfg Config) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewClientConn(NewStreamTransport(nc), cfg)
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, rawURL string, cfg Config) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return NewClientConn(NewWebSocketTransport(ws), cfg)
}

// DialEndpoint dials "unix:///path", "tcp://host:port", "ws://host:port/path"
// or "wss://...".
func DialEndpoint(ctx context.Context, endpoint string, cfg Config) (*Conn, error) {
	scheme, addr, _, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "unix", "tcp":
		return Dial(ctx, scheme, addr, cfg)
	case "ws", "wss":
		return DialWebSocket(ctx, endpoint, cfg)
	}
	return nil, fmt.Errorf("unsupported endpoint scheme %q", scheme)
}

func parseEndpoint(endpoint string) (scheme, addr, path string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	scheme = strings.ToLower(u.Scheme)
	switch scheme {
	case "unix":
		addr = u.Path
		if addr == "" {
			addr = u.Opaque
		}
	case "tcp", "ws", "wss":
		addr = u.Host
		path = u.Path
	default:
		return "", "", "", fmt.Errorf("invalid endpoint %q: unknown scheme", endpoint)
	}
	if addr == "" {
		return "", "", "", fmt.Errorf("invalid endpoint %q: missing address", endpoint)
	}
	return scheme, addr, path, nil
}
