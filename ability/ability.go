// Package ability connects callers to service extension abilities: remote
// objects identified by a bundle name and an ability name.
package ability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/machinefabric/adsbridge-go/rpc"
)

// Connection failure codes reported through ConnectOptions.OnFailed.
const (
	CodeAbilityNotFound = 1
	CodeConnectFailed   = 2
	CodeDisconnected    = 3
)

// ElementName identifies one ability inside a bundle.
type ElementName struct {
	BundleName  string `yaml:"bundleName" json:"bundleName"`
	AbilityName string `yaml:"abilityName" json:"abilityName"`
}

func (e ElementName) String() string {
	return e.BundleName + "/" + e.AbilityName
}

// ParseElementName parses the "bundleName/abilityName" form String returns.
func ParseElementName(s string) (ElementName, error) {
	bundle, name, ok := strings.Cut(s, "/")
	e := ElementName{BundleName: bundle, AbilityName: name}
	if !ok || e.IsZero() {
		return ElementName{}, fmt.Errorf("invalid element name %q: want bundleName/abilityName", s)
	}
	return e, nil
}

// IsZero reports whether either half of the name is missing.
func (e ElementName) IsZero() bool {
	return e.BundleName == "" || e.AbilityName == ""
}

// Want describes the ability to connect to.
type Want struct {
	BundleName  string
	AbilityName string
}

// Element returns the element name the want targets.
func (w Want) Element() ElementName {
	return ElementName{BundleName: w.BundleName, AbilityName: w.AbilityName}
}

// ConnectOptions receives the outcome of a connection. Exactly one of
// OnConnect or OnFailed is called per connection; OnDisconnect may follow
// OnConnect. Nil callbacks are skipped.
type ConnectOptions struct {
	OnConnect    func(element ElementName, remote rpc.RemoteObject)
	OnDisconnect func(element ElementName)
	OnFailed     func(code int)
}

func (o ConnectOptions) connected(element ElementName, remote rpc.RemoteObject) {
	if o.OnConnect != nil {
		o.OnConnect(element, remote)
	}
}

func (o ConnectOptions) disconnected(element ElementName) {
	if o.OnDisconnect != nil {
		o.OnDisconnect(element)
	}
}

func (o ConnectOptions) failed(code int) {
	if o.OnFailed != nil {
		o.OnFailed(code)
	}
}

// Connector opens connections to abilities. Connect returns a connection id
// at once; the outcome is delivered later through opts.
type Connector interface {
	ConnectServiceExtensionAbility(ctx context.Context, want Want, opts ConnectOptions) (string, error)
	DisconnectServiceExtensionAbility(id string) error
}

var ErrInvalidWant = errors.New("ability: want needs a bundle name and an ability name")

// ConnectError is the failure a Pending resolves to when OnFailed fires.
type ConnectError struct {
	Element ElementName
	Code    int
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ability: connect %s failed with code %d", e.Element, e.Code)
}

// Pending is a connection outcome that resolves exactly once, to a remote
// object or to a failure.
type Pending struct {
	element ElementName
	once    sync.Once
	done    chan struct{}
	remote  rpc.RemoteObject
	err     error
}

// NewPending creates an unresolved outcome for want.
func NewPending(want Want) *Pending {
	return &Pending{element: want.Element(), done: make(chan struct{})}
}

func (p *Pending) resolve(remote rpc.RemoteObject, err error) {
	p.once.Do(func() {
		p.remote = remote
		p.err = err
		close(p.done)
	})
}

// Options returns callbacks that resolve p. A disconnect before connecting
// resolves it as a failure.
func (p *Pending) Options() ConnectOptions {
	return ConnectOptions{
		OnConnect: func(_ ElementName, remote rpc.RemoteObject) {
			p.resolve(remote, nil)
		},
		OnDisconnect: func(ElementName) {
			p.resolve(nil, &ConnectError{Element: p.element, Code: CodeDisconnected})
		},
		OnFailed: func(code int) {
			p.resolve(nil, &ConnectError{Element: p.element, Code: code})
		},
	}
}

// Done is closed once p resolves.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until p resolves or ctx ends.
func (p *Pending) Wait(ctx context.Context) (rpc.RemoteObject, error) {
	select {
	case <-p.done:
		return p.remote, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
