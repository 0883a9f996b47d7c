package application

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// ClientFactory creates the HostClient owned by a single account.
type ClientFactory func() driven.HostClient

// ClientProvider maps provider kinds to client factories. Factories can be
// replaced at runtime, for example when the GitHub OAuth application is
// reconfigured; accounts created afterwards use the new factory.
type ClientProvider struct {
	mu        sync.RWMutex
	factories map[model.Kind]ClientFactory
}

// NewClientProvider creates an empty provider.
func NewClientProvider() *ClientProvider {
	return &ClientProvider{factories: make(map[model.Kind]ClientFactory)}
}

// Register installs or replaces the factory for kind.
func (p *ClientProvider) Register(kind model.Kind, factory ClientFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[kind] = factory
}

// New creates a client for kind.
func (p *ClientProvider) New(kind model.Kind) (driven.HostClient, error) {
	p.mu.RLock()
	factory, ok := p.factories[kind]
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return factory(), nil
}

// Kinds returns the registered kinds in declaration order.
func (p *ClientProvider) Kinds() []model.Kind {
	p.mu.RLock()
	defer p.mu.RUnlock()
	kinds := lo.Keys(p.factories)
	slices.Sort(kinds)
	return kinds
}
