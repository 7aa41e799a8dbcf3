package chain

import (
	"sync"

	"github.com/pkg/errors"

	"custody-node/internal/walleterr"
)

// Registry maps chain identifiers to their connectors. It is populated at
// startup and handed to the services that need chain capabilities.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// Register adds a connector under its chain identifier, replacing any
// previous registration for the same chain.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.ChainID()] = c
}

// Get retrieves the connector for a chain identifier.
func (r *Registry) Get(chainID string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[chainID]
	if !ok {
		return nil, errors.Wrapf(walleterr.ErrNotFound, "no connector for chain %q", chainID)
	}
	return c, nil
}
