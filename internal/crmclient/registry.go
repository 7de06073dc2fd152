package crmclient

import (
	"errors"
	"sync"

	"github.com/voxlane/crm-connector/internal/domain"
)

var ErrUnknownProvider = errors.New("no client registered for provider")

// Registry maps a provider tag to its Client implementation.  Clients are
// registered once at process wiring time and looked up per task.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.Provider]Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[domain.Provider]Client),
	}
}

func (r *Registry) Register(provider domain.Provider, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider] = client
}

func (r *Registry) Lookup(provider domain.Provider) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return client, nil
}
