package circuitbreaker

import (
	"sync"
	"time"
)

// Registry manages per-route Breaker instances.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a new circuit breaker registry with the given config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for the given route, or nil if none exists.
func (r *Registry) Get(route string) *Breaker {
	r.mu.RLock()
	b := r.breakers[route]
	r.mu.RUnlock()
	return b
}

// GetOrCreate returns the breaker for route, creating one if needed.
func (r *Registry) GetOrCreate(route string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[route]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[route]; ok {
		return b
	}
	b = NewBreaker(r.config)
	r.breakers[route] = b
	return b
}

// EvictStale removes breakers not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var staleKeys []string
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			staleKeys = append(staleKeys, k)
		}
	}
	r.mu.RUnlock()

	if len(staleKeys) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, k := range staleKeys {
		if b, ok := r.breakers[k]; ok {
			if b.LastUsed().Before(cutoff) {
				delete(r.breakers, k)
				evicted++
			}
		}
	}
	return evicted
}
