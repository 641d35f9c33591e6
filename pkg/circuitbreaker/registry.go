package circuitbreaker

import (
	"sync"
	"time"
)

// Registry holds one breaker per destination key (typically a host).
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewRegistry creates a registry whose breakers share threshold/cooldown.
func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(r.threshold, r.cooldown)
		r.breakers[key] = b
	}
	return b
}

// Counts returns the total number of breakers and how many are open.
func (r *Registry) Counts() (total, open int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total = len(r.breakers)
	for _, b := range r.breakers {
		if b.State() == Open {
			open++
		}
	}
	return total, open
}
