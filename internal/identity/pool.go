package identity

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/metrics"
)

// Store is the shared external identity collection. Fetch returns nil when
// the store is empty or its record cannot be used; identity scarcity is not
// an error.
type Store interface {
	Fetch(ctx context.Context) (*Identity, error)
}

// Pool balances identity reuse against rotation. A bounded local deque holds
// recently used identities; with probability rotationRate a request is served
// from the external store instead, keeping fingerprints churning.
type Pool struct {
	mu           sync.Mutex
	local        []Identity
	capacity     int
	store        Store
	rotationRate float64
	rng          *rand.Rand
	logger       *zap.Logger
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRand injects a deterministic source for the rotation coin flip.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) { p.rng = r }
}

// NewPool builds a rotation pool. rotationRate is clamped to [0,1]: 0 always
// reuses the local pool, 1 always pulls externally.
func NewPool(capacity int, store Store, rotationRate float64, logger *zap.Logger, opts ...Option) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	if rotationRate < 0 {
		rotationRate = 0
	}
	if rotationRate > 1 {
		rotationRate = 1
	}
	p := &Pool{
		local:        make([]Identity, 0, capacity),
		capacity:     capacity,
		store:        store,
		rotationRate: rotationRate,
		logger:       logger,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// Get returns the next identity to use, or nil when neither the local pool
// nor the external store has one. Callers must handle nil by reusing a prior
// identity or deferring the fetch.
func (p *Pool) Get(ctx context.Context) *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case len(p.local) == 0:
		return p.fetchExternalLocked(ctx)
	case len(p.local) >= p.capacity:
		// At capacity the pool sheds before it rotates: pop the newest.
		return p.popLocked()
	default:
		if p.rng.Float64() < p.rotationRate {
			if id := p.fetchExternalLocked(ctx); id != nil {
				return id
			}
			// External miss still has local identities to fall back on.
		}
		return p.popLocked()
	}
}

// Add pushes an identity onto the local pool, both for caching externally
// fetched identities and for identities returned by callers after use. The
// pool never grows past capacity; the oldest entry is dropped to make room.
func (p *Pool) Add(id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addLocked(id)
}

// Len reports the current local pool size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.local)
}

func (p *Pool) addLocked(id Identity) {
	if len(p.local) >= p.capacity {
		p.local = p.local[1:]
	}
	p.local = append(p.local, id)
	metrics.SetIdentityPoolSize(len(p.local))
}

// popLocked removes and returns the most recently added identity (LIFO).
func (p *Pool) popLocked() *Identity {
	n := len(p.local)
	if n == 0 {
		return nil
	}
	id := p.local[n-1]
	p.local = p.local[:n-1]
	metrics.SetIdentityPoolSize(len(p.local))
	return &id
}

// fetchExternalLocked pulls one identity from the shared store and caches it
// locally before returning it.
func (p *Pool) fetchExternalLocked(ctx context.Context) *Identity {
	id, err := p.store.Fetch(ctx)
	if err != nil {
		p.logger.Warn("identity store fetch failed", zap.Error(err))
		return nil
	}
	if id == nil {
		return nil
	}
	p.addLocked(*id)
	return id
}
