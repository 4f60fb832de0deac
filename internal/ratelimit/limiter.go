// Package ratelimit spreads per-domain dispatch across equivalent worker
// queues. A short-lived cooldown record remembers the queue a domain was last
// routed to so consecutive dispatches for the same domain avoid it.
package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// DefaultCooldown matches the store-side TTL of a cooldown record.
const DefaultCooldown = 2 * time.Second

// CooldownStore records which queue a domain was last dispatched to. Records
// expire on their own; absence means "no exclusion".
type CooldownStore interface {
	// LastQueue returns the queue the domain is cooling down from, or ""
	// when no live record exists.
	LastQueue(ctx context.Context, domain string) (string, error)
	// Mark writes a fresh cooldown record for the domain.
	Mark(ctx context.Context, domain, queue string) error
}

// Limiter selects a queue for a domain while excluding the one it most
// recently went to. It is a best-effort limiter: store failures degrade to
// plain random selection, never block the dispatch.
type Limiter struct {
	store  CooldownStore
	rng    *rand.Rand
	logger *zap.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithRand injects a deterministic selection source for tests.
func WithRand(r *rand.Rand) Option {
	return func(l *Limiter) { l.rng = r }
}

// New builds a Limiter over the given cooldown store.
func New(store CooldownStore, logger *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		logger: logger,
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return l
}

// Reserve picks the queue the domain should be dispatched to, uniformly at
// random among candidates minus the cooled-down queue. If exclusion would
// empty the candidate set the full set is used instead, so a single-queue
// stage never deadlocks. The fresh cooldown record is written regardless of
// the lookup outcome.
func (l *Limiter) Reserve(ctx context.Context, domain string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	eligible := candidates
	excluded, err := l.store.LastQueue(ctx, domain)
	if err != nil {
		l.logger.Warn("cooldown lookup failed, dispatching without exclusion",
			zap.String("domain", domain),
			zap.Error(err),
		)
	} else if excluded != "" {
		filtered := make([]string, 0, len(candidates))
		for _, q := range candidates {
			if q != excluded {
				filtered = append(filtered, q)
			}
		}
		if len(filtered) > 0 {
			eligible = filtered
		}
	}

	chosen := eligible[l.rng.Intn(len(eligible))]

	if err := l.store.Mark(ctx, domain, chosen); err != nil {
		l.logger.Warn("cooldown write failed",
			zap.String("domain", domain),
			zap.String("queue", chosen),
			zap.Error(err),
		)
	}
	return chosen
}
