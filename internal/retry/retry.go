// Package retry implements the backoff-with-jitter retry executor used by
// every network operation in the dispatcher: broker connection acquisition,
// publishing, consume setup, and cooldown-store access.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Default policy knobs, matching the dispatcher's historical tuning.
const (
	DefaultMaxAttempts  = 10
	DefaultMinDelay     = 800 * time.Millisecond
	DefaultStepDelay    = 300 * time.Millisecond
	DefaultMaxDelay     = 20 * time.Second
	DefaultGrowthFactor = 1.5
	DefaultInterval     = 400 * time.Millisecond
)

// Policy parameterizes a retry loop. MaxAttempts counts retries after the
// initial attempt, so an operation runs at most MaxAttempts+1 times.
type Policy struct {
	MaxAttempts  int
	MinDelay     time.Duration
	StepDelay    time.Duration
	MaxDelay     time.Duration
	GrowthFactor float64

	logger *zap.Logger
	rng    *rand.Rand
	sleep  func(context.Context, time.Duration) error
}

// Option customizes a Policy.
type Option func(*Policy)

// WithLogger attaches a logger for per-attempt failure reporting.
func WithLogger(l *zap.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// WithRand injects a deterministic jitter source for tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Policy) { p.rng = r }
}

// WithSleep replaces the delay function, letting tests run without waiting.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Policy) { p.sleep = fn }
}

// New builds a policy with the default increasing-backoff parameters.
func New(opts ...Option) Policy {
	p := Policy{
		MaxAttempts:  DefaultMaxAttempts,
		MinDelay:     DefaultMinDelay,
		StepDelay:    DefaultStepDelay,
		MaxDelay:     DefaultMaxDelay,
		GrowthFactor: DefaultGrowthFactor,
	}
	for _, opt := range opts {
		opt(&p)
	}
	p.fill()
	return p
}

// Fixed builds a policy for the fixed-interval variant: maxAttempts retries
// with a constant pause and no jitter.
func Fixed(maxAttempts int, interval time.Duration, opts ...Option) Policy {
	p := Policy{
		MaxAttempts:  maxAttempts,
		MinDelay:     interval,
		MaxDelay:     interval,
		GrowthFactor: DefaultGrowthFactor,
	}
	for _, opt := range opts {
		opt(&p)
	}
	p.fill()
	return p
}

func (p *Policy) fill() {
	if p.GrowthFactor <= 1 {
		p.GrowthFactor = DefaultGrowthFactor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
}

// Do runs op with the fixed-interval variant: a constant MinDelay pause
// between attempts, no growth, no jitter. Suited to quick idempotent calls.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	p.fill()
	return p.run(ctx, name, op, func(time.Duration) time.Duration {
		return p.MinDelay
	})
}

// DoBackoff runs op with the increasing-jittered variant:
//
//	delay = clamp(delay*growth, min, max) + uniform(0, step)
//
// Used wherever hammering a down dependency must be avoided.
func (p Policy) DoBackoff(ctx context.Context, name string, op func(context.Context) error) error {
	p.fill()
	return p.run(ctx, name, op, func(prev time.Duration) time.Duration {
		next := time.Duration(float64(prev) * p.GrowthFactor)
		if next > p.MaxDelay {
			next = p.MaxDelay
		}
		if next < p.MinDelay {
			next = p.MinDelay
		}
		return next + p.jitter()
	})
}

// Forever retries op indefinitely with a fixed interval. It exists only as
// the outer supervisory loop around a consumer's run loop, to survive full
// broker outages; each inner attempt still uses a bounded policy. It returns
// only when op succeeds or the context ends.
func (p Policy) Forever(ctx context.Context, name string, op func(context.Context) error) error {
	p.fill()
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		p.logger.Error("infinitely retrying",
			zap.String("op", name),
			zap.Duration("retry_in", p.MinDelay),
			zap.Error(err),
		)
		if serr := p.sleep(ctx, p.MinDelay); serr != nil {
			return err
		}
	}
}

// run executes the shared attempt loop. On exhaustion it returns the last
// operation error unchanged.
func (p Policy) run(
	ctx context.Context,
	name string,
	op func(context.Context) error,
	next func(time.Duration) time.Duration,
) error {
	delay := p.StepDelay
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || ctx.Err() != nil {
			return lastErr
		}
		delay = next(delay)
		p.logger.Error("retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(lastErr),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

func (p Policy) jitter() time.Duration {
	if p.StepDelay <= 0 {
		return 0
	}
	return time.Duration(p.rng.Int63n(int64(p.StepDelay)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
