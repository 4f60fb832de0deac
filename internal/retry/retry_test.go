package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// sleepRecorder captures requested delays instead of waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, d := range s.delays {
		sum += d
	}
	return sum
}

func TestDo_NoRetryOnSuccess(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	p := Fixed(3, 10*time.Millisecond, WithSleep(rec.sleep))

	attempts := 0
	err := p.Do(context.Background(), "ok", func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
	require.Empty(t, rec.delays)
}

func TestDo_AttemptBounds(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	p := Fixed(4, 25*time.Millisecond, WithSleep(rec.sleep))

	attempts := 0
	err := p.Do(context.Background(), "always-fails", func(context.Context) error {
		attempts++
		return fmt.Errorf("attempt %d", attempts)
	})
	require.Error(t, err)
	// Initial attempt plus MaxAttempts retries.
	require.Equal(t, 5, attempts)
	require.Len(t, rec.delays, 4)
	for _, d := range rec.delays {
		require.Equal(t, 25*time.Millisecond, d)
	}
}

func TestDo_ReturnsLastError(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	p := Fixed(2, time.Millisecond, WithSleep(rec.sleep))

	last := errors.New("third failure")
	errs := []error{errors.New("first"), errors.New("second"), last}
	i := 0
	err := p.Do(context.Background(), "fails", func(context.Context) error {
		e := errs[i]
		i++
		return e
	})
	require.ErrorIs(t, err, last)
}

func TestDoBackoff_DelayBounds(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	p := New(
		WithSleep(rec.sleep),
		WithRand(rand.New(rand.NewSource(42))),
	)
	p.MaxAttempts = 6
	p.MinDelay = 10 * time.Millisecond
	p.StepDelay = 5 * time.Millisecond
	p.MaxDelay = 40 * time.Millisecond

	attempts := 0
	err := p.DoBackoff(context.Background(), "always-fails", func(context.Context) error {
		attempts++
		return errors.New("down")
	})
	require.Error(t, err)
	require.Equal(t, 7, attempts)
	require.Len(t, rec.delays, 6)

	var prev time.Duration
	for _, d := range rec.delays {
		// Every wait is at least the clamp floor plus nothing, at most the
		// clamp ceiling plus one full jitter step.
		require.GreaterOrEqual(t, d, p.MinDelay)
		require.LessOrEqual(t, d, p.MaxDelay+p.StepDelay)
		// Monotonic growth until the cap is hit.
		if prev > 0 && prev < p.MaxDelay {
			require.GreaterOrEqual(t, d, prev-p.StepDelay)
		}
		prev = d
	}
	require.GreaterOrEqual(t, rec.total(), 6*p.MinDelay)
	require.LessOrEqual(t, rec.total(), 6*(p.MaxDelay+p.StepDelay))
}

func TestDoBackoff_ContextCancelStopsEarly(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	p := New(WithSleep(func(context.Context, time.Duration) error { return nil }))
	p.MaxAttempts = 100
	p.MinDelay = time.Millisecond
	p.StepDelay = time.Millisecond

	boom := errors.New("boom")
	attempts := 0
	err := p.DoBackoff(ctx, "canceled", func(context.Context) error {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, attempts)
}

func TestForever_RunsUntilSuccess(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	p := Fixed(0, time.Millisecond, WithSleep(rec.sleep))

	attempts := 0
	err := p.Forever(context.Background(), "eventually", func(context.Context) error {
		attempts++
		if attempts < 25 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 25, attempts)
	require.Len(t, rec.delays, 24)
}

func TestForever_StopsOnContextEnd(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Fixed(0, time.Millisecond)
	err := p.Forever(ctx, "dead", func(context.Context) error {
		return errors.New("still down")
	})
	require.Error(t, err)
}
