package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory CooldownStore without expiry; tests control the
// record lifetime by mutating the map directly.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]string
	getErr  error
	setErr  error
	marks   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]string{}}
}

func (s *fakeStore) LastQueue(_ context.Context, domain string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", s.getErr
	}
	return s.records[domain], nil
}

func (s *fakeStore) Mark(_ context.Context, domain, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks++
	if s.setErr != nil {
		return s.setErr
	}
	s.records[domain] = queue
	return nil
}

func newTestLimiter(store CooldownStore, seed int64) *Limiter {
	return New(store, zap.NewNop(), WithRand(rand.New(rand.NewSource(seed))))
}

func TestReserve_NeverPicksExcludedQueue(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	l := newTestLimiter(store, 7)
	candidates := []string{"scrape1", "scrape2", "scrape3"}

	for i := 0; i < 1000; i++ {
		// Keep the cooldown record live across the whole run.
		store.mu.Lock()
		store.records["example.com"] = "scrape1"
		store.mu.Unlock()

		got := l.Reserve(context.Background(), "example.com", candidates)
		require.NotEqual(t, "scrape1", got)
		require.Contains(t, candidates, got)
	}
}

func TestReserve_WritesFreshRecord(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	l := newTestLimiter(store, 1)

	got := l.Reserve(context.Background(), "example.com", []string{"scrape1", "scrape2"})
	require.Contains(t, []string{"scrape1", "scrape2"}, got)
	require.Equal(t, got, store.records["example.com"])
	require.Equal(t, 1, store.marks)
}

func TestReserve_SingleQueueFallback(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.records["example.com"] = "scrape1"
	l := newTestLimiter(store, 1)

	// The only candidate is excluded; exclusion must not empty the set.
	got := l.Reserve(context.Background(), "example.com", []string{"scrape1"})
	require.Equal(t, "scrape1", got)
}

func TestReserve_StoreDownDegradesToNoExclusion(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.getErr = errors.New("connection refused")
	store.setErr = errors.New("connection refused")
	l := newTestLimiter(store, 3)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got := l.Reserve(context.Background(), "example.com", []string{"scrape1", "scrape2"})
		require.NotEmpty(t, got)
		seen[got] = true
	}
	// Without a readable record every candidate stays eligible.
	require.True(t, seen["scrape1"])
	require.True(t, seen["scrape2"])
}

func TestReserve_NoRecordMeansNoExclusion(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	l := newTestLimiter(store, 5)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		store.mu.Lock()
		delete(store.records, "example.com")
		store.mu.Unlock()
		seen[l.Reserve(context.Background(), "example.com", []string{"scrape1", "scrape2"})] = true
	}
	require.True(t, seen["scrape1"])
	require.True(t, seen["scrape2"])
}

func TestReserve_EmptyCandidates(t *testing.T) {
	t.Parallel()
	l := newTestLimiter(newFakeStore(), 1)
	require.Empty(t, l.Reserve(context.Background(), "example.com", nil))
}
