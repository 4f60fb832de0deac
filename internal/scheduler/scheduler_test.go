package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/event"
	"github.com/parsera-labs/dispatch/internal/model"
)

type fakeStore struct {
	crawlers []model.Crawler
	listErr  error
}

func (f *fakeStore) SaveCrawler(context.Context, model.Crawler) error { return nil }

func (f *fakeStore) GetCrawler(context.Context, uuid.UUID) (model.Crawler, error) {
	return model.Crawler{}, errors.New("not implemented")
}

func (f *fakeStore) ListCrawlers(context.Context) ([]model.Crawler, error) {
	return f.crawlers, f.listErr
}

func (f *fakeStore) SavePage(context.Context, model.Page) error { return nil }

func (f *fakeStore) MarkPageDone(context.Context, uuid.UUID, time.Time) error { return nil }

type fakeInbound struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (f *fakeInbound) PublishInbound(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	return nil
}

func testCrawler(rule string) model.Crawler {
	return model.Crawler{
		ID:        uuid.New(),
		Name:      "nightly",
		UserID:    uuid.New(),
		TimerRule: rule,
		Priority:  model.PriorityCommon,
		Site: model.Site{
			ID:        uuid.New(),
			Domain:    "x.com",
			StartPage: "https://x.com",
		},
	}
}

func TestRegister_TracksEntries(t *testing.T) {
	t.Parallel()
	s := New(&fakeStore{}, &fakeInbound{}, zap.NewNop())

	c := testCrawler("0 0 6 * * *")
	require.NoError(t, s.Register(c))
	require.Equal(t, 1, s.Len())

	// Re-registering the same crawler replaces the entry.
	require.NoError(t, s.Register(c))
	require.Equal(t, 1, s.Len())

	s.Remove(c.ID)
	require.Zero(t, s.Len())
}

func TestRegister_RejectsBadRule(t *testing.T) {
	t.Parallel()
	s := New(&fakeStore{}, &fakeInbound{}, zap.NewNop())

	err := s.Register(testCrawler("every tuesday"))
	require.Error(t, err)
	require.Zero(t, s.Len())
}

func TestRegister_SkipsOneShotCrawlers(t *testing.T) {
	t.Parallel()
	s := New(&fakeStore{}, &fakeInbound{}, zap.NewNop())

	require.NoError(t, s.Register(testCrawler("")))
	require.Zero(t, s.Len())
}

func TestReload_RegistersStoredCrawlers(t *testing.T) {
	t.Parallel()
	st := &fakeStore{crawlers: []model.Crawler{
		testCrawler("0 0 6 * * *"),
		testCrawler("not a rule"),
		testCrawler("0 30 * * * *"),
	}}
	s := New(st, &fakeInbound{}, zap.NewNop())

	require.NoError(t, s.Reload(context.Background()))
	require.Equal(t, 2, s.Len())
}

func TestReload_StoreError(t *testing.T) {
	t.Parallel()
	s := New(&fakeStore{listErr: errors.New("db down")}, &fakeInbound{}, zap.NewNop())
	require.Error(t, s.Reload(context.Background()))
}

func TestTick_PublishesScrapeForStartPage(t *testing.T) {
	t.Parallel()
	pub := &fakeInbound{}
	s := New(&fakeStore{}, pub, zap.NewNop())

	c := testCrawler("0 0 6 * * *")
	s.tick(c)

	require.Len(t, pub.bodies, 1)
	env, err := event.Decode(pub.bodies[0])
	require.NoError(t, err)
	require.Equal(t, event.CommandScrapePage, env.Command)
	require.Equal(t, event.StatusPending, env.Status)
	require.NotNil(t, env.Data.Internal)
	require.Equal(t, c.ID, env.Data.Internal.CrawlerID)
	require.Equal(t, "https://x.com", env.Data.Internal.URL)
}
