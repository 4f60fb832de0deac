// Package scheduler re-enqueues recurring crawls. Each crawler's timer rule
// is a cron expression (with a seconds field); on every tick a fresh
// scrape_page(pending) event for the crawler's start page is published onto
// the inbound exchange, so recurring crawls flow through the same dispatch
// path as newly registered ones.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/event"
	"github.com/parsera-labs/dispatch/internal/model"
	"github.com/parsera-labs/dispatch/internal/store"
)

const publishTimeout = 5 * time.Second

// Publisher sends raw event bodies onto the exchange the dispatcher consumes
// from.
type Publisher interface {
	PublishInbound(ctx context.Context, body []byte) error
}

// Scheduler owns the cron runner and the crawler->entry mapping.
type Scheduler struct {
	cron      *cron.Cron
	store     store.CrawlerStore
	publisher Publisher
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]cron.EntryID
}

// New builds a stopped scheduler; call Start to begin ticking.
func New(st store.CrawlerStore, publisher Publisher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		store:     st,
		publisher: publisher,
		logger:    logger,
		entries:   make(map[uuid.UUID]cron.EntryID),
	}
}

// Register adds (or replaces) the crawler's recurring job. Crawlers without
// a timer rule are one-shot and are skipped.
func (s *Scheduler) Register(c model.Crawler) error {
	if c.TimerRule == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[c.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, c.ID)
	}
	entry, err := s.cron.AddFunc(c.TimerRule, func() { s.tick(c) })
	if err != nil {
		return fmt.Errorf("register timer rule %q: %w", c.TimerRule, err)
	}
	s.entries[c.ID] = entry
	s.logger.Info("crawler scheduled",
		zap.String("crawler_id", c.ID.String()),
		zap.String("rule", c.TimerRule),
	)
	return nil
}

// Remove drops the crawler's recurring job if one exists.
func (s *Scheduler) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// Reload replaces all registered jobs with the crawlers currently in the
// store. Individual bad timer rules are logged and skipped so one broken
// crawler cannot block the rest.
func (s *Scheduler) Reload(ctx context.Context) error {
	crawlers, err := s.store.ListCrawlers(ctx)
	if err != nil {
		return fmt.Errorf("list crawlers: %w", err)
	}

	s.mu.Lock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, c := range crawlers {
		if err := s.Register(c); err != nil {
			s.logger.Error("skipping crawler with bad timer rule",
				zap.String("crawler_id", c.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// Start begins executing registered jobs in the cron goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the runner and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Len returns the number of registered recurring jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) tick(c model.Crawler) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	env := event.NewScrapeEvent(c)
	body, err := env.Encode()
	if err != nil {
		s.logger.Error("encode scheduled scrape failed",
			zap.String("crawler_id", c.ID.String()), zap.Error(err))
		return
	}
	if err := s.publisher.PublishInbound(ctx, body); err != nil {
		s.logger.Error("publish scheduled scrape failed",
			zap.String("crawler_id", c.ID.String()), zap.Error(err))
		return
	}
	s.logger.Debug("scheduled scrape published",
		zap.String("crawler_id", c.ID.String()),
		zap.String("url", c.Site.StartPage),
	)
}
