// Package store declares the relational boundary for crawler definitions and
// page records. The dispatcher itself never touches the database; the API
// gateway and the cron scheduler do, through the CrawlerStore interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parsera-labs/dispatch/internal/model"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CrawlerStore persists crawler definitions and their page records.
type CrawlerStore interface {
	// SaveCrawler inserts a crawler definition, or updates it in place when
	// the id already exists.
	SaveCrawler(ctx context.Context, c model.Crawler) error
	// GetCrawler loads a single crawler or returns ErrNotFound.
	GetCrawler(ctx context.Context, id uuid.UUID) (model.Crawler, error)
	// ListCrawlers returns every stored crawler definition.
	ListCrawlers(ctx context.Context) ([]model.Crawler, error)

	// SavePage records a page dispatched into the pipeline.
	SavePage(ctx context.Context, p model.Page) error
	// MarkPageDone stamps a page as fully processed.
	MarkPageDone(ctx context.Context, id uuid.UUID, doneAt time.Time) error
}
