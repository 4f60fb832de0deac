package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parsera-labs/dispatch/internal/model"
)

// querier is the slice of pgxpool.Pool the store uses. Tests substitute a
// fake; production passes the real pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements CrawlerStore on top of PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE crawlers (
//	    id UUID PRIMARY KEY,
//	    name TEXT NOT NULL,
//	    user_id UUID NOT NULL,
//	    timer_rule TEXT NOT NULL,
//	    priority TEXT NOT NULL,
//	    notification JSONB NOT NULL,
//	    site JSONB NOT NULL,
//	    meta TEXT,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE pages (
//	    id UUID PRIMARY KEY,
//	    crawler_id UUID NOT NULL,
//	    site_id UUID NOT NULL,
//	    url TEXT NOT NULL,
//	    domain TEXT NOT NULL,
//	    is_pagination BOOLEAN NOT NULL,
//	    times_reparsed INT NOT NULL,
//	    priority TEXT NOT NULL,
//	    xpaths JSONB,
//	    data JSONB,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    done_at TIMESTAMPTZ
//	);
type PostgresStore struct {
	db querier
}

// NewPostgres connects a pgx pool for the given DSN and pings it before
// handing back the store.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: pool}, pool, nil
}

// SaveCrawler upserts the crawler row, serializing the nested site and
// notification documents as JSONB.
func (s *PostgresStore) SaveCrawler(ctx context.Context, c model.Crawler) error {
	notification, err := json.Marshal(c.Notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	site, err := json.Marshal(c.Site)
	if err != nil {
		return fmt.Errorf("marshal site: %w", err)
	}

	query := `
		INSERT INTO crawlers (id, name, user_id, timer_rule, priority, notification, site, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			timer_rule = EXCLUDED.timer_rule,
			priority = EXCLUDED.priority,
			notification = EXCLUDED.notification,
			site = EXCLUDED.site,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query,
		c.ID, c.Name, c.UserID, c.TimerRule, string(c.Priority),
		notification, site, c.Meta, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert crawler: %w", err)
	}
	return nil
}

// GetCrawler loads one crawler by id.
func (s *PostgresStore) GetCrawler(ctx context.Context, id uuid.UUID) (model.Crawler, error) {
	query := `
		SELECT id, name, user_id, timer_rule, priority, notification, site, meta, created_at, updated_at
		FROM crawlers
		WHERE id = $1
	`
	c, err := scanCrawler(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Crawler{}, ErrNotFound
	}
	if err != nil {
		return model.Crawler{}, fmt.Errorf("select crawler: %w", err)
	}
	return c, nil
}

// ListCrawlers returns all crawler definitions ordered by creation time.
func (s *PostgresStore) ListCrawlers(ctx context.Context) ([]model.Crawler, error) {
	query := `
		SELECT id, name, user_id, timer_rule, priority, notification, site, meta, created_at, updated_at
		FROM crawlers
		ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select crawlers: %w", err)
	}
	defer rows.Close()

	var out []model.Crawler
	for rows.Next() {
		c, err := scanCrawler(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawler row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawler rows: %w", err)
	}
	return out, nil
}

// SavePage records a dispatched page. Fetched HTML stays out of the
// relational store; only the extraction results land in the data column.
func (s *PostgresStore) SavePage(ctx context.Context, p model.Page) error {
	xpaths, err := json.Marshal(p.XPaths)
	if err != nil {
		return fmt.Errorf("marshal xpaths: %w", err)
	}
	data, err := json.Marshal(p.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	query := `
		INSERT INTO pages (id, crawler_id, site_id, url, domain, is_pagination, times_reparsed, priority, xpaths, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			times_reparsed = EXCLUDED.times_reparsed,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query,
		p.ID, p.CrawlerID, p.SiteID, p.URL, p.Domain, p.IsPagination,
		p.TimesReparsed, string(p.Priority), xpaths, data, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// MarkPageDone stamps the page's done_at column.
func (s *PostgresStore) MarkPageDone(ctx context.Context, id uuid.UUID, doneAt time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE pages SET done_at = $2, updated_at = $2 WHERE id = $1`, id, doneAt)
	if err != nil {
		return fmt.Errorf("mark page done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCrawler(row pgx.Row) (model.Crawler, error) {
	var (
		c            model.Crawler
		priority     string
		notification []byte
		site         []byte
	)
	err := row.Scan(&c.ID, &c.Name, &c.UserID, &c.TimerRule, &priority,
		&notification, &site, &c.Meta, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Crawler{}, err
	}
	c.Priority = model.Priority(priority)
	if err := json.Unmarshal(notification, &c.Notification); err != nil {
		return model.Crawler{}, fmt.Errorf("decode notification column: %w", err)
	}
	if err := json.Unmarshal(site, &c.Site); err != nil {
		return model.Crawler{}, fmt.Errorf("decode site column: %w", err)
	}
	return c, nil
}
