// Package model defines the crawl domain entities shared across the pipeline:
// crawlers, their target sites, and the per-page work records derived from them.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders crawlers within a tier-based scheduling scheme.
type Priority string

// Priority tiers, highest first.
const (
	PriorityTop    Priority = "top"
	PriorityHigh   Priority = "high"
	PriorityCommon Priority = "common"
	PriorityLow    Priority = "low"
)

// Rank returns the numeric weight of a priority; higher means more urgent.
// Unknown values rank below PriorityLow.
func (p Priority) Rank() int {
	switch p {
	case PriorityTop:
		return 4
	case PriorityHigh:
		return 3
	case PriorityCommon:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the known tiers.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Crawler is a named, user-owned, recurring scrape job. It is immutable once
// dispatched into the pipeline except for its cached timestamps.
type Crawler struct {
	ID           uuid.UUID           `json:"id"`
	Name         string              `json:"name"`
	UserID       uuid.UUID           `json:"user_id"`
	TimerRule    string              `json:"timer_rule"`
	Priority     Priority            `json:"priority"`
	Notification NotificationOptions `json:"notification"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Site         Site                `json:"site"`
	Meta         *string             `json:"meta,omitempty"`
}

// Site is the crawl target of a crawler: a domain, a start URL, and the
// extraction rules applied to every page found under it.
type Site struct {
	ID               uuid.UUID         `json:"id"`
	Domain           string            `json:"domain"`
	StartPage        string            `json:"start_page"`
	PageXPaths       map[string]string `json:"page_xpaths"`
	PaginationXPaths map[string]string `json:"pagination_xpaths"`
	Meta             *string           `json:"meta,omitempty"`
}

// Page is one fetched/parsed unit of a crawler's site. HTML is populated after
// the scrape stage, Data after extraction.
type Page struct {
	ID            uuid.UUID           `json:"id"`
	CrawlerID     uuid.UUID           `json:"crawler_id"`
	SiteID        uuid.UUID           `json:"site_id"`
	URL           string              `json:"url"`
	Domain        string              `json:"domain"`
	IsPagination  bool                `json:"is_pagination"`
	TimesReparsed int                 `json:"times_reparsed"`
	Priority      Priority            `json:"priority"`
	Notification  NotificationOptions `json:"notification"`
	XPaths        map[string]string   `json:"xpaths"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	HTML          *string             `json:"html,omitempty"`
	Data          map[string]string   `json:"data,omitempty"`
	Meta          *string             `json:"meta,omitempty"`
}

// StartPage derives the initial page for a freshly registered crawler. The
// page inherits the crawler's rules, priority and timestamps and starts with
// a zero reparse counter.
func StartPage(c Crawler) Page {
	return Page{
		ID:            uuid.New(),
		CrawlerID:     c.ID,
		SiteID:        c.Site.ID,
		URL:           c.Site.StartPage,
		Domain:        c.Site.Domain,
		IsPagination:  false,
		TimesReparsed: 0,
		Priority:      c.Priority,
		Notification:  c.Notification,
		XPaths:        c.Site.PageXPaths,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		Meta:          c.Meta,
	}
}
