// Package gateway exposes the HTTP interface for registering crawlers. It is
// the only component that writes into the pipeline from outside: a created
// crawler is persisted and then announced to the dispatcher as an event on
// the inbound exchange.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/event"
	"github.com/parsera-labs/dispatch/internal/metrics"
	"github.com/parsera-labs/dispatch/internal/model"
	"github.com/parsera-labs/dispatch/internal/store"
)

const requestTimeout = 10 * time.Second

// InboundPublisher sends raw event bodies onto the exchange the dispatcher
// consumes from.
type InboundPublisher interface {
	PublishInbound(ctx context.Context, body []byte) error
}

// Server wires HTTP handlers to the crawler store and the broker.
type Server struct {
	router    chi.Router
	store     store.CrawlerStore
	publisher InboundPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st store.CrawlerStore, publisher InboundPublisher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     st,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1/crawlers", func(r chi.Router) {
		r.Post("/", s.createCrawler)
		r.Get("/", s.listCrawlers)
		r.Get("/{crawler_id}", s.getCrawler)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createCrawlerRequest struct {
	Name         string                    `json:"name"`
	UserID       uuid.UUID                 `json:"user_id"`
	TimerRule    string                    `json:"timer_rule"`
	Priority     model.Priority            `json:"priority"`
	Notification model.NotificationOptions `json:"notification"`
	Site         siteRequest               `json:"site"`
}

type siteRequest struct {
	Domain           string            `json:"domain"`
	StartPage        string            `json:"start_page"`
	PageXPaths       map[string]string `json:"page_xpaths"`
	PaginationXPaths map[string]string `json:"pagination_xpaths"`
}

func (req createCrawlerRequest) validate() error {
	switch {
	case req.Name == "":
		return errors.New("name is required")
	case req.UserID == uuid.Nil:
		return errors.New("user_id is required")
	case req.Site.Domain == "":
		return errors.New("site.domain is required")
	case req.Site.StartPage == "":
		return errors.New("site.start_page is required")
	case req.Priority != "" && !req.Priority.Valid():
		return errors.New("invalid priority")
	}
	return nil
}

// createCrawler persists the definition, then announces it to the dispatcher
// as register_crawler(pending). The announce happens after the save so a
// crawler visible to the pipeline is always loadable from the store.
func (s *Server) createCrawler(w http.ResponseWriter, r *http.Request) {
	var req createCrawlerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityCommon
	}
	now := s.now().UTC()
	c := model.Crawler{
		ID:           uuid.New(),
		Name:         req.Name,
		UserID:       req.UserID,
		TimerRule:    req.TimerRule,
		Priority:     priority,
		Notification: req.Notification,
		CreatedAt:    now,
		UpdatedAt:    now,
		Site: model.Site{
			ID:               uuid.New(),
			Domain:           req.Site.Domain,
			StartPage:        req.Site.StartPage,
			PageXPaths:       req.Site.PageXPaths,
			PaginationXPaths: req.Site.PaginationXPaths,
		},
	}

	if err := s.store.SaveCrawler(r.Context(), c); err != nil {
		s.logger.Error("save crawler failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save crawler")
		return
	}

	body, err := event.NewExternal(event.CommandRegisterCrawler, event.StatusPending, c).Encode()
	if err != nil {
		s.logger.Error("encode register event failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}
	if err := s.publisher.PublishInbound(r.Context(), body); err != nil {
		s.logger.Error("publish register event failed",
			zap.String("crawler_id", c.ID.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to announce crawler")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"crawler": c})
}

func (s *Server) getCrawler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "crawler_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid crawler_id")
		return
	}
	c, err := s.store.GetCrawler(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawler not found")
			return
		}
		s.logger.Error("get crawler failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawler")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawler": c})
}

func (s *Server) listCrawlers(w http.ResponseWriter, r *http.Request) {
	crawlers, err := s.store.ListCrawlers(r.Context())
	if err != nil {
		s.logger.Error("list crawlers failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawlers")
		return
	}
	if crawlers == nil {
		crawlers = []model.Crawler{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawlers": crawlers})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
