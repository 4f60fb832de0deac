// Package router implements the pipeline state machine: it consumes inbound
// events, interprets the command+status envelope, and re-publishes each event
// to the stage queue(s) that should handle it next.
package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/broker"
	"github.com/parsera-labs/dispatch/internal/event"
	"github.com/parsera-labs/dispatch/internal/metrics"
)

// Publisher pushes a serialized envelope to a stage queue.
type Publisher interface {
	PublishQueue(ctx context.Context, queue string, body []byte) error
}

// QueuePicker selects the instance queue for a domain within a stage.
type QueuePicker interface {
	Reserve(ctx context.Context, domain string, candidates []string) string
}

// Stages maps each pipeline stage to its candidate queue instances.
type Stages struct {
	Scrape        []string
	HeavyRetry    []string
	Extract       []string
	Notify        []string
	DBManager     []string
	StatusManager []string
}

// Router is the central dispatch component. One Router instance processes
// deliveries sequentially; run several consumer processes for throughput.
type Router struct {
	publisher Publisher
	limiter   QueuePicker
	stages    Stages
	logger    *zap.Logger
}

// New builds a Router.
func New(publisher Publisher, limiter QueuePicker, stages Stages, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		publisher: publisher,
		limiter:   limiter,
		stages:    stages,
		logger:    logger,
	}
}

// Run consumes deliveries until the stream closes or ctx ends. In-flight
// handling finishes before Run returns, so a canceled context drains
// gracefully.
func (r *Router) Run(ctx context.Context, deliveries <-chan broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			r.Handle(ctx, d)
		}
	}
}

// publishTarget is one outbound publish decided by the routing table: a
// stage (candidate queue instances) and the envelope to send there.
type publishTarget struct {
	candidates []string
	env        event.Envelope
}

// Handle routes one delivery. The input is acknowledged only after every
// synthesized outbound publish succeeds; a publish failure rejects the
// delivery back to the broker for redelivery. Structurally invalid messages
// are dropped (acked) so a poison message cannot block the queue.
func (r *Router) Handle(ctx context.Context, d broker.Delivery) {
	env, err := event.Decode(d.Body)
	if err != nil {
		r.dropInvalid(d, err)
		return
	}

	targets, err := r.route(env)
	if err != nil {
		metrics.ObserveEvent(string(env.Command), string(env.Status), "protocol_error")
		r.dropInvalid(d, err)
		return
	}

	for _, target := range targets {
		if err := r.publish(ctx, target); err != nil {
			metrics.ObserveEvent(string(env.Command), string(env.Status), "publish_failed")
			r.logger.Error("outbound publish failed, leaving delivery unacked",
				zap.String("command", string(env.Command)),
				zap.String("status", string(env.Status)),
				zap.Error(err),
			)
			if rerr := d.Reject(true); rerr != nil {
				r.logger.Error("reject failed", zap.Error(rerr))
			}
			return
		}
	}

	if err := d.Ack(false); err != nil {
		r.logger.Error("ack failed", zap.Error(err))
		return
	}
	metrics.ObserveEvent(string(env.Command), string(env.Status), "routed")
}

// route applies the state machine table. It is pure: the returned targets
// are the complete set of outbound publishes for the event, in order.
func (r *Router) route(env event.Envelope) ([]publishTarget, error) {
	switch env.Command {
	case event.CommandRegisterCrawler:
		return r.routeRegister(env)

	case event.CommandScrapePage:
		switch env.Status {
		case event.StatusPending:
			return []publishTarget{{candidates: r.stages.Scrape, env: env}}, nil
		case event.StatusDone:
			return []publishTarget{{candidates: r.stages.Extract, env: env}}, nil
		default: // failed: escalate to the heavy-retry workers
			return []publishTarget{{candidates: r.stages.HeavyRetry, env: env}}, nil
		}

	case event.CommandExtractPage:
		if env.Status == event.StatusPending {
			// Extraction cannot begin pending without a prior scrape; only
			// the router itself synthesizes pipeline entries.
			return nil, fmt.Errorf("%w: extract_page cannot arrive pending", event.ErrMalformed)
		}
		// Done and failed both fan out: results are persisted and reported.
		return []publishTarget{
			{candidates: r.stages.DBManager, env: env},
			{candidates: r.stages.Notify, env: env},
		}, nil

	case event.CommandStorePage, event.CommandNotifyUser:
		// Terminal stages: the pipeline ends here per page.
		return nil, nil

	default: // sleep: reserved for future backoff scheduling
		r.logger.Warn("ignoring sleep event", zap.String("status", string(env.Status)))
		return nil, nil
	}
}

func (r *Router) routeRegister(env event.Envelope) ([]publishTarget, error) {
	switch env.Status {
	case event.StatusPending:
		scrape := event.NewScrapeEvent(*env.Data.External)
		return []publishTarget{{candidates: r.stages.Scrape, env: scrape}}, nil
	case event.StatusDone:
		// Registration is terminal once translated into a scrape.
		return nil, nil
	default:
		r.logger.Error("crawler registration failed upstream",
			zap.String("crawler_id", env.Data.External.ID.String()),
			zap.String("domain", env.Data.External.Site.Domain),
		)
		return nil, nil
	}
}

// publish serializes the target envelope, asks the rate limiter for the
// instance queue within the stage, and publishes.
func (r *Router) publish(ctx context.Context, target publishTarget) error {
	body, err := target.env.Encode()
	if err != nil {
		return fmt.Errorf("encode outbound event: %w", err)
	}

	domain := ""
	if target.env.Data.Internal != nil {
		domain = target.env.Data.Internal.Domain
	}
	queue := r.limiter.Reserve(ctx, domain, target.candidates)
	if queue == "" {
		return fmt.Errorf("no queue available for stage %v", target.candidates)
	}

	if err := r.publisher.PublishQueue(ctx, queue, body); err != nil {
		metrics.ObservePublishFailure(queue)
		return fmt.Errorf("publish to %q: %w", queue, err)
	}
	metrics.ObservePublish(queue)
	r.logger.Debug("dispatched",
		zap.String("command", string(target.env.Command)),
		zap.String("status", string(target.env.Status)),
		zap.String("queue", queue),
		zap.String("domain", domain),
	)
	return nil
}

// dropInvalid logs the offending raw payload and acknowledges the delivery:
// redelivery cannot fix a structurally invalid message.
func (r *Router) dropInvalid(d broker.Delivery, cause error) {
	metrics.ObserveProtocolError()
	r.logger.Error("dropping invalid message",
		zap.ByteString("payload", d.Body),
		zap.Error(cause),
	)
	if err := d.Ack(false); err != nil {
		r.logger.Error("ack of dropped message failed", zap.Error(err))
	}
}
