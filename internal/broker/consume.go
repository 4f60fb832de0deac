package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Consume returns an infinite, restartable stream of deliveries from the
// queue. Subscription setup runs under the bounded backoff policy; an outer
// supervisory loop resubscribes forever so the stream survives full broker
// outages. The channel closes only when ctx ends. Each Delivery must be
// explicitly acknowledged by the caller after successful handling.
func (b *Broker) Consume(ctx context.Context, queue string) <-chan Delivery {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		_ = b.acqRetry.Forever(ctx, "consume "+queue, func(ctx context.Context) error {
			err := b.consumeOnce(ctx, queue, out)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}()
	return out
}

// consumeOnce subscribes to the queue and pumps deliveries until the
// subscription breaks or ctx ends. A broken subscription is an error so the
// supervisory loop resubscribes.
func (b *Broker) consumeOnce(ctx context.Context, queue string, out chan<- Delivery) error {
	ch, err := b.Channel(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Close()
	}()

	if b.cfg.Prefetch > 0 {
		if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("subscribe to %q: %w", queue, err)
	}
	b.logger.Info("consuming", zap.String("queue", queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery stream closed")
			}
			select {
			case out <- Delivery{Body: d.Body, Acker: d}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
