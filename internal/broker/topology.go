package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Topology names the exchanges and queues the dispatcher relies on: one
// topic-routed durable produce exchange bound to the stage queues, and one
// fan-out durable consume exchange bound to the single inbound queue.
type Topology struct {
	ProduceExchange string
	ConsumeExchange string
	ConsumeQueue    string
	StageQueues     []string
}

// DeclareTopology declares every exchange, queue and binding in the
// topology. AMQP declarations are idempotent, so this is safe to repeat on
// reconnect; a failure before first use is fatal for the process.
func (b *Broker) DeclareTopology(ctx context.Context) error {
	ch, err := b.Channel(ctx)
	if err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}
	defer func() {
		_ = ch.Close()
	}()

	t := b.topology

	if err := ch.ExchangeDeclare(t.ProduceExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare produce exchange %q: %w", t.ProduceExchange, err)
	}
	for _, queue := range t.StageQueues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q: %w", queue, err)
		}
		if err := ch.QueueBind(queue, queue, t.ProduceExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %q: %w", queue, err)
		}
	}

	if err := ch.ExchangeDeclare(t.ConsumeExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare consume exchange %q: %w", t.ConsumeExchange, err)
	}
	if _, err := ch.QueueDeclare(t.ConsumeQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare inbound queue %q: %w", t.ConsumeQueue, err)
	}
	if err := ch.QueueBind(t.ConsumeQueue, "", t.ConsumeExchange, false, nil); err != nil {
		return fmt.Errorf("bind inbound queue %q: %w", t.ConsumeQueue, err)
	}

	b.logger.Info("broker topology declared",
		zap.String("produce_exchange", t.ProduceExchange),
		zap.String("consume_exchange", t.ConsumeExchange),
		zap.String("inbound_queue", t.ConsumeQueue),
		zap.Strings("stage_queues", t.StageQueues),
	)
	return nil
}
