package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// wireChannel is the slice of the AMQP channel API the broker uses.
// *amqp091.Channel satisfies it; tests substitute fakes so topology and
// publish logic run without a live broker.
type wireChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(ret chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// wireConn abstracts one broker connection.
type wireConn interface {
	Channel() (wireChannel, error)
	IsClosed() bool
	Close() error
}

// dialer opens a new broker connection.
type dialer func(url string) (wireConn, error)

// amqpConn adapts *amqp091.Connection to wireConn.
type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (wireChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func amqpDial(url string) (wireConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConn{Connection: conn}, nil
}

// Acker acknowledges or rejects one delivery. amqp091.Delivery satisfies it.
type Acker interface {
	Ack(multiple bool) error
	Reject(requeue bool) error
}

// Delivery is one inbound message plus its acknowledgment handle. The
// consumer must call Ack after successful handling or Reject otherwise;
// unacknowledged deliveries are redelivered by the broker.
type Delivery struct {
	Body []byte
	Acker
}
