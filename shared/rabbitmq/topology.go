package rabbitmq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrTopology is returned when the exchange, queue or binding cannot be declared.
var ErrTopology = errors.New("rabbitmq: topology declaration failed")

// Topology describes the exchange and queues a client depends on.
// Declaration is idempotent as long as every attribute matches what the
// broker already holds.
type Topology struct {
	ExchangeName    string
	ExchangeType    string
	ExchangeDurable bool
	QueueName       string
	QueueDurable    bool
	RoutingKey      string

	// DeadLetterQueue is an optional durable queue bound to the same
	// exchange with its own name as routing key.
	DeadLetterQueue string
}

// Declarer is the part of *amqp.Channel used to declare a topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Ensure declares the exchange, the work queue, its binding and the
// optional dead-letter queue. Every failure wraps ErrTopology.
func Ensure(ch Declarer, t Topology) error {
	err := ch.ExchangeDeclare(
		t.ExchangeName,    // name
		t.ExchangeType,    // type
		t.ExchangeDurable, // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("%w: failed to declare exchange %s: %w", ErrTopology, t.ExchangeName, err)
	}

	if err := declareBoundQueue(ch, t.ExchangeName, t.QueueName, t.RoutingKey, t.QueueDurable); err != nil {
		return err
	}

	if t.DeadLetterQueue != "" {
		if err := declareBoundQueue(ch, t.ExchangeName, t.DeadLetterQueue, t.DeadLetterQueue, true); err != nil {
			return err
		}
	}

	return nil
}

func declareBoundQueue(ch Declarer, exchange, queue, key string, durable bool) error {
	_, err := ch.QueueDeclare(
		queue,   // name
		durable, // durable
		false,   // auto-delete
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("%w: failed to declare queue %s: %w", ErrTopology, queue, err)
	}

	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return fmt.Errorf("%w: failed to bind queue %s to %s: %w", ErrTopology, queue, exchange, err)
	}

	return nil
}
