// Package rabbitmq wraps the AMQP plumbing used to move mail jobs from the
// API process to the mail sender.
package rabbitmq

import (
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// MailExchange is the direct exchange mail jobs are published to.
const MailExchange = "mail"

// QueueConfig binds a durable queue to the exchange under a routing key.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// MailQueues returns the queue layout for the given queue name. The
// routing key equals the queue name.
func MailQueues(queue string) []QueueConfig {
	return []QueueConfig{{QueueName: queue, RoutingKey: queue}}
}

// Connect dials the broker, retrying up to retries times.
func Connect(connection string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	var (
		conn *amqp.Connection
		err  error
	)
	if retries < 1 {
		retries = 1
	}
	for i := range retries {
		conn, err = amqp.Dial(connection)
		if err == nil {
			return conn, nil
		}
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("%s: %w", op, err)
}

// SetupChannel opens a channel, declares the mail exchange and binds queues.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("%s: failed to set QoS: %w", op, err)
	}

	if err := ch.ExchangeDeclare(MailExchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, MailExchange, false, nil); err != nil {
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}
	return ch, nil
}
