// Package mq_notifier publishes download notifications to a RabbitMQ queue.
package mq_notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"histdata/go_src/configuration"
	"histdata/go_src/download"
)

const (
	publishTimeout = 5 * time.Second
	bufferSize     = 256
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends events to a durable queue from a background goroutine.
// Publish never blocks the caller: when the buffer is full the event is dropped.
type Publisher struct {
	ch    amqpChannel
	conn  io.Closer
	queue string

	events chan download.Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Dial connects to the broker described by cfg and declares its queue.
func Dial(cfg configuration.RabbitMQ) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}
	p, err := NewPublisher(ch, cfg.QueueName)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	logrus.Infof("Publishing download notifications to RabbitMQ queue '%s' on %s:%d", cfg.QueueName, cfg.Host, cfg.Port)
	return p, nil
}

// NewPublisher declares queue on ch and starts the publishing goroutine.
func NewPublisher(ch amqpChannel, queue string) (*Publisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq channel cannot be nil")
	}
	if queue == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare RabbitMQ queue '%s': %w", queue, err)
	}

	p := &Publisher{
		ch:     ch,
		queue:  queue,
		events: make(chan download.Event, bufferSize),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

// Publish queues ev for delivery. It implements download.EventSink.
func (p *Publisher) Publish(ev download.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		logrus.Warnf("RabbitMQ publish buffer full, dropping %s event for run %s", ev.Kind, ev.RunID)
	}
}

// Close delivers what is still buffered, then closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.done
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (p *Publisher) loop() {
	defer close(p.done)
	for ev := range p.events {
		if err := p.send(ev); err != nil {
			logrus.Errorf("Failed to publish %s event for run %s: %v", ev.Kind, ev.RunID, err)
		}
	}
}

func (p *Publisher) send(ev download.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON for RabbitMQ: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx,
		"",      // exchange (default)
		p.queue, // routing key (queue name)
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.Timestamp,
			Type:         string(ev.Kind),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to RabbitMQ queue '%s': %w", p.queue, err)
	}
	return nil
}
