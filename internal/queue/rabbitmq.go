package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	eventsExchange = "notify.dlx"

	minRedialDelay = time.Second
	maxRedialDelay = 30 * time.Second
)

// Topology describes the events queue and where rejected events land.
type Topology struct {
	Queue       string
	DeadLetterQ string
	DeadLetterX string
	RoutingKey  string
	MaxPriority int32
}

// EventsTopology is the layout the intake consumer and the publisher share.
func EventsTopology() Topology {
	return Topology{
		Queue:       EventsQueue,
		DeadLetterQ: EventsDLQ,
		DeadLetterX: eventsExchange,
		RoutingKey:  eventsRoutingKey,
		MaxPriority: queueMaxPriority,
	}
}

func (t Topology) queueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterX,
		"x-dead-letter-routing-key": t.RoutingKey,
		"x-max-priority":            t.MaxPriority,
	}
}

// declare is idempotent; RabbitMQ accepts redeclaration with equal arguments.
func (t Topology) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(t.DeadLetterX, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", t.DeadLetterX, err)
	}
	if _, err := ch.QueueDeclare(t.DeadLetterQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", t.DeadLetterQ, err)
	}
	if err := ch.QueueBind(t.DeadLetterQ, t.RoutingKey, t.DeadLetterX, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", t.DeadLetterQ, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, t.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", t.Queue, err)
	}
	return nil
}

// nextRedialDelay doubles d up to maxRedialDelay.
func nextRedialDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return minRedialDelay
	}
	return min(d*2, maxRedialDelay)
}

// RabbitMQ holds the broker connection for event intake. Every channel it
// hands out has the events topology declared.
type RabbitMQ struct {
	url      string
	topology Topology
	logger   *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	dialMu sync.Mutex
}

// NewRabbitMQ dials the broker, retrying until ctx ends.
func NewRabbitMQ(ctx context.Context, url string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, topology: EventsTopology(), logger: logger}
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a channel on a live connection, redialing once if the
// current connection refuses it.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.logger.Warn("rabbitmq channel open failed, redialing", zap.Error(err))
		r.drop(conn)
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
		}
	}

	if err := r.topology.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) live() *amqp.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

// drop forgets conn if it is still the current connection.
func (r *RabbitMQ) drop(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

// connection returns the live connection or dials a new one. Only one
// goroutine dials at a time; the others wait and reuse its result.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.live(); conn != nil {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if conn := r.live(); conn != nil {
		return conn, nil
	}

	var delay time.Duration
	for attempt := 1; ; attempt++ {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			if attempt > 1 {
				r.logger.Info("rabbitmq connection restored", zap.Int("attempts", attempt))
			}
			return conn, nil
		}

		delay = nextRedialDelay(delay)
		r.logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}
