// Package broker pulls OTLP-shaped JSON payloads off a RabbitMQ stream
// queue, reconnecting with exponential backoff and acknowledging messages
// immediately since stream queues do not support nack/reject.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/haasonsaas/telemetry-pipeline/internal/backoff"
	"github.com/haasonsaas/telemetry-pipeline/internal/otlp"
)

// reconnectPolicy doubles from 1s up to a 30s ceiling.
var reconnectPolicy = backoff.BackoffPolicy{InitialMs: 1000, MaxMs: 30000, Factor: 2, Jitter: 0}

// inactivityTimeout bounds how long a single Consume read blocks with no
// message available, letting the caller's loop progress.
const inactivityTimeout = 500 * time.Millisecond

// ErrTransientBroker indicates the connection was lost; the caller should
// retry after the source's internal backoff has elapsed.
var ErrTransientBroker = errors.New("broker: transient connection failure")

// Config configures the RabbitMQ stream source.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Queue    string
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 5672
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.User, c.Password, c.Host, port)
}

// Source is a dynamic source that yields decoded OTLP payloads from a
// stream-type queue. It is not safe for concurrent Next calls; the
// pipeline runs a single goroutine per partition.
type Source struct {
	cfg    Config
	logger *slog.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
	msgs    <-chan amqp.Delivery

	attempt      atomic.Int64
	lastAttempts time.Time
}

// New creates a Source. Connection setup happens lazily on the first Next
// call.
func New(cfg Config, logger *slog.Logger) *Source {
	if cfg.Queue == "" {
		cfg.Queue = "otel-telemetry"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg, logger: logger}
}

// Next pulls the next batch of decoded payloads. An empty, nil-error batch
// means the inactivity timeout elapsed with nothing to deliver; callers
// should loop and call Next again. A non-nil error is always
// ErrTransientBroker and indicates the connection was lost or never
// established; the caller should wait out the source's own backoff (Next
// self-paces reconnect attempts) before calling again.
func (s *Source) Next(ctx context.Context) ([]otlp.Payload, error) {
	if s.msgs == nil {
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-s.msgs:
		if !ok {
			s.reset()
			return nil, ErrTransientBroker
		}
		_ = d.Ack(false)
		var payload otlp.Payload
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			s.logger.Warn("broker: discarding non-JSON message", "queue", s.cfg.Queue, "error", err)
			return nil, nil
		}
		return []otlp.Payload{payload}, nil
	case <-time.After(inactivityTimeout):
		return nil, nil
	}
}

func (s *Source) connect(ctx context.Context) error {
	wait := backoff.ComputeBackoff(reconnectPolicy, int(s.attempt.Load())+1)
	if s.attempt.Load() > 0 {
		s.logger.Info("broker: reconnecting", "queue", s.cfg.Queue, "backoff", wait, "attempt", s.attempt.Load())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	conn, err := amqp.Dial(s.cfg.addr())
	if err != nil {
		s.attempt.Add(1)
		return fmt.Errorf("%w: dial: %v", ErrTransientBroker, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		s.attempt.Add(1)
		return fmt.Errorf("%w: channel: %v", ErrTransientBroker, err)
	}

	// Declare the target as a stream-type queue: durable, idempotent.
	_, err = ch.QueueDeclare(s.cfg.Queue, true, false, false, false, amqp.Table{
		"x-queue-type": "stream",
	})
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		s.attempt.Add(1)
		return fmt.Errorf("%w: declare: %v", ErrTransientBroker, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		s.attempt.Add(1)
		return fmt.Errorf("%w: qos: %v", ErrTransientBroker, err)
	}

	msgs, err := ch.Consume(s.cfg.Queue, "", false, false, false, false, amqp.Table{
		"x-stream-offset": "first",
	})
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		s.attempt.Add(1)
		return fmt.Errorf("%w: consume: %v", ErrTransientBroker, err)
	}

	s.conn = conn
	s.channel = ch
	s.msgs = msgs
	s.attempt.Store(0)
	s.logger.Info("broker: connected", "queue", s.cfg.Queue)
	return nil
}

func (s *Source) reset() {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.channel = nil
	s.msgs = nil
}

// Close releases the underlying connection.
func (s *Source) Close() error {
	s.reset()
	return nil
}
