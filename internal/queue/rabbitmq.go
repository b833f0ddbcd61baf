package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/joseph-ayodele/docintake/internal/common"
)

// RabbitMQ is a Broker over a single lazily dialled connection. A failed
// operation drops the connection so the next call redials; a circuit breaker
// keeps a down broker from being redialled on every call.
type RabbitMQ struct {
	url         string
	dialTimeout time.Duration
	cb          *gobreaker.CircuitBreaker
	log         *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewRabbitMQ returns a broker that dials on first use.
func NewRabbitMQ(cfg common.QueueConfig, logger *slog.Logger) *RabbitMQ {
	if logger == nil {
		logger = slog.Default()
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	r := &RabbitMQ{url: cfg.URL, dialTimeout: dialTimeout, log: logger}
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "rabbitmq",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("broker circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

// channel returns the live channel, dialling if needed. Caller holds r.mu.
func (r *RabbitMQ) channel() (*amqp.Channel, error) {
	if r.conn != nil && !r.conn.IsClosed() && r.ch != nil {
		return r.ch, nil
	}
	r.resetLocked()

	conn, err := amqp.DialConfig(r.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(r.dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	r.conn, r.ch = conn, ch
	r.declared = map[string]bool{}
	r.log.Info("connected to broker")
	return ch, nil
}

func (r *RabbitMQ) resetLocked() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.ch, r.conn, r.declared = nil, nil, nil
}

// declare makes queue durable and returns its ready-message count.
func (r *RabbitMQ) declare(ch *amqp.Channel, queue string) (int, error) {
	q, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return 0, fmt.Errorf("declare %s: %w", queue, err)
	}
	r.declared[queue] = true
	return q.Messages, nil
}

// do runs fn on the live channel under the breaker. Any failure drops the
// connection and is reported as ErrBrokerUnavailable.
func (r *RabbitMQ) do(queue string, fn func(ch *amqp.Channel) (any, error)) (any, error) {
	out, err := r.cb.Execute(func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		ch, err := r.channel()
		if err != nil {
			return nil, err
		}
		if !r.declared[queue] {
			if _, err := r.declare(ch, queue); err != nil {
				r.resetLocked()
				return nil, err
			}
		}
		v, err := fn(ch)
		if err != nil {
			r.resetLocked()
		}
		return v, err
	})
	if err != nil {
		return nil, errors.Join(common.ErrBrokerUnavailable, err)
	}
	return out, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, queue string, body []byte) error {
	v, err := r.do(queue, func(ch *amqp.Channel) (any, error) {
		return ch.PublishWithDeferredConfirmWithContext(ctx,
			"",    // default exchange
			queue, // routing key
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now().UTC(),
				Body:         body,
			})
	})
	if err != nil {
		return err
	}
	dc, _ := v.(*amqp.DeferredConfirmation)
	if dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return errors.Join(common.ErrBrokerUnavailable, err)
	}
	if !acked {
		return errors.Join(common.ErrBrokerUnavailable, errors.New("publish not confirmed"))
	}
	return nil
}

func (r *RabbitMQ) Get(ctx context.Context, queue string) (*Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var (
		d  amqp.Delivery
		ok bool
	)
	_, err := r.do(queue, func(ch *amqp.Channel) (any, error) {
		var err error
		d, ok, err = ch.Get(queue, false)
		return nil, err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return NewMessage(d.Body,
		func() error { return d.Ack(false) },
		func(requeue bool) error { return d.Nack(false, requeue) },
	), true, nil
}

func (r *RabbitMQ) Depth(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := r.do(queue, func(ch *amqp.Channel) (any, error) {
		return r.declare(ch, queue)
	})
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}

// Connected reports whether a connection is currently open.
func (r *RabbitMQ) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	return nil
}
