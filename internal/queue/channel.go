package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/docintake/internal/common"
)

// Delivery is one received message. Ack after the work it triggers is fully
// done; Nack drops it.
type Delivery[T any] struct {
	Msg    T
	Source string // "broker" | "local"
	raw    *Message
}

func (d Delivery[T]) Ack() error {
	if d.raw == nil {
		return nil
	}
	return d.raw.Ack()
}

func (d Delivery[T]) Nack() error {
	if d.raw == nil {
		return nil
	}
	return d.raw.Nack(false)
}

// Channel is a typed queue: broker first, LocalQueue when the broker fails.
type Channel[T any] struct {
	name     string
	broker   Broker
	local    *LocalQueue
	codec    Codec[T]
	poll     time.Duration
	degraded atomic.Bool
	log      *slog.Logger
}

// NewChannel returns a channel on the named queue. A nil broker runs in
// local-only mode.
func NewChannel[T any](name string, broker Broker, codec Codec[T], poll time.Duration, logger *slog.Logger) *Channel[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = time.Second
	}
	c := &Channel[T]{
		name:   name,
		broker: broker,
		local:  NewLocalQueue(),
		codec:  codec,
		poll:   poll,
		log:    logger.With("queue", name),
	}
	c.degraded.Store(broker == nil)
	return c
}

func (c *Channel[T]) Name() string { return c.name }

// Degraded reports whether the last broker interaction failed, or no broker
// is configured at all.
func (c *Channel[T]) Degraded() bool { return c.degraded.Load() }

// Publish sends msg through the broker, falling back to the local queue on
// any broker error. It only fails when msg cannot be encoded.
func (c *Channel[T]) Publish(ctx context.Context, msg T) error {
	body, err := c.codec.Encode(msg)
	if err != nil {
		return common.WrapError(err, "encode message")
	}
	if c.broker != nil {
		err := c.broker.Publish(ctx, c.name, body)
		if err == nil {
			c.markHealthy()
			return nil
		}
		c.log.Warn("broker publish failed, using local fallback", "error", err)
		c.degraded.Store(true)
	}
	c.local.Push(body)
	return nil
}

// Receive returns the next message, draining the local fallback first. It
// polls the broker until timeout and then returns ErrEmpty.
func (c *Channel[T]) Receive(ctx context.Context, timeout time.Duration) (Delivery[T], error) {
	deadline := time.Now().Add(timeout)
	for {
		if d, ok := c.receiveLocal(); ok {
			return d, nil
		}
		if d, ok := c.receiveBroker(ctx); ok {
			return d, nil
		}
		if err := ctx.Err(); err != nil {
			return Delivery[T]{}, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Delivery[T]{}, common.ErrEmpty
		}
		wait := c.poll
		if remaining < wait {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return Delivery[T]{}, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Channel[T]) receiveLocal() (Delivery[T], bool) {
	for {
		body, ok := c.local.Pop()
		if !ok {
			return Delivery[T]{}, false
		}
		msg, err := c.codec.Decode(body)
		if err != nil {
			c.log.Error("dropping malformed local message", "error", err)
			continue
		}
		return Delivery[T]{Msg: msg, Source: "local"}, true
	}
}

func (c *Channel[T]) receiveBroker(ctx context.Context) (Delivery[T], bool) {
	if c.broker == nil {
		return Delivery[T]{}, false
	}
	for {
		raw, ok, err := c.broker.Get(ctx, c.name)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug("broker get failed", "error", err)
				c.degraded.Store(true)
			}
			return Delivery[T]{}, false
		}
		c.markHealthy()
		if !ok {
			return Delivery[T]{}, false
		}
		msg, err := c.codec.Decode(raw.Body)
		if err != nil {
			c.log.Error("dropping malformed broker message", "error", err)
			if nackErr := raw.Nack(false); nackErr != nil {
				c.log.Warn("nack failed", "error", nackErr)
			}
			continue
		}
		return Delivery[T]{Msg: msg, Source: "broker", raw: raw}, true
	}
}

func (c *Channel[T]) markHealthy() {
	if c.degraded.Swap(false) {
		c.log.Info("broker reachable again")
	}
}

// Depth is the number of messages waiting locally plus on the broker.
func (c *Channel[T]) Depth(ctx context.Context) int {
	n := c.local.Len()
	if c.broker == nil {
		return n
	}
	remote, err := c.broker.Depth(ctx, c.name)
	if err != nil {
		c.degraded.Store(true)
		return n
	}
	c.markHealthy()
	return n + remote
}

// LocalLen is the number of messages held in the fallback queue.
func (c *Channel[T]) LocalLen() int { return c.local.Len() }
