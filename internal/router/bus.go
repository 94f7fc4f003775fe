package router

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lalith-99/pressroom/internal/codec"
	"github.com/lalith-99/pressroom/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultBusChannel = "pressroom:route"

// Bus routes through redis pub/sub so every node delivers to the
// connections it holds. While this node is subscribed it receives its own
// envelopes back from redis and Route does not deliver locally. While it
// is not (before Run subscribes, during a backoff, or when the publish
// fails) Route delivers to this node's connections directly.
type Bus struct {
	client  redis.UniversalClient
	channel string
	local   *Local
	logger  *zap.Logger

	subscribed atomic.Bool

	// newBackOff is swapped in tests.
	newBackOff func() backoff.BackOff
}

func NewBus(client redis.UniversalClient, channel string, local *Local, logger *zap.Logger) *Bus {
	if channel == "" {
		channel = DefaultBusChannel
	}
	return &Bus{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger.With(zap.String("channel", channel)),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = 0 // keep trying until shutdown
			return bo
		},
	}
}

// Route publishes env for the other nodes and makes sure this node's
// connections get it exactly once.
func (b *Bus) Route(ctx context.Context, env Envelope) {
	payload, err := codec.Marshal(env)
	if err != nil {
		b.logger.Error("encode envelope", zap.String("type", env.Event.Type), zap.Error(err))
		return
	}
	receivers, err := b.client.Publish(ctx, b.channel, payload).Result()
	if err != nil {
		metrics.BusPublishes.WithLabelValues("error").Inc()
		b.logger.Warn("bus publish failed, delivering locally",
			zap.String("type", env.Event.Type), zap.Error(err))
		b.local.Deliver(env)
		return
	}
	metrics.BusPublishes.WithLabelValues("ok").Inc()

	// Zero receivers means no node, this one included, is subscribed.
	if receivers == 0 || !b.subscribed.Load() {
		b.local.Deliver(env)
	}
}

// Subscribed reports whether this node currently receives bus envelopes.
func (b *Bus) Subscribed() bool {
	return b.subscribed.Load()
}

// Run consumes the channel until ctx is cancelled, resubscribing with
// exponential backoff whenever the subscription breaks.
func (b *Bus) Run(ctx context.Context) error {
	bo := backoff.WithContext(b.newBackOff(), ctx)

	for {
		err := b.consume(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		b.logger.Warn("bus subscription lost, retrying", zap.Duration("in", wait), zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (b *Bus) consume(ctx context.Context, bo backoff.BackOff) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		b.subscribed.Store(false)
		if err := sub.Close(); err != nil {
			b.logger.Debug("close subscription", zap.Error(err))
		}
	}()

	// Wait for the subscribe confirmation before declaring success.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	bo.Reset()
	b.subscribed.Store(true)
	b.logger.Info("bus subscribed")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		b.handle(msg.Payload)
	}
}

func (b *Bus) handle(payload string) int {
	var env Envelope
	if err := codec.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error("decode envelope", zap.Error(err))
		return 0
	}
	return b.local.Deliver(env)
}
