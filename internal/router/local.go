// Package router pushes events to the live connections of a scope.
//
// Delivery is best effort. A connection that cannot take the frame is
// treated as offline; callers never see an error and never retry. The
// durable record in the store is the source of truth.
package router

import (
	"context"

	"github.com/lalith-99/pressroom/internal/codec"
	"github.com/lalith-99/pressroom/internal/metrics"
	"github.com/lalith-99/pressroom/internal/presence"
	"go.uber.org/zap"
)

// Router is what the services push through.
type Router interface {
	Route(ctx context.Context, env Envelope)
}

// Local delivers to connections held by this process.
type Local struct {
	presence *presence.Registry
	logger   *zap.Logger
}

func NewLocal(reg *presence.Registry, logger *zap.Logger) *Local {
	return &Local{presence: reg, logger: logger}
}

func (l *Local) Route(_ context.Context, env Envelope) {
	l.Deliver(env)
}

// Deliver enqueues the event on every resolved connection and returns how
// many accepted it. Enqueue is non-blocking, so two events routed one
// after the other from the same goroutine reach each target in that order.
func (l *Local) Deliver(env Envelope) int {
	targets := l.presence.ConnectionsFor(env.Scope)
	if len(targets) == 0 {
		return 0
	}

	frame, err := codec.Marshal(env.Event)
	if err != nil {
		l.logger.Error("encode event", zap.String("type", env.Event.Type), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if c.ID() == env.ExceptConn {
			continue
		}
		if c.Enqueue(frame) {
			delivered++
			metrics.Pushes.WithLabelValues(env.Event.Type, "delivered").Inc()
			continue
		}
		metrics.Pushes.WithLabelValues(env.Event.Type, "dropped").Inc()
		l.logger.Warn("connection dropped push, closing",
			zap.String("conn_id", c.ID()),
			zap.String("user_id", c.Principal().ID.String()),
			zap.String("type", env.Event.Type),
		)
	}
	return delivered
}
