package runtime

import (
	"context"
	"time"

	"github.com/drblury/messagebus/internal/runtime/logging"
)

// PublishContext provides information about a publish attempt to hooks.
type PublishContext struct {
	// Destination is the requested destination name.
	Destination string
	// MessageID is the envelope id; empty before the envelope exists.
	MessageID string
	// Headers are the headers handed to the producer.
	Headers map[string]string
	// Safe reports a synchronous producer call.
	Safe bool
	// Binary reports the binary envelope path.
	Binary bool
	// Context is the caller's context, carrying the publish span.
	Context context.Context
	// StartedAt is when the publish call began.
	StartedAt time.Time
	// Duration is the producer call time (only set in OnPublishDone and
	// OnPublishError).
	Duration time.Duration
	// Outcome is set in OnPublishDone and OnPublishError.
	Outcome Outcome
}

// PublishHooks defines callbacks around each publish attempt.
// All hooks are optional - nil hooks are simply not called.
type PublishHooks struct {
	// OnPublishStart is called once the destination resolved, before the
	// producer call.
	OnPublishStart func(ctx PublishContext)

	// OnPublishDone is called after a successful publish.
	OnPublishDone func(ctx PublishContext)

	// OnPublishError is called for every other outcome. err is the fault,
	// ErrPublishRejected, ErrClientDisabled or the invalid destination error.
	OnPublishError func(ctx PublishContext, err error)
}

// Merge combines two PublishHooks. The hooks from other run after h.
func (h PublishHooks) Merge(other PublishHooks) PublishHooks {
	return PublishHooks{
		OnPublishStart: chainHooks(h.OnPublishStart, other.OnPublishStart),
		OnPublishDone:  chainHooks(h.OnPublishDone, other.OnPublishDone),
		OnPublishError: chainErrorHooks(h.OnPublishError, other.OnPublishError),
	}
}

func chainHooks(a, b func(PublishContext)) func(PublishContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx PublishContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(PublishContext, error)) func(PublishContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx PublishContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h PublishHooks) start(ctx PublishContext) {
	if h.OnPublishStart != nil {
		h.OnPublishStart(ctx)
	}
}

func (h PublishHooks) finish(ctx PublishContext, err error) {
	if ctx.Outcome == OutcomeSuccess {
		if h.OnPublishDone != nil {
			h.OnPublishDone(ctx)
		}
		return
	}
	if h.OnPublishError != nil {
		h.OnPublishError(ctx, err)
	}
}

// DebugHooks returns hooks that trace publish attempts at debug level.
func DebugHooks(logger logging.ServiceLogger) PublishHooks {
	return PublishHooks{
		OnPublishStart: func(ctx PublishContext) {
			logger.Debug("Publish started", logging.LogFields{
				"destination": ctx.Destination,
				"message_id":  ctx.MessageID,
				"safe":        ctx.Safe,
			})
		},
	}
}

// MetricsHooks returns hooks that report publish attempts by destination.
func MetricsHooks(onStart, onDone, onError func(destination string)) PublishHooks {
	return PublishHooks{
		OnPublishStart: func(ctx PublishContext) {
			if onStart != nil {
				onStart(ctx.Destination)
			}
		},
		OnPublishDone: func(ctx PublishContext) {
			if onDone != nil {
				onDone(ctx.Destination)
			}
		},
		OnPublishError: func(ctx PublishContext, err error) {
			if onError != nil {
				onError(ctx.Destination)
			}
		},
	}
}

// AlertingHooks returns hooks that trigger alerts on failed publishes.
func AlertingHooks(alertFunc func(ctx PublishContext, err error)) PublishHooks {
	return PublishHooks{
		OnPublishError: alertFunc,
	}
}
