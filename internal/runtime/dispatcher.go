package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/messagebus/internal/runtime/clock"
	"github.com/drblury/messagebus/internal/runtime/envelope"
	errspkg "github.com/drblury/messagebus/internal/runtime/errors"
	"github.com/drblury/messagebus/internal/runtime/logging"
	metadatapkg "github.com/drblury/messagebus/internal/runtime/metadata"
	"github.com/drblury/messagebus/transport"
)

// Publish sends payload to destination and reports whether the producer
// accepted it. Only an unknown destination returns an error
// (*errors.InvalidDestinationError); every other failure is logged and
// reported as false.
func (c *Client) Publish(ctx context.Context, destination string, payload any, opts ...PublishOption) (bool, error) {
	res, err := c.PublishResult(ctx, destination, payload, opts...)
	return res.OK(), err
}

// PublishResult is Publish with the classified outcome of the attempt.
func (c *Client) PublishResult(ctx context.Context, destination string, payload any, opts ...PublishOption) (PublishResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := defaultPublishOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "messagebus.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", destination),
			attribute.Bool("messagebus.safe", o.safe),
		),
	)
	defer span.End()

	pctx := PublishContext{
		Destination: destination,
		Safe:        o.safe,
		Binary:      o.binary,
		Context:     ctx,
		StartedAt:   c.clock.Now(),
	}
	res := PublishResult{Destination: destination}
	fields := logging.LogFields{"destination": destination}

	if c.resources != nil {
		usage := c.resources.Snapshot()
		c.logger.Info("Publishing with thread debugging", logging.LogFields{
			"destination":  destination,
			"goroutines":   usage.Goroutines,
			"memory_bytes": usage.MemoryBytes,
			"cpu_percent":  usage.CPUPercent,
			"gomaxprocs":   usage.Procs,
		})
	}

	if !c.conf.EnableAutoInitConnections {
		fields["message_contents"] = payloadRepr(payload, o.binary)
		c.logger.Warn("Auto-init connections disabled; not publishing", fields)
		res.Outcome = OutcomeDisabled
		res.Err = errspkg.ErrClientDisabled
		c.finish(span, pctx, res)
		return res, nil
	}

	producer, ok := c.clusters.Find(destination)
	if !ok {
		err := &errspkg.InvalidDestinationError{Destination: destination}
		fields["message_contents"] = payloadRepr(payload, o.binary)
		c.logger.Error("Not publishing to unconfigured destination", err, fields)
		res.Outcome = OutcomeInvalidDestination
		res.Err = err
		c.finish(span, pctx, res)
		return res, err
	}

	msg, err := envelope.CreateWithID(payload, o.messageID, o.binary)
	if err != nil {
		fields["outcome"] = string(OutcomeError)
		fields["message_contents"] = payloadRepr(payload, o.binary)
		c.logger.Error("Failed to build message envelope", err, fields)
		res.Outcome = OutcomeError
		res.Err = err
		c.finish(span, pctx, res)
		return res, nil
	}
	res.MessageID = msg.ID
	pctx.MessageID = msg.ID
	fields["message_id"] = msg.ID
	span.SetAttributes(attribute.String("messaging.message.id", msg.ID))

	headers := c.headers(ctx, o)
	res.Headers = headers
	pctx.Headers = headers
	c.hooks.start(pctx)

	started := c.clock.Now()
	accepted, stack, err := c.callProducer(ctx, producer, destination, msg, headers, o.safe)
	elapsed := c.clock.Since(started)
	res.Duration = time.Duration(clock.RoundMillis(elapsed)) * time.Millisecond
	fields["duration_ms"] = res.Duration.Milliseconds()

	switch {
	case err != nil:
		res.Outcome = OutcomeError
		res.Err = err
		fields["outcome"] = string(res.Outcome)
		fields["message_contents"] = payloadRepr(payload, o.binary)
		fields["stack"] = stack
		c.logger.Error("Failed to publish message", err, fields)
	case !accepted:
		res.Outcome = OutcomeRejected
		res.Err = errspkg.ErrPublishRejected
		fields["outcome"] = string(res.Outcome)
		fields["message_contents"] = payloadRepr(payload, o.binary)
		c.logger.Error("Message rejected by producer", errspkg.ErrPublishRejected, fields)
	default:
		res.Outcome = OutcomeSuccess
		fields["outcome"] = string(res.Outcome)
		c.logger.Info("Message published", fields)
	}

	c.metrics.ObserveDuration(destination, string(res.Outcome), elapsed)
	c.finish(span, pctx, res)
	return res, nil
}

// headers merges the caller headers, the scheduled delivery header and the
// trace context.
func (c *Client) headers(ctx context.Context, o publishOptions) metadatapkg.Headers {
	headers := o.headers.Clone()
	if o.delayMs != 0 {
		at := clock.EpochMillis(c.clock.Now()) + o.delayMs
		headers[transport.ScheduledDeliveryTimeMsHeader] = strconv.FormatInt(at, 10)
	}
	c.propagator.Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

// callProducer converts a producer panic into an error carrying its stack.
func (c *Client) callProducer(ctx context.Context, producer Producer, destination string, msg *envelope.Message, headers metadatapkg.Headers, safe bool) (accepted bool, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			accepted = false
			err = fmt.Errorf("producer panicked: %v", r)
			stack = string(debug.Stack())
		}
	}()

	accepted, err = producer.Publish(ctx, destination, msg, headers, safe)
	if err != nil {
		stack = string(debug.Stack())
	}
	return accepted, stack, err
}

func (c *Client) finish(span trace.Span, pctx PublishContext, res PublishResult) {
	pctx.Outcome = res.Outcome
	pctx.Duration = res.Duration

	span.SetAttributes(attribute.String("messagebus.outcome", string(res.Outcome)))
	if res.Outcome == OutcomeSuccess {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Outcome))
	}

	c.metrics.ObservePublish(pctx.Destination, string(res.Outcome))
	c.hooks.finish(pctx, res.Err)
}

// payloadRepr renders a payload for log records. Binary payloads are
// summarised by size.
func payloadRepr(payload any, binary bool) string {
	switch p := payload.(type) {
	case nil:
		return "<nil>"
	case string:
		if binary {
			return fmt.Sprintf("<%d bytes>", len(p))
		}
		return p
	case []byte:
		if binary {
			return fmt.Sprintf("<%d bytes>", len(p))
		}
		return string(p)
	default:
		return fmt.Sprintf("%+v", p)
	}
}
