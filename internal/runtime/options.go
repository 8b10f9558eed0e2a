package runtime

import (
	"time"

	metadatapkg "github.com/drblury/messagebus/internal/runtime/metadata"
)

type publishOptions struct {
	delayMs   int64
	safe      bool
	binary    bool
	messageID string
	headers   metadatapkg.Headers
}

func defaultPublishOptions() publishOptions {
	return publishOptions{safe: true}
}

// PublishOption customises a single publish call.
type PublishOption func(*publishOptions)

// WithDelay schedules delivery ms milliseconds after the call. Zero means
// immediate delivery and adds no header.
func WithDelay(ms int64) PublishOption {
	return func(o *publishOptions) {
		o.delayMs = ms
	}
}

// WithDelayDuration is WithDelay for a time.Duration, truncated to
// milliseconds.
func WithDelayDuration(d time.Duration) PublishOption {
	return WithDelay(d.Milliseconds())
}

// WithSafe selects a synchronous (true, the default) or fire-and-forget
// (false) producer call.
func WithSafe(safe bool) PublishOption {
	return func(o *publishOptions) {
		o.safe = safe
	}
}

// WithBinary builds the envelope on the binary path.
func WithBinary() PublishOption {
	return func(o *publishOptions) {
		o.binary = true
	}
}

// WithMessageID uses id instead of a generated ULID.
func WithMessageID(id string) PublishOption {
	return func(o *publishOptions) {
		o.messageID = id
	}
}

// WithHeaders adds caller headers. Repeated calls merge.
func WithHeaders(headers map[string]string) PublishOption {
	return func(o *publishOptions) {
		o.headers = o.headers.WithAll(metadatapkg.FromMap(headers))
	}
}
