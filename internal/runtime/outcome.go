package runtime

import "time"

// Outcome classifies a publish attempt.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeRejected           Outcome = "rejected"
	OutcomeError              Outcome = "error"
	OutcomeDisabled           Outcome = "disabled"
	OutcomeInvalidDestination Outcome = "invalid_destination"
)

// PublishResult describes one publish attempt.
type PublishResult struct {
	Destination string
	// MessageID is empty when no envelope was built.
	MessageID string
	Outcome   Outcome
	// Duration is the producer call time rounded to whole milliseconds.
	Duration time.Duration
	// Headers are the headers handed to the producer.
	Headers map[string]string
	// Err is the producer fault of an OutcomeError attempt, ErrPublishRejected,
	// ErrClientDisabled, or the invalid destination error.
	Err error
}

// OK reports whether the message was accepted.
func (r PublishResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}
