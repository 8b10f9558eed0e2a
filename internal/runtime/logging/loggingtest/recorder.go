// Package loggingtest records ServiceLogger output for assertions.
package loggingtest

import (
	"sync"

	"github.com/drblury/messagebus/internal/runtime/logging"
)

// Entry is one recorded log call.
type Entry struct {
	Level  string
	Msg    string
	Err    error
	Fields logging.LogFields
}

// Recorder is a ServiceLogger that keeps every entry in memory. Loggers
// derived with With share the recorder.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  logging.LogFields
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(fields logging.LogFields) logging.ServiceLogger {
	merged := make(logging.LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Recorder{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *Recorder) Debug(msg string, fields logging.LogFields) { r.add("DEBUG", msg, nil, fields) }
func (r *Recorder) Info(msg string, fields logging.LogFields)  { r.add("INFO", msg, nil, fields) }
func (r *Recorder) Warn(msg string, fields logging.LogFields)  { r.add("WARN", msg, nil, fields) }
func (r *Recorder) Trace(msg string, fields logging.LogFields) { r.add("TRACE", msg, nil, fields) }

func (r *Recorder) Error(msg string, err error, fields logging.LogFields) {
	r.add("ERROR", msg, err, fields)
}

func (r *Recorder) add(level, msg string, err error, fields logging.LogFields) {
	all := make(logging.LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		all[k] = v
	}
	for k, v := range fields {
		all[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Err: err, Fields: all})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), *r.entries...)
}

// Level returns the entries recorded at level.
func (r *Recorder) Level(level string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the first entry with msg.
func (r *Recorder) Find(msg string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Msg == msg {
			return e, true
		}
	}
	return Entry{}, false
}

// Reset drops all entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = nil
}
