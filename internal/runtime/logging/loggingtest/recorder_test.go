package loggingtest

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/messagebus/internal/runtime/logging"
)

func TestRecorderSharesEntriesAcrossWith(t *testing.T) {
	rec := New()
	child := rec.With(logging.LogFields{"cluster": "main"})

	rec.Info("boot", nil)
	boom := errors.New("boom")
	child.Error("failed", boom, logging.LogFields{"destination": "orders"})

	entries := rec.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Level: "INFO", Msg: "boot", Fields: logging.LogFields{}}, entries[0])
	assert.Equal(t, "ERROR", entries[1].Level)
	assert.ErrorIs(t, entries[1].Err, boom)
	assert.Equal(t, logging.LogFields{"cluster": "main", "destination": "orders"}, entries[1].Fields)
}

func TestRecorderFilters(t *testing.T) {
	rec := New()
	rec.Debug("a", nil)
	rec.Warn("b", nil)
	rec.Trace("c", nil)
	rec.Warn("d", nil)

	assert.Len(t, rec.Level("WARN"), 2)
	e, ok := rec.Find("c")
	require.True(t, ok)
	assert.Equal(t, "TRACE", e.Level)
	_, ok = rec.Find("missing")
	assert.False(t, ok)

	rec.Reset()
	assert.Empty(t, rec.Entries())
}

func TestRecorderConcurrentWrites(t *testing.T) {
	rec := New()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.With(logging.LogFields{"k": "v"}).Info("msg", nil)
		}()
	}
	wg.Wait()
	assert.Len(t, rec.Entries(), 20)
}
