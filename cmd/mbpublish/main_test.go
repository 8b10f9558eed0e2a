package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drblury/messagebus"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	conf := `{
  "log_level": "ERROR",
  "log_file": "` + filepath.Join(dir, "client.log") + `",
  "cluster_defaults": {"transport": "channel"},
  "clusters": [
    {"name": "local", "destinations": ["orders", "users"]}
  ]
}`
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o600))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"mbpublish"}, args...))
	return out.String(), err
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	headers, err := parseHeaders([]string{"a=1", "b = x=y", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": " x=y", "empty": ""}, headers)

	headers, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, headers)

	for _, bad := range []string{"novalue", "=v", " =v"} {
		_, err := parseHeaders([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPublishCommand(t *testing.T) {
	path := writeConfig(t)

	out, err := runApp(t, "publish", "--config", path,
		"-d", "orders", "-p", `{"id":1}`, "-H", "tenant=acme", "--delay", "2s", "--message-id", "msg-1")
	require.NoError(t, err)

	var view resultView
	require.NoError(t, messagebus.Unmarshal([]byte(out), &view))
	assert.Equal(t, "orders", view.Destination)
	assert.Equal(t, "msg-1", view.MessageID)
	assert.Equal(t, string(messagebus.OutcomeSuccess), view.Outcome)
	assert.Equal(t, "acme", view.Headers["tenant"])
	assert.NotEmpty(t, view.Headers[messagebus.ScheduledDeliveryTimeMsHeader])
}

type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	synced int
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced++
	return nil
}

func TestPublishCommandVerboseFlushesLogger(t *testing.T) {
	sink := &syncBuffer{}
	orig := newZapLogger
	newZapLogger = func() (*zap.Logger, error) {
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()), sink, zap.DebugLevel)
		return zap.New(core), nil
	}
	t.Cleanup(func() { newZapLogger = orig })

	path := writeConfig(t)
	_, err := runApp(t, "publish", "--config", path, "--verbose", "-d", "orders", "-p", "x")
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.synced)
	assert.Contains(t, sink.buf.String(), "Initializing messagebus client")
}

func TestPublishCommandUnsafeBinary(t *testing.T) {
	path := writeConfig(t)

	out, err := runApp(t, "publish", "--config", path, "-d", "users", "-p", "raw", "--binary", "--safe=false")
	require.NoError(t, err)

	var view resultView
	require.NoError(t, messagebus.Unmarshal([]byte(out), &view))
	assert.Equal(t, string(messagebus.OutcomeSuccess), view.Outcome)
	assert.NotEmpty(t, view.MessageID)
	assert.NotContains(t, view.Headers, messagebus.ScheduledDeliveryTimeMsHeader)
}

func TestPublishCommandUnknownDestination(t *testing.T) {
	path := writeConfig(t)

	_, err := runApp(t, "publish", "--config", path, "-d", "missing", "-p", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, messagebus.ErrInvalidDestination)
}

func TestPublishCommandRejectsBadInput(t *testing.T) {
	path := writeConfig(t)

	_, err := runApp(t, "publish", "--config", path, "-d", "orders", "-p", "x", "-H", "broken")
	assert.ErrorContains(t, err, "key=value")

	_, err = runApp(t, "publish", "--config", path, "-d", "orders", "-p", "x", "--delay=-1s")
	assert.ErrorContains(t, err, "negative")

	_, err = runApp(t, "publish", "--config", path, "-p", "x")
	assert.ErrorContains(t, err, "destination")

	_, err = runApp(t, "publish", "--config", filepath.Join(t.TempDir(), "absent.json"), "-d", "orders", "-p", "x")
	assert.ErrorContains(t, err, "read config")
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t)

	out, err := runApp(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "orders\tlocal\tchannel\nusers\tlocal\tchannel\n", out)
}

func TestCheckCommandInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"clusters": [{"name": "a", "transport": "channel", "destinations": ["orders"]}, {"name": "b", "transport": "channel", "destinations": ["orders"]}]}`), 0o600))

	_, err := runApp(t, "check", "--config", path)
	assert.ErrorContains(t, err, "already served by a")
}
