package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/messagebus/transport"
	"github.com/drblury/messagebus/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.False(t, caps.SupportsDelay)
	assert.True(t, caps.SupportsTracing)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuildPostsToDestinationPath(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		body  []byte
	)
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		body = raw
		mu.Unlock()
		w.WriteHeader(nethttp.StatusNoContent)
	}))
	defer srv.Close()

	tr, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: srv.URL + "/bus/"}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Publisher.Close()

	msg := message.NewMessage("1", []byte(`{"id":1}`))
	msg.Metadata.Set(transport.ScheduledDeliveryTimeMsHeader, "1700000005000")
	require.NoError(t, tr.Publisher.Publish("orders", msg))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/bus/orders"}, paths)
	assert.JSONEq(t, `{"id":1}`, string(body))
}

func TestBuild(t *testing.T) {
	t.Run("requires url", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher URL is required")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: "http://localhost:8080"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})
}

func TestMarshalToJoinsPath(t *testing.T) {
	req, err := marshalTo("http://localhost:8080/api")("payments", message.NewMessage("1", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/payments", req.URL.String())
	assert.Equal(t, nethttp.MethodPost, req.Method)
}
