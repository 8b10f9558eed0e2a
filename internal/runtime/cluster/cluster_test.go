package cluster

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/messagebus/internal/runtime/clock"
	"github.com/drblury/messagebus/internal/runtime/config"
	"github.com/drblury/messagebus/internal/runtime/envelope"
	errspkg "github.com/drblury/messagebus/internal/runtime/errors"
	"github.com/drblury/messagebus/internal/runtime/logging/loggingtest"
	metadatapkg "github.com/drblury/messagebus/internal/runtime/metadata"
	"github.com/drblury/messagebus/transport"
	"github.com/drblury/messagebus/transport/transporttest"
)

// fakeTransports hands out one recording publisher per built cluster.
type fakeTransports struct {
	mu         sync.Mutex
	caps       transport.Capabilities
	err        error
	publishers []*transporttest.Publisher
	gate       chan struct{}
}

func (f *fakeTransports) registry() *transport.Registry {
	r := transport.NewRegistry()
	r.RegisterWithCapabilities("fake", func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return transport.Transport{}, f.err
		}
		pub := &transporttest.Publisher{Gate: f.gate}
		f.publishers = append(f.publishers, pub)
		return transport.Transport{Publisher: pub, Capabilities: f.caps}, nil
	}, f.caps)
	return r
}

func (f *fakeTransports) built() []*transporttest.Publisher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*transporttest.Publisher(nil), f.publishers...)
}

func clusters() []config.ClusterConfig {
	return []config.ClusterConfig{
		{Name: "orders", Transport: "fake", Destinations: []string{"orders.created", "orders.paid"}},
		{Name: "users", Transport: "fake", Destinations: []string{"users.signup"}},
	}
}

func newMessage(t *testing.T, payload any) *envelope.Message {
	t.Helper()
	msg, err := envelope.Create(payload, false)
	require.NoError(t, err)
	return msg
}

func TestMapFind(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	m := New(clusters(), loggingtest.New(), WithRegistry(fake.registry()))

	p1, ok := m.Find("orders.created")
	require.True(t, ok)
	p2, ok := m.Find("orders.paid")
	require.True(t, ok)
	assert.Same(t, p1, p2)

	p3, ok := m.Find("users.signup")
	require.True(t, ok)
	assert.NotSame(t, p1, p3)

	_, ok = m.Find("unknown-dest")
	assert.False(t, ok)
	assert.Equal(t, 3, m.Destinations())
}

func TestMapStartAndStop(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	m := New(clusters(), loggingtest.New(), WithRegistry(fake.registry()))

	p, _ := m.Find("orders.created")
	ok, err := p.Publish(context.Background(), "orders.created", newMessage(t, "x"), nil, true)
	require.NoError(t, err)
	assert.False(t, ok, "unstarted producer refuses")

	require.NoError(t, m.Start(context.Background()))
	require.Len(t, fake.built(), 2)

	ok, err = p.Publish(context.Background(), "orders.created", newMessage(t, "x"), nil, true)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Stop())
	for _, pub := range fake.built() {
		assert.True(t, pub.Closed())
	}
	require.NoError(t, m.Stop(), "stop is idempotent")

	ok, err = p.Publish(context.Background(), "orders.created", newMessage(t, "x"), nil, true)
	require.NoError(t, err)
	assert.False(t, ok, "closed producer refuses")
}

func TestMapStopWithoutStart(t *testing.T) {
	m := New(clusters(), loggingtest.New(), WithRegistry(transport.NewRegistry()))
	assert.NoError(t, m.Stop())
}

func TestMapStartFailureClosesStarted(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	registry := fake.registry()
	cls := clusters()
	cls[1].Transport = "missing"

	m := New(cls, loggingtest.New(), WithRegistry(registry))
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnknownTransport)

	built := fake.built()
	require.Len(t, built, 1)
	assert.True(t, built[0].Closed())
}

func TestMapUpdateConfig(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	m := New(clusters(), loggingtest.New(), WithRegistry(fake.registry()))
	require.NoError(t, m.Start(context.Background()))

	orders, _ := m.Find("orders.created")
	users, _ := m.Find("users.signup")

	next := []config.ClusterConfig{
		clusters()[0],
		{Name: "billing", Transport: "fake", Destinations: []string{"invoices"}},
	}
	require.NoError(t, m.UpdateConfig(context.Background(), next))

	sameOrders, ok := m.Find("orders.created")
	require.True(t, ok)
	assert.Same(t, orders, sameOrders, "unchanged cluster keeps its producer")

	_, ok = m.Find("users.signup")
	assert.False(t, ok)
	assert.False(t, users.(*TransportProducer).Started(), "retired producer is closed")

	billing, ok := m.Find("invoices")
	require.True(t, ok)
	assert.True(t, billing.(*TransportProducer).Started(), "new cluster is started")
	assert.Len(t, m.Producers(), 2)
}

func TestMapUpdateConfigRejectsInvalid(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	m := New(clusters(), loggingtest.New(), WithRegistry(fake.registry()))

	bad := []config.ClusterConfig{
		{Name: "a", Transport: "fake", Destinations: []string{"dup"}},
		{Name: "b", Transport: "fake", Destinations: []string{"dup"}},
	}
	err := m.UpdateConfig(context.Background(), bad)
	require.Error(t, err)
	assert.ErrorContains(t, err, "already served")

	_, ok := m.Find("orders.created")
	assert.True(t, ok, "old topology stays")
}

func TestMapUpdateConfigStartFailureKeepsOld(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	m := New(clusters(), loggingtest.New(), WithRegistry(fake.registry()))
	require.NoError(t, m.Start(context.Background()))

	fake.mu.Lock()
	fake.err = errors.New("broker down")
	fake.mu.Unlock()

	err := m.UpdateConfig(context.Background(), []config.ClusterConfig{
		{Name: "new", Transport: "fake", Destinations: []string{"new.dest"}},
	})
	require.ErrorContains(t, err, "broker down")

	p, ok := m.Find("orders.created")
	require.True(t, ok)
	assert.True(t, p.(*TransportProducer).Started())
}

func TestMapConcurrentFindDuringUpdate(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	m := New(clusters(), loggingtest.New(), WithRegistry(fake.registry()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.Find("orders.created")
			}
		}()
	}
	for i := 0; i < 20; i++ {
		cls := clusters()
		cls[1].Destinations = []string{"users." + strconv.Itoa(i)}
		require.NoError(t, m.UpdateConfig(context.Background(), cls))
	}
	wg.Wait()

	_, ok := m.Find("users.19")
	assert.True(t, ok)
}

func TestProducerAsyncPublish(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake", AsyncWorkers: 2}, loggingtest.New(), nil)
	require.NoError(t, p.Start(context.Background(), fake.registry()))

	ctx, cancel := context.WithCancel(context.Background())
	ok, err := p.Publish(ctx, "d", newMessage(t, "x"), metadatapkg.New("k", "v"), false)
	cancel()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.Close())
	calls := fake.built()[0].Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "d", calls[0].Topic)
	assert.Equal(t, "v", calls[0].Messages[0].Metadata.Get("k"))
	assert.NoError(t, calls[0].Messages[0].Context().Err(), "async message outlives caller context")
}

func TestProducerAsyncSaturationRejects(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}, gate: gate}
	log := loggingtest.New()
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake", AsyncWorkers: 1}, log, nil)
	require.NoError(t, p.Start(context.Background(), fake.registry()))

	ok, err := p.Publish(context.Background(), "d", newMessage(t, "first"), nil, false)
	require.NoError(t, err)
	require.True(t, ok)

	// the single worker is blocked on the gate
	require.Eventually(t, func() bool { return p.pool.Running() == 1 }, time.Second, time.Millisecond)

	ok, err = p.Publish(context.Background(), "d", newMessage(t, "second"), nil, false)
	require.NoError(t, err)
	assert.False(t, ok)
	_, found := log.Find("Async publish pool saturated; message refused")
	assert.True(t, found)

	close(gate)
	require.NoError(t, p.Close())
	assert.Len(t, fake.built()[0].Calls(), 1)
}

func TestProducerStartLogsCapabilities(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{
		Name:                 "fake",
		SupportsOrdering:     true,
		SupportsPartitioning: true,
	}}
	log := loggingtest.New()
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake", AsyncWorkers: 2}, log, nil)
	require.NoError(t, p.Start(context.Background(), fake.registry()))
	t.Cleanup(func() { _ = p.Close() })

	entry, found := log.Find("Producer started")
	require.True(t, found)
	assert.Equal(t, 2, entry.Fields["async_workers"])
	assert.Equal(t, "fake", entry.Fields["transport"])
	assert.Equal(t, false, entry.Fields["supports_delay"])
	assert.Equal(t, true, entry.Fields["supports_ordering"])
	assert.Equal(t, false, entry.Fields["supports_tracing"])
	assert.Equal(t, false, entry.Fields["supports_batching"])
	assert.Equal(t, true, entry.Fields["supports_partitioning"])
}

func TestProducerAsyncPublishOwnsPayload(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}, gate: gate}
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake", AsyncWorkers: 1}, loggingtest.New(), nil)
	require.NoError(t, p.Start(context.Background(), fake.registry()))

	buf := []byte("order-1")
	msg, err := envelope.Create(buf, true)
	require.NoError(t, err)

	ok, err := p.Publish(context.Background(), "d", msg, nil, false)
	require.NoError(t, err)
	require.True(t, ok)

	// the caller reuses its buffer while the send is still queued
	copy(buf, "XXXXXXX")
	close(gate)
	require.NoError(t, p.Close())

	calls := fake.built()[0].Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "order-1", string(calls[0].Messages[0].Payload))
}

func TestProducerAsyncFailureIsLogged(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	log := loggingtest.New()
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake"}, log, nil)
	require.NoError(t, p.Start(context.Background(), fake.registry()))
	fake.built()[0].Err = errors.New("nack")

	ok, err := p.Publish(context.Background(), "d", newMessage(t, "x"), nil, false)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, p.Close())

	entry, found := log.Find("Async publish failed")
	require.True(t, found)
	assert.EqualError(t, entry.Err, "nack")
}

func TestProducerSafePublishError(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake"}, loggingtest.New(), nil)
	require.NoError(t, p.Start(context.Background(), fake.registry()))
	fake.built()[0].Err = errors.New("broker unavailable")

	ok, err := p.Publish(context.Background(), "d", newMessage(t, "x"), nil, true)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestProducerSizeLimit(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake", MaxMessageSize: 4}}
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake"}, loggingtest.New(), nil)
	require.NoError(t, p.Start(context.Background(), fake.registry()))

	ok, err := p.Publish(context.Background(), "d", newMessage(t, "too long"), nil, true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fake.built()[0].Calls())
}

func TestProducerDelayHandling(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	clk := clock.NewManual(now)
	due := strconv.FormatInt(now.Add(10*time.Second).UnixMilli(), 10)
	headers := metadatapkg.New(transport.ScheduledDeliveryTimeMsHeader, due)

	t.Run("native delay beyond limit is refused", func(t *testing.T) {
		fake := &fakeTransports{caps: transport.Capabilities{Name: "fake", SupportsDelay: true, MaxDelayDuration: 5000}}
		p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake"}, loggingtest.New(), clk)
		require.NoError(t, p.Start(context.Background(), fake.registry()))

		ok, err := p.Publish(context.Background(), "d", newMessage(t, "x"), headers, true)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("forwarded header is logged at debug", func(t *testing.T) {
		fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
		log := loggingtest.New()
		p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake"}, log, clk)
		require.NoError(t, p.Start(context.Background(), fake.registry()))

		ok, err := p.Publish(context.Background(), "d", newMessage(t, "x"), headers, true)
		require.NoError(t, err)
		assert.True(t, ok)

		entry, found := log.Find("Transport has no native delay; forwarding scheduled delivery header")
		require.True(t, found)
		assert.Equal(t, "DEBUG", entry.Level)
		assert.Equal(t, due, fake.built()[0].Calls()[0].Messages[0].Metadata.Get(transport.ScheduledDeliveryTimeMsHeader))
	})
}

func TestProducerStartAfterClose(t *testing.T) {
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake"}, loggingtest.New(), nil)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Start(context.Background(), transport.NewRegistry()), errspkg.ErrProducerClosed)
}

func TestProducerCloseErrors(t *testing.T) {
	fake := &fakeTransports{caps: transport.Capabilities{Name: "fake"}}
	p := NewTransportProducer(config.ClusterConfig{Name: "c", Transport: "fake"}, loggingtest.New(), nil)
	require.NoError(t, p.Start(context.Background(), fake.registry()))
	fake.built()[0].CloseErr = errors.New("close failed")

	err := p.Close()
	assert.ErrorContains(t, err, "cluster c")
	assert.ErrorContains(t, err, "close failed")
}
