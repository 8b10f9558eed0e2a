package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"

	"github.com/drblury/messagebus/internal/runtime/clock"
	"github.com/drblury/messagebus/internal/runtime/config"
	"github.com/drblury/messagebus/internal/runtime/envelope"
	"github.com/drblury/messagebus/internal/runtime/logging/loggingtest"
	metadatapkg "github.com/drblury/messagebus/internal/runtime/metadata"
	"github.com/drblury/messagebus/transport"
	"github.com/drblury/messagebus/transport/transporttest"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type producerCall struct {
	Destination string
	Message     *envelope.Message
	Headers     metadatapkg.Headers
	Safe        bool
}

// fakeProducer advances the manual clock by latency on every call.
type fakeProducer struct {
	clock     *clock.Manual
	latency   time.Duration
	result    bool
	err       error
	panicWith any

	mu    sync.Mutex
	calls []producerCall
}

func (p *fakeProducer) Publish(ctx context.Context, destination string, msg *envelope.Message, headers metadatapkg.Headers, safe bool) (bool, error) {
	p.mu.Lock()
	p.calls = append(p.calls, producerCall{Destination: destination, Message: msg, Headers: headers, Safe: safe})
	p.mu.Unlock()

	if p.clock != nil && p.latency > 0 {
		p.clock.Advance(p.latency)
	}
	if p.panicWith != nil {
		panic(p.panicWith)
	}
	return p.result, p.err
}

func (p *fakeProducer) Calls() []producerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]producerCall(nil), p.calls...)
}

type fakeResolver struct {
	startErr  error
	stopErr   error
	updateErr error

	mu        sync.Mutex
	producers map[string]Producer
	starts    int
	stops     int
	updates   [][]config.ClusterConfig
}

func newFakeResolver(producers map[string]Producer) *fakeResolver {
	return &fakeResolver{producers: producers}
}

func (r *fakeResolver) Find(destination string) (Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[destination]
	return p, ok
}

func (r *fakeResolver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return r.startErr
}

func (r *fakeResolver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.stopErr
}

func (r *fakeResolver) UpdateConfig(ctx context.Context, clusters []config.ClusterConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates = append(r.updates, clusters)
	return nil
}

func (r *fakeResolver) counts() (starts, stops, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops, len(r.updates)
}

func testConfig() config.Config {
	return config.Config{
		EnableAutoInitConnections: true,
		LogLevel:                  "INFO",
		Clusters: []config.ClusterConfig{
			{Name: "main", Transport: "channel", Destinations: []string{"orders"}},
		},
	}
}

type testClient struct {
	*Client
	log      *loggingtest.Recorder
	clock    *clock.Manual
	resolver *fakeResolver
	producer *fakeProducer
}

// newTestClient returns a started client whose "orders" destination is
// served by a fakeProducer accepting every message. The recorder is reset
// after Start.
func newTestClient(t *testing.T, conf config.Config, deps Dependencies) *testClient {
	t.Helper()

	clk := clock.NewManual(testEpoch)
	producer := &fakeProducer{clock: clk, result: true}
	resolver := newFakeResolver(map[string]Producer{"orders": producer})
	log := loggingtest.New()

	deps.Clock = clk
	deps.Resolver = resolver
	c, err := NewClient(conf, log, deps)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })

	log.Reset()
	return &testClient{Client: c, log: log, clock: clk, resolver: resolver, producer: producer}
}

// transporttestRegistry serves the "channel" transport name from pub.
func transporttestRegistry(pub *transporttest.Publisher) *transport.Registry {
	r := transport.NewRegistry()
	r.RegisterWithCapabilities("channel", func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Publisher: pub, Capabilities: transport.ChannelCapabilities}, nil
	}, transport.ChannelCapabilities)
	return r
}
