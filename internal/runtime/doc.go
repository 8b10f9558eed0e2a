/*
Package runtime provides the publishing client behind messagebus.

# Architecture Overview

A Client owns a resolved Config and a ClusterResolver that maps destination
names onto producers. Each producer wraps one Watermill publisher built by the
transport registry. Publishing wraps the payload in an envelope, merges the
caller headers with the scheduled delivery header and the trace context, calls
the producer and classifies the attempt.

# Package Structure

## Client lifecycle (client.go)

NewClient resolves and validates the configuration. Start and Stop bring the
cluster map and the optional metrics server up and down.
ReloadConfigOnInterval swaps the cluster topology at most once per interval.

## Dispatch (dispatcher.go, outcome.go, options.go)

Publish and PublishResult run one attempt under an OpenTelemetry span and end
in exactly one outcome: success, rejected, error, disabled or
invalid_destination. Only an unknown destination is returned as an error.

## Hooks (hooks.go)

PublishHooks observe the attempt around the producer call.

## Thread debugging (resources.go)

Goroutine, memory and CPU snapshots logged before each publish when enabled.

# Sub-packages

  - clock/: Clock abstraction with a manual clock for tests
  - cluster/: Cluster map and transport-backed producers
  - config/: Client configuration with validation
  - envelope/: Message envelope construction
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Header map utilities
  - metrics/: Prometheus collectors and the metrics server

# Usage Example

	conf := config.Config{
		EnableAutoInitConnections: true,
		Clusters: []config.ClusterConfig{
			{Name: "events", Transport: "kafka", KafkaBrokers: []string{"localhost:9092"}, Destinations: []string{"orders"}},
		},
	}

	client, err := runtime.NewClient(conf, logger, runtime.Dependencies{})
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Stop()

	ok, err := client.Publish(ctx, "orders", order, runtime.WithDelay(5000))
*/
package runtime
