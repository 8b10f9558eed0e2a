// Package messagebus is a thin publishing client on top of Watermill. It maps
// destination names onto producer clusters read from Config, wraps every
// payload in a uniquely identified envelope, and reports each publish as a
// success, a rejection, or an error together with its duration.
//
// A minimal setup fills Config, creates a Client with NewClient, calls Start,
// and publishes:
//
//	client, err := messagebus.NewClient(conf, nil, messagebus.Dependencies{})
//	if err != nil {
//		return err
//	}
//	if err := client.Start(ctx); err != nil {
//		return err
//	}
//	defer client.Stop()
//
//	ok, err := client.Publish(ctx, "orders", order, messagebus.WithDelay(30_000))
//
// Publish returns an InvalidDestinationError when no cluster serves the
// destination. Producer faults are logged and reported as a false result
// rather than returned, so callers only branch on misconfiguration.
//
// # Transports
//
// Clusters name a transport registered with the default registry:
//   - channel: In-memory Go channels for testing
//   - kafka: Kafka through Sarama
//   - rabbitmq: AMQP durable exchanges
//   - aws: AWS SNS with LocalStack support
//   - nats: NATS core publishing
//   - nats-jetstream: NATS JetStream streams
//   - http: HTTP POST to a base URL
//   - io: JSON lines appended to a file
//   - sqlite: Embedded outbox table with delayed delivery
//   - postgres: PostgreSQL outbox table with delayed delivery
//
// Delayed publishes carry the scheduled_delivery_time_ms header. Transports
// with native scheduling honour it; the others forward the header untouched.
//
// # Configuration reload
//
// ReloadConfigOnInterval swaps the cluster topology at most once per
// interval. Clusters whose settings did not change keep their producer.
//
// # Hooks
//
// Dependencies.Hooks provides OnPublishStart, OnPublishDone and
// OnPublishError callbacks for custom logging, metrics collection, and
// alerting around each publish.
package messagebus
