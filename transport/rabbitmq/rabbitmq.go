// Package rabbitmq provides a RabbitMQ/AMQP publisher transport.
package rabbitmq

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/messagebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// DelayHeader is read by the delayed message exchange plugin. Delays take
// effect only on exchanges declared with type x-delayed-message.
const DelayHeader = "x-delay"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return amqp.NewPublisher(cfg, logger)
}

var now = time.Now

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ publisher on a durable fanout exchange per
// destination.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errors.New("rabbitmq: URL is required")
	}

	amqpConfig := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)
	amqpConfig.Marshaler = amqp.DefaultMarshaler{PostprocessPublishing: withDelay}

	publisher, err := PublisherFactory(amqpConfig, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Capabilities: transport.RabbitMQCapabilities,
	}, nil
}

// withDelay converts the scheduled delivery header into x-delay.
func withDelay(p amqp091.Publishing) amqp091.Publishing {
	raw, ok := p.Headers[transport.ScheduledDeliveryTimeMsHeader].(string)
	if !ok || raw == "" {
		return p
	}
	msg := message.NewMessage("", nil)
	msg.Metadata.Set(transport.ScheduledDeliveryTimeMsHeader, raw)
	if delay := transport.DelayUntilDelivery(msg, now()); delay > 0 {
		p.Headers[DelayHeader] = delay.Milliseconds()
	}
	return p
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
