// Package http provides an HTTP publisher transport. Each destination is a
// path below the configured base URL.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/messagebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func init() {
	Register()
}

// Register registers the HTTP transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP publisher posting to <base URL>/<destination>.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	base := cfg.GetHTTPPublisherURL()
	if base == "" {
		return transport.Transport{}, errors.New("http: publisher URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{MarshalMessageFunc: marshalTo(base)},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Capabilities: transport.HTTPCapabilities,
	}, nil
}

func marshalTo(base string) http.MarshalMessageFunc {
	return func(topic string, msg *message.Message) (*nethttp.Request, error) {
		target, err := url.JoinPath(base, topic)
		if err != nil {
			return nil, err
		}
		return http.DefaultMarshalMessageFunc(target, msg)
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
