package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/drblury/messagebus"
)

// publishConfig holds the settings of one publish invocation
type publishConfig struct {
	Destination string
	Payload     string
	Binary      bool
	Delay       time.Duration
	Safe        bool
	Headers     map[string]string
	MessageID   string
	Timeout     time.Duration
}

// options translates the invocation into publish options.
func (p *publishConfig) options() []messagebus.PublishOption {
	opts := []messagebus.PublishOption{
		messagebus.WithSafe(p.Safe),
		messagebus.WithDelayDuration(p.Delay),
	}
	if p.Binary {
		opts = append(opts, messagebus.WithBinary())
	}
	if len(p.Headers) > 0 {
		opts = append(opts, messagebus.WithHeaders(p.Headers))
	}
	if p.MessageID != "" {
		opts = append(opts, messagebus.WithMessageID(p.MessageID))
	}
	return opts
}

func buildPublishConfig(c *cli.Context) (*publishConfig, error) {
	headers, err := parseHeaders(c.StringSlice("header"))
	if err != nil {
		return nil, err
	}
	if c.Duration("delay") < 0 {
		return nil, fmt.Errorf("delay must not be negative, got %s", c.Duration("delay"))
	}
	return &publishConfig{
		Destination: c.String("destination"),
		Payload:     c.String("payload"),
		Binary:      c.Bool("binary"),
		Delay:       c.Duration("delay"),
		Safe:        c.Bool("safe"),
		Headers:     headers,
		MessageID:   c.String("message-id"),
		Timeout:     c.Duration("timeout"),
	}, nil
}

// loadClientConfig reads the file named by --config, or the environment
// when no file is given.
func loadClientConfig(c *cli.Context) (messagebus.Config, error) {
	var (
		conf messagebus.Config
		err  error
	)
	if path := c.String("config"); path != "" {
		conf, err = messagebus.LoadConfigFile(path)
	} else {
		conf, err = messagebus.ConfigFromEnv()
	}
	if err != nil {
		return messagebus.Config{}, err
	}
	if level := c.String("log-level"); level != "" {
		conf.LogLevel = level
	}
	return conf, nil
}

func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("header %q must be key=value", pair)
		}
		headers[key] = value
	}
	return headers, nil
}
