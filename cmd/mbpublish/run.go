package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/drblury/messagebus"
)

func publish(c *cli.Context) error {
	cfg, err := buildPublishConfig(c)
	if err != nil {
		return err
	}
	conf, err := loadClientConfig(c)
	if err != nil {
		return err
	}
	logger, syncLogger, err := commandLogger(c)
	if err != nil {
		return err
	}
	defer syncLogger()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var payload any = []byte(cfg.Payload)
	return messagebus.StartClient(ctx, conf, logger, messagebus.Dependencies{}, func(client *messagebus.Client) error {
		res, err := client.PublishResult(ctx, cfg.Destination, payload, cfg.options()...)
		if err != nil {
			return err
		}
		if err := printResult(c, res); err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("publish to %s: %s", cfg.Destination, res.Outcome)
		}
		return nil
	})
}

func check(c *cli.Context) error {
	conf, err := loadClientConfig(c)
	if err != nil {
		return err
	}
	conf = conf.Resolve()
	if err := messagebus.ValidateConfig(&conf); err != nil {
		return err
	}
	for _, cluster := range conf.Clusters {
		for _, dest := range cluster.Destinations {
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", dest, cluster.Name, cluster.Transport)
		}
	}
	return nil
}

// newZapLogger builds the --verbose logger.
var newZapLogger = func() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	return cfg.Build()
}

// commandLogger returns nil unless --verbose is set, letting the client
// build its logger from the configuration. The returned func flushes the
// verbose logger.
func commandLogger(c *cli.Context) (messagebus.ServiceLogger, func(), error) {
	if !c.Bool("verbose") {
		return nil, func() {}, nil
	}
	zl, err := newZapLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("create zap logger: %w", err)
	}
	// Sync on a console stderr returns EINVAL on some platforms.
	return messagebus.NewZapServiceLogger(zl), func() { _ = zl.Sync() }, nil
}

type resultView struct {
	Destination string            `json:"destination"`
	MessageID   string            `json:"message_id,omitempty"`
	Outcome     string            `json:"outcome"`
	DurationMs  int64             `json:"duration_ms"`
	Headers     map[string]string `json:"headers,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func printResult(c *cli.Context, res messagebus.PublishResult) error {
	view := resultView{
		Destination: res.Destination,
		MessageID:   res.MessageID,
		Outcome:     string(res.Outcome),
		DurationMs:  res.Duration.Milliseconds(),
		Headers:     res.Headers,
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	out, err := messagebus.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(out))
	return err
}
