package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

// configFlags select where the client configuration comes from.
func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "JSON configuration file. MESSAGEBUS_* variables are read when empty",
			EnvVars: []string{"MBPUBLISH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Overrides the configured log level (DEBUG, INFO, WARN, ERROR)",
			EnvVars: []string{"MBPUBLISH_LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log through a development zap logger at debug level",
		},
	}
}

// publishFlags returns the flags of the publish command
func publishFlags() []cli.Flag {
	return append(configFlags(),
		&cli.StringFlag{
			Name:     "destination",
			Aliases:  []string{"d"},
			Usage:    "Destination to publish to",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "payload",
			Aliases:  []string{"p"},
			Usage:    "Message payload. Valid JSON is sent as JSON, anything else as a string",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "binary",
			Usage: "Send the payload as raw bytes",
		},
		&cli.DurationFlag{
			Name:  "delay",
			Usage: "Delay delivery, e.g. 30s",
		},
		&cli.BoolFlag{
			Name:  "safe",
			Usage: "Wait for the producer to acknowledge the message",
			Value: true,
		},
		&cli.StringSliceFlag{
			Name:    "header",
			Aliases: []string{"H"},
			Usage:   "Header as key=value, repeatable",
		},
		&cli.StringFlag{
			Name:  "message-id",
			Usage: "Message id. A ULID is generated when empty",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Upper bound for connecting and publishing",
			Value: 30 * time.Second,
		},
	)
}
