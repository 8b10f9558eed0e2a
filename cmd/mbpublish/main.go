package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mbpublish",
		Usage: "Publish messages through a messagebus configuration",
		Commands: []*cli.Command{
			{
				Name:   "publish",
				Usage:  "Publish one message to a destination",
				Flags:  publishFlags(),
				Action: publish,
			},
			{
				Name:   "check",
				Usage:  "Validate the configuration and list the served destinations",
				Flags:  configFlags(),
				Action: check,
			},
		},
	}
}
