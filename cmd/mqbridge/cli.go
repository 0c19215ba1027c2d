package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hookdeck/mqbridge/internal/app"
	"github.com/hookdeck/mqbridge/internal/config"
	"github.com/hookdeck/mqbridge/internal/logging"
	"github.com/hookdeck/mqbridge/internal/version"
	"github.com/urfave/cli/v3"
)

// NewCommand creates and configures the CLI command
func NewCommand() *cli.Command {
	// Root flags are inherited by every subcommand.
	configFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to config file (also read from CONFIG)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (debug, info, warn, error), overrides config",
		},
	}

	serve := &cli.Command{
		Name:  "serve",
		Usage: "Run the configured bridges",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := parseConfig(c)
			if err != nil {
				return err
			}
			return app.New(cfg).Run(ctx)
		},
	}

	return &cli.Command{
		Name:    "mqbridge",
		Usage:   "Relay and forward messages between message queue endpoints",
		Version: version.Version(),
		Flags:   configFlags,
		Commands: []*cli.Command{
			serve,
			{
				Name:  "validate",
				Usage: "Validate the configuration and print a summary",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := parseConfig(c)
					if err != nil {
						return err
					}
					return printSummary(c.Root().Writer, cfg)
				},
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(ctx context.Context, c *cli.Command) error {
					_, err := fmt.Fprintln(c.Root().Writer, version.Version())
					return err
				},
			},
		},
		// serve is the default command
		Action: serve.Action,
	}
}

func parseConfig(c *cli.Command) (*config.Config, error) {
	return config.Parse(config.Flags{
		Config:   c.String("config"),
		LogLevel: c.String("log-level"),
	})
}

// printSummary logs the masked configuration in console format.
func printSummary(w io.Writer, cfg *config.Config) error {
	logger, err := logging.NewLogger(
		logging.WithLogLevel("info"),
		logging.WithLogFormat("console"),
	)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("configuration is valid", cfg.LogConfigurationSummary()...)
	_, err = fmt.Fprintf(w, "configuration OK: %d bridge(s)\n", len(cfg.Bridges))
	return err
}
