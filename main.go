package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/okra-platform/egress/internal/commands"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	flags := &commands.Flags{}
	ctrl := commands.NewController(flags, log.Logger)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.Command{
		Name:    "egress",
		Usage:   "Inspect and enforce outbound network access for sandboxed components",
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error, fatal, panic)",
				Sources: cli.EnvVars("EGRESS_LOG_LEVEL"),
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to egress.yaml (default: search the current directory and its parents)",
				Sources: cli.EnvVars("EGRESS_CONFIG"),
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			level, err := zerolog.ParseLevel(c.String("log-level"))
			if err != nil {
				return ctx, fmt.Errorf("failed to parse log level: %w", err)
			}

			log.Logger = log.Level(level)
			flags.LogLevel = level.String()
			flags.ConfigPath = c.String("config")
			ctrl.Logger = log.Logger

			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Validate the configuration and every component's allow-list",
				Action: func(ctx context.Context, c *cli.Command) error {
					return ctrl.Validate(ctx)
				},
			},
			{
				Name:      "check",
				Usage:     "Check whether a component may reach URLs (use 'self' for relative requests)",
				ArgsUsage: "URL...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "component",
						Usage:    "component id",
						Required: true,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.NArg() == 0 {
						return fmt.Errorf("at least one URL is required")
					}
					return ctrl.Check(ctx, c.String("component"), c.Args().Slice())
				},
			},
			{
				Name:      "fetch",
				Usage:     "Make a request on behalf of a component through its okra.net host API",
				ArgsUsage: "URL",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "component",
						Usage:    "component id",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "method",
						Aliases: []string{"X"},
						Usage:   "request method",
						Value:   "GET",
					},
					&cli.StringSliceFlag{
						Name:    "header",
						Aliases: []string{"H"},
						Usage:   "request header as \"Name: value\"",
					},
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "request body",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.NArg() != 1 {
						return fmt.Errorf("exactly one URL is required")
					}
					return ctrl.Fetch(ctx, c.String("component"), commands.FetchRequest{
						Method:  c.String("method"),
						URL:     c.Args().First(),
						Headers: c.StringSlice("header"),
						Body:    c.String("data"),
					})
				},
			},
			{
				Name:  "apis",
				Usage: "List the host APIs available to components",
				Action: func(ctx context.Context, c *cli.Command) error {
					return ctrl.APIs(ctx)
				},
			},
			{
				Name:      "blocked",
				Usage:     "Report whether IP addresses are in blocked networks",
				ArgsUsage: "ADDR...",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.NArg() == 0 {
						return fmt.Errorf("at least one address is required")
					}
					return ctrl.Blocked(ctx, c.Args().Slice())
				},
			},
			{
				Name:      "tls",
				Usage:     "Show the client TLS identity a component uses for a host",
				ArgsUsage: "HOST",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "component",
						Usage:    "component id",
						Required: true,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.NArg() != 1 {
						return fmt.Errorf("exactly one host is required")
					}
					return ctrl.TLS(ctx, c.String("component"), c.Args().First())
				},
			},
			{
				Name:  "watch",
				Usage: "Reload outbound networking state whenever the configuration changes",
				Action: func(ctx context.Context, c *cli.Command) error {
					return ctrl.Watch(ctx)
				},
			},
		},
	}

	ctx := context.Background()

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("failed to run egress")
	}
}
