// Package main provides the stockpipe command line: the scheduled service, manual triggers and
// standalone ingestion.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/stockpipe/pkg/config"
	"github.com/dukex/stockpipe/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "stockpipe",
		Usage:                 "Refresh daily stock prices and build the derived datasets",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewTriggerCommand(),
			NewIngestCommand(),
			NewGraphCommand(),
			NewRunsCommand(),
			NewEventsCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				Sources: cli.EnvVars("STOCKPIPE_CONFIG"),
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Files with KEY=VALUE lines loaded into the environment (default .env)",
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			logger, err := log.Setup(command.String("log-level"))
			if err != nil {
				return ctx, cli.Exit(err.Error(), 1)
			}

			logger.DebugContext(ctx, "Logging configured", "command", command.Args().First())

			return ctx, nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.Run(ctx, os.Args)

	stop()

	if err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}

		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads env files and the optional config file. Missing settings are reported as a
// config.ConfigurationError.
func loadConfig(command *cli.Command) (*config.Config, error) {
	err := config.LoadDotEnv(command.StringSlice("env-file")...)
	if err != nil {
		return nil, err
	}

	return config.Load(command.String("config"), os.LookupEnv)
}
