package main

import (
	"context"
	"errors"

	"github.com/dukex/stockpipe/pkg/cmd"
	"github.com/dukex/stockpipe/pkg/log"
	"github.com/dukex/stockpipe/pkg/web"
	"github.com/urfave/cli/v3"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the daily scheduler and the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("stockpipe")

			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			pipeline, err := cmd.NewPipeline(ctx, cfg, logger, cmd.PipelineOptions{
				Tracing:    command.Bool("tracing"),
				ConfigFile: command.String("config"),
			})
			if err != nil {
				return err
			}

			defer func() {
				err := pipeline.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close pipeline", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Initializing stockpipe",
				"nodes", pipeline.Graph.Len(),
				"entities", len(cfg.Ingestion.Entities),
				"schedule", cfg.Schedule.Cron,
				"timezone", cfg.Schedule.Timezone,
			)

			pipeline.Scheduler.Start(ctx)
			defer pipeline.Scheduler.Stop()

			api := web.NewAPI(logger, pipeline.Scheduler, pipeline.Runs, pipeline.Graph)

			err = api.Start(ctx, command.Int("port"))
			if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
				return err
			}

			logger.InfoContext(ctx, "Shutting down")

			return nil
		},
	}
}
