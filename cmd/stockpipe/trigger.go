package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dukex/stockpipe/pkg/cmd"
	"github.com/dukex/stockpipe/pkg/log"
	"github.com/dukex/stockpipe/pkg/models"
	"github.com/urfave/cli/v3"
)

func NewTriggerCommand() *cli.Command {
	return &cli.Command{
		Name:  "trigger",
		Usage: "Run the full graph once, now",
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

			run, err := pipeline.Scheduler.Trigger(ctx, models.TriggerManual)
			if run != nil {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")

				encodeErr := encoder.Encode(run)
				if encodeErr != nil {
					return encodeErr
				}
			}

			if err != nil {
				return cli.Exit(fmt.Sprintf("run failed: %v", err), 1)
			}

			return nil
		},
	}
}
