package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/stockpipe/pkg/cmd"
	"github.com/dukex/stockpipe/pkg/log"
	"github.com/dukex/stockpipe/pkg/persistence"
	"github.com/urfave/cli/v3"
)

func NewRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recent pipeline runs",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of runs to show",
				Value:   persistence.DefaultRunLimit,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("runs")

			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			repository, err := cmd.NewRunRepository(ctx, logger, cfg.RunsURL)
			if err != nil {
				return err
			}

			defer func() {
				err := repository.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close run history", "error", err)
				}
			}()

			runs, err := repository.Runs(ctx, persistence.NormalizeLimit(command.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to fetch runs: %w", err)
			}

			for _, run := range runs {
				fmt.Printf("%s  %-9s  %-9s  %s  %s\n",
					run.ID,
					run.Trigger,
					run.Status,
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.Duration().Round(time.Second),
				)

				if run.FailureReason != "" {
					fmt.Printf("    %s\n", run.FailureReason)
				}
			}

			fmt.Printf("\nTotal runs: %d\n", len(runs))

			return nil
		},
	}
}
