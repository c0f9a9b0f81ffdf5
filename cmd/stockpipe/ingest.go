package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/dukex/stockpipe/pkg/cmd"
	"github.com/dukex/stockpipe/pkg/ingestion"
	"github.com/dukex/stockpipe/pkg/log"
	"github.com/urfave/cli/v3"
)

// NewIngestCommand loads every configured entity and prints a JSON report as the last stdout
// line. The exit code tells a supervising process how ingestion ended.
func NewIngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Fetch every configured ticker and replace its raw table",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("ingest")

			cfg, err := loadConfig(command)
			if err != nil {
				return cli.Exit(err.Error(), ingestion.ExitFailure)
			}

			orchestrator, db, err := cmd.NewIngestion(ctx, cfg, logger)
			if err != nil {
				return cli.Exit(err.Error(), ingestion.ExitFailure)
			}

			defer func() {
				err := db.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close database", "error", err)
				}
			}()

			outcome, err := orchestrator.Ingest(ctx)

			encodeErr := json.NewEncoder(os.Stdout).Encode(ingestion.NewReport(outcome, err))
			if encodeErr != nil {
				logger.ErrorContext(ctx, "Failed to write ingestion report", "error", encodeErr)
			}

			if err != nil {
				return cli.Exit(err.Error(), ingestion.ExitCode(err))
			}

			logger.InfoContext(ctx, "Ingestion finished",
				"loaded", outcome.Loaded,
				"configured", outcome.Configured,
			)

			return nil
		},
	}
}
