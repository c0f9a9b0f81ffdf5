package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/process"
)

// Report is the JSON document the ingest command prints on stdout.
type Report struct {
	Outcome *models.IngestionOutcome `json:"outcome,omitempty"`
	Entity  models.Entity            `json:"entity,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// NewReport describes the result of an ingestion pass.
func NewReport(outcome *models.IngestionOutcome, err error) Report {
	report := Report{Outcome: outcome}

	if err != nil {
		report.Error = err.Error()

		var loadErr *EntityLoadError
		if errors.As(err, &loadErr) {
			report.Entity = loadErr.Entity
			report.Error = loadErr.Err.Error()
		}
	}

	return report
}

// SubprocessRunner runs ingestion as a child process and maps its exit code back to the
// typed ingestion errors.
type SubprocessRunner struct {
	runner  process.Runner
	command process.Command
	logger  *slog.Logger
}

func NewSubprocessRunner(runner process.Runner, command process.Command, logger *slog.Logger) *SubprocessRunner {
	return &SubprocessRunner{
		runner:  runner,
		command: command,
		logger:  logger.With("module", "ingestion_subprocess"),
	}
}

func (s *SubprocessRunner) Ingest(ctx context.Context) (*models.IngestionOutcome, error) {
	result, err := s.runner.Run(ctx, s.command)
	if err != nil {
		return nil, fmt.Errorf("failed to run ingestion process: %w", err)
	}

	report, parseErr := parseReport(result.Stdout)
	if parseErr != nil && result.ExitCode != ExitFailure {
		s.logger.WarnContext(ctx, "Ingestion process produced no report", "exit_code", result.ExitCode, "error", parseErr)
	}

	switch result.ExitCode {
	case ExitSuccess:
		if parseErr != nil {
			return nil, fmt.Errorf("failed to read ingestion report: %w", parseErr)
		}

		return report.Outcome, nil
	case ExitEntityLoadFailure:
		return report.Outcome, &EntityLoadError{Entity: report.Entity, Err: errors.New(reportMessage(report, result))}
	case ExitTotalIngestionFailure:
		return report.Outcome, ErrTotalIngestionFailure
	default:
		return report.Outcome, fmt.Errorf("ingestion process exited with status %d: %s", result.ExitCode, reportMessage(report, result))
	}
}

// parseReport reads the last JSON line of stdout.
func parseReport(stdout string) (Report, error) {
	var report Report

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}

		err := json.Unmarshal([]byte(line), &report)
		if err != nil {
			return report, fmt.Errorf("invalid report: %w", err)
		}

		return report, nil
	}

	return report, errors.New("report not found in output")
}

func reportMessage(report Report, result *process.Result) string {
	if report.Error != "" {
		return report.Error
	}

	lines := strings.Split(strings.TrimSpace(result.Stderr), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}

	return "no output"
}
