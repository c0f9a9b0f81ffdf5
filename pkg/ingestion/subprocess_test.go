package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dukex/stockpipe/pkg/ingestion"
	"github.com/dukex/stockpipe/pkg/mocks"
	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var ingestCommand = process.Command{Path: "stockpipe", Args: []string{"ingest"}}

func reportLine(t *testing.T, report ingestion.Report) string {
	t.Helper()

	data, err := json.Marshal(report)
	require.NoError(t, err)

	return "starting\n" + string(data) + "\n"
}

func TestSubprocessRunner_Ingest(t *testing.T) {
	outcome := models.NewIngestionOutcome(2)
	outcome.RecordLoaded("AMZN", 1256)
	outcome.RecordSkipped("NBIS")

	runner := &mocks.MockProcessRunner{}
	runner.On("Run", mock.Anything, ingestCommand).Return(&process.Result{
		ExitCode: 0,
		Stdout:   reportLine(t, ingestion.NewReport(outcome, nil)),
	}, nil)

	got, err := ingestion.NewSubprocessRunner(runner, ingestCommand, discardLogger()).Ingest(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, got.Loaded)
	assert.Equal(t, 2, got.Configured)
	assert.Equal(t, int64(1256), got.Rows["AMZN"])
	assert.Equal(t, []models.Entity{"NBIS"}, got.Skipped)
}

func TestSubprocessRunner_Ingest_EntityLoadFailure(t *testing.T) {
	report := ingestion.NewReport(models.NewIngestionOutcome(2), &ingestion.EntityLoadError{
		Entity: "AMZN",
		Err:    errors.New("connection reset"),
	})

	runner := &mocks.MockProcessRunner{}
	runner.On("Run", mock.Anything, ingestCommand).Return(&process.Result{
		ExitCode: ingestion.ExitEntityLoadFailure,
		Stdout:   reportLine(t, report),
	}, nil)

	_, err := ingestion.NewSubprocessRunner(runner, ingestCommand, discardLogger()).Ingest(context.Background())

	var loadErr *ingestion.EntityLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, models.Entity("AMZN"), loadErr.Entity)
	assert.Equal(t, "failed to load AMZN: connection reset", err.Error())
}

func TestSubprocessRunner_Ingest_TotalFailure(t *testing.T) {
	runner := &mocks.MockProcessRunner{}
	runner.On("Run", mock.Anything, ingestCommand).Return(&process.Result{
		ExitCode: ingestion.ExitTotalIngestionFailure,
		Stdout:   reportLine(t, ingestion.NewReport(models.NewIngestionOutcome(2), ingestion.ErrTotalIngestionFailure)),
	}, nil)

	_, err := ingestion.NewSubprocessRunner(runner, ingestCommand, discardLogger()).Ingest(context.Background())

	require.ErrorIs(t, err, ingestion.ErrTotalIngestionFailure)
}

func TestSubprocessRunner_Ingest_UnknownExitCode(t *testing.T) {
	runner := &mocks.MockProcessRunner{}
	runner.On("Run", mock.Anything, ingestCommand).Return(&process.Result{
		ExitCode: 1,
		Stderr:   "level=ERROR msg=\"missing or invalid configuration: DB_PASS\"\n",
	}, nil)

	_, err := ingestion.NewSubprocessRunner(runner, ingestCommand, discardLogger()).Ingest(context.Background())

	require.Error(t, err)
	assert.False(t, ingestion.IsEntityLoadError(err))
	assert.Contains(t, err.Error(), "status 1")
	assert.Contains(t, err.Error(), "DB_PASS")
}

func TestSubprocessRunner_Ingest_MissingReport(t *testing.T) {
	runner := &mocks.MockProcessRunner{}
	runner.On("Run", mock.Anything, ingestCommand).Return(&process.Result{ExitCode: 0, Stdout: "done\n"}, nil)

	_, err := ingestion.NewSubprocessRunner(runner, ingestCommand, discardLogger()).Ingest(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "report")
}

func TestSubprocessRunner_Ingest_StartFailure(t *testing.T) {
	startErr := errors.New("executable file not found")

	runner := &mocks.MockProcessRunner{}
	runner.On("Run", mock.Anything, ingestCommand).Return(nil, startErr)

	_, err := ingestion.NewSubprocessRunner(runner, ingestCommand, discardLogger()).Ingest(context.Background())

	require.ErrorIs(t, err, startErr)
}
