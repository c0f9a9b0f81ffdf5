package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/persistence"
	"github.com/dukex/stockpipe/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence_SaveAndGetRun(t *testing.T) {
	ctx := context.Background()
	repo := file.NewPersistence("file://" + t.TempDir())

	run := models.NewRun(models.TriggerManual)
	run.StartNode(models.RawIngestionNodeID())
	run.FinishNode(models.RawIngestionNodeID(), nil)
	run.Ingestion = models.NewIngestionOutcome(2)
	run.Ingestion.RecordLoaded("AMZN", 1256)
	run.Complete("")

	require.NoError(t, repo.SaveRun(ctx, run))

	got, err := repo.RunByID(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Equal(t, models.TriggerManual, got.Trigger)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, models.NodeStatusSucceeded, got.Nodes[0].Status)
	assert.Equal(t, int64(1256), got.Ingestion.Rows["AMZN"])
}

func TestPersistence_SaveRun_Overwrites(t *testing.T) {
	ctx := context.Background()
	repo := file.NewPersistence(t.TempDir())

	run := models.NewRun(models.TriggerScheduled)
	require.NoError(t, repo.SaveRun(ctx, run))

	run.Complete("node raw_data/stock_prices_batch failed: boom")
	require.NoError(t, repo.SaveRun(ctx, run))

	got, err := repo.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "node raw_data/stock_prices_batch failed: boom", got.FailureReason)
}

func TestPersistence_RunByID_NotFound(t *testing.T) {
	repo := file.NewPersistence(t.TempDir())

	_, err := repo.RunByID(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestPersistence_RunByID_InvalidID(t *testing.T) {
	repo := file.NewPersistence(t.TempDir())

	for _, id := range []string{"", "../etc/passwd", "a/b", `a\b`} {
		_, err := repo.RunByID(context.Background(), id)

		require.ErrorIs(t, err, persistence.ErrInvalidRunID, id)
	}
}

func TestPersistence_Runs_NewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := file.NewPersistence(t.TempDir())

	base := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

	var ids []string

	for i := range 3 {
		run := models.NewRun(models.TriggerScheduled)
		run.StartedAt = base.AddDate(0, 0, i)
		require.NoError(t, repo.SaveRun(ctx, run))

		ids = append(ids, run.ID)
	}

	runs, err := repo.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestPersistence_Runs_Empty(t *testing.T) {
	repo := file.NewPersistence(t.TempDir())

	runs, err := repo.Runs(context.Background(), 10)

	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPersistence_HealthCheck(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, file.NewPersistence(root).HealthCheck(context.Background()))
	require.ErrorIs(t, file.NewPersistence(filepath.Join(root, "missing")).HealthCheck(context.Background()), os.ErrNotExist)
}
