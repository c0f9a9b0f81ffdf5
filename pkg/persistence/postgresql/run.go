package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/persistence"
	"github.com/google/uuid"
)

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Save upserts a run.
func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	nodes, err := json.Marshal(run.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	var ingestion any
	if run.Ingestion != nil {
		ingestionJSON, err := json.Marshal(run.Ingestion)
		if err != nil {
			return fmt.Errorf("failed to marshal ingestion outcome: %w", err)
		}

		ingestion = ingestionJSON
	}

	query := `
		INSERT INTO pipeline_runs (id, trigger, status, started_at, finished_at, failure_reason, nodes, ingestion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			failure_reason = EXCLUDED.failure_reason,
			nodes = EXCLUDED.nodes,
			ingestion = EXCLUDED.ingestion
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.Trigger,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.FailureReason),
		nodes,
		ingestion,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save run", "run_id", run.ID, "error", err)

		return persistence.NewRunError("SaveRun", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	_, err := uuid.Parse(id)
	if err != nil {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrInvalidRunID)
	}

	row := r.db.QueryRowContext(ctx, selectRuns+" WHERE id = $1", id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("RunByID", id, err)
	}

	return run, nil
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, selectRuns+" ORDER BY started_at DESC LIMIT $1", persistence.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

const selectRuns = `
	SELECT id, trigger, status, started_at, finished_at, failure_reason, nodes, ingestion
	FROM pipeline_runs
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run           models.Run
		finishedAt    sql.NullTime
		failureReason sql.NullString
		nodes         []byte
		ingestion     []byte
	)

	err := row.Scan(&run.ID, &run.Trigger, &run.Status, &run.StartedAt, &finishedAt, &failureReason, &nodes, &ingestion)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		finished := finishedAt.Time.UTC()
		run.FinishedAt = &finished
	}

	run.StartedAt = run.StartedAt.UTC()
	run.FailureReason = failureReason.String

	err = json.Unmarshal(nodes, &run.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if len(ingestion) > 0 {
		run.Ingestion = &models.IngestionOutcome{}

		err = json.Unmarshal(ingestion, run.Ingestion)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal ingestion outcome: %w", err)
		}
	}

	return &run, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
