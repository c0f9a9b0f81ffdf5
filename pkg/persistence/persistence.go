// Package persistence provides the storage abstraction for pipeline run history.
package persistence

import (
	"context"

	"github.com/dukex/stockpipe/pkg/models"
)

// DefaultRunLimit is used when a caller asks for runs without a limit.
const DefaultRunLimit = 20

type RunRepository interface {
	// SaveRun inserts or overwrites a run.
	SaveRun(ctx context.Context, run *models.Run) error
	RunByID(ctx context.Context, id string) (*models.Run, error)
	// Runs returns the most recent runs first.
	Runs(ctx context.Context, limit int) ([]*models.Run, error)
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// NormalizeLimit bounds a requested page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return DefaultRunLimit
	}

	return limit
}
