// Package ingestion fetches entity price series and loads them into raw tables.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/provider"
)

// TableWriter atomically replaces a table with the content of a dataset and returns the
// number of rows written.
type TableWriter interface {
	ReplaceTable(ctx context.Context, table string, dataset *models.Dataset) (int64, error)
}

// EntityLoader loads a single entity.
type EntityLoader interface {
	Load(ctx context.Context, entity models.Entity) (int64, error)
}

// Loader fetches one entity from the provider, reshapes the dataset and replaces its table.
type Loader struct {
	provider provider.Provider
	writer   TableWriter
	window   provider.Window
	logger   *slog.Logger
}

func NewLoader(source provider.Provider, writer TableWriter, window provider.Window, logger *slog.Logger) *Loader {
	return &Loader{
		provider: source,
		writer:   writer,
		window:   window,
		logger:   logger.With("module", "loader"),
	}
}

// Load returns ErrEmptyResponse, without touching storage, when the provider has no data.
func (l *Loader) Load(ctx context.Context, entity models.Entity) (int64, error) {
	logger := l.logger.With("entity", entity)

	dataset, err := l.provider.Fetch(ctx, entity, l.window)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", entity, err)
	}

	if dataset.Empty() {
		logger.WarnContext(ctx, "No data returned, skipping")

		return 0, ErrEmptyResponse
	}

	if dataset.IsMultiLevel() {
		dataset.Flatten()
	}

	dataset.ResetIndex()
	dataset.NormalizeColumns()

	rows, err := l.writer.ReplaceTable(ctx, entity.TableName(), dataset)
	if err != nil {
		return 0, fmt.Errorf("failed to store %s: %w", entity, err)
	}

	logger.InfoContext(ctx, "Loaded", "table", entity.TableName(), "rows", rows)

	return rows, nil
}
