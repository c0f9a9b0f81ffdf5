package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/lib/pq"
)

var ErrNoColumns = errors.New("dataset has no columns")

// TableStore replaces whole tables inside one schema. Every replacement runs in a single
// transaction, so a table is either fully rewritten or left as it was.
type TableStore struct {
	db     *sql.DB
	schema string
	logger *slog.Logger
}

func NewTableStore(db *sql.DB, schema string, logger *slog.Logger) *TableStore {
	return &TableStore{
		db:     db,
		schema: schema,
		logger: logger.With("module", "table_store", "schema", schema),
	}
}

// EnsureSchema creates the target schema when it does not exist yet.
func (s *TableStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(s.schema))
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", s.schema, err)
	}

	return nil
}

// ReplaceTable drops table (cascading to dependent views) and recreates it from dataset.
// Concurrent replacements of the same table are serialized by a transaction-scoped
// advisory lock.
func (s *TableStore) ReplaceTable(ctx context.Context, table string, dataset *models.Dataset) (int64, error) {
	if len(dataset.Columns) == 0 {
		return 0, fmt.Errorf("failed to replace %s.%s: %w", s.schema, table, ErrNoColumns)
	}

	qualified := s.qualifiedName(table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for %s: %w", qualified, err)
	}

	defer func() {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Failed to roll back table replacement", "table", table, "error", rollbackErr)
		}
	}()

	_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", s.schema+"."+table)
	if err != nil {
		return 0, fmt.Errorf("failed to lock %s: %w", qualified, err)
	}

	_, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+qualified+" CASCADE")
	if err != nil {
		return 0, fmt.Errorf("failed to drop %s: %w", qualified, err)
	}

	_, err = tx.ExecContext(ctx, createTableStatement(qualified, dataset.Columns))
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", qualified, err)
	}

	rows, err := copyRows(ctx, tx, s.schema, table, dataset)
	if err != nil {
		return 0, fmt.Errorf("failed to copy rows into %s: %w", qualified, err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit %s: %w", qualified, err)
	}

	s.logger.DebugContext(ctx, "Table replaced", "table", table, "rows", rows)

	return rows, nil
}

func (s *TableStore) qualifiedName(table string) string {
	return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(table)
}

func copyRows(ctx context.Context, tx *sql.Tx, schema, table string, dataset *models.Dataset) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, table, dataset.ColumnNames()...))
	if err != nil {
		return 0, err
	}

	for _, row := range dataset.Rows {
		_, err = stmt.ExecContext(ctx, row...)
		if err != nil {
			_ = stmt.Close()

			return 0, err
		}
	}

	_, err = stmt.ExecContext(ctx)
	if err != nil {
		_ = stmt.Close()

		return 0, err
	}

	err = stmt.Close()
	if err != nil {
		return 0, err
	}

	return int64(len(dataset.Rows)), nil
}

func createTableStatement(qualified string, columns []models.Column) string {
	definitions := make([]string, len(columns))
	for i, column := range columns {
		definitions[i] = pq.QuoteIdentifier(column.Name()) + " " + sqlType(column.Type)
	}

	return "CREATE TABLE " + qualified + " (" + strings.Join(definitions, ", ") + ")"
}

func sqlType(columnType models.ColumnType) string {
	switch columnType {
	case models.ColumnTimestamp:
		return "TIMESTAMP WITHOUT TIME ZONE"
	case models.ColumnFloat:
		return "DOUBLE PRECISION"
	case models.ColumnInteger:
		return "BIGINT"
	default:
		return "TEXT"
	}
}
