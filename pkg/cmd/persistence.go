// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stockpipe/pkg/persistence"
	"github.com/dukex/stockpipe/pkg/persistence/file"
	"github.com/dukex/stockpipe/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewRunRepository opens run history storage for a file:// or postgres:// URL. Anything else is
// treated as a directory path.
func NewRunRepository(ctx context.Context, logger *slog.Logger, runsURL string) (persistence.RunRepository, error) {
	switch parsePersistenceProvider(runsURL) {
	case "postgres", "postgresql":
		repository, err := postgresql.NewPersistence(ctx, logger, runsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}

		return repository, nil
	default:
		return file.NewPersistence(runsURL), nil
	}
}

func parsePersistenceProvider(runsURL string) string {
	provider, _, found := strings.Cut(runsURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
