// Package file provides file-based persistence for pipeline runs.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/persistence"
)

// Persistence stores every run as a JSON document under <root>/runs.
type Persistence struct {
	root string
}

// NewPersistence creates a file persistence rooted at root. A file:// prefix is accepted.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) runsDir() string {
	return filepath.Join(fp.root, "runs")
}

// validateRunID validates that the run ID is safe for file operations.
func validateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("%w: cannot be empty", persistence.ErrInvalidRunID)
	}

	if strings.Contains(runID, "..") || strings.Contains(runID, "/") || strings.Contains(runID, "\\") {
		return fmt.Errorf("%w: contains invalid characters", persistence.ErrInvalidRunID)
	}

	return nil
}

func (fp *Persistence) SaveRun(_ context.Context, run *models.Run) error {
	err := validateRunID(run.ID)
	if err != nil {
		return persistence.NewRunError("SaveRun", run.ID, err)
	}

	err = os.MkdirAll(fp.runsDir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	// Write to a temporary file first so readers never see a partial document.
	target := filepath.Join(fp.runsDir(), run.ID+".json")
	temporary := target + ".tmp"

	err = os.WriteFile(temporary, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}

	err = os.Rename(temporary, target)
	if err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}

	return nil
}

func (fp *Persistence) RunByID(_ context.Context, id string) (*models.Run, error) {
	err := validateRunID(id)
	if err != nil {
		return nil, persistence.NewRunError("RunByID", id, err)
	}

	data, err := os.ReadFile(filepath.Join(fp.runsDir(), id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}

	var run models.Run

	err = json.Unmarshal(data, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}

	return &run, nil
}

func (fp *Persistence) Runs(ctx context.Context, limit int) ([]*models.Run, error) {
	files, err := fs.Glob(os.DirFS(fp.runsDir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.Run, 0, len(files))

	for _, file := range files {
		run, err := fp.RunByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	limit = persistence.NormalizeLimit(limit)
	if len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}
