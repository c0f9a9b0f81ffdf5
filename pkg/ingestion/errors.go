package ingestion

import (
	"errors"
	"fmt"

	"github.com/dukex/stockpipe/pkg/models"
)

var (
	// ErrEmptyResponse means the provider returned no rows for an entity. The entity is skipped.
	ErrEmptyResponse = errors.New("provider returned no data")

	// ErrTotalIngestionFailure means not a single entity was loaded.
	ErrTotalIngestionFailure = errors.New("no data was loaded for any entity")
)

// Exit codes used by the standalone ingest command.
const (
	ExitSuccess               = 0
	ExitFailure               = 1
	ExitEntityLoadFailure     = 2
	ExitTotalIngestionFailure = 3
)

// EntityLoadError is a hard failure while fetching or storing one entity. It aborts the
// remaining entities.
type EntityLoadError struct {
	Entity models.Entity
	Err    error
}

func (e *EntityLoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Entity, e.Err)
}

func (e *EntityLoadError) Unwrap() error {
	return e.Err
}

func (e *EntityLoadError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func IsEntityLoadError(err error) bool {
	var target *EntityLoadError

	return errors.As(err, &target)
}

func IsEmptyResponse(err error) bool {
	return errors.Is(err, ErrEmptyResponse)
}

func IsTotalIngestionFailure(err error) bool {
	return errors.Is(err, ErrTotalIngestionFailure)
}

// ExitCode maps an ingestion error to the process exit status of the ingest command.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case IsEntityLoadError(err):
		return ExitEntityLoadFailure
	case IsTotalIngestionFailure(err):
		return ExitTotalIngestionFailure
	default:
		return ExitFailure
	}
}
