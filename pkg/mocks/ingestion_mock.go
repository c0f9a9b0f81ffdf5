package mocks

import (
	"context"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/process"
	"github.com/dukex/stockpipe/pkg/provider"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of provider.Provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Fetch(ctx context.Context, entity models.Entity, window provider.Window) (*models.Dataset, error) {
	args := m.Called(ctx, entity, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Dataset), args.Error(1)
}

// MockTableWriter is a mock implementation of ingestion.TableWriter interface.
type MockTableWriter struct {
	mock.Mock
}

func (m *MockTableWriter) ReplaceTable(ctx context.Context, table string, dataset *models.Dataset) (int64, error) {
	args := m.Called(ctx, table, dataset)

	return args.Get(0).(int64), args.Error(1)
}

// MockEntityLoader is a mock implementation of ingestion.EntityLoader interface.
type MockEntityLoader struct {
	mock.Mock
}

func (m *MockEntityLoader) Load(ctx context.Context, entity models.Entity) (int64, error) {
	args := m.Called(ctx, entity)

	return args.Get(0).(int64), args.Error(1)
}

// MockIngestionRunner is a mock implementation of ingestion.Runner interface.
type MockIngestionRunner struct {
	mock.Mock
}

func (m *MockIngestionRunner) Ingest(ctx context.Context) (*models.IngestionOutcome, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.IngestionOutcome), args.Error(1)
}

// MockProcessRunner is a mock implementation of process.Runner interface.
type MockProcessRunner struct {
	mock.Mock
}

func (m *MockProcessRunner) Run(ctx context.Context, command process.Command) (*process.Result, error) {
	args := m.Called(ctx, command)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*process.Result), args.Error(1)
}
