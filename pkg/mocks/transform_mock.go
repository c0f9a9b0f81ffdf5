package mocks

import (
	"context"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of transform.Engine interface.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Build(ctx context.Context, node models.Node) error {
	args := m.Called(ctx, node)

	return args.Error(0)
}
