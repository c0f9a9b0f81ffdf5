package ingestion_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stockpipe/pkg/ingestion"
	"github.com/dukex/stockpipe/pkg/mocks"
	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryStore keeps replaced tables in memory.
type memoryStore struct {
	mu     sync.Mutex
	tables map[string]*models.Dataset
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tables: make(map[string]*models.Dataset)}
}

func (s *memoryStore) ReplaceTable(_ context.Context, table string, dataset *models.Dataset) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[table] = dataset

	return int64(dataset.Len()), nil
}

func multiLevelDataset(symbol string, days int) *models.Dataset {
	dataset := &models.Dataset{
		IndexName: "Date",
		Columns: []models.Column{
			{Levels: []string{"Close", symbol}, Type: models.ColumnFloat},
			{Levels: []string{"High", symbol}, Type: models.ColumnFloat},
			{Levels: []string{"Low", symbol}, Type: models.ColumnFloat},
			{Levels: []string{"Open", symbol}, Type: models.ColumnFloat},
			{Levels: []string{"Volume", symbol}, Type: models.ColumnInteger},
		},
	}

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range days {
		dataset.Index = append(dataset.Index, start.AddDate(0, 0, i))
		dataset.Rows = append(dataset.Rows, []any{100.0 + float64(i), 101.0, 99.0, 100.0, int64(1000 + i)})
	}

	return dataset
}

func TestLoader_Load(t *testing.T) {
	ctx := context.Background()
	source := &mocks.MockProvider{}
	store := newMemoryStore()

	source.On("Fetch", mock.Anything, models.Entity("AMZN"), provider.DefaultWindow).
		Return(multiLevelDataset("AMZN", 3), nil)

	loader := ingestion.NewLoader(source, store, provider.DefaultWindow, discardLogger())

	rows, err := loader.Load(ctx, "AMZN")

	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)

	table, ok := store.tables["amzn_stock_prices"]
	require.True(t, ok)
	assert.Equal(t, []string{"date", "close", "high", "low", "open", "volume"}, table.ColumnNames())
	assert.Len(t, table.Rows, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), table.Rows[0][0])
	assert.InDelta(t, 100.0, table.Rows[0][1], 1e-9)
	assert.Equal(t, int64(1002), table.Rows[2][5])
	source.AssertExpectations(t)
}

func TestLoader_Load_DuplicateColumnsKeepFirst(t *testing.T) {
	ctx := context.Background()
	source := &mocks.MockProvider{}
	store := newMemoryStore()

	dataset := &models.Dataset{
		IndexName: "Date",
		Index:     []time.Time{time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		Columns: []models.Column{
			{Levels: []string{"Adj Close", "MSFT"}, Type: models.ColumnFloat},
			{Levels: []string{"adj close", "MSFT"}, Type: models.ColumnFloat},
		},
		Rows: [][]any{{1.5, 2.5}},
	}

	source.On("Fetch", mock.Anything, models.Entity("MSFT"), provider.DefaultWindow).Return(dataset, nil)

	loader := ingestion.NewLoader(source, store, provider.DefaultWindow, discardLogger())

	_, err := loader.Load(ctx, "MSFT")
	require.NoError(t, err)

	table := store.tables["msft_stock_prices"]
	assert.Equal(t, []string{"date", "adj_close"}, table.ColumnNames())
	assert.Equal(t, []any{time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 1.5}, table.Rows[0])
}

func TestLoader_Load_EmptyResponse(t *testing.T) {
	ctx := context.Background()
	source := &mocks.MockProvider{}
	writer := &mocks.MockTableWriter{}

	source.On("Fetch", mock.Anything, models.Entity("NBIS"), provider.DefaultWindow).Return(&models.Dataset{}, nil)

	loader := ingestion.NewLoader(source, writer, provider.DefaultWindow, discardLogger())

	rows, err := loader.Load(ctx, "NBIS")

	require.ErrorIs(t, err, ingestion.ErrEmptyResponse)
	assert.Zero(t, rows)
	writer.AssertNotCalled(t, "ReplaceTable", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoader_Load_FetchError(t *testing.T) {
	ctx := context.Background()
	source := &mocks.MockProvider{}
	writer := &mocks.MockTableWriter{}
	fetchErr := errors.New("connection refused")

	source.On("Fetch", mock.Anything, models.Entity("TSLA"), provider.DefaultWindow).Return(nil, fetchErr)

	loader := ingestion.NewLoader(source, writer, provider.DefaultWindow, discardLogger())

	_, err := loader.Load(ctx, "TSLA")

	require.ErrorIs(t, err, fetchErr)
	assert.Contains(t, err.Error(), "TSLA")
	writer.AssertNotCalled(t, "ReplaceTable", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoader_Load_StoreError(t *testing.T) {
	ctx := context.Background()
	source := &mocks.MockProvider{}
	writer := &mocks.MockTableWriter{}
	storeErr := errors.New("disk full")

	source.On("Fetch", mock.Anything, models.Entity("META"), provider.DefaultWindow).
		Return(multiLevelDataset("META", 1), nil)
	writer.On("ReplaceTable", mock.Anything, "meta_stock_prices", mock.Anything).Return(int64(0), storeErr)

	loader := ingestion.NewLoader(source, writer, provider.DefaultWindow, discardLogger())

	_, err := loader.Load(ctx, "META")

	require.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "failed to store META")
}
