package executor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stockpipe/pkg/eventbus"
	"github.com/dukex/stockpipe/pkg/events"
	"github.com/dukex/stockpipe/pkg/executor"
	"github.com/dukex/stockpipe/pkg/graph"
	"github.com/dukex/stockpipe/pkg/ingestion"
	"github.com/dukex/stockpipe/pkg/mocks"
	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/otelhelper"
	"github.com/dukex/stockpipe/pkg/persistence/file"
	"github.com/dukex/stockpipe/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	stagingID  = "model/analytics/stg_stock_prices"
	martID     = "model/analytics/mart_summary"
	calendarID = "seed/analytics/calendar"
	seasonsID  = "model/analytics/mart_seasons"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, len(p.events))
	for i, event := range p.events {
		types[i] = event.GetType()
	}

	return types
}

func transformation(id string, dependencies ...string) models.Node {
	return testutil.CreateTransformationNode(id, testutil.WithDependencies(dependencies...))
}

func chainGraph(t *testing.T, extra ...models.Node) *graph.Graph {
	t.Helper()

	nodes := []models.Node{
		models.RawIngestionNode(),
		transformation(stagingID, models.RawIngestionNodeID()),
		transformation(martID, stagingID),
	}

	g, err := graph.New(append(nodes, extra...))
	require.NoError(t, err)

	return g
}

func byID(id string) any {
	return mock.MatchedBy(func(node models.Node) bool { return node.ID() == id })
}

func successfulOutcome() *models.IngestionOutcome {
	outcome := models.NewIngestionOutcome(2)
	outcome.RecordLoaded("A", 10)
	outcome.RecordSkipped("B")

	return outcome
}

type fixture struct {
	ingestion *mocks.MockIngestionRunner
	engine    *mocks.MockEngine
	publisher *recordingPublisher
	runs      *file.Persistence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return &fixture{
		ingestion: &mocks.MockIngestionRunner{},
		engine:    &mocks.MockEngine{},
		publisher: &recordingPublisher{},
		runs:      file.NewPersistence(t.TempDir()),
	}
}

func (f *fixture) executor(g *graph.Graph, parallel int) *executor.Executor {
	return executor.New(executor.Options{
		Graph:            g,
		Ingestion:        f.ingestion,
		Engine:           f.engine,
		Runs:             f.runs,
		Publisher:        f.publisher,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxParallelNodes: parallel,
	})
}

func TestExecutor_Execute_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var (
		mu    sync.Mutex
		calls []string
	)

	record := func(id string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()

			calls = append(calls, id)
		}
	}

	f.ingestion.On("Ingest", mock.Anything).Run(record(models.RawIngestionNodeID())).Return(successfulOutcome(), nil)
	f.engine.On("Build", mock.Anything, byID(stagingID)).Run(record(stagingID)).Return(nil)
	f.engine.On("Build", mock.Anything, byID(martID)).Run(record(martID)).Return(nil)

	run := models.NewRun(models.TriggerScheduled)

	err := f.executor(chainGraph(t), 1).Execute(ctx, run)

	require.NoError(t, err)
	assert.Equal(t, []string{models.RawIngestionNodeID(), stagingID, martID}, calls)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Empty(t, run.FailureReason)
	require.NotNil(t, run.Ingestion)
	assert.Equal(t, 1, run.Ingestion.Loaded)
	assert.Equal(t, 2, run.Ingestion.Configured)

	for _, result := range run.Nodes {
		assert.Equal(t, models.NodeStatusSucceeded, result.Status, result.NodeID)
		assert.NotNil(t, result.StartedAt)
		assert.NotNil(t, result.FinishedAt)
	}

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.NodeFinishedEvent,
		events.NodeFinishedEvent,
		events.NodeFinishedEvent,
		events.RunFinishedEvent,
	}, f.publisher.types())

	stored, err := f.runs.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
}

func TestExecutor_Execute_IngestionFailureSkipsDependents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loadErr := &ingestion.EntityLoadError{Entity: "A", Err: errors.New("connection refused")}

	f.ingestion.On("Ingest", mock.Anything).Return(models.NewIngestionOutcome(2), loadErr)

	run := models.NewRun(models.TriggerScheduled)

	err := f.executor(chainGraph(t), 1).Execute(ctx, run)

	require.Error(t, err)
	assert.True(t, executor.IsRunFailed(err))
	assert.True(t, ingestion.IsEntityLoadError(err))

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "node raw_data/stock_prices_batch failed: failed to load A: connection refused", run.FailureReason)
	assert.Equal(t, models.NodeStatusFailed, run.Node(models.RawIngestionNodeID()).Status)
	assert.Equal(t, models.NodeStatusSkipped, run.Node(stagingID).Status)
	assert.Equal(t, models.NodeStatusSkipped, run.Node(martID).Status)
	assert.Equal(t, "upstream raw_data/stock_prices_batch failed", run.Node(martID).Error)

	f.engine.AssertNotCalled(t, "Build", mock.Anything, mock.Anything)

	stored, err := f.runs.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Equal(t, run.FailureReason, stored.FailureReason)
}

func TestExecutor_Execute_TotalIngestionFailure(t *testing.T) {
	f := newFixture(t)
	f.ingestion.On("Ingest", mock.Anything).Return(models.NewIngestionOutcome(2), ingestion.ErrTotalIngestionFailure)

	run := models.NewRun(models.TriggerManual)

	err := f.executor(chainGraph(t), 1).Execute(context.Background(), run)

	require.ErrorIs(t, err, ingestion.ErrTotalIngestionFailure)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.FailureReason, "no data was loaded")
	assert.Equal(t, 0, run.Ingestion.Loaded)
}

func TestExecutor_Execute_AbortsOnlyDependents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buildErr := errors.New("database error")

	f.ingestion.On("Ingest", mock.Anything).Return(successfulOutcome(), nil)
	f.engine.On("Build", mock.Anything, byID(stagingID)).Return(buildErr)
	f.engine.On("Build", mock.Anything, byID(calendarID)).Return(nil)
	f.engine.On("Build", mock.Anything, byID(seasonsID)).Return(nil)

	g := chainGraph(t,
		transformation(calendarID),
		transformation(seasonsID, calendarID),
	)

	run := models.NewRun(models.TriggerScheduled)

	err := f.executor(g, 1).Execute(ctx, run)

	require.ErrorIs(t, err, buildErr)
	assert.Equal(t, "node model/analytics/stg_stock_prices failed: database error", run.FailureReason)
	assert.Equal(t, models.NodeStatusSucceeded, run.Node(models.RawIngestionNodeID()).Status)
	assert.Equal(t, models.NodeStatusFailed, run.Node(stagingID).Status)
	assert.Equal(t, models.NodeStatusSkipped, run.Node(martID).Status)
	assert.Equal(t, models.NodeStatusSucceeded, run.Node(calendarID).Status)
	assert.Equal(t, models.NodeStatusSucceeded, run.Node(seasonsID).Status)

	f.engine.AssertNotCalled(t, "Build", mock.Anything, byID(martID))
	f.engine.AssertExpectations(t)
}

func TestExecutor_Execute_DependenciesCompleteBeforeStart(t *testing.T) {
	f := newFixture(t)

	var (
		mu       sync.Mutex
		started  = make(map[string]time.Time)
		finished = make(map[string]time.Time)
	)

	track := func(id string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			started[id] = time.Now()
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			finished[id] = time.Now()
			mu.Unlock()
		}
	}

	f.ingestion.On("Ingest", mock.Anything).Run(track(models.RawIngestionNodeID())).Return(successfulOutcome(), nil)

	g := chainGraph(t,
		transformation(calendarID),
		transformation(seasonsID, calendarID, stagingID),
	)

	for _, id := range []string{stagingID, martID, calendarID, seasonsID} {
		f.engine.On("Build", mock.Anything, byID(id)).Run(track(id)).Return(nil)
	}

	run := models.NewRun(models.TriggerScheduled)

	require.NoError(t, f.executor(g, 4).Execute(context.Background(), run))

	for _, node := range g.Order() {
		for _, dependency := range node.Dependencies {
			assert.False(t, started[node.ID()].Before(finished[dependency]),
				"%s started before %s finished", node.ID(), dependency)
		}
	}
}

func TestExecutor_Execute_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := models.NewRun(models.TriggerManual)

	err := f.executor(chainGraph(t), 1).Execute(ctx, run)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	for _, result := range run.Nodes {
		assert.Equal(t, models.NodeStatusSkipped, result.Status)
		assert.Equal(t, "run cancelled", result.Error)
	}

	f.ingestion.AssertNotCalled(t, "Ingest", mock.Anything)

	stored, err := f.runs.RunByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
}

func TestExecutor_Execute_SaveFailureDoesNotFailRun(t *testing.T) {
	runs := &mocks.MockRunRepository{}
	runs.On("SaveRun", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	ingestionRunner := &mocks.MockIngestionRunner{}
	ingestionRunner.On("Ingest", mock.Anything).Return(successfulOutcome(), nil)

	engine := &mocks.MockEngine{}
	engine.On("Build", mock.Anything, mock.Anything).Return(nil)

	exec := executor.New(executor.Options{
		Graph:     chainGraph(t),
		Ingestion: ingestionRunner,
		Engine:    engine,
		Runs:      runs,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	run := models.NewRun(models.TriggerScheduled)

	require.NoError(t, exec.Execute(context.Background(), run))
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	runs.AssertCalled(t, "SaveRun", mock.Anything, run)
}

func TestExecutor_Execute_PublishFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	f.ingestion.On("Ingest", mock.Anything).Return(successfulOutcome(), nil)
	f.engine.On("Build", mock.Anything, mock.Anything).Return(nil)

	run := models.NewRun(models.TriggerManual)

	err := executor.New(executor.Options{
		Graph:     chainGraph(t),
		Ingestion: f.ingestion,
		Engine:    f.engine,
		Runs:      f.runs,
		Publisher: bus,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).Execute(context.Background(), run)

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	bus.AssertNumberOfCalls(t, "Publish", 5)
}

func TestExecutor_Execute_TracesNodeStatus(t *testing.T) {
	f := newFixture(t)
	recorder := tracetest.NewSpanRecorder()

	f.ingestion.On("Ingest", mock.Anything).Return(successfulOutcome(), nil)
	f.engine.On("Build", mock.Anything, byID(stagingID)).Return(errors.New("exit status 1"))

	e := executor.New(executor.Options{
		Graph:            chainGraph(t),
		Ingestion:        f.ingestion,
		Engine:           f.engine,
		Runs:             f.runs,
		Publisher:        f.publisher,
		Tracer:           sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test"),
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxParallelNodes: 1,
	})

	err := e.Execute(context.Background(), models.NewRun(models.TriggerManual))
	require.Error(t, err)

	statuses := map[string]attribute.Value{}

	for _, span := range recorder.Ended() {
		if span.Name() != "pipeline.node" {
			continue
		}

		var id string

		for _, attr := range span.Attributes() {
			if attr.Key == otelhelper.NodeIDKey {
				id = attr.Value.AsString()
			}
		}

		for _, attr := range span.Attributes() {
			if attr.Key == otelhelper.NodeStatusKey {
				statuses[id] = attr.Value
			}
		}
	}

	assert.Equal(t, map[string]attribute.Value{
		models.RawIngestionNodeID(): attribute.StringValue(string(models.NodeStatusSucceeded)),
		stagingID:                   attribute.StringValue(string(models.NodeStatusFailed)),
	}, statuses)
}
