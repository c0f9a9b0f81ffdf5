// Package executor runs the dependency graph for one pipeline run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/stockpipe/pkg/eventbus"
	"github.com/dukex/stockpipe/pkg/events"
	"github.com/dukex/stockpipe/pkg/graph"
	"github.com/dukex/stockpipe/pkg/ingestion"
	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/otelhelper"
	"github.com/dukex/stockpipe/pkg/persistence"
	"github.com/dukex/stockpipe/pkg/transform"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RunFailedError reports the first node failure of a run.
type RunFailedError struct {
	RunID  string
	NodeID string
	Err    error
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s failed: %s", e.RunID, failureReason(e.NodeID, e.Err))
}

func (e *RunFailedError) Unwrap() error {
	return e.Err
}

func IsRunFailed(err error) bool {
	var target *RunFailedError

	return errors.As(err, &target)
}

type Options struct {
	Graph     *graph.Graph
	Ingestion ingestion.Runner
	Engine    transform.Engine
	Runs      persistence.RunRepository
	Publisher eventbus.EventPublisher
	Tracer    trace.Tracer
	Logger    *slog.Logger

	// MaxParallelNodes bounds how many independent nodes run at once.
	MaxParallelNodes int
}

// Executor runs nodes in dependency order. A node starts only after every dependency
// succeeded; when a node fails its direct and transitive dependents are skipped while unrelated
// nodes keep running.
type Executor struct {
	graph       *graph.Graph
	ingestion   ingestion.Runner
	engine      transform.Engine
	runs        persistence.RunRepository
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	maxParallel int
	position    map[string]int
}

func New(options Options) *Executor {
	executor := &Executor{
		graph:       options.Graph,
		ingestion:   options.Ingestion,
		engine:      options.Engine,
		runs:        options.Runs,
		publisher:   options.Publisher,
		tracer:      options.Tracer,
		logger:      options.Logger.With("module", "executor"),
		maxParallel: max(options.MaxParallelNodes, 1),
		position:    make(map[string]int, options.Graph.Len()),
	}

	if executor.publisher == nil {
		executor.publisher = eventbus.NopPublisher{}
	}

	if executor.tracer == nil {
		executor.tracer = otelhelper.NoopTracer()
	}

	for i, node := range options.Graph.Order() {
		executor.position[node.ID()] = i
	}

	return executor
}

func (e *Executor) Graph() *graph.Graph {
	return e.graph
}

type nodeOutcome struct {
	node      models.Node
	err       error
	ingestion *models.IngestionOutcome
	duration  time.Duration
}

// Execute runs every node of the graph and records the outcome on run. It returns a
// *RunFailedError when any node failed.
func (e *Executor) Execute(ctx context.Context, run *models.Run) error {
	logger := e.logger.With("run_id", run.ID, "trigger", run.Trigger)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "pipeline.run",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.TriggerKey, string(run.Trigger)),
	)
	defer span.End()

	order := e.graph.Order()
	ids := make([]string, len(order))

	for i, node := range order {
		ids[i] = node.ID()
		run.Node(node.ID())
	}

	logger.InfoContext(ctx, "Run started", "nodes", len(order))
	e.save(ctx, run)
	e.publish(ctx, run.ID, &events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, run.ID),
		Trigger:   run.Trigger,
		Nodes:     ids,
	})

	failure := e.coordinate(ctx, run, logger)

	if failure != nil {
		run.Complete(failureReason(failure.NodeID, failure.Err))
		otelhelper.SetError(span, failure, attribute.String(otelhelper.NodeIDKey, failure.NodeID))
		logger.ErrorContext(ctx, "Run failed", "reason", run.FailureReason, "duration", run.Duration())
	} else {
		run.Complete("")
		logger.InfoContext(ctx, "Run succeeded", "duration", run.Duration())
	}

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(run.Status)))

	// The run record is written even when the run context was cancelled.
	finalCtx := context.WithoutCancel(ctx)
	e.save(finalCtx, run)
	e.publish(finalCtx, run.ID, events.NewRunFinished(run))

	if failure != nil {
		return failure
	}

	return nil
}

// coordinate owns all run state; workers only report outcomes back.
func (e *Executor) coordinate(ctx context.Context, run *models.Run, logger *slog.Logger) *RunFailedError {
	pending := make(map[string]int, e.graph.Len())
	ready := make([]string, 0)

	for _, node := range e.graph.Order() {
		pending[node.ID()] = len(node.Dependencies)
		if pending[node.ID()] == 0 {
			ready = append(ready, node.ID())
		}
	}

	var (
		failure  *RunFailedError
		running  int
		runID    = run.ID
		outcomes = make(chan nodeOutcome, e.graph.Len())
	)

	for {
		for len(ready) > 0 && running < e.maxParallel && ctx.Err() == nil {
			slices.SortFunc(ready, func(a, b string) int { return e.position[a] - e.position[b] })

			id := ready[0]
			ready = ready[1:]
			node, _ := e.graph.Node(id)

			run.StartNode(id)
			e.save(ctx, run)

			running++

			go func() {
				outcomes <- e.runNode(ctx, runID, node, logger)
			}()
		}

		if running == 0 {
			break
		}

		outcome := <-outcomes
		running--

		id := outcome.node.ID()
		run.FinishNode(id, outcome.err)

		if outcome.ingestion != nil {
			run.Ingestion = outcome.ingestion
		}

		e.publishNode(ctx, run, outcome.node, outcome.duration)

		if outcome.err != nil {
			if failure == nil {
				failure = &RunFailedError{RunID: run.ID, NodeID: id, Err: outcome.err}
			}

			e.skipDependents(ctx, run, id, logger)
			e.save(ctx, run)

			continue
		}

		for _, dependent := range e.graph.DirectDependents(id) {
			pending[dependent]--
			if pending[dependent] == 0 && run.Node(dependent).Status == models.NodeStatusPending {
				ready = append(ready, dependent)
			}
		}

		e.save(ctx, run)
	}

	if err := ctx.Err(); err != nil {
		for _, node := range e.graph.Order() {
			if run.Node(node.ID()).Status == models.NodeStatusPending {
				run.SkipNode(node.ID(), "run cancelled")
				e.publishNode(ctx, run, node, 0)
			}
		}

		if failure == nil {
			failure = &RunFailedError{RunID: run.ID, NodeID: "", Err: err}
		}
	}

	return failure
}

func (e *Executor) skipDependents(ctx context.Context, run *models.Run, failedID string, logger *slog.Logger) {
	reason := "upstream " + failedID + " failed"

	for _, dependent := range e.graph.Dependents(failedID) {
		if run.Node(dependent).Status != models.NodeStatusPending {
			continue
		}

		run.SkipNode(dependent, reason)
		logger.WarnContext(ctx, "Node skipped", "node_id", dependent, "reason", reason)

		node, _ := e.graph.Node(dependent)
		e.publishNode(ctx, run, node, 0)
	}
}

func (e *Executor) runNode(ctx context.Context, runID string, node models.Node, logger *slog.Logger) nodeOutcome {
	logger = logger.With("node_id", node.ID(), "kind", node.Kind)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "pipeline.node",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.NodeIDKey, node.ID()),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
	)
	defer span.End()

	logger.InfoContext(ctx, "Node started")

	start := time.Now()
	outcome := nodeOutcome{node: node}

	switch node.Kind {
	case models.NodeKindRawIngestion:
		outcome.ingestion, outcome.err = e.ingestion.Ingest(ctx)
		if outcome.ingestion != nil {
			span.SetAttributes(attribute.Int(otelhelper.RowsKey, int(totalRows(outcome.ingestion))))
		}
	case models.NodeKindTransformation:
		outcome.err = e.engine.Build(ctx, node)
	default:
		outcome.err = fmt.Errorf("unsupported node kind %q", node.Kind)
	}

	outcome.duration = time.Since(start)

	if outcome.err != nil {
		span.SetAttributes(attribute.String(otelhelper.NodeStatusKey, string(models.NodeStatusFailed)))
		otelhelper.SetError(span, outcome.err)
		logger.ErrorContext(ctx, "Node failed", "error", outcome.err, "duration", outcome.duration)

		return outcome
	}

	span.SetAttributes(attribute.String(otelhelper.NodeStatusKey, string(models.NodeStatusSucceeded)))
	logger.InfoContext(ctx, "Node succeeded", "duration", outcome.duration)

	return outcome
}

func (e *Executor) publishNode(ctx context.Context, run *models.Run, node models.Node, duration time.Duration) {
	result := run.Node(node.ID())

	e.publish(ctx, run.ID, &events.NodeFinished{
		BaseEvent: events.NewBaseEvent(events.NodeFinishedEvent, run.ID),
		NodeID:    node.ID(),
		Kind:      node.Kind,
		Status:    result.Status,
		Error:     result.Error,
		Duration:  duration,
	})
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Executor) save(ctx context.Context, run *models.Run) {
	if e.runs == nil {
		return
	}

	err := e.runs.SaveRun(ctx, run)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to save run", "run_id", run.ID, "error", err)
	}
}

func failureReason(nodeID string, err error) string {
	if nodeID == "" {
		return err.Error()
	}

	return fmt.Sprintf("node %s failed: %v", nodeID, err)
}

func totalRows(outcome *models.IngestionOutcome) int64 {
	var total int64
	for _, rows := range outcome.Rows {
		total += rows
	}

	return total
}
