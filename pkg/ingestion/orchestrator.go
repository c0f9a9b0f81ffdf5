package ingestion

import (
	"context"
	"log/slog"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Runner executes one complete ingestion pass.
type Runner interface {
	Ingest(ctx context.Context) (*models.IngestionOutcome, error)
}

// Orchestrator drives the loader over the configured entities in order. The first hard error
// stops the pass; entities with no data are skipped.
type Orchestrator struct {
	loader   EntityLoader
	entities []models.Entity
	logger   *slog.Logger
}

func NewOrchestrator(loader EntityLoader, entities []models.Entity, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		loader:   loader,
		entities: entities,
		logger:   logger.With("module", "ingestion"),
	}
}

// Ingest returns an *EntityLoadError on the first hard failure and ErrTotalIngestionFailure
// when every entity came back empty. The outcome is returned in both cases.
//
// Each entity is recorded as an event on the span carried by ctx, if any.
func (o *Orchestrator) Ingest(ctx context.Context) (*models.IngestionOutcome, error) {
	outcome := models.NewIngestionOutcome(len(o.entities))
	span := trace.SpanFromContext(ctx)

	o.logger.InfoContext(ctx, "Starting ingestion", "entities", len(o.entities))

	for _, entity := range o.entities {
		err := ctx.Err()
		if err != nil {
			return outcome, &EntityLoadError{Entity: entity, Err: err}
		}

		rows, err := o.loader.Load(ctx, entity)
		if IsEmptyResponse(err) {
			outcome.RecordSkipped(entity)
			span.AddEvent("entity.skipped", trace.WithAttributes(attribute.String(otelhelper.EntityKey, entity.String())))

			continue
		}

		if err != nil {
			o.logger.ErrorContext(ctx, "Ingestion aborted", "entity", entity, "error", err)
			span.AddEvent("entity.failed", trace.WithAttributes(
				attribute.String(otelhelper.EntityKey, entity.String()),
				attribute.String("error", err.Error()),
			))

			return outcome, &EntityLoadError{Entity: entity, Err: err}
		}

		outcome.RecordLoaded(entity, rows)
		span.AddEvent("entity.loaded", trace.WithAttributes(
			attribute.String(otelhelper.EntityKey, entity.String()),
			attribute.Int64(otelhelper.RowsKey, rows),
		))
	}

	if outcome.Loaded == 0 {
		o.logger.ErrorContext(ctx, "No entity was loaded", "configured", outcome.Configured)

		return outcome, ErrTotalIngestionFailure
	}

	o.logger.InfoContext(ctx, "Ingestion finished",
		"loaded", outcome.Loaded,
		"configured", outcome.Configured,
		"skipped", len(outcome.Skipped),
	)

	return outcome, nil
}
