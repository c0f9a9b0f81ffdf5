package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/stockpipe/pkg/config"
	"github.com/dukex/stockpipe/pkg/eventbus"
	"github.com/dukex/stockpipe/pkg/executor"
	"github.com/dukex/stockpipe/pkg/graph"
	"github.com/dukex/stockpipe/pkg/ingestion"
	"github.com/dukex/stockpipe/pkg/otelhelper"
	"github.com/dukex/stockpipe/pkg/persistence"
	"github.com/dukex/stockpipe/pkg/process"
	"github.com/dukex/stockpipe/pkg/provider"
	"github.com/dukex/stockpipe/pkg/provider/yahoo"
	"github.com/dukex/stockpipe/pkg/scheduler"
	"github.com/dukex/stockpipe/pkg/scheduler/lock"
	storage "github.com/dukex/stockpipe/pkg/storage/postgresql"
	"github.com/dukex/stockpipe/pkg/transform"
	"go.opentelemetry.io/otel/trace"
)

const runLockKey = "stockpipe:run"

// PipelineOptions are the command line switches that shape the pipeline.
type PipelineOptions struct {
	Tracing bool
	// ConfigFile is forwarded to the ingest subprocess.
	ConfigFile string
}

// Pipeline holds every long lived component of a running service.
type Pipeline struct {
	Config    *config.Config
	Graph     *graph.Graph
	Executor  *executor.Executor
	Scheduler *scheduler.Scheduler
	// Lock keeps runs exclusive across processes.
	Lock      scheduler.Lock
	Runs      persistence.RunRepository
	EventBus  eventbus.EventBus

	logger   *slog.Logger
	database *sql.DB
	closers  []func(ctx context.Context) error
}

// NewGraph loads the dbt manifest and resolves the dependency graph. A missing manifest is
// reported as graph.ErrManifestMissing.
func NewGraph(cfg *config.Config, logger *slog.Logger) (*graph.Graph, error) {
	return graph.NewBuilder(graph.DependencyRules(cfg.DependencyRules), logger).Load(cfg.ManifestPath())
}

// NewDbtEngine returns the transformation engine configured for the dbt project.
func NewDbtEngine(cfg *config.Config, logger *slog.Logger) *transform.DbtEngine {
	return transform.NewDbtEngine(process.NewExecRunner(logger), transform.Options{
		Executable:  cfg.Dbt.Executable,
		ProjectDir:  cfg.Dbt.ProjectDir,
		ProfilesDir: cfg.Dbt.ProfilesDir,
		Target:      cfg.Dbt.Target,
	}, logger)
}

// NewIngestion opens the raw table store and returns the in-process ingestion orchestrator. The
// caller owns the returned database handle.
func NewIngestion(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ingestion.Orchestrator, *sql.DB, error) {
	db, err := storage.Open(ctx, cfg.Database.URL())
	if err != nil {
		return nil, nil, err
	}

	tables := storage.NewTableStore(db, cfg.Ingestion.RawSchema, logger)

	err = tables.EnsureSchema(ctx)
	if err != nil {
		_ = db.Close()

		return nil, nil, err
	}

	loader := ingestion.NewLoader(
		yahoo.NewClient(cfg.Ingestion.ProviderURL, logger),
		tables,
		provider.DefaultWindow,
		logger,
	)

	return ingestion.NewOrchestrator(loader, cfg.Ingestion.Entities, logger), db, nil
}

// NewPipeline assembles graph, ingestion, engine, executor and scheduler from the configuration.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, options PipelineOptions) (*Pipeline, error) {
	p := &Pipeline{Config: cfg, logger: logger}

	err := p.build(ctx, options)
	if err != nil {
		closeErr := p.Close(context.WithoutCancel(ctx))
		if closeErr != nil {
			logger.ErrorContext(ctx, "Failed to release pipeline resources", "error", closeErr)
		}

		return nil, err
	}

	return p, nil
}

func (p *Pipeline) build(ctx context.Context, options PipelineOptions) error {
	var err error

	cfg := p.Config

	p.Graph, err = NewGraph(cfg, p.logger)
	if err != nil {
		return err
	}

	p.Runs, err = NewRunRepository(ctx, p.logger, cfg.RunsURL)
	if err != nil {
		return err
	}

	p.closers = append(p.closers, p.Runs.Close)

	eventBus, err := NewEventBus(cfg.Events, p.logger)
	if err != nil {
		return err
	}

	p.EventBus = eventBus
	p.closers = append(p.closers, func(context.Context) error { return eventBus.Close() })

	runner, err := p.ingestionRunner(ctx, options)
	if err != nil {
		return err
	}

	tracer := otelhelper.NoopTracer()
	if options.Tracing {
		var shutdown otelhelper.ShutdownFunc

		tracer, shutdown, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return err
		}

		p.closers = append(p.closers, shutdown)
	}

	p.Executor = p.newExecutor(runner, tracer)

	p.Lock, err = p.runLock(ctx, cfg)
	if err != nil {
		return err
	}

	return p.newScheduler(cfg)
}

func (p *Pipeline) ingestionRunner(ctx context.Context, options PipelineOptions) (ingestion.Runner, error) {
	if p.Config.Ingestion.Mode == config.IngestModeSubprocess {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable for ingest subprocess: %w", err)
		}

		args := []string{}
		if options.ConfigFile != "" {
			args = append(args, "--config", options.ConfigFile)
		}

		return ingestion.NewSubprocessRunner(
			process.NewExecRunner(p.logger),
			process.Command{Path: self, Args: append(args, "ingest")},
			p.logger,
		), nil
	}

	orchestrator, db, err := NewIngestion(ctx, p.Config, p.logger)
	if err != nil {
		return nil, err
	}

	p.database = db
	p.closers = append(p.closers, func(context.Context) error { return db.Close() })

	return orchestrator, nil
}

func (p *Pipeline) newExecutor(runner ingestion.Runner, tracer trace.Tracer) *executor.Executor {
	return executor.New(executor.Options{
		Graph:            p.Graph,
		Ingestion:        runner,
		Engine:           NewDbtEngine(p.Config, p.logger),
		Runs:             p.Runs,
		Publisher:        p.EventBus,
		Tracer:           tracer,
		Logger:           p.logger,
		MaxParallelNodes: p.Config.Execution.MaxParallelNodes,
	})
}

func (p *Pipeline) newScheduler(cfg *config.Config) error {
	location, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("invalid schedule timezone: %w", err)
	}

	p.Scheduler, err = scheduler.New(scheduler.Options{
		Spec:     cfg.Schedule.Cron,
		Location: location,
		Executor: p.Executor,
		Lock:     p.Lock,
		Logger:   p.logger,
	})

	return err
}

// runLock returns a PostgreSQL advisory lock on the pipeline database, or a Redis lock when a
// Redis URL is configured.
func (p *Pipeline) runLock(ctx context.Context, cfg *config.Config) (scheduler.Lock, error) {
	if cfg.Schedule.RedisURL != "" {
		redisLock, err := lock.NewRedisLockFromURL(cfg.Schedule.RedisURL, runLockKey, cfg.Schedule.LockTTL)
		if err != nil {
			return nil, err
		}

		p.closers = append(p.closers, func(context.Context) error { return redisLock.Close() })

		err = redisLock.Ping(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to reach redis for the run lock: %w", err)
		}

		return redisLock, nil
	}

	db := p.database
	if db == nil {
		var err error

		db, err = storage.Connect(cfg.Database.URL())
		if err != nil {
			return nil, err
		}

		p.closers = append(p.closers, func(context.Context) error { return db.Close() })
	}

	return lock.NewPostgresLock(db, runLockKey), nil
}

// Close releases resources in reverse order of acquisition.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error

	for i := len(p.closers) - 1; i >= 0; i-- {
		err := p.closers[i](ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	p.closers = nil

	return errors.Join(errs...)
}
