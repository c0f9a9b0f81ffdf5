package web

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/stockpipe/pkg/graph"
	"github.com/dukex/stockpipe/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	trigger  Trigger
	runs     persistence.RunRepository
	graph    *graph.Graph
	validate *validator.Validate
	app      *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	trigger Trigger,
	runs persistence.RunRepository,
	graph *graph.Graph,
) *API {
	return &API{
		logger:   logger.With("module", "api"),
		trigger:  trigger,
		runs:     runs,
		graph:    graph,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := NewAPIHandlers(a.trigger, a.runs, a.graph, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.runs.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("stockpipe")
	})

	app.Get("/health", handlers.HealthCheck)
	app.Get("/graph", handlers.GetGraph)
	app.Get("/schedule", handlers.GetSchedule)

	r := app.Group("/runs")
	r.Get("/", handlers.GetRuns)
	r.Post("/", handlers.TriggerRun)
	r.Get("/:id", handlers.GetRun)

	return app
}

// Start serves the API until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	a.app = a.App()

	go func() {
		<-ctx.Done()

		err := a.app.Shutdown()
		if err != nil {
			a.logger.Error("Failed to shut down API", "error", err)
		}
	}()

	a.logger.InfoContext(ctx, "Starting API", "port", port)

	return a.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
