package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/stockpipe/pkg/graph"
	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Trigger starts runs and reports the schedule state.
type Trigger interface {
	TriggerAsync(kind models.TriggerKind) (*models.Run, error)
	Schedule() string
	Next() time.Time
	Current() (string, bool)
}

type APIHandlers struct {
	trigger   Trigger
	runs      persistence.RunRepository
	graph     *graph.Graph
	validator *validator.Validate
}

func NewAPIHandlers(
	trigger Trigger,
	runs persistence.RunRepository,
	graph *graph.Graph,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		trigger:   trigger,
		runs:      runs,
		graph:     graph,
		validator: validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	repository := "ok"
	httpStatus := http.StatusOK

	err := h.runs.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		repository = err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repository,
		},
		"timestamp": time.Now().UTC(),
	})
}

// TriggerRun starts a manual run and answers 202 without waiting for it.
func (h *APIHandlers) TriggerRun(c fiber.Ctx) error {
	run, err := h.trigger.TriggerAsync(models.TriggerManual)
	if err != nil {
		return handleError(c, err)
	}

	location := "/runs/" + run.ID
	c.Set(fiber.HeaderLocation, location)

	return c.Status(fiber.StatusAccepted).JSON(RunAcceptedResponse{
		ID:        run.ID,
		Trigger:   run.Trigger,
		Status:    models.RunStatusRunning,
		StartedAt: run.StartedAt,
		Location:  location,
	})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	req := ListRunsRequest{}

	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return badRequest(c, "Invalid query parameters: limit must be a number")
		}

		req.Limit = parsed
	}

	err := h.validator.Struct(req)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	limit := persistence.NormalizeLimit(req.Limit)

	runs, err := h.runs.Runs(c.Context(), limit)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(RunsResponse{
		Runs:  runs,
		Limit: limit,
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")

	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runs.RunByID(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetGraph(c fiber.Ctx) error {
	order := h.graph.Order()
	nodes := make([]NodeResponse, len(order))

	for i, node := range order {
		nodes[i] = TransformNodeResponse(node, i)
	}

	return c.JSON(GraphResponse{Nodes: nodes})
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	response := ScheduleResponse{
		Schedule: h.trigger.Schedule(),
	}

	if next := h.trigger.Next(); !next.IsZero() {
		response.Next = &next
	}

	response.CurrentRunID, response.Running = h.trigger.Current()

	return c.JSON(response)
}
