// Package web provides the HTTP API used to trigger and inspect pipeline runs.
package web

import (
	"time"

	"github.com/dukex/stockpipe/pkg/models"
)

// ListRunsRequest holds the query parameters of GET /runs.
type ListRunsRequest struct {
	Limit int `validate:"min=0,max=100"`
}

// RunAcceptedResponse is returned when a run was started in the background.
type RunAcceptedResponse struct {
	ID        string             `json:"id"`
	Trigger   models.TriggerKind `json:"trigger"`
	Status    models.RunStatus   `json:"status"`
	StartedAt time.Time          `json:"started_at"`
	Location  string             `json:"location"`
}

type RunsResponse struct {
	Runs  []*models.Run `json:"runs"`
	Limit int           `json:"limit"`
}

type NodeResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Kind         models.NodeKind `json:"kind"`
	Group        string          `json:"group,omitempty"`
	Description  string          `json:"description,omitempty"`
	Dependencies []string        `json:"dependencies"`
	Position     int             `json:"position"`
}

type GraphResponse struct {
	Nodes []NodeResponse `json:"nodes"`
}

type ScheduleResponse struct {
	Schedule     string     `json:"schedule"`
	Next         *time.Time `json:"next,omitempty"`
	Running      bool       `json:"running"`
	CurrentRunID string     `json:"current_run_id,omitempty"`
}

// TransformNodeResponse describes a node at its execution position.
func TransformNodeResponse(node models.Node, position int) NodeResponse {
	dependencies := node.Dependencies
	if dependencies == nil {
		dependencies = []string{}
	}

	return NodeResponse{
		ID:           node.ID(),
		Name:         node.Name(),
		Kind:         node.Kind,
		Group:        node.Group,
		Description:  node.Description,
		Dependencies: dependencies,
		Position:     position,
	}
}
