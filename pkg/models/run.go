package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

type NodeResult struct {
	NodeID     string     `json:"node_id"`
	Status     NodeStatus `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Run is one execution of the full dependency graph.
type Run struct {
	ID            string            `json:"id"`
	Trigger       TriggerKind       `json:"trigger"`
	Status        RunStatus         `json:"status"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Nodes         []NodeResult      `json:"nodes"`
	Ingestion     *IngestionOutcome `json:"ingestion,omitempty"`
}

func NewRun(trigger TriggerKind) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Nodes:     []NodeResult{},
	}
}

// Node returns the result slot for a node, creating a pending one if needed.
func (r *Run) Node(nodeID string) *NodeResult {
	for i := range r.Nodes {
		if r.Nodes[i].NodeID == nodeID {
			return &r.Nodes[i]
		}
	}

	r.Nodes = append(r.Nodes, NodeResult{NodeID: nodeID, Status: NodeStatusPending})

	return &r.Nodes[len(r.Nodes)-1]
}

func (r *Run) StartNode(nodeID string) {
	now := time.Now().UTC()
	result := r.Node(nodeID)
	result.Status = NodeStatusRunning
	result.StartedAt = &now
}

func (r *Run) FinishNode(nodeID string, err error) {
	now := time.Now().UTC()
	result := r.Node(nodeID)
	result.FinishedAt = &now

	if err != nil {
		result.Status = NodeStatusFailed
		result.Error = err.Error()

		return
	}

	result.Status = NodeStatusSucceeded
}

func (r *Run) SkipNode(nodeID, reason string) {
	result := r.Node(nodeID)
	result.Status = NodeStatusSkipped
	result.Error = reason
}

// Complete sets the terminal status. A non-empty reason marks the run failed;
// only its first line is kept.
func (r *Run) Complete(reason string) {
	now := time.Now().UTC()
	r.FinishedAt = &now

	if reason == "" {
		r.Status = RunStatusSucceeded

		return
	}

	line, _, _ := strings.Cut(reason, "\n")
	r.Status = RunStatusFailed
	r.FailureReason = strings.TrimSpace(line)
}

func (r *Run) Done() bool {
	return r.Status != RunStatusRunning
}

func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}

	return r.FinishedAt.Sub(r.StartedAt)
}
