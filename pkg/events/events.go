// Package events defines the lifecycle notifications published for every pipeline run.
package events

import (
	"time"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "stockpipe.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent   EventType = "run.started"
	NodeFinishedEvent EventType = "node.finished"
	RunFinishedEvent  EventType = "run.finished"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
}

func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
	}
}

type RunStarted struct {
	BaseEvent

	Trigger models.TriggerKind `json:"trigger"`
	Nodes   []string           `json:"nodes"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type NodeFinished struct {
	BaseEvent

	NodeID   string            `json:"node_id"`
	Kind     models.NodeKind   `json:"kind"`
	Status   models.NodeStatus `json:"status"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

func (e NodeFinished) GetType() EventType {
	return NodeFinishedEvent
}

type RunFinished struct {
	BaseEvent

	Status        models.RunStatus         `json:"status"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	Duration      time.Duration            `json:"duration"`
	Ingestion     *models.IngestionOutcome `json:"ingestion,omitempty"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

// NewRunFinished describes a completed run.
func NewRunFinished(run *models.Run) *RunFinished {
	return &RunFinished{
		BaseEvent:     NewBaseEvent(RunFinishedEvent, run.ID),
		Status:        run.Status,
		FailureReason: run.FailureReason,
		Duration:      run.Duration(),
		Ingestion:     run.Ingestion,
	}
}
