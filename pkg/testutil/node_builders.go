// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"strings"
	"time"

	"github.com/dukex/stockpipe/pkg/models"
)

// CreateTransformationNode creates a transformation node from a slash separated id with default
// values that can be overridden.
func CreateTransformationNode(id string, overrides ...func(*models.Node)) models.Node {
	node := models.Node{
		Key:          strings.Split(id, "/"),
		Kind:         models.NodeKindTransformation,
		ResourceType: "model",
		Dependencies: []string{},
	}

	for _, override := range overrides {
		override(&node)
	}

	return node
}

// WithDependencies sets the upstream node ids.
func WithDependencies(ids ...string) func(*models.Node) {
	return func(n *models.Node) {
		n.Dependencies = append([]string{}, ids...)
	}
}

// WithGroup sets the node group.
func WithGroup(group string) func(*models.Node) {
	return func(n *models.Node) {
		n.Group = group
	}
}

// WithResourceType sets the dbt resource type, e.g. "seed".
func WithResourceType(resourceType string) func(*models.Node) {
	return func(n *models.Node) {
		n.ResourceType = resourceType
	}
}

// CreateTestRun creates a running manual run that can be overridden.
func CreateTestRun(overrides ...func(*models.Run)) *models.Run {
	run := models.NewRun(models.TriggerManual)

	for _, override := range overrides {
		override(run)
	}

	return run
}

// WithTrigger sets the trigger kind.
func WithTrigger(kind models.TriggerKind) func(*models.Run) {
	return func(r *models.Run) {
		r.Trigger = kind
	}
}

// WithStartedAt sets the start time.
func WithStartedAt(startedAt time.Time) func(*models.Run) {
	return func(r *models.Run) {
		r.StartedAt = startedAt.UTC()
	}
}

// Succeeded completes the run successfully.
func Succeeded() func(*models.Run) {
	return func(r *models.Run) {
		r.Complete("")
	}
}

// Failed completes the run with a failure reason.
func Failed(reason string) func(*models.Run) {
	return func(r *models.Run) {
		r.Complete(reason)
	}
}
