package models

import (
	"slices"
	"strings"
)

type NodeKind string

const (
	NodeKindRawIngestion   NodeKind = "raw_ingestion"
	NodeKindTransformation NodeKind = "transformation"
)

// RawIngestionKey identifies the single raw ingestion node of every run.
var RawIngestionKey = []string{"raw_data", "stock_prices_batch"}

// Node is one unit of work in a pipeline run.
type Node struct {
	Key          []string `json:"key"`
	Kind         NodeKind `json:"kind"`
	ResourceType string   `json:"resource_type,omitempty"`
	Description  string   `json:"description,omitempty"`
	Group        string   `json:"group,omitempty"`
	// Model is the dbt model name. Unique ids of versioned models end in the version, e.g.
	// "model.analytics.stg_stock_prices.v2", so the last key segment is not the name.
	Model        string   `json:"model,omitempty"`
	Version      string   `json:"version,omitempty"`
	Dependencies []string `json:"dependencies"`
}

// NodeID joins a key path into a node identifier.
func NodeID(key []string) string {
	return strings.Join(key, "/")
}

// RawIngestionNodeID is the identifier of the raw ingestion node.
func RawIngestionNodeID() string {
	return NodeID(RawIngestionKey)
}

// RawIngestionNode returns the fixed raw ingestion node.
func RawIngestionNode() Node {
	return Node{
		Key:          slices.Clone(RawIngestionKey),
		Kind:         NodeKindRawIngestion,
		Description:  "Fetches daily stock prices and loads them into the raw schema",
		Group:        "ingestion",
		Dependencies: []string{},
	}
}

func (n Node) ID() string {
	return NodeID(n.Key)
}

// Name returns the model name, or the final segment of the node key when the node carries none.
func (n Node) Name() string {
	if n.Model != "" {
		return n.Model
	}

	if len(n.Key) == 0 {
		return ""
	}

	return n.Key[len(n.Key)-1]
}

// Selector returns the dbt node selector, "name" or "name.v<version>" for versioned models.
func (n Node) Selector() string {
	if n.Version != "" {
		return n.Name() + ".v" + n.Version
	}

	return n.Name()
}
