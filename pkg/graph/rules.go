package graph

import (
	"slices"

	"github.com/dukex/stockpipe/pkg/models"
)

// DependencyRules maps a node name to upstream node ids that must be added to whatever the
// manifest declares for it.
type DependencyRules map[string][]string

// DefaultRules wires the staging model to the raw ingestion node.
func DefaultRules() DependencyRules {
	return DependencyRules{
		"stg_stock_prices": {models.RawIngestionNodeID()},
	}
}

// InjectDependencies returns node with the rule dependencies appended. Dependencies already
// present are kept once, so applying the rules again changes nothing. The input node is not
// modified.
func InjectDependencies(node models.Node, rules DependencyRules) models.Node {
	dependencies := slices.Clone(node.Dependencies)
	if dependencies == nil {
		dependencies = []string{}
	}

	for _, upstream := range rules[node.Name()] {
		if upstream == node.ID() || slices.Contains(dependencies, upstream) {
			continue
		}

		dependencies = append(dependencies, upstream)
	}

	node.Dependencies = dependencies
	node.Key = slices.Clone(node.Key)

	return node
}
