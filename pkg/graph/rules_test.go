package graph_test

import (
	"testing"

	"github.com/dukex/stockpipe/pkg/graph"
	"github.com/dukex/stockpipe/pkg/models"
	"github.com/stretchr/testify/assert"
)

func stagingNode(dependencies ...string) models.Node {
	return models.Node{
		Key:          []string{"model", "analytics", "stg_stock_prices"},
		Kind:         models.NodeKindTransformation,
		Dependencies: dependencies,
	}
}

func TestInjectDependencies(t *testing.T) {
	node := graph.InjectDependencies(stagingNode(), graph.DefaultRules())

	assert.Equal(t, []string{"raw_data/stock_prices_batch"}, node.Dependencies)
}

func TestInjectDependencies_AppendsToDeclared(t *testing.T) {
	node := graph.InjectDependencies(stagingNode("seed.analytics.tickers"), graph.DefaultRules())

	assert.Equal(t, []string{"seed.analytics.tickers", "raw_data/stock_prices_batch"}, node.Dependencies)
}

func TestInjectDependencies_Idempotent(t *testing.T) {
	once := graph.InjectDependencies(stagingNode(), graph.DefaultRules())
	twice := graph.InjectDependencies(once, graph.DefaultRules())

	assert.Equal(t, once.Dependencies, twice.Dependencies)
	assert.Len(t, twice.Dependencies, 1)
}

func TestInjectDependencies_DoesNotModifyInput(t *testing.T) {
	dependencies := make([]string, 0, 4)
	original := stagingNode(dependencies...)

	_ = graph.InjectDependencies(original, graph.DefaultRules())

	assert.Empty(t, original.Dependencies)
}

func TestInjectDependencies_UnmatchedNode(t *testing.T) {
	node := models.Node{
		Key:          []string{"model", "analytics", "mart_stock_summary"},
		Dependencies: []string{"model.analytics.stg_stock_prices"},
	}

	got := graph.InjectDependencies(node, graph.DefaultRules())

	assert.Equal(t, []string{"model.analytics.stg_stock_prices"}, got.Dependencies)
}

func TestInjectDependencies_SkipsSelf(t *testing.T) {
	rules := graph.DependencyRules{"stg_stock_prices": {"model/analytics/stg_stock_prices"}}

	got := graph.InjectDependencies(stagingNode(), rules)

	assert.Empty(t, got.Dependencies)
}
