// Package graph resolves the pipeline dependency graph: the raw ingestion node followed by
// the transformation nodes of the dbt manifest.
package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/stockpipe/pkg/manifest"
	"github.com/dukex/stockpipe/pkg/models"
)

var (
	// ErrManifestMissing is returned when the manifest cannot be read at startup.
	ErrManifestMissing = manifest.ErrManifestMissing

	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycle             = errors.New("dependency cycle")
	ErrDuplicateNode     = errors.New("duplicate node")
)

// Graph is an immutable, validated set of nodes with a resolved execution order.
type Graph struct {
	nodes      map[string]models.Node
	order      []string
	dependents map[string][]string
}

// New validates nodes and resolves their execution order.
func New(nodes []models.Node) (*Graph, error) {
	graph := &Graph{
		nodes:      make(map[string]models.Node, len(nodes)),
		dependents: make(map[string][]string, len(nodes)),
	}

	for _, node := range nodes {
		if _, exists := graph.nodes[node.ID()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID())
		}

		graph.nodes[node.ID()] = node
	}

	for _, node := range nodes {
		for _, upstream := range node.Dependencies {
			if _, exists := graph.nodes[upstream]; !exists {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, node.ID(), upstream)
			}

			graph.dependents[upstream] = append(graph.dependents[upstream], node.ID())
		}
	}

	for id := range graph.dependents {
		slices.Sort(graph.dependents[id])
	}

	order, err := graph.resolveOrder()
	if err != nil {
		return nil, err
	}

	graph.order = order

	return graph, nil
}

// resolveOrder runs Kahn's algorithm, always taking the smallest ready id first.
func (g *Graph) resolveOrder() ([]string, error) {
	pending := make(map[string]int, len(g.nodes))
	ready := make([]string, 0)

	for id, node := range g.nodes {
		pending[id] = len(node.Dependencies)
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))

	for len(ready) > 0 {
		slices.Sort(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range g.dependents[id] {
			pending[dependent]--
			if pending[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		cyclic := make([]string, 0)
		for id, count := range pending {
			if count > 0 {
				cyclic = append(cyclic, id)
			}
		}

		slices.Sort(cyclic)

		return nil, fmt.Errorf("%w between %s", ErrCycle, strings.Join(cyclic, ", "))
	}

	return order, nil
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) Node(id string) (models.Node, bool) {
	node, ok := g.nodes[id]

	return node, ok
}

// Order returns the nodes in execution order. Every node appears after all of its dependencies.
func (g *Graph) Order() []models.Node {
	nodes := make([]models.Node, len(g.order))
	for i, id := range g.order {
		nodes[i] = g.nodes[id]
	}

	return nodes
}

// DirectDependents returns the ids of nodes that depend on id.
func (g *Graph) DirectDependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// Dependents returns every direct and transitive dependent of id, sorted.
func (g *Graph) Dependents(id string) []string {
	seen := make(map[string]bool)
	queue := slices.Clone(g.dependents[id])

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if seen[current] {
			continue
		}

		seen[current] = true
		queue = append(queue, g.dependents[current]...)
	}

	dependents := make([]string, 0, len(seen))
	for dependent := range seen {
		dependents = append(dependents, dependent)
	}

	slices.Sort(dependents)

	return dependents
}

// Builder turns a dbt manifest into a Graph.
type Builder struct {
	rules  DependencyRules
	logger *slog.Logger
}

func NewBuilder(rules DependencyRules, logger *slog.Logger) *Builder {
	return &Builder{
		rules:  rules,
		logger: logger.With("module", "graph"),
	}
}

// Build creates the raw ingestion node and one transformation node per buildable manifest node.
// A transformation node is keyed by the segments of its unique id, so
// "model.analytics.stg_stock_prices" becomes the node "model/analytics/stg_stock_prices".
// Manifest dependencies on nodes that are not built (sources, tests) are dropped before the
// rules are applied.
func (b *Builder) Build(m *manifest.Manifest) (*Graph, error) {
	buildable := m.Buildable()
	known := make(map[string]string, len(buildable))

	for _, node := range buildable {
		known[node.UniqueID] = models.NodeID(node.Key())
	}

	nodes := []models.Node{models.RawIngestionNode()}
	matched := make(map[string]bool, len(b.rules))

	for _, manifestNode := range buildable {
		dependencies := make([]string, 0, len(manifestNode.DependsOn.Nodes))
		for _, upstream := range manifestNode.DependsOn.Nodes {
			upstreamID, ok := known[upstream]
			if !ok {
				b.logger.Debug("Ignoring dependency on non-buildable node", "unique_id", manifestNode.UniqueID, "dependency", upstream)

				continue
			}

			if !slices.Contains(dependencies, upstreamID) {
				dependencies = append(dependencies, upstreamID)
			}
		}

		node := models.Node{
			Key:          manifestNode.Key(),
			Kind:         models.NodeKindTransformation,
			ResourceType: manifestNode.ResourceType,
			Description:  manifestNode.Description,
			Group:        group(manifestNode),
			Model:        manifestNode.Name,
			Version:      string(manifestNode.Version),
			Dependencies: dependencies,
		}

		if _, ok := b.rules[node.Name()]; ok {
			matched[node.Name()] = true
		}

		nodes = append(nodes, InjectDependencies(node, b.rules))
	}

	for name := range b.rules {
		if !matched[name] {
			b.logger.Warn("Dependency rule does not match any manifest node", "name", name)
		}
	}

	graph, err := New(nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	b.logger.Info("Dependency graph resolved", "nodes", graph.Len())

	return graph, nil
}

// Load reads the manifest at path and builds the graph.
func (b *Builder) Load(path string) (*Graph, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}

	return b.Build(m)
}

// group is the project folder of the node, e.g. "staging" or "marts".
func group(node *manifest.Node) string {
	if len(node.FQN) > 2 {
		return node.FQN[1]
	}

	return node.PackageName
}
