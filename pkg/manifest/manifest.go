// Package manifest reads the dependency manifest compiled by dbt.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrManifestMissing means the manifest file does not exist or cannot be read.
	ErrManifestMissing = errors.New("manifest not found, run 'dbt parse' first")

	ErrInvalidManifest = errors.New("invalid manifest")
)

// Resource types that produce a relation in the warehouse.
const (
	ResourceModel    = "model"
	ResourceSeed     = "seed"
	ResourceSnapshot = "snapshot"
)

type Manifest struct {
	Metadata Metadata         `json:"metadata"`
	Nodes    map[string]*Node `json:"nodes"`
}

type Metadata struct {
	DbtVersion    string `json:"dbt_version"`
	ProjectName   string `json:"project_name"`
	SchemaVersion string `json:"dbt_schema_version"`
}

type Node struct {
	UniqueID     string     `json:"unique_id"`
	Name         string     `json:"name"`
	ResourceType string     `json:"resource_type"`
	PackageName  string     `json:"package_name"`
	Schema       string     `json:"schema"`
	Description  string     `json:"description"`
	FQN          []string   `json:"fqn"`
	Version      Version    `json:"version"`
	DependsOn    DependsOn  `json:"depends_on"`
	Config       NodeConfig `json:"config"`
}

// Version is a model version. dbt writes it as a number or a string, and as null for
// unversioned models.
type Version string

func (v *Version) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""

		return nil
	}

	var text string

	err := json.Unmarshal(data, &text)
	if err == nil {
		*v = Version(text)

		return nil
	}

	var number json.Number

	err = json.Unmarshal(data, &number)
	if err != nil {
		return fmt.Errorf("invalid model version %s: %w", data, err)
	}

	*v = Version(number.String())

	return nil
}

type DependsOn struct {
	Nodes []string `json:"nodes"`
}

type NodeConfig struct {
	Materialized string `json:"materialized"`
	Enabled      *bool  `json:"enabled"`
}

// Key splits the unique id into its path segments, e.g. ["model", "analytics", "stg_stock_prices"].
func (n *Node) Key() []string {
	return strings.Split(n.UniqueID, ".")
}

// Buildable reports whether the node materializes a relation that dbt build produces.
func (n *Node) Buildable() bool {
	if n.Config.Enabled != nil && !*n.Config.Enabled {
		return false
	}

	switch n.ResourceType {
	case ResourceModel, ResourceSeed, ResourceSnapshot:
		return true
	default:
		return false
	}
}

// Buildable returns the buildable nodes sorted by unique id.
func (m *Manifest) Buildable() []*Node {
	nodes := make([]*Node, 0, len(m.Nodes))
	for _, node := range m.Nodes {
		if node.Buildable() {
			nodes = append(nodes, node)
		}
	}

	slices.SortFunc(nodes, func(a, b *Node) int {
		return strings.Compare(a.UniqueID, b.UniqueID)
	})

	return nodes
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, path)
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrManifestMissing, path, err)
	}

	return Parse(data)
}

// Parse validates a manifest document and decodes it.
func Parse(data []byte) (*Manifest, error) {
	err := validate(data)
	if err != nil {
		return nil, err
	}

	var manifest Manifest

	err = json.Unmarshal(data, &manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	for id, node := range manifest.Nodes {
		if node.UniqueID == "" {
			node.UniqueID = id
		}
	}

	return &manifest, nil
}

func validate(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(messages, "; "))
	}

	return nil
}

// schema covers the subset of the dbt manifest the pipeline reads.
const schema = `{
	"type": "object",
	"required": ["nodes"],
	"properties": {
		"nodes": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["name", "resource_type"],
				"properties": {
					"unique_id": {"type": "string"},
					"name": {"type": "string", "minLength": 1},
					"resource_type": {"type": "string"},
					"version": {"type": ["string", "number", "null"]},
					"depends_on": {
						"type": "object",
						"properties": {
							"nodes": {"type": "array", "items": {"type": "string"}}
						}
					}
				}
			}
		}
	}
}`
