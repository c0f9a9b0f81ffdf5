// Package transform runs transformation nodes through the dbt CLI.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/process"
)

// Engine builds one transformation node.
type Engine interface {
	Build(ctx context.Context, node models.Node) error
}

// NodeFailureError is returned when the engine reports a failed build for a node.
type NodeFailureError struct {
	NodeID   string
	ExitCode int
	Output   string
}

func (e *NodeFailureError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("build of %s failed with exit code %d", e.NodeID, e.ExitCode)
	}

	return fmt.Sprintf("build of %s failed with exit code %d: %s", e.NodeID, e.ExitCode, e.Output)
}

func IsNodeFailure(err error) bool {
	var target *NodeFailureError

	return errors.As(err, &target)
}

type Options struct {
	Executable  string
	ProjectDir  string
	ProfilesDir string
	Target      string
}

// DbtEngine runs `dbt build --select <node name>` for each node.
type DbtEngine struct {
	runner  process.Runner
	options Options
	logger  *slog.Logger
}

func NewDbtEngine(runner process.Runner, options Options, logger *slog.Logger) *DbtEngine {
	return &DbtEngine{
		runner:  runner,
		options: options,
		logger:  logger.With("module", "dbt"),
	}
}

func (e *DbtEngine) Build(ctx context.Context, node models.Node) error {
	if node.Kind != models.NodeKindTransformation {
		return fmt.Errorf("node %s is not a transformation node", node.ID())
	}

	e.logger.InfoContext(ctx, "Building node", "node_id", node.ID(), "select", node.Selector())

	return e.run(ctx, node.ID(), "build", "--select", node.Selector())
}

// Parse regenerates the manifest.
func (e *DbtEngine) Parse(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Parsing project", "project_dir", e.options.ProjectDir)

	return e.run(ctx, "manifest", "parse")
}

func (e *DbtEngine) run(ctx context.Context, target string, args ...string) error {
	result, err := e.runner.Run(ctx, e.command(args...))
	if err != nil {
		return fmt.Errorf("failed to run dbt for %s: %w", target, err)
	}

	if !result.Success() {
		return &NodeFailureError{
			NodeID:   target,
			ExitCode: result.ExitCode,
			Output:   lastLine(result.Stderr, result.Stdout),
		}
	}

	return nil
}

func (e *DbtEngine) command(args ...string) process.Command {
	args = append(args, "--project-dir", e.options.ProjectDir)

	if e.options.ProfilesDir != "" {
		args = append(args, "--profiles-dir", e.options.ProfilesDir)
	}

	if e.options.Target != "" {
		args = append(args, "--target", e.options.Target)
	}

	return process.Command{
		Path: e.options.Executable,
		Args: args,
	}
}

// lastLine returns the last non-empty line of the first output that has one.
func lastLine(outputs ...string) string {
	for _, output := range outputs {
		lines := strings.Split(strings.TrimSpace(output), "\n")
		if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
			return last
		}
	}

	return ""
}
