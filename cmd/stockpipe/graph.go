package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/stockpipe/pkg/cmd"
	"github.com/dukex/stockpipe/pkg/log"
	"github.com/urfave/cli/v3"
)

func NewGraphCommand() *cli.Command {
	return &cli.Command{
		Name:  "graph",
		Usage: "Print the resolved execution order",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "parse",
				Usage: "Run 'dbt parse' to refresh the manifest first",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("graph")

			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			if command.Bool("parse") {
				err = cmd.NewDbtEngine(cfg, logger).Parse(ctx)
				if err != nil {
					return err
				}
			}

			g, err := cmd.NewGraph(cfg, logger)
			if err != nil {
				return err
			}

			fmt.Println("Execution order:")
			fmt.Println("================")

			for i, node := range g.Order() {
				fmt.Printf("%3d. %s (%s)\n", i+1, node.ID(), node.Kind)

				if len(node.Dependencies) > 0 {
					fmt.Printf("     after: %s\n", strings.Join(node.Dependencies, ", "))
				}
			}

			fmt.Printf("\nTotal nodes: %d\n", g.Len())

			return nil
		},
	}
}
