package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/stockpipe/pkg/cmd"
	"github.com/dukex/stockpipe/pkg/events"
	"github.com/dukex/stockpipe/pkg/log"
	"github.com/urfave/cli/v3"
)

// NewEventsCommand tails run lifecycle events. Only useful with a shared broker such as Kafka.
func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print run lifecycle events as they are published",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("events")

			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			bus, err := cmd.NewEventTail(cfg.Events, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := bus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			printEvent := func(_ context.Context, event any) error {
				payload, err := json.Marshal(event)
				if err != nil {
					return err
				}

				fmt.Println(string(payload))

				return nil
			}

			for _, eventType := range []events.EventType{
				events.RunStartedEvent,
				events.NodeFinishedEvent,
				events.RunFinishedEvent,
			} {
				err = bus.Handle(eventType, printEvent)
				if err != nil {
					return err
				}
			}

			err = bus.Subscribe(ctx)
			if err != nil {
				return fmt.Errorf("failed to subscribe to events: %w", err)
			}

			logger.InfoContext(ctx, "Listening for events", "bus", cfg.Events.Bus)

			<-ctx.Done()

			return nil
		},
	}
}
