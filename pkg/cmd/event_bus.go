package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/stockpipe/pkg/channels/gochannel"
	"github.com/dukex/stockpipe/pkg/channels/kafka"
	"github.com/dukex/stockpipe/pkg/config"
	"github.com/dukex/stockpipe/pkg/eventbus"
	"github.com/google/uuid"
)

const serviceName = "stockpipe"

// NewEventBus returns the bus the pipeline publishes to. Its Kafka consumer group is shared by
// every service instance and resumes from the oldest retained event.
func NewEventBus(cfg config.EventsConfig, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	return newEventBus(cfg, kafka.Options{
		Brokers:       cfg.KafkaBrokers,
		ConsumerGroup: "cg-" + serviceName,
		FromOldest:    true,
	}, logger)
}

// NewEventTail returns a bus for watching events live. Each call joins its own Kafka consumer
// group, so concurrent watchers all see every event.
func NewEventTail(cfg config.EventsConfig, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	return newEventBus(cfg, kafka.Options{
		Brokers:       cfg.KafkaBrokers,
		ConsumerGroup: "cg-" + serviceName + "-tail-" + uuid.NewString(),
	}, logger)
}

func newEventBus(cfg config.EventsConfig, options kafka.Options, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger.With("module", "eventbus"))

	switch cfg.Bus {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, options)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", cfg.Bus)
	}
}
