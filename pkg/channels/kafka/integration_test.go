//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/stockpipe/pkg/channels/kafka"
	"github.com/dukex/stockpipe/pkg/eventbus"
	"github.com/dukex/stockpipe/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestCreateChannel_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	pub, sub, err := kafka.CreateChannel(watermill.NopLogger{}, kafka.Options{
		Brokers:       brokers,
		ConsumerGroup: "cg-stockpipe-test",
		FromOldest:    true,
	})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	received := make(chan *events.RunStarted, 1)

	require.NoError(t, bus.Handle(events.RunStartedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.RunStarted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	sent := &events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, "run-kafka"),
		Trigger:   "manual",
		Nodes:     []string{"raw_data/stock_prices_batch"},
	}
	require.NoError(t, bus.Publish(ctx, "run-kafka", sent))

	select {
	case got := <-received:
		assert.Equal(t, "run-kafka", got.RunID)
		assert.Equal(t, sent.Nodes, got.Nodes)
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}
