//go:build integration

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/config"
	"pixelgate/internal/logger"
	"pixelgate/internal/testinfra"
	"pixelgate/pkg/models"
)

func TestKafka_PublishConsumeRoundTrip(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Kafka: true})
	cfg := config.KafkaConfig{Brokers: infra.KafkaBrokers, GroupID: "pixelgate-collector-test"}
	const topic = "site-config-test"

	producer := NewKafkaProducer(cfg, "management-service", logger.NopLogger())
	t.Cleanup(func() { _ = producer.Close() })

	msg, err := models.NewEnvelope(models.EventTypeSiteUpdated, "management-service", models.SiteConfigEvent{
		SiteID:       "site-1",
		TrackingCode: "px_abc",
		Entity:       "rule",
		EntityID:     "rule-1",
		Action:       models.ActionToggle,
		Timestamp:    time.Now().UTC(),
	})
	require.NoError(t, err)

	publishCtx, cancelPublish := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelPublish()
	require.NoError(t, producer.Publish(publishCtx, topic, msg))

	consumer := NewKafkaConsumer(cfg, "collector-service", logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan models.MessageEnvelope, 1)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(ctx, topic, func(_ context.Context, m models.MessageEnvelope) error {
			received <- m
			cancel()
			return nil
		})
	}()

	var got models.MessageEnvelope
	select {
	case got = <-received:
	case <-time.After(60 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, consumer.Close())

	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, models.EventTypeSiteUpdated, got.Type)

	var event models.SiteConfigEvent
	require.NoError(t, got.Decode(&event))
	assert.Equal(t, "px_abc", event.TrackingCode)
	assert.Equal(t, models.ActionToggle, event.Action)
}
