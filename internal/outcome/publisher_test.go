package outcome

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/logger"
	"pixelgate/internal/signals"
	"pixelgate/pkg/models"
	"pixelgate/pkg/retry"
)

type memStore struct {
	mu           sync.Mutex
	bots         []BotDetection
	events       []AnalyticsEvent
	interactions []Interaction
	err          error
}

func (m *memStore) SaveBotDetection(ctx context.Context, d *BotDetection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	stamp(&d.ID, &d.CreatedAt)
	m.bots = append(m.bots, *d)
	return nil
}

func (m *memStore) SaveAnalyticsEvent(ctx context.Context, e *AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	stamp(&e.ID, &e.CreatedAt)
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) SaveInteraction(ctx context.Context, i *Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	stamp(&i.ID, &i.CreatedAt)
	m.interactions = append(m.interactions, *i)
	return nil
}

type fakeProducer struct {
	mu       sync.Mutex
	failures int
	calls    int
	messages []models.MessageEnvelope
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		MaxElapsedTime:  time.Second,
	}
}

func TestPublishingStore_PublishesSavedOutcome(t *testing.T) {
	store := &memStore{}
	producer := &fakeProducer{failures: 1}
	p := NewPublishingStore(store, producer, "outcomes", "collector-service", fastPolicy(), logger.NopLogger())

	d := &BotDetection{
		SiteID:  "site-1",
		Reason:  "cloaking rule: block scrapers",
		Action:  cloaking.ActionBlock,
		RuleID:  "rule-1",
		Signals: signals.Set{Country: "Germany", DeviceClass: signals.DeviceDesktop},
	}
	require.NoError(t, p.SaveBotDetection(context.Background(), d))
	p.Wait()

	require.Len(t, producer.messages, 1)
	assert.Equal(t, 2, producer.calls)

	var event models.OutcomeEvent
	require.NoError(t, producer.messages[0].Decode(&event))
	assert.Equal(t, models.EventTypeOutcome, producer.messages[0].Type)
	assert.Equal(t, d.ID, event.OutcomeID)
	assert.Equal(t, "bot_detection", event.Destination)
	assert.True(t, event.IsBot)
	assert.Equal(t, "block", event.Action)
	assert.Equal(t, "Germany", event.Country)
}

func TestPublishingStore_PublishFailureDoesNotFailSave(t *testing.T) {
	store := &memStore{}
	producer := &fakeProducer{failures: 100}
	p := NewPublishingStore(store, producer, "outcomes", "collector-service", fastPolicy(), logger.NopLogger())

	err := p.SaveAnalyticsEvent(context.Background(), &AnalyticsEvent{SiteID: "site-1", EventType: "page_view"})
	require.NoError(t, err)
	p.Wait()

	assert.Len(t, store.events, 1)
	assert.Empty(t, producer.messages)
	assert.Equal(t, 3, producer.calls)
}

func TestPublishingStore_SaveFailureSkipsPublish(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	producer := &fakeProducer{}
	p := NewPublishingStore(store, producer, "outcomes", "collector-service", fastPolicy(), logger.NopLogger())

	err := p.SaveInteraction(context.Background(), &Interaction{SiteID: "site-1", EventType: "click"})
	require.Error(t, err)
	p.Wait()
	assert.Zero(t, producer.calls)
}

func TestPublishingStore_CanceledRequestStillPublishes(t *testing.T) {
	store := &memStore{}
	producer := &fakeProducer{}
	p := NewPublishingStore(store, producer, "outcomes", "collector-service", fastPolicy(), logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.SaveInteraction(ctx, &Interaction{SiteID: "site-1", EventType: "scroll"}))
	cancel()
	p.Wait()

	assert.Len(t, producer.messages, 1)
}
