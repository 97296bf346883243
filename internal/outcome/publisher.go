package outcome

import (
	"context"
	"sync"
	"time"

	"pixelgate/internal/broker"
	"pixelgate/internal/logger"
	"pixelgate/pkg/metrics"
	"pixelgate/pkg/models"
	"pixelgate/pkg/retry"
)

// PublishingStore saves through the wrapped store, then announces each saved
// outcome on a broker topic. Publishing happens in the background; its
// failures are logged and never reach the caller.
type PublishingStore struct {
	Store
	producer    broker.Producer
	topic       string
	serviceName string
	policy      retry.Policy
	logger      logger.Logger
	wg          sync.WaitGroup
}

func NewPublishingStore(store Store, producer broker.Producer, topic, serviceName string, policy retry.Policy, log logger.Logger) *PublishingStore {
	return &PublishingStore{
		Store:       store,
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
		policy:      policy,
		logger:      log,
	}
}

func (p *PublishingStore) SaveBotDetection(ctx context.Context, d *BotDetection) error {
	if err := p.Store.SaveBotDetection(ctx, d); err != nil {
		return err
	}
	p.publish(ctx, models.OutcomeEvent{
		OutcomeID:   d.ID,
		Destination: string(DestinationBotDetection),
		SiteID:      d.SiteID,
		VisitorID:   d.VisitorID,
		SessionID:   d.SessionID,
		IsBot:       true,
		Reason:      d.Reason,
		Action:      string(d.Action),
		RuleID:      d.RuleID,
		Country:     d.Signals.Country,
		DeviceClass: string(d.Signals.DeviceClass),
		CreatedAt:   d.CreatedAt,
	})
	return nil
}

func (p *PublishingStore) SaveAnalyticsEvent(ctx context.Context, e *AnalyticsEvent) error {
	if err := p.Store.SaveAnalyticsEvent(ctx, e); err != nil {
		return err
	}
	p.publish(ctx, models.OutcomeEvent{
		OutcomeID:   e.ID,
		Destination: string(DestinationAnalytics),
		SiteID:      e.SiteID,
		VisitorID:   e.VisitorID,
		SessionID:   e.SessionID,
		EventType:   e.EventType,
		Action:      string(e.Action),
		RuleID:      e.RuleID,
		Country:     e.Signals.Country,
		DeviceClass: string(e.Signals.DeviceClass),
		CreatedAt:   e.CreatedAt,
	})
	return nil
}

func (p *PublishingStore) SaveInteraction(ctx context.Context, i *Interaction) error {
	if err := p.Store.SaveInteraction(ctx, i); err != nil {
		return err
	}
	p.publish(ctx, models.OutcomeEvent{
		OutcomeID:   i.ID,
		Destination: string(DestinationInteraction),
		SiteID:      i.SiteID,
		VisitorID:   i.VisitorID,
		SessionID:   i.SessionID,
		EventType:   i.EventType,
		CreatedAt:   i.CreatedAt,
	})
	return nil
}

func (p *PublishingStore) publish(ctx context.Context, event models.OutcomeEvent) {
	env, err := models.NewEnvelope(models.EventTypeOutcome, p.serviceName, event)
	if err != nil {
		metrics.OutcomePublishTotal.WithLabelValues("error").Inc()
		p.logger.ErrorwCtx(ctx, "Failed to build outcome event", "error", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		err := retry.Do(ctx, p.policy, func() error {
			return p.producer.Publish(ctx, p.topic, env)
		}, func(attempt int, err error, next time.Duration) {
			metrics.RetryAttemptsTotal.WithLabelValues(p.serviceName, p.topic).Inc()
			p.logger.WarnwCtx(ctx, "Retrying outcome publish",
				"attempt", attempt,
				"next_delay", next,
				"error", err,
			)
		})
		if err != nil {
			metrics.OutcomePublishTotal.WithLabelValues("error").Inc()
			p.logger.ErrorwCtx(ctx, "Failed to publish outcome event",
				"outcome_id", event.OutcomeID,
				"destination", event.Destination,
				"error", err,
			)
			return
		}
		metrics.OutcomePublishTotal.WithLabelValues("success").Inc()
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *PublishingStore) Wait() {
	p.wg.Wait()
}
