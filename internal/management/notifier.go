package management

import (
	"context"
	"time"

	"pixelgate/internal/broker"
	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
	"pixelgate/pkg/models"
)

const (
	EntitySite      = "site"
	EntityRule      = "rule"
	EntityAllowList = "allow_list"
	EntityVariant   = "variant"
)

// ConfigEventProducer announces site configuration changes so collectors drop
// their cached copy.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
	logger   logger.Logger
}

func NewConfigEventProducer(producer broker.Producer, topic string, log logger.Logger) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

// PublishSiteChange is best effort. The collector cache TTL bounds staleness
// when an event is lost.
func (p *ConfigEventProducer) PublishSiteChange(ctx context.Context, event models.SiteConfigEvent) {
	if p == nil || p.producer == nil || p.topic == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	envelope, err := models.NewEnvelope(models.EventTypeSiteUpdated, constants.ServiceManagement, event)
	if err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to build site config event", "site_id", event.SiteID, "error", err)
		return
	}

	if err := p.producer.Publish(context.WithoutCancel(ctx), p.topic, envelope); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to publish site config event",
			"site_id", event.SiteID,
			"entity", event.Entity,
			"action", event.Action,
			"error", err,
		)
	}
}
