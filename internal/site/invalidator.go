package site

import (
	"context"

	"pixelgate/internal/logger"
	"pixelgate/pkg/models"
)

// Invalidator evicts cached sites when the management service reports a change.
type Invalidator struct {
	resolver *Resolver
	logger   logger.Logger
}

func NewInvalidator(resolver *Resolver, log logger.Logger) *Invalidator {
	return &Invalidator{resolver: resolver, logger: log}
}

// HandleMessage is a broker.HandlerFunc. Other event types are ignored.
func (i *Invalidator) HandleMessage(ctx context.Context, msg models.MessageEnvelope) error {
	if msg.Type != models.EventTypeSiteUpdated {
		return nil
	}

	var event models.SiteConfigEvent
	if err := msg.Decode(&event); err != nil {
		i.logger.ErrorwCtx(ctx, "Dropping malformed site config event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	if err := i.resolver.Invalidate(ctx, event.TrackingCode, event.PreviousTrackingCode); err != nil {
		return err
	}

	i.logger.InfowCtx(ctx, "Invalidated cached site",
		"site_id", event.SiteID,
		"entity", event.Entity,
		"action", event.Action,
	)
	return nil
}
