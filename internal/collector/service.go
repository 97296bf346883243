// Package collector turns tracking calls into classification outcomes.
package collector

import (
	"context"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pixelgate/internal/botdetect"
	"pixelgate/internal/cloaking"
	"pixelgate/internal/config"
	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
	"pixelgate/internal/outcome"
	"pixelgate/internal/signals"
	"pixelgate/internal/site"
	apperrors "pixelgate/pkg/errors"
	"pixelgate/pkg/logging"
	"pixelgate/pkg/metrics"
	"pixelgate/pkg/tracing"
)

const (
	endpointCollect      = "collect"
	endpointInteractions = "interactions"
)

type SiteResolver interface {
	Resolve(ctx context.Context, trackingCode string) (*site.Site, error)
}

type SignalNormalizer interface {
	Normalize(ctx context.Context, req signals.Request) signals.Set
}

// RequestMeta is the transport-level part of a tracking call.
type RequestMeta struct {
	Header     http.Header
	RemoteAddr string
}

type Dependencies struct {
	Sites      SiteResolver
	Normalizer SignalNormalizer
	Classifier *botdetect.Classifier
	Engine     *cloaking.Engine
	Hits       cloaking.HitRecorder
	Store      outcome.Store
}

type Service struct {
	sites            SiteResolver
	normalizer       SignalNormalizer
	classifier       *botdetect.Classifier
	engine           *cloaking.Engine
	hits             cloaking.HitRecorder
	store            outcome.Store
	allowListEnabled bool
	persistTimeout   time.Duration
	logger           logger.Logger
}

func NewService(deps Dependencies, cfg config.CollectorConfig, log logger.Logger) *Service {
	timeout := cfg.PersistTimeout()
	if timeout <= 0 {
		timeout = constants.DefaultPersistTimeout
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = botdetect.NewClassifier()
	}
	return &Service{
		sites:            deps.Sites,
		normalizer:       deps.Normalizer,
		classifier:       classifier,
		engine:           deps.Engine,
		hits:             deps.Hits,
		store:            deps.Store,
		allowListEnabled: cfg.AllowListEnabled,
		persistTimeout:   timeout,
		logger:           log,
	}
}

// Track classifies one page view and records exactly one outcome row for it.
// Rejections happen before any write.
func (s *Service) Track(ctx context.Context, req EventRequest, meta RequestMeta) (res *TrackResult, err error) {
	start := time.Now()
	ctx, end := tracing.StartSpan(ctx, constants.ServiceCollector, "collector.track")
	defer func() {
		end(err)
		metrics.ObserveCollectorDuration(endpointCollect, time.Since(start))
		metrics.CollectorRequestsTotal.WithLabelValues(endpointCollect, trackOutcome(res, err)).Inc()
	}()

	st, err := s.sites.Resolve(ctx, req.TrackingCode)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithSiteID(ctx, st.ID)

	set := s.normalizer.Normalize(ctx, signals.Request{
		Header:         meta.Header,
		RemoteAddr:     meta.RemoteAddr,
		UserAgent:      req.UserAgent,
		Referrer:       req.Referrer,
		IPReputation:   req.IPReputation,
		ConnectionType: req.ConnectionType,
	})

	verdict := s.classify(ctx, st, set)
	if verdict.IsBot {
		metrics.BotDetectionsTotal.WithLabelValues(verdict.Signature).Inc()
		detection := &outcome.BotDetection{
			SiteID:    st.ID,
			VisitorID: req.VisitorID,
			SessionID: req.SessionID,
			PageURL:   req.PageURL,
			Signals:   set,
			Reason:    verdict.Reason,
			Signature: verdict.Signature,
		}
		if err := s.persist(ctx, outcome.DestinationBotDetection, func(ctx context.Context) error {
			return s.store.SaveBotDetection(ctx, detection)
		}); err != nil {
			return nil, err
		}
		return &TrackResult{Success: true, Blocked: true, Reason: verdict.Reason}, nil
	}

	var decision cloaking.Decision
	if st.CloakingEnabled {
		decision = s.engine.Evaluate(ctx, st.Rules, set)
	}

	if decision.Action == cloaking.ActionBlock {
		reason := ReasonCloakingRulePrefix + decision.RuleName
		detection := &outcome.BotDetection{
			SiteID:    st.ID,
			VisitorID: req.VisitorID,
			SessionID: req.SessionID,
			PageURL:   req.PageURL,
			Signals:   set,
			Reason:    reason,
			Action:    decision.Action,
			RuleID:    decision.RuleID,
		}
		if err := s.persist(ctx, outcome.DestinationBotDetection, func(ctx context.Context) error {
			return s.store.SaveBotDetection(ctx, detection)
		}); err != nil {
			return nil, err
		}
		s.recordHit(ctx, decision)
		return &TrackResult{Success: true, Blocked: true, Reason: reason, Action: decision.Action}, nil
	}

	event := &outcome.AnalyticsEvent{
		SiteID:    st.ID,
		EventType: eventTypeOrDefault(req.EventType),
		VisitorID: req.VisitorID,
		SessionID: req.SessionID,
		PageURL:   req.PageURL,
		Signals:   set,
		Action:    decision.Action,
		RuleID:    decision.RuleID,
	}
	if err := s.persist(ctx, outcome.DestinationAnalytics, func(ctx context.Context) error {
		return s.store.SaveAnalyticsEvent(ctx, event)
	}); err != nil {
		return nil, err
	}
	s.recordHit(ctx, decision)

	return &TrackResult{
		Success:    true,
		Action:     decision.Action,
		VariantURL: st.VariantURL(decision.Action),
		DeviceType: string(set.DeviceClass),
		Browser:    set.Browser,
		OS:         set.OS,
		Country:    set.Country,
		City:       set.City,
		IPAddress:  set.ClientIP,
	}, nil
}

// RecordInteraction stores one heatmap event for a site with interaction
// tracking switched on.
func (s *Service) RecordInteraction(ctx context.Context, req InteractionRequest) (res *InteractionResult, err error) {
	start := time.Now()
	ctx, end := tracing.StartSpan(ctx, constants.ServiceCollector, "collector.interaction")
	defer func() {
		end(err)
		metrics.ObserveCollectorDuration(endpointInteractions, time.Since(start))
		status := "recorded"
		if err != nil {
			status = errorOutcome(err)
		}
		metrics.CollectorRequestsTotal.WithLabelValues(endpointInteractions, status).Inc()
	}()

	st, err := s.sites.Resolve(ctx, req.TrackingCode)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithSiteID(ctx, st.ID)

	if !ValidInteractionEventType(req.EventType) {
		return nil, ErrInvalidEventType.WithDetail("event_type", req.EventType)
	}
	if !st.InteractionTrackingEnabled {
		return nil, ErrInteractionTrackingDisabled
	}
	for field, v := range map[string]*float64{"x_position": req.XPosition, "y_position": req.YPosition} {
		if !validPosition(v) {
			return nil, ErrMalformedRequest.WithDetail(field, *v)
		}
	}

	interaction := &outcome.Interaction{
		SiteID:          st.ID,
		EventType:       req.EventType,
		PageURL:         req.PageURL,
		X:               truncate(req.XPosition),
		Y:               truncate(req.YPosition),
		ElementSelector: req.ElementSelector,
		ElementText:     req.ElementText,
		SessionID:       req.SessionID,
		VisitorID:       req.VisitorID,
	}
	if err := s.persist(ctx, outcome.DestinationInteraction, func(ctx context.Context) error {
		return s.store.SaveInteraction(ctx, interaction)
	}); err != nil {
		return nil, err
	}

	return &InteractionResult{Success: true, EventType: req.EventType, WebsiteID: st.ID}, nil
}

func (s *Service) classify(ctx context.Context, st *site.Site, set signals.Set) botdetect.Verdict {
	if !s.allowListEnabled {
		return s.classifier.Classify(set.UserAgent)
	}
	verdict := s.classifier.ClassifyWithAllowList(set.UserAgent, set.ClientIP, st.AllowList)
	if verdict.Reason == botdetect.ReasonAllowList && s.classifier.Classify(set.UserAgent).IsBot {
		metrics.AllowListBypassTotal.Inc()
		s.logger.DebugwCtx(ctx, "Bot signature bypassed by allow list", "ip_address", set.ClientIP)
	}
	return verdict
}

// persist runs save detached from the request so a client abort never
// cancels a write that has started.
func (s *Service) persist(ctx context.Context, dest outcome.Destination, save func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	ctx, end := tracing.StartSpan(ctx, constants.ServiceCollector, "outcome.persist",
		attribute.String("outcome.destination", string(dest)),
	)
	start := time.Now()
	err := save(ctx)
	end(err)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObservePersistDuration(string(dest), status, time.Since(start))

	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to persist outcome", "destination", dest, "error", err)
		return apperrors.ErrInternal.WithCause(err)
	}
	return nil
}

// recordHit runs after the outcome row is written. A failed increment is
// logged; the request already succeeded.
func (s *Service) recordHit(ctx context.Context, decision cloaking.Decision) {
	if !decision.Matched() || s.hits == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := s.hits.RecordHit(ctx, decision.RuleID); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to record rule hit",
			"rule_id", decision.RuleID,
			"error", err,
		)
	}
}

func eventTypeOrDefault(t string) string {
	if t == "" {
		return DefaultEventType
	}
	return t
}

// validPosition bounds a coordinate to what an INTEGER column holds once
// truncated.
func validPosition(v *float64) bool {
	if v == nil {
		return true
	}
	return !math.IsNaN(*v) && *v > math.MinInt32-1 && *v < math.MaxInt32+1
}

func truncate(v *float64) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}

func trackOutcome(res *TrackResult, err error) string {
	switch {
	case err != nil:
		return errorOutcome(err)
	case res.Blocked:
		return "blocked"
	case res.Action != cloaking.ActionNone:
		return "cloaked"
	default:
		return "allowed"
	}
}

func errorOutcome(err error) string {
	if apperrors.IsRejection(err) {
		return "rejected"
	}
	return "error"
}
