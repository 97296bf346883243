// Package site resolves tracking codes to site configurations.
package site

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
	apperrors "pixelgate/pkg/errors"
	"pixelgate/pkg/metrics"
	"pixelgate/pkg/tracing"
)

type Resolver struct {
	repo     Repository
	variants VariantStore
	cache    Cache
	logger   logger.Logger
}

// NewResolver accepts nil variants and cache; sites then resolve without
// content variants and every call reads the repository.
func NewResolver(repo Repository, variants VariantStore, cache Cache, log logger.Logger) *Resolver {
	return &Resolver{
		repo:     repo,
		variants: variants,
		cache:    cache,
		logger:   log,
	}
}

// Resolve maps a tracking code to its site. Missing, unknown and inactive
// codes fail with rejection errors.
func (r *Resolver) Resolve(ctx context.Context, trackingCode string) (s *Site, err error) {
	ctx, end := tracing.StartSpan(ctx, constants.ServiceCollector, "site.resolve")
	defer func() { end(err) }()

	trackingCode = strings.TrimSpace(trackingCode)
	if trackingCode == "" {
		return nil, ErrMissingTrackingCode
	}

	s = r.fromCache(ctx, trackingCode)
	if s == nil {
		s, err = r.load(ctx, trackingCode)
		if err != nil {
			return nil, err
		}
		r.toCache(ctx, s)
	}

	if !s.Active {
		return nil, ErrSiteInactive
	}
	return s, nil
}

func (r *Resolver) load(ctx context.Context, trackingCode string) (*Site, error) {
	s, err := r.repo.GetByTrackingCode(ctx, trackingCode)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, ErrSiteNotFound
		}
		return nil, fmt.Errorf("failed to load site: %w", err)
	}

	s.Rules, err = r.repo.GetActiveRules(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for site %s: %w", s.ID, err)
	}

	s.AllowList, err = r.repo.GetAllowList(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allow list for site %s: %w", s.ID, err)
	}

	if r.variants != nil {
		variants, err := r.variants.GetVariants(ctx, s.ID)
		if err != nil {
			r.logger.WarnwCtx(ctx, "Failed to load content variants",
				"site_id", s.ID,
				"error", err,
			)
		} else {
			s.Variants = variants
		}
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("site.id", s.ID),
		attribute.Int("site.rules", len(s.Rules)),
	)
	return s, nil
}

func (r *Resolver) fromCache(ctx context.Context, trackingCode string) *Site {
	if r.cache == nil {
		return nil
	}
	s, err := r.cache.Get(ctx, trackingCode)
	if err != nil {
		metrics.SiteCacheTotal.WithLabelValues("error").Inc()
		r.logger.WarnwCtx(ctx, "Site cache read failed", "error", err)
		return nil
	}
	if s == nil {
		metrics.SiteCacheTotal.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.SiteCacheTotal.WithLabelValues("hit").Inc()
	return s
}

func (r *Resolver) toCache(ctx context.Context, s *Site) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, s); err != nil {
		r.logger.WarnwCtx(ctx, "Site cache write failed", "site_id", s.ID, "error", err)
	}
}

// Invalidate drops cached entries for the given tracking codes.
func (r *Resolver) Invalidate(ctx context.Context, trackingCodes ...string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, trackingCodes...)
}
