package management

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/botdetect"
	"pixelgate/internal/cloaking"
	"pixelgate/internal/logger"
	"pixelgate/internal/site"
	pkgerrors "pixelgate/pkg/errors"
)

// collectorView reads the management store the way the collector's
// site repository reads postgres.
type collectorView struct {
	repo *memRepository
}

func (v collectorView) GetByTrackingCode(_ context.Context, code string) (*site.Site, error) {
	v.repo.mu.Lock()
	defer v.repo.mu.Unlock()
	for _, s := range v.repo.sites {
		if s.TrackingCode == code {
			return &site.Site{
				ID:              s.ID,
				TrackingCode:    s.TrackingCode,
				Active:          s.Active,
				CloakingEnabled: s.CloakingEnabled,
			}, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (v collectorView) GetActiveRules(_ context.Context, siteID string) ([]cloaking.Rule, error) {
	v.repo.mu.Lock()
	defer v.repo.mu.Unlock()
	var active []cloaking.Rule
	for _, r := range v.repo.siteRules(siteID) {
		if r.Status == cloaking.StatusActive {
			active = append(active, r)
		}
	}
	return active, nil
}

func (v collectorView) GetAllowList(context.Context, string) (botdetect.AllowList, error) {
	return botdetect.AllowList{}, nil
}

// sharedCache stands in for the redis both services point at.
type sharedCache struct {
	mu        sync.Mutex
	entries   map[string][]byte
	evictions [][]string
	deleteErr error
}

func newSharedCache() *sharedCache {
	return &sharedCache{entries: map[string][]byte{}}
}

func (c *sharedCache) Get(_ context.Context, code string) (*site.Site, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[code]
	if !ok {
		return nil, nil
	}
	var s site.Site
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *sharedCache) Set(_ context.Context, s *site.Site) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	c.entries[s.TrackingCode] = data
	return nil
}

func (c *sharedCache) Delete(_ context.Context, codes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictions = append(c.evictions, codes)
	if c.deleteErr != nil {
		return c.deleteErr
	}
	for _, code := range codes {
		delete(c.entries, code)
	}
	return nil
}

func newCachedFixture(t *testing.T) (*fixture, *sharedCache, *site.Resolver) {
	t.Helper()

	engine, err := cloaking.NewEngine(logger.NopLogger())
	require.NoError(t, err)

	cache := newSharedCache()
	f := &fixture{
		repo:     newMemRepository(),
		audit:    &memAudit{},
		variants: &memVariants{},
		events:   &recordingProducer{},
	}
	f.svc = NewService(f.repo, engine, logger.NopLogger(),
		WithAudit(f.audit),
		WithSiteCache(cache),
	)
	resolver := site.NewResolver(collectorView{repo: f.repo}, nil, cache, logger.NopLogger())
	return f, cache, resolver
}

func TestService_PausedRuleLeavesCollectorCache(t *testing.T) {
	f, _, resolver := newCachedFixture(t)
	ctx := context.Background()
	st := f.site(t)
	rule := f.rule(t, st.ID, "germany")

	resolved, err := resolver.Resolve(ctx, st.TrackingCode)
	require.NoError(t, err)
	require.Len(t, resolved.Rules, 1)

	_, err = f.svc.SetRuleStatus(ctx, st.ID, rule.ID, cloaking.StatusPaused)
	require.NoError(t, err)

	resolved, err = resolver.Resolve(ctx, st.TrackingCode)
	require.NoError(t, err)
	assert.Empty(t, resolved.Rules)
}

func TestService_DeactivationRejectsNextCollectorRequest(t *testing.T) {
	f, cache, resolver := newCachedFixture(t)
	ctx := context.Background()
	st := f.site(t)

	_, err := resolver.Resolve(ctx, st.TrackingCode)
	require.NoError(t, err)

	_, err = f.svc.UpdateSite(ctx, st.ID, UpdateSiteRequest{TrackingCode: strPtr("TRK-NEXT"), Active: boolPtr(false)})
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, "TRK-NEXT")
	assert.ErrorIs(t, err, site.ErrSiteInactive)
	_, err = resolver.Resolve(ctx, st.TrackingCode)
	assert.ErrorIs(t, err, site.ErrSiteNotFound)

	require.NotEmpty(t, cache.evictions)
	assert.Equal(t, []string{"TRK-NEXT", st.TrackingCode}, cache.evictions[len(cache.evictions)-1])
}

func TestService_EvictionFailureDoesNotFailChange(t *testing.T) {
	f, cache, _ := newCachedFixture(t)
	cache.deleteErr = errors.New("redis unavailable")
	st := f.site(t)

	updated, err := f.svc.UpdateSite(context.Background(), st.ID, UpdateSiteRequest{Active: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.NotEmpty(t, cache.evictions)
}
