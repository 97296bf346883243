package site

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/botdetect"
	"pixelgate/internal/cloaking"
	"pixelgate/internal/logger"
	apperrors "pixelgate/pkg/errors"
	"pixelgate/pkg/models"
)

type fakeRepo struct {
	sites     map[string]*Site
	rules     map[string][]cloaking.Rule
	allow     map[string]botdetect.AllowList
	siteCalls int
	rulesErr  error
}

func (f *fakeRepo) GetByTrackingCode(ctx context.Context, code string) (*Site, error) {
	f.siteCalls++
	s, ok := f.sites[code]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) GetActiveRules(ctx context.Context, siteID string) ([]cloaking.Rule, error) {
	if f.rulesErr != nil {
		return nil, f.rulesErr
	}
	return f.rules[siteID], nil
}

func (f *fakeRepo) GetAllowList(ctx context.Context, siteID string) (botdetect.AllowList, error) {
	return f.allow[siteID], nil
}

type fakeVariants struct {
	variants map[cloaking.VariantType]Variant
	err      error
}

func (f *fakeVariants) GetVariants(ctx context.Context, siteID string) (map[cloaking.VariantType]Variant, error) {
	return f.variants, f.err
}

func (f *fakeVariants) UpsertVariant(ctx context.Context, siteID string, v Variant) error {
	return nil
}

func (f *fakeVariants) DeleteVariant(ctx context.Context, siteID string, vt cloaking.VariantType) error {
	return nil
}

// memCache stores JSON like the redis cache does.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) Get(ctx context.Context, code string) (*Site, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	data, ok := c.entries[code]
	if !ok {
		return nil, nil
	}
	var s Site
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *memCache) Set(ctx context.Context, s *Site) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	c.entries[s.TrackingCode] = data
	return nil
}

func (c *memCache) Delete(ctx context.Context, codes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range codes {
		delete(c.entries, code)
	}
	return nil
}

func newFixture() *fakeRepo {
	return &fakeRepo{
		sites: map[string]*Site{
			"TRK-1":   {ID: "site-1", TrackingCode: "TRK-1", Active: true, CloakingEnabled: true},
			"TRK-OFF": {ID: "site-2", TrackingCode: "TRK-OFF", Active: false},
		},
		rules: map[string][]cloaking.Rule{
			"site-1": {
				{ID: "r1", Trigger: cloaking.TriggerCountry, Matcher: cloaking.Matcher{Value: "DE"}, Action: cloaking.ActionWarningPage, Status: cloaking.StatusActive},
			},
		},
		allow: map[string]botdetect.AllowList{
			"site-1": {Agents: []string{"Googlebot"}},
		},
	}
}

func TestResolve_Errors(t *testing.T) {
	r := NewResolver(newFixture(), nil, nil, logger.NopLogger())

	tests := []struct {
		name string
		code string
		want error
	}{
		{name: "missing", code: "  ", want: ErrMissingTrackingCode},
		{name: "unknown", code: "NOPE", want: ErrSiteNotFound},
		{name: "inactive", code: "TRK-OFF", want: ErrSiteInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Resolve(context.Background(), tt.code)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, apperrors.IsRejection(err))
		})
	}
}

func TestResolve_LoadsRulesAllowListAndVariants(t *testing.T) {
	variants := &fakeVariants{variants: map[cloaking.VariantType]Variant{
		cloaking.VariantSafe: {Type: cloaking.VariantSafe, URL: "https://example.com/safe"},
	}}
	r := NewResolver(newFixture(), variants, nil, logger.NopLogger())

	s, err := r.Resolve(context.Background(), "TRK-1")
	require.NoError(t, err)
	assert.Equal(t, "site-1", s.ID)
	require.Len(t, s.Rules, 1)
	assert.Equal(t, "r1", s.Rules[0].ID)
	assert.Equal(t, []string{"Googlebot"}, s.AllowList.Agents)
	assert.Equal(t, "https://example.com/safe", s.VariantURL(cloaking.ActionSafePage))
	assert.Empty(t, s.VariantURL(cloaking.ActionMoneyPage))
	assert.Empty(t, s.VariantURL(cloaking.ActionBlock))
}

func TestResolve_VariantFailureDegrades(t *testing.T) {
	r := NewResolver(newFixture(), &fakeVariants{err: errors.New("mongo down")}, nil, logger.NopLogger())

	s, err := r.Resolve(context.Background(), "TRK-1")
	require.NoError(t, err)
	assert.Empty(t, s.Variants)
}

func TestResolve_RuleLoadFailureIsInternal(t *testing.T) {
	repo := newFixture()
	repo.rulesErr = errors.New("connection reset")
	r := NewResolver(repo, nil, nil, logger.NopLogger())

	_, err := r.Resolve(context.Background(), "TRK-1")
	require.Error(t, err)
	assert.False(t, apperrors.IsRejection(err))
}

func TestResolve_UsesCache(t *testing.T) {
	repo := newFixture()
	cache := newMemCache()
	r := NewResolver(repo, nil, cache, logger.NopLogger())

	for i := 0; i < 3; i++ {
		s, err := r.Resolve(context.Background(), "TRK-1")
		require.NoError(t, err)
		require.Len(t, s.Rules, 1)
	}
	assert.Equal(t, 1, repo.siteCalls)

	// inactive sites are cached too and still rejected
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "TRK-OFF")
		assert.ErrorIs(t, err, ErrSiteInactive)
	}
	assert.Equal(t, 2, repo.siteCalls)
}

func TestResolve_DeactivationIsImmediateWithoutCache(t *testing.T) {
	repo := newFixture()
	r := NewResolver(repo, nil, nil, logger.NopLogger())

	s, err := r.Resolve(context.Background(), "TRK-1")
	require.NoError(t, err)
	require.Len(t, s.Rules, 1)

	repo.rules["site-1"] = nil
	s, err = r.Resolve(context.Background(), "TRK-1")
	require.NoError(t, err)
	assert.Empty(t, s.Rules)

	repo.sites["TRK-1"].Active = false
	s, err = r.Resolve(context.Background(), "TRK-1")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrSiteInactive)
}

func TestNewCollectorCache(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	tests := []struct {
		name        string
		client      *redis.Client
		ttl         time.Duration
		invalidated bool
		want        bool
	}{
		{name: "evicted by config events", client: client, ttl: time.Minute, invalidated: true, want: true},
		{name: "no eviction path", client: client, ttl: time.Minute, invalidated: false},
		{name: "zero ttl disables", client: client, ttl: 0, invalidated: true},
		{name: "no redis", client: nil, ttl: time.Minute, invalidated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewCollectorCache(tt.client, tt.ttl, tt.invalidated)
			if tt.want {
				assert.NotNil(t, cache)
			} else {
				assert.Nil(t, cache)
			}
		})
	}
}

func TestResolve_CacheErrorFallsBack(t *testing.T) {
	repo := newFixture()
	cache := newMemCache()
	cache.getErr = errors.New("redis timeout")
	r := NewResolver(repo, nil, cache, logger.NopLogger())

	s, err := r.Resolve(context.Background(), "TRK-1")
	require.NoError(t, err)
	assert.Equal(t, "site-1", s.ID)
}

func TestInvalidator_HandleMessage(t *testing.T) {
	repo := newFixture()
	cache := newMemCache()
	r := NewResolver(repo, nil, cache, logger.NopLogger())
	inv := NewInvalidator(r, logger.NopLogger())

	_, err := r.Resolve(context.Background(), "TRK-1")
	require.NoError(t, err)

	// the site is deactivated out of band; the cached copy still says active
	repo.sites["TRK-1"].Active = false
	_, err = r.Resolve(context.Background(), "TRK-1")
	require.NoError(t, err)

	env, err := models.NewEnvelope(models.EventTypeSiteUpdated, "management-service", models.SiteConfigEvent{
		SiteID:       "site-1",
		TrackingCode: "TRK-1",
		Entity:       "site",
		Action:       models.ActionToggle,
		Timestamp:    time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, inv.HandleMessage(context.Background(), env))

	_, err = r.Resolve(context.Background(), "TRK-1")
	assert.ErrorIs(t, err, ErrSiteInactive)
}

func TestInvalidator_IgnoresOtherEvents(t *testing.T) {
	inv := NewInvalidator(NewResolver(newFixture(), nil, newMemCache(), logger.NopLogger()), logger.NopLogger())

	env, err := models.NewEnvelope(models.EventTypeOutcome, "collector-service", map[string]string{"x": "y"})
	require.NoError(t, err)
	assert.NoError(t, inv.HandleMessage(context.Background(), env))

	bad := models.MessageEnvelope{ID: "m1", Type: models.EventTypeSiteUpdated, Payload: json.RawMessage(`not json`)}
	assert.NoError(t, inv.HandleMessage(context.Background(), bad))
}
