//go:build integration

package site

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
	"pixelgate/internal/testinfra"
	apperrors "pixelgate/pkg/errors"
	"pixelgate/pkg/migrations"
)

func TestPostgresRepository_RulesInOrder(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Postgres: true})
	db := infra.PostgresDB
	ctx := context.Background()

	siteID := testinfra.InsertSite(t, db, "TRK-ORDER", true, true, false)
	first := testinfra.InsertRule(t, db, siteID, "first", "country", "substring", "DE", "warning_page", "active", 0)
	time.Sleep(10 * time.Millisecond)
	second := testinfra.InsertRule(t, db, siteID, "second", "device_type", "substring", "mobile", "safe_page", "active", 0)
	testinfra.InsertRule(t, db, siteID, "paused", "country", "exact", "US", "block", "paused", 0)
	moved := testinfra.InsertRule(t, db, siteID, "moved up", "user_agent", "regex", "^curl", "block", "active", -1)

	_, err := db.Exec(`INSERT INTO allow_list_entries (id, site_id, kind, value) VALUES ($1, $2, 'agent', 'Googlebot'), ($3, $2, 'ip', '66.249.64.0/19')`,
		uuid.NewString(), siteID, uuid.NewString())
	require.NoError(t, err)

	repo := NewRepository(db)

	s, err := repo.GetByTrackingCode(ctx, "TRK-ORDER")
	require.NoError(t, err)
	assert.True(t, s.CloakingEnabled)

	rules, err := repo.GetActiveRules(ctx, siteID)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, []string{moved, first, second}, []string{rules[0].ID, rules[1].ID, rules[2].ID})
	assert.Equal(t, cloaking.MatchRegex, rules[0].Matcher.Kind)

	allow, err := repo.GetAllowList(ctx, siteID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Googlebot"}, allow.Agents)
	assert.Equal(t, []string{"66.249.64.0/19"}, allow.IPs)

	_, err = repo.GetByTrackingCode(ctx, "TRK-MISSING")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRedisCache_RoundTrip(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Redis: true})
	ctx := context.Background()

	cache := NewRedisCache(infra.RedisClient, time.Minute)

	got, err := cache.Get(ctx, "TRK-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	s := &Site{
		ID:           "site-1",
		TrackingCode: "TRK-1",
		Active:       true,
		Rules: []cloaking.Rule{
			{ID: "r1", Trigger: cloaking.TriggerCountry, Matcher: cloaking.Matcher{Kind: cloaking.MatchExact, Value: "Germany"}, Action: cloaking.ActionBlock, Status: cloaking.StatusActive},
		},
		Variants: map[cloaking.VariantType]Variant{
			cloaking.VariantMoney: {Type: cloaking.VariantMoney, URL: "https://example.com/offer"},
		},
	}
	require.NoError(t, cache.Set(ctx, s))

	got, err = cache.Get(ctx, "TRK-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.Rules, got.Rules)
	assert.Equal(t, "https://example.com/offer", got.VariantURL(cloaking.ActionMoneyPage))

	ttl, err := infra.RedisClient.TTL(ctx, constants.CacheKeyPrefixSite+"TRK-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, cache.Delete(ctx, "TRK-1", ""))
	got, err = cache.Get(ctx, "TRK-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	evictOnly := NewRedisCache(infra.RedisClient, 0)
	require.NoError(t, evictOnly.Set(ctx, s))
	exists, err := infra.RedisClient.Exists(ctx, constants.CacheKeyPrefixSite+"TRK-1").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestMongoVariantStore(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Mongo: true})
	ctx := context.Background()

	require.NoError(t, migrations.EnsureContentVariantIndexes(ctx, infra.MongoDB, constants.ContentVariantsCollection))
	store := NewMongoVariantStore(infra.MongoDB)

	require.NoError(t, store.UpsertVariant(ctx, "site-1", Variant{Type: cloaking.VariantSafe, URL: "https://example.com/v1"}))
	require.NoError(t, store.UpsertVariant(ctx, "site-1", Variant{Type: cloaking.VariantSafe, URL: "https://example.com/v2", Title: "Safe"}))
	require.NoError(t, store.UpsertVariant(ctx, "site-1", Variant{Type: cloaking.VariantWarning, URL: "https://example.com/warn"}))
	require.NoError(t, store.UpsertVariant(ctx, "site-2", Variant{Type: cloaking.VariantSafe, URL: "https://other.example.com/"}))

	variants, err := store.GetVariants(ctx, "site-1")
	require.NoError(t, err)
	assert.Len(t, variants, 2)
	assert.Equal(t, "https://example.com/v2", variants[cloaking.VariantSafe].URL)
	assert.Equal(t, "Safe", variants[cloaking.VariantSafe].Title)

	require.NoError(t, store.DeleteVariant(ctx, "site-1", cloaking.VariantWarning))
	err = store.DeleteVariant(ctx, "site-1", cloaking.VariantWarning)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestResolver_EndToEnd(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Postgres: true, Redis: true})
	db := infra.PostgresDB
	ctx := context.Background()

	siteID := testinfra.InsertSite(t, db, "TRK-E2E", true, true, true)
	testinfra.InsertRule(t, db, siteID, "R1", "country", "substring", "DE", "warning_page", "active", 0)

	r := NewResolver(NewRepository(db), nil, NewRedisCache(infra.RedisClient, time.Minute), logger.NopLogger())

	s, err := r.Resolve(ctx, "TRK-E2E")
	require.NoError(t, err)
	assert.Len(t, s.Rules, 1)

	_, err = db.Exec(`UPDATE sites SET active = false WHERE id = $1`, siteID)
	require.NoError(t, err)
	require.NoError(t, r.Invalidate(ctx, "TRK-E2E"))

	_, err = r.Resolve(ctx, "TRK-E2E")
	assert.ErrorIs(t, err, ErrSiteInactive)
}
