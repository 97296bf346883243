//go:build integration

package management

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/logger"
	"pixelgate/internal/site"
	"pixelgate/internal/testinfra"
	pkgerrors "pixelgate/pkg/errors"
)

func TestPostgresRepository_SiteAndRules(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Postgres: true})
	ctx := context.Background()

	engine, err := cloaking.NewEngine(logger.NopLogger())
	require.NoError(t, err)
	svc := NewService(NewRepository(infra.PostgresDB), engine, logger.NopLogger(),
		WithAudit(NewAuditRepository(infra.PostgresDB)),
	)

	st, err := svc.CreateSite(ctx, CreateSiteRequest{Name: "Shop", TrackingCode: "TRK-INT", CloakingEnabled: boolPtr(true)})
	require.NoError(t, err)

	_, err = svc.CreateSite(ctx, CreateSiteRequest{Name: "Dup", TrackingCode: "TRK-INT"})
	assert.True(t, pkgerrors.IsConflict(err))

	_, err = svc.GetSite(ctx, "not-a-uuid")
	assert.True(t, pkgerrors.IsNotFound(err))

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		rule, err := svc.CreateRule(ctx, st.ID, CreateRuleRequest{Name: name, TriggerType: "country", Condition: "DE", Action: "safe_page"})
		require.NoError(t, err)
		ids = append(ids, rule.ID)
	}

	list, err := svc.ReorderRules(ctx, st.ID, ReorderRulesRequest{RuleIDs: []string{ids[2], ids[0], ids[1]}})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[0], ids[1]}, []string{list.Rules[0].ID, list.Rules[1].ID, list.Rules[2].ID})

	_, err = svc.ReorderRules(ctx, st.ID, ReorderRulesRequest{RuleIDs: []string{ids[0], ids[1]}})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = svc.SetRuleStatus(ctx, st.ID, ids[0], cloaking.StatusPaused)
	require.NoError(t, err)

	active, err := site.NewRepository(infra.PostgresDB).GetActiveRules(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[1]}, []string{active[0].ID, active[1].ID})

	logs, err := svc.GetRuleAuditLogs(ctx, st.ID, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "paused", logs[0].NewValue["status"])

	_, err = svc.AddAllowListEntry(ctx, st.ID, CreateAllowListEntryRequest{Kind: "ip", Value: "66.249.64.0/19"})
	require.NoError(t, err)
	allow, err := site.NewRepository(infra.PostgresDB).GetAllowList(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"66.249.64.0/19"}, allow.IPs)

	require.NoError(t, svc.DeleteSite(ctx, st.ID))
	assert.Equal(t, 0, testinfra.CountRows(t, infra.PostgresDB, "cloaking_rules"))
	assert.Equal(t, 0, testinfra.CountRows(t, infra.PostgresDB, "allow_list_entries"))
}
