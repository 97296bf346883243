//go:build integration

package outcome

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/signals"
	"pixelgate/internal/testinfra"
)

func TestPostgresStore(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Postgres: true})
	db := infra.PostgresDB
	ctx := context.Background()

	siteID := testinfra.InsertSite(t, db, "TRK-STORE", true, true, true)
	ruleID := testinfra.InsertRule(t, db, siteID, "block dc", "connection_type", "exact", "datacenter", "block", "active", 0)
	store := NewPostgresStore(db)

	set := signals.Set{
		ClientIP:       "8.8.8.8",
		Country:        "Germany",
		CountryCode:    "DE",
		City:           "Berlin",
		Browser:        "Chrome",
		BrowserVersion: "120.0.0.0",
		OS:             "Windows",
		OSVersion:      "10",
		DeviceClass:    signals.DeviceDesktop,
		UserAgent:      "Mozilla/5.0",
		IPReputation:   "datacenter",
		ConnectionType: "datacenter",
	}

	bot := &BotDetection{SiteID: siteID, Signals: set, Reason: "cloaking rule: block dc", Action: cloaking.ActionBlock, RuleID: ruleID}
	require.NoError(t, store.SaveBotDetection(ctx, bot))
	assert.NotEmpty(t, bot.ID)

	event := &AnalyticsEvent{SiteID: siteID, EventType: "page_view", Signals: set}
	require.NoError(t, store.SaveAnalyticsEvent(ctx, event))

	var action, rule sql.NullString
	require.NoError(t, db.QueryRow(`SELECT cloaking_action, rule_id FROM analytics_events WHERE id = $1`, event.ID).Scan(&action, &rule))
	assert.False(t, action.Valid)
	assert.False(t, rule.Valid)

	require.NoError(t, db.QueryRow(`SELECT cloaking_action, rule_id FROM bot_detections WHERE id = $1`, bot.ID).Scan(&action, &rule))
	assert.Equal(t, "block", action.String)
	assert.Equal(t, ruleID, rule.String)

	for _, table := range []string{"bot_detections", "analytics_events"} {
		var code, browserVersion, osVersion, reputation, connection string
		id := bot.ID
		if table == "analytics_events" {
			id = event.ID
		}
		require.NoError(t, db.QueryRow(
			`SELECT country_code, browser_version, os_version, ip_reputation, connection_type FROM `+table+` WHERE id = $1`, id,
		).Scan(&code, &browserVersion, &osVersion, &reputation, &connection), table)
		assert.Equal(t, []string{"DE", "120.0.0.0", "10", "datacenter", "datacenter"},
			[]string{code, browserVersion, osVersion, reputation, connection}, table)
	}

	x, y := 120, 45
	require.NoError(t, store.SaveInteraction(ctx, &Interaction{SiteID: siteID, EventType: "click", X: &x, Y: &y, PageURL: "/"}))
	require.NoError(t, store.SaveInteraction(ctx, &Interaction{SiteID: siteID, EventType: "scroll", PageURL: "/"}))

	var gotX sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT x_position FROM interaction_events WHERE event_type = 'click'`).Scan(&gotX))
	assert.Equal(t, int64(120), gotX.Int64)

	assert.Equal(t, 1, testinfra.CountRows(t, db, "bot_detections"))
	assert.Equal(t, 1, testinfra.CountRows(t, db, "analytics_events"))
	assert.Equal(t, 2, testinfra.CountRows(t, db, "interaction_events"))
}
