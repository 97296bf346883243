package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_Decode(t *testing.T) {
	in := SiteConfigEvent{SiteID: "s1", TrackingCode: "tc_1", Entity: "rule", Action: ActionToggle, Timestamp: time.Now().UTC()}

	env, err := NewEnvelope(EventTypeSiteUpdated, "management-service", in)
	require.NoError(t, err)
	require.NoError(t, env.Validate())
	assert.NotEmpty(t, env.ID)

	var out SiteConfigEvent
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, in.TrackingCode, out.TrackingCode)
	assert.Equal(t, ActionToggle, out.Action)
}

func TestMessageEnvelope_Validate(t *testing.T) {
	assert.Error(t, MessageEnvelope{}.Validate())
	assert.Error(t, MessageEnvelope{ID: "x", Type: EventTypeOutcome}.Validate())
	assert.Error(t, MessageEnvelope{ID: "x"}.Decode(&struct{}{}))
}
