package models

import "time"

const (
	EventTypeSiteUpdated = "site_updated"
	EventTypeOutcome     = "outcome_recorded"
)

const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionToggle  = "toggle"
	ActionReorder = "reorder"
)

// SiteConfigEvent tells collectors that a site's cached configuration is stale.
type SiteConfigEvent struct {
	SiteID               string    `json:"site_id"`
	TrackingCode         string    `json:"tracking_code"`
	PreviousTrackingCode string    `json:"previous_tracking_code,omitempty"` // set when an update changed the code
	Entity               string    `json:"entity"`                           // site, rule, allow_list, variant
	EntityID             string    `json:"entity_id,omitempty"`
	Action               string    `json:"action"`
	Timestamp            time.Time `json:"timestamp"`
}

// OutcomeEvent mirrors one persisted classification row for downstream rollups.
type OutcomeEvent struct {
	OutcomeID   string    `json:"outcome_id"`
	Destination string    `json:"destination"` // bot_detection, analytics_event, interaction
	SiteID      string    `json:"site_id"`
	VisitorID   string    `json:"visitor_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	EventType   string    `json:"event_type,omitempty"`
	IsBot       bool      `json:"is_bot"`
	Reason      string    `json:"reason,omitempty"`
	Action      string    `json:"action,omitempty"`
	RuleID      string    `json:"rule_id,omitempty"`
	Country     string    `json:"country,omitempty"`
	DeviceClass string    `json:"device_class,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
