package management

import (
	"time"

	"pixelgate/internal/cloaking"
)

// Site is the administrative view of a tracked website.
type Site struct {
	ID                         string    `json:"id"`
	TrackingCode               string    `json:"tracking_code"`
	Name                       string    `json:"name"`
	Domain                     string    `json:"domain"`
	Active                     bool      `json:"active"`
	CloakingEnabled            bool      `json:"cloaking_enabled"`
	InteractionTrackingEnabled bool      `json:"interaction_tracking_enabled"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

type CreateSiteRequest struct {
	Name   string `json:"name" binding:"required"`
	Domain string `json:"domain"`
	// TrackingCode is generated when empty.
	TrackingCode               string `json:"tracking_code"`
	Active                     *bool  `json:"active"`
	CloakingEnabled            *bool  `json:"cloaking_enabled"`
	InteractionTrackingEnabled *bool  `json:"interaction_tracking_enabled"`
}

type UpdateSiteRequest struct {
	Name                       *string `json:"name"`
	Domain                     *string `json:"domain"`
	TrackingCode               *string `json:"tracking_code"`
	Active                     *bool   `json:"active"`
	CloakingEnabled            *bool   `json:"cloaking_enabled"`
	InteractionTrackingEnabled *bool   `json:"interaction_tracking_enabled"`
}

type CreateRuleRequest struct {
	Name        string `json:"name" binding:"required"`
	TriggerType string `json:"trigger_type" binding:"required"`
	MatchKind   string `json:"match_kind"`
	Condition   string `json:"condition" binding:"required"`
	Action      string `json:"action" binding:"required"`
	Status      string `json:"status"`
}

type UpdateRuleRequest struct {
	Name        *string `json:"name"`
	TriggerType *string `json:"trigger_type"`
	MatchKind   *string `json:"match_kind"`
	Condition   *string `json:"condition"`
	Action      *string `json:"action"`
	Status      *string `json:"status"`
}

// ReorderRulesRequest lists every rule of a site in its new evaluation order.
type ReorderRulesRequest struct {
	RuleIDs []string `json:"rule_ids" binding:"required"`
}

type AllowListEntry struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateAllowListEntryRequest struct {
	Kind  string `json:"kind" binding:"required"`
	Value string `json:"value" binding:"required"`
	Note  string `json:"note"`
}

type UpsertVariantRequest struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title"`
}

// AuditLog records one change to a cloaking rule.
type AuditLog struct {
	ID        string                 `json:"id"`
	RuleID    string                 `json:"rule_id"`
	SiteID    string                 `json:"site_id"`
	Action    string                 `json:"action"`
	ChangedBy string                 `json:"changed_by"`
	OldValue  map[string]interface{} `json:"old_value,omitempty"`
	NewValue  map[string]interface{} `json:"new_value,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// RuleList is a site's full rule set, paused rules included, in evaluation order.
type RuleList struct {
	SiteID string          `json:"site_id"`
	Rules  []cloaking.Rule `json:"rules"`
}

type SetRuleStatusRequest struct {
	Status string `json:"status" binding:"required" example:"paused"`
}
