package collector

import (
	"pixelgate/internal/cloaking"
	apperrors "pixelgate/pkg/errors"
)

var (
	ErrInvalidEventType            = apperrors.Rejection("invalid_event_type")
	ErrInteractionTrackingDisabled = apperrors.Rejection("interaction_tracking_disabled")
)

// DefaultEventType is recorded when a tracking call names no event.
const DefaultEventType = "page_view"

const ReasonCloakingRulePrefix = "cloaking rule: "

var interactionEventTypes = map[string]bool{
	"click":       true,
	"scroll":      true,
	"hover":       true,
	"form_focus":  true,
	"form_submit": true,
}

// ValidInteractionEventType reports whether t is one of the heatmap event kinds.
func ValidInteractionEventType(t string) bool {
	return interactionEventTypes[t]
}

// EventRequest is the body of a page view or custom event call. GET callers
// send the same fields as query parameters.
type EventRequest struct {
	TrackingCode   string `json:"tracking_code" form:"tracking_code"`
	EventType      string `json:"event_type" form:"event_type"`
	VisitorID      string `json:"visitor_id" form:"visitor_id"`
	SessionID      string `json:"session_id" form:"session_id"`
	PageURL        string `json:"page_url" form:"page_url"`
	Referrer       string `json:"referrer" form:"referrer"`
	UserAgent      string `json:"user_agent" form:"user_agent"`
	IPReputation   string `json:"ip_reputation" form:"ip_reputation"`
	ConnectionType string `json:"connection_type" form:"connection_type"`
}

// TrackResult tells the page script what to do without a second round trip.
type TrackResult struct {
	Success    bool            `json:"success"`
	Blocked    bool            `json:"blocked"`
	Reason     string          `json:"reason,omitempty"`
	Action     cloaking.Action `json:"action,omitempty"`
	VariantURL string          `json:"variant_url,omitempty"`
	DeviceType string          `json:"device_type,omitempty"`
	Browser    string          `json:"browser,omitempty"`
	OS         string          `json:"os,omitempty"`
	Country    string          `json:"country,omitempty"`
	City       string          `json:"city,omitempty"`
	IPAddress  string          `json:"ip_address,omitempty"`
}

// InteractionRequest is a heatmap record. Positions arrive as fractional
// pixels and are stored truncated.
type InteractionRequest struct {
	TrackingCode    string   `json:"tracking_code" form:"tracking_code"`
	EventType       string   `json:"event_type" form:"event_type"`
	PageURL         string   `json:"page_url" form:"page_url"`
	XPosition       *float64 `json:"x_position" form:"x_position"`
	YPosition       *float64 `json:"y_position" form:"y_position"`
	ElementSelector string   `json:"element_selector" form:"element_selector"`
	ElementText     string   `json:"element_text" form:"element_text"`
	SessionID       string   `json:"session_id" form:"session_id"`
	VisitorID       string   `json:"visitor_id" form:"visitor_id"`
}

type InteractionResult struct {
	Success   bool   `json:"success"`
	EventType string `json:"event_type"`
	WebsiteID string `json:"website_id"`
}
