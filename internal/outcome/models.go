package outcome

import (
	"time"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/signals"
)

type Destination string

const (
	DestinationBotDetection Destination = "bot_detection"
	DestinationAnalytics    Destination = "analytics_event"
	DestinationInteraction  Destination = "interaction"
)

// BotDetection is written for classifier hits and for block actions.
type BotDetection struct {
	ID        string          `json:"id"`
	SiteID    string          `json:"site_id"`
	VisitorID string          `json:"visitor_id"`
	SessionID string          `json:"session_id"`
	PageURL   string          `json:"page_url"`
	Signals   signals.Set     `json:"signals"`
	Reason    string          `json:"reason"`
	Signature string          `json:"signature,omitempty"`
	Action    cloaking.Action `json:"cloaking_action,omitempty"`
	RuleID    string          `json:"rule_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type AnalyticsEvent struct {
	ID        string          `json:"id"`
	SiteID    string          `json:"site_id"`
	EventType string          `json:"event_type"`
	VisitorID string          `json:"visitor_id"`
	SessionID string          `json:"session_id"`
	PageURL   string          `json:"page_url"`
	Signals   signals.Set     `json:"signals"`
	Action    cloaking.Action `json:"cloaking_action,omitempty"`
	RuleID    string          `json:"rule_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Interaction is a heatmap record. Positions are optional.
type Interaction struct {
	ID              string    `json:"id"`
	SiteID          string    `json:"site_id"`
	EventType       string    `json:"event_type"`
	PageURL         string    `json:"page_url"`
	X               *int      `json:"x_position,omitempty"`
	Y               *int      `json:"y_position,omitempty"`
	ElementSelector string    `json:"element_selector,omitempty"`
	ElementText     string    `json:"element_text,omitempty"`
	SessionID       string    `json:"session_id"`
	VisitorID       string    `json:"visitor_id"`
	CreatedAt       time.Time `json:"created_at"`
}
