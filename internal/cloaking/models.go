package cloaking

import "time"

type TriggerKind string

const (
	TriggerUserAgent      TriggerKind = "user_agent"
	TriggerIPReputation   TriggerKind = "ip_reputation"
	TriggerConnectionType TriggerKind = "connection_type"
	TriggerCountry        TriggerKind = "country"
	TriggerDeviceType     TriggerKind = "device_type"
)

func (t TriggerKind) Valid() bool {
	switch t {
	case TriggerUserAgent, TriggerIPReputation, TriggerConnectionType, TriggerCountry, TriggerDeviceType:
		return true
	}
	return false
}

// Action is the content directive of a matched rule. ActionNone means no rule
// matched and the request is recorded as ordinary analytics.
type Action string

const (
	ActionNone        Action = ""
	ActionSafePage    Action = "safe_page"
	ActionMoneyPage   Action = "money_page"
	ActionWarningPage Action = "warning_page"
	ActionBlock       Action = "block"
)

func (a Action) Valid() bool {
	switch a {
	case ActionSafePage, ActionMoneyPage, ActionWarningPage, ActionBlock:
		return true
	}
	return false
}

type VariantType string

const (
	VariantSafe    VariantType = "safe"
	VariantMoney   VariantType = "money"
	VariantWarning VariantType = "warning"
)

func (v VariantType) Valid() bool {
	switch v {
	case VariantSafe, VariantMoney, VariantWarning:
		return true
	}
	return false
}

// Variant returns the content variant served for the action. Block and
// ActionNone have none.
func (a Action) Variant() (VariantType, bool) {
	switch a {
	case ActionSafePage:
		return VariantSafe, true
	case ActionMoneyPage:
		return VariantMoney, true
	case ActionWarningPage:
		return VariantWarning, true
	}
	return "", false
}

type RuleStatus string

const (
	StatusActive RuleStatus = "active"
	StatusPaused RuleStatus = "paused"
)

func (s RuleStatus) Valid() bool {
	return s == StatusActive || s == StatusPaused
}

type MatchKind string

const (
	MatchSubstring  MatchKind = "substring"
	MatchExact      MatchKind = "exact"
	MatchRegex      MatchKind = "regex"
	MatchExpression MatchKind = "expression"
)

func (k MatchKind) Valid() bool {
	switch k {
	case MatchSubstring, MatchExact, MatchRegex, MatchExpression:
		return true
	}
	return false
}

// Matcher tests one signal value. An empty Kind means substring, which is
// case-sensitive containment.
type Matcher struct {
	Kind  MatchKind `json:"kind"`
	Value string    `json:"value"`
}

func (m Matcher) kind() MatchKind {
	if m.Kind == "" {
		return MatchSubstring
	}
	return m.Kind
}

type Rule struct {
	ID        string      `json:"id"`
	SiteID    string      `json:"site_id"`
	Name      string      `json:"name"`
	Trigger   TriggerKind `json:"trigger_type"`
	Matcher   Matcher     `json:"matcher"`
	Action    Action      `json:"action"`
	Status    RuleStatus  `json:"status"`
	Hits      int64       `json:"hits"`
	Position  int         `json:"position"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (r Rule) Active() bool {
	return r.Status == StatusActive
}

type Decision struct {
	Action   Action `json:"action,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
	RuleName string `json:"rule_name,omitempty"`
}

func (d Decision) Matched() bool {
	return d.RuleID != ""
}
