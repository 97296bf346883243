package management

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"unicode"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/site"
)

const (
	maxTrackingCodeLength = 64
	maxNameLength         = 200
)

// MatcherValidator checks that a condition can be evaluated. *cloaking.Engine
// implements it.
type MatcherValidator interface {
	ValidateMatcher(m cloaking.Matcher) error
}

func ValidateCreateSite(req CreateSiteRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.Name) > maxNameLength {
		return fmt.Errorf("name must be at most %d characters", maxNameLength)
	}
	if req.TrackingCode != "" {
		return validateTrackingCode(req.TrackingCode)
	}
	return nil
}

func ValidateUpdateSite(req UpdateSiteRequest) error {
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return fmt.Errorf("name cannot be empty")
		}
		if len(*req.Name) > maxNameLength {
			return fmt.Errorf("name must be at most %d characters", maxNameLength)
		}
	}
	if req.TrackingCode != nil {
		return validateTrackingCode(*req.TrackingCode)
	}
	return nil
}

func validateTrackingCode(code string) error {
	if code == "" {
		return fmt.Errorf("tracking_code cannot be empty")
	}
	if len(code) > maxTrackingCodeLength {
		return fmt.Errorf("tracking_code must be at most %d characters", maxTrackingCodeLength)
	}
	for _, r := range code {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("tracking_code cannot contain whitespace")
		}
	}
	return nil
}

// ValidateRule checks a fully assembled rule before it is stored.
func ValidateRule(rule cloaking.Rule, matchers MatcherValidator) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(rule.Name) > maxNameLength {
		return fmt.Errorf("name must be at most %d characters", maxNameLength)
	}
	if !rule.Trigger.Valid() {
		return fmt.Errorf("invalid trigger_type: %s. Allowed: user_agent, ip_reputation, connection_type, country, device_type", rule.Trigger)
	}
	if !rule.Action.Valid() {
		return fmt.Errorf("invalid action: %s. Allowed: safe_page, money_page, warning_page, block", rule.Action)
	}
	if !rule.Status.Valid() {
		return fmt.Errorf("invalid status: %s. Allowed: active, paused", rule.Status)
	}
	if rule.Matcher.Kind != "" && !rule.Matcher.Kind.Valid() {
		return fmt.Errorf("invalid match_kind: %s. Allowed: substring, exact, regex, expression", rule.Matcher.Kind)
	}
	if err := matchers.ValidateMatcher(rule.Matcher); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	return nil
}

func ValidateReorder(req ReorderRulesRequest) error {
	if len(req.RuleIDs) == 0 {
		return fmt.Errorf("rule_ids cannot be empty")
	}
	seen := make(map[string]bool, len(req.RuleIDs))
	for _, id := range req.RuleIDs {
		if id == "" {
			return fmt.Errorf("rule_ids cannot contain empty ids")
		}
		if seen[id] {
			return fmt.Errorf("rule id %s listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// ValidateAllowListEntry accepts agent substrings, single addresses and CIDR
// prefixes.
func ValidateAllowListEntry(req CreateAllowListEntryRequest) error {
	value := strings.TrimSpace(req.Value)
	if value == "" {
		return fmt.Errorf("value is required")
	}
	switch req.Kind {
	case site.AllowKindAgent:
		return nil
	case site.AllowKindIP:
		if strings.Contains(value, "/") {
			if _, err := netip.ParsePrefix(value); err != nil {
				return fmt.Errorf("invalid CIDR prefix %q: %w", value, err)
			}
			return nil
		}
		if _, err := netip.ParseAddr(value); err != nil {
			return fmt.Errorf("invalid IP address %q: %w", value, err)
		}
		return nil
	}
	return fmt.Errorf("invalid kind: %s. Allowed: agent, ip", req.Kind)
}

func ValidateVariant(variantType cloaking.VariantType, req UpsertVariantRequest) error {
	if !variantType.Valid() {
		return fmt.Errorf("invalid variant type: %s. Allowed: safe, money, warning", variantType)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	return nil
}
