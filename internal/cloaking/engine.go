// Package cloaking evaluates a site's ordered rule list against the signals
// of one request.
package cloaking

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"pixelgate/internal/logger"
	"pixelgate/internal/signals"
	"pixelgate/pkg/cel"
	"pixelgate/pkg/metrics"
)

// Engine holds no per-request state. Compiled regexes and CEL programs are
// cached by pattern and shared across requests.
type Engine struct {
	evaluator *cel.Evaluator
	regexes   sync.Map // pattern -> *regexp.Regexp
	logger    logger.Logger
}

func NewEngine(log logger.Logger) (*Engine, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Engine{
		evaluator: evaluator,
		logger:    log,
	}, nil
}

// Evaluate walks rules in order and returns the first active match. Paused
// rules are skipped. A rule whose matcher cannot be evaluated is logged and
// treated as not matching.
func (e *Engine) Evaluate(ctx context.Context, rules []Rule, set signals.Set) Decision {
	var fields map[string]string

	for _, rule := range rules {
		if !rule.Active() {
			continue
		}

		values, ok := SignalsFor(rule.Trigger, set)
		if !ok {
			e.logger.WarnwCtx(ctx, "Rule has unknown trigger type",
				"rule_id", rule.ID,
				"trigger_type", rule.Trigger,
			)
			continue
		}

		if rule.Matcher.kind() == MatchExpression && fields == nil {
			fields = set.Map()
		}

		matched, err := e.matchAny(ctx, rule.Matcher, values, fields)
		if err != nil {
			e.logger.ErrorwCtx(ctx, "Rule evaluation error",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}

		metrics.CloakingRuleMatchesTotal.WithLabelValues(string(rule.Action)).Inc()
		e.logger.DebugwCtx(ctx, "Cloaking rule matched",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"action", rule.Action,
		)
		return Decision{Action: rule.Action, RuleID: rule.ID, RuleName: rule.Name}
	}

	return Decision{Action: ActionNone}
}

// SignalsFor selects the signal values a trigger inspects. Country triggers
// see both the country name and its ISO code, so "DE" and "Germany" both
// select German traffic.
func SignalsFor(trigger TriggerKind, set signals.Set) ([]string, bool) {
	switch trigger {
	case TriggerUserAgent:
		return []string{set.UserAgent}, true
	case TriggerCountry:
		if set.CountryCode == "" {
			return []string{set.Country}, true
		}
		return []string{set.Country, set.CountryCode}, true
	case TriggerDeviceType:
		return []string{string(set.DeviceClass)}, true
	case TriggerIPReputation:
		return []string{set.IPReputation}, true
	case TriggerConnectionType:
		return []string{set.ConnectionType}, true
	}
	return nil, false
}

// matchAny reports a match when any of values matches.
func (e *Engine) matchAny(ctx context.Context, m Matcher, values []string, fields map[string]string) (bool, error) {
	for _, value := range values {
		matched, err := e.match(ctx, m, value, fields)
		if err != nil || matched {
			return matched, err
		}
	}
	return false, nil
}

// match never matches an empty condition.
func (e *Engine) match(ctx context.Context, m Matcher, value string, fields map[string]string) (bool, error) {
	if m.Value == "" {
		return false, nil
	}

	switch m.kind() {
	case MatchSubstring:
		return strings.Contains(value, m.Value), nil
	case MatchExact:
		return value == m.Value, nil
	case MatchRegex:
		re, err := e.regex(m.Value)
		if err != nil {
			return false, err
		}
		return re.MatchString(value), nil
	case MatchExpression:
		return e.evaluator.Match(ctx, m.Value, value, fields)
	}
	return false, fmt.Errorf("unknown match kind: %s", m.Kind)
}

func (e *Engine) regex(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.regexes.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	actual, _ := e.regexes.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// ValidateMatcher reports whether m can be evaluated. Used before rules are saved.
func (e *Engine) ValidateMatcher(m Matcher) error {
	if strings.TrimSpace(m.Value) == "" {
		return fmt.Errorf("condition is required")
	}
	switch m.kind() {
	case MatchSubstring, MatchExact:
		return nil
	case MatchRegex:
		_, err := e.regex(m.Value)
		return err
	case MatchExpression:
		return e.evaluator.ValidateRuleExpression(m.Value)
	}
	return fmt.Errorf("unknown match kind: %s", m.Kind)
}
