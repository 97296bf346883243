// Package botdetect flags automated agents by static signature matching.
package botdetect

import (
	"net/netip"
	"strings"
)

const (
	ReasonAgentPattern = "agent pattern match"
	ReasonAllowList    = "allow list"
)

type Verdict struct {
	IsBot     bool   `json:"is_bot"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// AllowList holds a site's trusted agents and addresses. IPs may be single
// addresses or CIDR prefixes.
type AllowList struct {
	Agents []string `json:"agents,omitempty"`
	IPs    []string `json:"ips,omitempty"`
}

func (a AllowList) Empty() bool {
	return len(a.Agents) == 0 && len(a.IPs) == 0
}

// Allows reports whether the agent string or IP is trusted. Agent tokens
// match case-insensitively by containment.
func (a AllowList) Allows(ua, ip string) bool {
	if len(a.Agents) > 0 && ua != "" {
		uaLower := strings.ToLower(ua)
		for _, agent := range a.Agents {
			if token := strings.ToLower(strings.TrimSpace(agent)); token != "" && strings.Contains(uaLower, token) {
				return true
			}
		}
	}

	if len(a.IPs) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range a.IPs {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if allowed, err := netip.ParseAddr(entry); err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}

// Classifier is stateless after construction and safe for concurrent use.
type Classifier struct {
	signatures []string
}

func NewClassifier() *Classifier {
	return &Classifier{signatures: DefaultSignatures()}
}

// NewClassifierWithSignatures replaces the default signature list.
func NewClassifierWithSignatures(signatures []string) *Classifier {
	lowered := make([]string, 0, len(signatures))
	for _, s := range signatures {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			lowered = append(lowered, s)
		}
	}
	return &Classifier{signatures: lowered}
}

// Classify matches ua against the signature list. An empty agent is not a bot.
func (c *Classifier) Classify(ua string) Verdict {
	if strings.TrimSpace(ua) == "" {
		return Verdict{}
	}

	uaLower := strings.ToLower(ua)
	for _, sig := range c.signatures {
		if strings.Contains(uaLower, sig) {
			return Verdict{IsBot: true, Reason: ReasonAgentPattern, Signature: sig}
		}
	}
	return Verdict{}
}

// ClassifyWithAllowList consults the allow list before the signatures.
func (c *Classifier) ClassifyWithAllowList(ua, ip string, allow AllowList) Verdict {
	if !allow.Empty() && allow.Allows(ua, ip) {
		return Verdict{Reason: ReasonAllowList}
	}
	return c.Classify(ua)
}
