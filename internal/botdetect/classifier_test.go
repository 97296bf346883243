package botdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var browserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 6.3; Trident/7.0; rv:11.0) like Gecko",
}

func TestClassify_Browsers(t *testing.T) {
	c := NewClassifier()
	for _, ua := range browserAgents {
		v := c.Classify(ua)
		assert.False(t, v.IsBot, ua)
		assert.Empty(t, v.Reason, ua)
	}
}

func TestClassify_EverySignatureIsBot(t *testing.T) {
	c := NewClassifier()
	for _, sig := range DefaultSignatures() {
		ua := "Mozilla/5.0 (compatible; " + sig + "/1.0)"
		v := c.Classify(ua)
		assert.True(t, v.IsBot, sig)
		assert.Equal(t, ReasonAgentPattern, v.Reason)
	}
}

func TestClassify_FirstMatchReported(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name string
		ua   string
		sig  string
	}{
		{name: "googlebot reports generic bot token", ua: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", sig: "bot"},
		{name: "headless chrome", ua: "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0.0.0 Safari/537.36", sig: "headless"},
		{name: "curl", ua: "curl/8.4.0", sig: "curl"},
		{name: "python requests", ua: "python-requests/2.31.0", sig: "python-requests"},
		{name: "facebook preview", ua: "facebookexternalhit/1.1", sig: "facebookexternalhit"},
		{name: "case insensitive", ua: "SELENIUM-grid", sig: "selenium"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(tt.ua)
			assert.True(t, v.IsBot)
			assert.Equal(t, tt.sig, v.Signature)
		})
	}
}

func TestClassify_Empty(t *testing.T) {
	assert.Equal(t, Verdict{}, NewClassifier().Classify(""))
	assert.Equal(t, Verdict{}, NewClassifier().Classify("   "))
}

func TestClassify_Pure(t *testing.T) {
	c := NewClassifier()
	ua := "Wget/1.21"
	assert.Equal(t, c.Classify(ua), c.Classify(ua))
}

func TestClassifyWithAllowList(t *testing.T) {
	c := NewClassifier()
	allow := AllowList{
		Agents: []string{"Googlebot"},
		IPs:    []string{"66.249.64.0/19", "203.0.113.10"},
	}

	tests := []struct {
		name       string
		ua         string
		ip         string
		wantBot    bool
		wantReason string
	}{
		{name: "allowed agent", ua: "Mozilla/5.0 (compatible; Googlebot/2.1)", ip: "8.8.8.8", wantReason: ReasonAllowList},
		{name: "allowed cidr", ua: "curl/8.0", ip: "66.249.66.1", wantReason: ReasonAllowList},
		{name: "allowed exact ip", ua: "curl/8.0", ip: "203.0.113.10", wantReason: ReasonAllowList},
		{name: "not allowed", ua: "curl/8.0", ip: "203.0.113.11", wantBot: true, wantReason: ReasonAgentPattern},
		{name: "unparsable ip", ua: "bingbot/2.0", ip: "unknown", wantBot: true, wantReason: ReasonAgentPattern},
		{name: "human not on list", ua: browserAgents[0], ip: "8.8.8.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.ClassifyWithAllowList(tt.ua, tt.ip, allow)
			assert.Equal(t, tt.wantBot, v.IsBot)
			assert.Equal(t, tt.wantReason, v.Reason)
		})
	}
}

func TestNewClassifierWithSignatures(t *testing.T) {
	c := NewClassifierWithSignatures([]string{" MyCrawler ", ""})
	assert.True(t, c.Classify("mycrawler/1.0").IsBot)
	assert.False(t, c.Classify("curl/8.0").IsBot)
}
