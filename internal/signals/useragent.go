package signals

import (
	"strings"

	"pixelgate/internal/constants"
)

type Agent struct {
	Browser        string      `json:"browser"`
	BrowserVersion string      `json:"browser_version"`
	OS             string      `json:"os"`
	OSVersion      string      `json:"os_version"`
	DeviceClass    DeviceClass `json:"device_type"`
}

type browserRule struct {
	name          string
	tokens        []string
	versionTokens []string
}

// Order matters: Edge and Opera carry "Chrome/", and Chrome carries "Safari/".
var browserRules = []browserRule{
	{name: "Edge", tokens: []string{"Edg/", "Edge/", "EdgA/", "EdgiOS/"}},
	{name: "Opera", tokens: []string{"OPR/", "Opera"}, versionTokens: []string{"OPR/", "Version/", "Opera/"}},
	{name: "Samsung Internet", tokens: []string{"SamsungBrowser/"}},
	{name: "Chrome", tokens: []string{"Chrome/", "CriOS/"}},
	{name: "Firefox", tokens: []string{"Firefox/", "FxiOS/"}},
	{name: "Safari", tokens: []string{"Safari/"}, versionTokens: []string{"Version/"}},
	{name: "Internet Explorer", tokens: []string{"MSIE ", "Trident/"}, versionTokens: []string{"MSIE ", "rv:"}},
}

// Newest NT kernel first.
var windowsVersions = []struct {
	token   string
	version string
}{
	{"Windows NT 10.0", "10"},
	{"Windows NT 6.3", "8.1"},
	{"Windows NT 6.2", "8"},
	{"Windows NT 6.1", "7"},
	{"Windows NT 6.0", "Vista"},
	{"Windows NT 5.1", "XP"},
}

var (
	tabletTokens = []string{"iPad", "Tablet", "Kindle", "Silk/", "PlayBook"}
	mobileTokens = []string{"Mobi", "iPhone", "iPod", "Android", "BlackBerry", "IEMobile", "Opera Mini", "Windows Phone"}
)

// ParseUserAgent derives browser, OS and device class from a raw agent string.
func ParseUserAgent(ua string) Agent {
	agent := Agent{
		Browser:     constants.UnknownValue,
		OS:          constants.UnknownValue,
		DeviceClass: DeviceDesktop,
	}
	if strings.TrimSpace(ua) == "" {
		return agent
	}

	agent.Browser, agent.BrowserVersion = parseBrowser(ua)
	agent.OS, agent.OSVersion = parseOS(ua)
	agent.DeviceClass = parseDevice(ua)
	return agent
}

func parseBrowser(ua string) (string, string) {
	for _, rule := range browserRules {
		if !containsAny(ua, rule.tokens) {
			continue
		}
		versionTokens := rule.versionTokens
		if versionTokens == nil {
			versionTokens = rule.tokens
		}
		for _, token := range versionTokens {
			if v := versionAfter(ua, token); v != "" {
				return rule.name, v
			}
		}
		return rule.name, ""
	}
	return constants.UnknownValue, ""
}

func parseOS(ua string) (string, string) {
	switch {
	case strings.Contains(ua, "Windows"):
		for _, w := range windowsVersions {
			if strings.Contains(ua, w.token) {
				return "Windows", w.version
			}
		}
		return "Windows", ""
	case containsAny(ua, []string{"iPhone", "iPad", "iPod"}):
		return "iOS", dotted(versionAfter(ua, "OS "))
	case strings.Contains(ua, "Android"):
		return "Android", versionAfter(ua, "Android ")
	case strings.Contains(ua, "CrOS"):
		return "Chrome OS", ""
	case strings.Contains(ua, "Mac OS X"):
		return "macOS", dotted(versionAfter(ua, "Mac OS X "))
	case strings.Contains(ua, "Linux"):
		return "Linux", ""
	}
	return constants.UnknownValue, ""
}

// parseDevice lets tablet win over mobile: tablet agents usually match both.
func parseDevice(ua string) DeviceClass {
	if containsAny(ua, tabletTokens) || (strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile")) {
		return DeviceTablet
	}
	if containsAny(ua, mobileTokens) {
		return DeviceMobile
	}
	return DeviceDesktop
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// versionAfter returns the token's trailing version, cut at a space, ';' or ')'.
func versionAfter(ua, token string) string {
	idx := strings.Index(ua, token)
	if idx < 0 {
		return ""
	}
	rest := ua[idx+len(token):]
	if end := strings.IndexAny(rest, " ;)"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func dotted(v string) string {
	return strings.ReplaceAll(v, "_", ".")
}
