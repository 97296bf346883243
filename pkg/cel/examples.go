package cel

// RuleExpressionExamples are served by the management API as matcher hints.
var RuleExpressionExamples = map[string]string{
	"prefix":            `signal.startsWith("Mozilla/5.0 (Linux; Android")`,
	"case_insensitive":  `signal.lowerAscii().contains("headless")`,
	"in_list":           `signal in ["Germany", "Austria", "Switzerland"]`,
	"regex":             `signal.matches("^Mozilla/[0-9.]+ \\(X11;")`,
	"cross_signal":      `signals.country == "Germany" && signals.device_type == "mobile"`,
	"unknown_location":  `signals.country == "Unknown"`,
	"datacenter_mobile": `signals.connection_type == "datacenter" && signals.device_type != "desktop"`,
	"referrer_present":  `signals.referrer != "" && !signals.referrer.contains("google.")`,
}
