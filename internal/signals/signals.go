// Package signals turns a raw collector request into the normalized signal
// set consumed by bot classification and cloaking rules.
package signals

type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
)

// UnknownIP is reported when no header or peer address yields a usable client IP.
const UnknownIP = "unknown"

// Set is derived per request and never cached.
type Set struct {
	ClientIP       string      `json:"ip_address"`
	Country        string      `json:"country"`
	CountryCode    string      `json:"country_code,omitempty"`
	City           string      `json:"city"`
	Browser        string      `json:"browser"`
	BrowserVersion string      `json:"browser_version"`
	OS             string      `json:"os"`
	OSVersion      string      `json:"os_version"`
	DeviceClass    DeviceClass `json:"device_type"`
	UserAgent      string      `json:"user_agent"`
	Referrer       string      `json:"referrer"`
	IPReputation   string      `json:"ip_reputation"`
	ConnectionType string      `json:"connection_type"`
}

// Map exposes the set by field name for rule expressions.
func (s Set) Map() map[string]string {
	return map[string]string{
		"ip_address":      s.ClientIP,
		"country":         s.Country,
		"country_code":    s.CountryCode,
		"city":            s.City,
		"browser":         s.Browser,
		"browser_version": s.BrowserVersion,
		"os":              s.OS,
		"os_version":      s.OSVersion,
		"device_type":     string(s.DeviceClass),
		"user_agent":      s.UserAgent,
		"referrer":        s.Referrer,
		"ip_reputation":   s.IPReputation,
		"connection_type": s.ConnectionType,
	}
}
