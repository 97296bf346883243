// Package geo resolves client IPs to a coarse location. Lookups are an
// enrichment: callers unwrap a Result and fall back to Unknown.
package geo

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"pixelgate/internal/constants"
	"pixelgate/pkg/metrics"
)

type Location struct {
	Country string `json:"country"`
	// CountryCode is the ISO 3166-1 alpha-2 code, empty when unknown.
	CountryCode string `json:"country_code,omitempty"`
	City        string `json:"city"`
}

var Unknown = Location{Country: constants.UnknownValue, City: constants.UnknownValue}

type Locator interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Result is the outcome of a lookup that is allowed to fail.
type Result struct {
	Location Location
	Err      error
}

// OrUnknown returns the resolved location, or Unknown when the lookup failed.
// Empty fields are filled with the unknown value.
func (r Result) OrUnknown() Location {
	if r.Err != nil {
		return Unknown
	}
	loc := r.Location
	if loc.Country == "" {
		loc.Country = constants.UnknownValue
	}
	if loc.City == "" {
		loc.City = constants.UnknownValue
	}
	return loc
}

// Resolve skips the locator for addresses that cannot have a public location.
func Resolve(ctx context.Context, locator Locator, ip string) Result {
	if locator == nil || IsPrivateOrLocal(ip) {
		metrics.GeoLookupsTotal.WithLabelValues("skipped").Inc()
		return Result{Location: Unknown}
	}

	start := time.Now()
	loc, err := locator.Lookup(ctx, ip)
	metrics.ObserveGeoLookupDuration(time.Since(start))
	if err != nil {
		metrics.GeoLookupsTotal.WithLabelValues("error").Inc()
		return Result{Location: Unknown, Err: err}
	}

	metrics.GeoLookupsTotal.WithLabelValues("success").Inc()
	return Result{Location: loc}
}

// IsPrivateOrLocal reports unknown, unparsable, loopback, private, link-local
// and unspecified addresses.
func IsPrivateOrLocal(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" || strings.EqualFold(ip, "unknown") || ip == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}
