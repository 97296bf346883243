package signals

import (
	"context"
	"net/http"
	"strings"

	"pixelgate/internal/config"
	"pixelgate/internal/geo"
	"pixelgate/internal/logger"
)

// Request carries the raw inputs of one collector call. Body-supplied agent
// and referrer values take precedence over the request headers.
type Request struct {
	Header         http.Header
	RemoteAddr     string
	UserAgent      string
	Referrer       string
	IPReputation   string
	ConnectionType string
}

type Normalizer struct {
	ipHeaders       []string
	trustRemoteAddr bool
	locator         geo.Locator
	logger          logger.Logger
}

// NewNormalizer accepts a nil locator; locations then resolve to Unknown.
func NewNormalizer(cfg config.CollectorConfig, locator geo.Locator, log logger.Logger) *Normalizer {
	headers := cfg.IPHeaders
	if len(headers) == 0 {
		headers = config.DefaultIPHeaders
	}
	return &Normalizer{
		ipHeaders:       headers,
		trustRemoteAddr: cfg.TrustRemoteAddr,
		locator:         locator,
		logger:          log,
	}
}

// Normalize never fails. Geolocation errors degrade to Unknown.
func (n *Normalizer) Normalize(ctx context.Context, req Request) Set {
	header := req.Header
	if header == nil {
		header = http.Header{}
	}

	ip := ExtractClientIP(header, n.ipHeaders)
	if ip == UnknownIP && n.trustRemoteAddr {
		ip = PeerIP(req.RemoteAddr)
	}

	ua := firstNonEmpty(req.UserAgent, header.Get("User-Agent"))
	agent := ParseUserAgent(ua)

	result := geo.Resolve(ctx, n.locator, ip)
	if result.Err != nil {
		n.logger.DebugwCtx(ctx, "Geolocation failed, using unknown location",
			"ip_address", ip,
			"error", result.Err,
		)
	}
	location := result.OrUnknown()

	return Set{
		ClientIP:       ip,
		Country:        location.Country,
		CountryCode:    location.CountryCode,
		City:           location.City,
		Browser:        agent.Browser,
		BrowserVersion: agent.BrowserVersion,
		OS:             agent.OS,
		OSVersion:      agent.OSVersion,
		DeviceClass:    agent.DeviceClass,
		UserAgent:      ua,
		Referrer:       firstNonEmpty(req.Referrer, header.Get("Referer")),
		IPReputation:   req.IPReputation,
		// ECT is the effective connection type client hint (slow-2g, 2g, 3g, 4g).
		ConnectionType: firstNonEmpty(req.ConnectionType, header.Get("ECT")),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
