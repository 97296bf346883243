package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pixelgate/internal/constants"
)

// HTTPLocator queries an ip-api style JSON endpoint. The endpoint is a URL
// template in which "{ip}" is replaced by the escaped address.
type HTTPLocator struct {
	endpoint string
	client   *http.Client
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
}

func NewHTTPLocator(endpoint string, timeout time.Duration) *HTTPLocator {
	return &HTTPLocator{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (l *HTTPLocator) Lookup(ctx context.Context, ip string) (Location, error) {
	target := strings.ReplaceAll(l.endpoint, "{ip}", url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Location{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return Location{}, fmt.Errorf("geo api returned status: %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if body.Status != "" && body.Status != "success" {
		return Location{}, fmt.Errorf("geo lookup unsuccessful: %s %s", body.Status, body.Message)
	}
	if body.Country == "" {
		return Location{}, fmt.Errorf("geo lookup returned no country")
	}

	return Location{Country: body.Country, CountryCode: strings.ToUpper(body.CountryCode), City: body.City}, nil
}
