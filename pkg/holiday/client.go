// Package holiday wraps the Nager.Date public-holiday API.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL points at the public Nager.Date v3 API.
const DefaultBaseURL = "https://date.nager.at/api/v3"

// Holiday is a single public holiday as returned by the feed.
type Holiday struct {
	Date      string `json:"date"`
	LocalName string `json:"localName"`
	Name      string `json:"name"`
}

// Client fetches public holidays for a country and year.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client with a bounded request timeout. A zero timeout
// falls back to 8 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// PublicHolidays returns the holidays for the given year and country code.
// Any non-2xx response or transport failure is returned as an error; the
// caller decides how to degrade.
func (c *Client) PublicHolidays(ctx context.Context, year int, countryCode string) ([]Holiday, error) {
	url := fmt.Sprintf("%s/PublicHolidays/%d/%s", c.baseURL, year, strings.ToUpper(countryCode))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build holidays request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch holidays %d/%s: %w", year, countryCode, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch holidays %d/%s: unexpected status %d", year, countryCode, resp.StatusCode)
	}

	var holidays []Holiday
	if err := json.NewDecoder(resp.Body).Decode(&holidays); err != nil {
		return nil, fmt.Errorf("decode holidays %d/%s: %w", year, countryCode, err)
	}
	return holidays, nil
}
