package shortener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const maxBodySize = 64 << 10

type Client struct {
	// Scheme is "https" in production; tests point it at plain http.
	Scheme     string
	HTTPClient *http.Client
	log        zerolog.Logger
}

func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		Scheme: "https",
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Shorten wraps longURL behind the shortener at domain. Any failure yields
// ok=false; the reason is only logged.
func (c *Client) Shorten(ctx context.Context, domain, apiKey, longURL string) (string, bool) {
	short, err := c.shorten(ctx, domain, apiKey, longURL)
	if err != nil {
		c.log.Error().Err(err).Str("domain", domain).Msg("Failed to shorten link")
		return "", false
	}
	c.log.Debug().Str("domain", domain).Str("short_url", short).Msg("Link shortened")
	return short, true
}

func (c *Client) shorten(ctx context.Context, domain, apiKey, longURL string) (string, error) {
	if domain == "" || apiKey == "" {
		return "", fmt.Errorf("shortener domain or api key not set")
	}

	endpoint := url.URL{
		Scheme: c.Scheme,
		Host:   domain,
		Path:   "/api",
	}
	query := url.Values{}
	query.Set("api", apiKey)
	query.Set("url", longURL)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var result APIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Status != statusSuccess {
		return "", fmt.Errorf("shortener rejected link: status=%q message=%q", result.Status, result.Message)
	}
	if result.ShortenedURL == "" {
		return "", fmt.Errorf("shortener response has no shortenedUrl")
	}

	return result.ShortenedURL, nil
}
