// Package techstack wraps the BuiltWith domain technology lookup API.
package techstack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lumenlead/prospector/internal/resilience"
)

const defaultBaseURL = "https://api.builtwith.com/v21"

// Client defines the technology detection operations used during enrichment.
type Client interface {
	Detect(ctx context.Context, domain string) ([]Technology, error)
}

// Technology is a single detected technology on a domain.
type Technology struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

type detectResponse struct {
	Domain       string       `json:"domain"`
	Technologies []Technology `json:"technologies"`
}

// Render formats detected technologies grouped by category for prompting.
func Render(techs []Technology) string {
	byCategory := map[string][]string{}
	var order []string
	for _, t := range techs {
		cat := t.Category
		if cat == "" {
			cat = "Other"
		}
		if _, seen := byCategory[cat]; !seen {
			order = append(order, cat)
		}
		byCategory[cat] = append(byCategory[cat], t.Name)
	}

	var sb strings.Builder
	for _, cat := range order {
		fmt.Fprintf(&sb, "%s: %s\n", cat, strings.Join(byCategory[cat], ", "))
	}
	return strings.TrimSpace(sb.String())
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("techstack: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a BuiltWith client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		retry:   resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Detect(ctx context.Context, domain string) ([]Technology, error) {
	if domain == "" {
		return nil, eris.New("techstack: empty domain")
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("techstack", "detect")
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]Technology, error) {
		return c.detect(ctx, domain)
	})
}

func (c *httpClient) detect(ctx context.Context, domain string) ([]Technology, error) {
	endpoint := fmt.Sprintf("%s/lookup?domain=%s", c.baseURL, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "techstack: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "techstack: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "techstack: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		switch {
		case resp.StatusCode == 401 || resp.StatusCode == 403:
			return nil, resilience.NewAuthError(apiErr, resp.StatusCode)
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		default:
			return nil, apiErr
		}
	}

	var parsed detectResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, eris.Wrap(err, "techstack: decode response")
	}
	return parsed.Technologies, nil
}
