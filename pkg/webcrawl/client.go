// Package webcrawl wraps the Firecrawl scrape API used to read company
// websites during enrichment.
package webcrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lumenlead/prospector/internal/resilience"
)

const defaultBaseURL = "https://api.firecrawl.dev/v2"

// Client defines the crawl operations used during enrichment.
type Client interface {
	// Scrape fetches a single page and returns its content.
	Scrape(ctx context.Context, req ScrapeRequest) (*PageContent, error)

	// ScrapeSite fetches the site rooted at siteURL, preferring the
	// provider's summary format and falling back to raw markdown.
	ScrapeSite(ctx context.Context, siteURL string) (*PageContent, error)
}

// ScrapeRequest is the body for POST /scrape.
type ScrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats,omitempty"`
}

type scrapeResponse struct {
	Success bool        `json:"success"`
	Data    PageContent `json:"data"`
}

// PageContent is the scraped content of a single page.
type PageContent struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Markdown   string `json:"markdown"`
	Summary    string `json:"summary"`
	StatusCode int    `json:"statusCode"`
}

// Body returns the best available text for prompting: the provider summary
// when present, otherwise the raw markdown.
func (p *PageContent) Body() string {
	if s := strings.TrimSpace(p.Summary); s != "" {
		return s
	}
	return strings.TrimSpace(p.Markdown)
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("webcrawl: HTTP %d: %s", e.StatusCode, e.Body)
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

// NewClient creates a Firecrawl client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		retry:   resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 60 * time.Second,
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

func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*PageContent, error) {
	if req.URL == "" {
		return nil, eris.New("webcrawl: empty URL")
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("webcrawl", "scrape")
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*PageContent, error) {
		return c.scrape(ctx, req)
	})
}

func (c *httpClient) ScrapeSite(ctx context.Context, siteURL string) (*PageContent, error) {
	return c.Scrape(ctx, ScrapeRequest{
		URL:     siteURL,
		Formats: []string{"markdown", "summary"},
	})
}

func (c *httpClient) scrape(ctx context.Context, req ScrapeRequest) (*PageContent, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "webcrawl: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "webcrawl: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "webcrawl: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "webcrawl: read response")
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

	var parsed scrapeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, eris.Wrap(err, "webcrawl: decode response")
	}
	if !parsed.Success {
		return nil, resilience.NewTransientError(eris.Errorf("webcrawl: scrape reported failure for %s", req.URL), 0)
	}

	return &parsed.Data, nil
}
