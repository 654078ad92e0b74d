// Package profile wraps the ProfileLens person-enrichment API.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lumenlead/prospector/internal/resilience"
)

const defaultBaseURL = "https://api.profilelens.io/v2"

// ErrNotFound is returned when the API has no record for the requested
// profile URL. Not retryable.
var ErrNotFound = eris.New("profile: no record for profile URL")

// Client defines the profile lookup operations used during enrichment.
type Client interface {
	Lookup(ctx context.Context, profileURL string) (*Profile, error)
}

// Profile is the professional history returned for a person.
type Profile struct {
	FullName  string     `json:"full_name"`
	Headline  string     `json:"headline"`
	Location  string     `json:"location"`
	Summary   string     `json:"summary"`
	Positions []Position `json:"positions"`
	Skills    []string   `json:"skills"`
}

// Position is a single work history entry.
type Position struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Description string `json:"description"`
}

// Text renders the profile as plain text suitable for a model prompt.
func (p *Profile) Text() string {
	var sb strings.Builder
	if p.FullName != "" {
		fmt.Fprintf(&sb, "Name: %s\n", p.FullName)
	}
	if p.Headline != "" {
		fmt.Fprintf(&sb, "Headline: %s\n", p.Headline)
	}
	if p.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", p.Location)
	}
	if p.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", p.Summary)
	}
	for _, pos := range p.Positions {
		fmt.Fprintf(&sb, "- %s at %s (%s to %s)", pos.Title, pos.Company, orPresent(pos.StartDate), orPresent(pos.EndDate))
		if pos.Description != "" {
			fmt.Fprintf(&sb, ": %s", pos.Description)
		}
		sb.WriteString("\n")
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&sb, "Skills: %s\n", strings.Join(p.Skills, ", "))
	}
	return strings.TrimSpace(sb.String())
}

func orPresent(s string) string {
	if s == "" {
		return "present"
	}
	return s
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("profile: HTTP %d: %s", e.StatusCode, e.Body)
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

// NewClient creates a ProfileLens client.
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

func (c *httpClient) Lookup(ctx context.Context, profileURL string) (*Profile, error) {
	if profileURL == "" {
		return nil, eris.New("profile: empty profile URL")
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("profile", "lookup")
	}
	if cfg.ShouldRetry == nil {
		// A missing record will not appear on a second try.
		cfg.ShouldRetry = func(err error) bool {
			return !errors.Is(err, ErrNotFound) && resilience.IsRetryable(err)
		}
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Profile, error) {
		return c.lookup(ctx, profileURL)
	})
}

func (c *httpClient) lookup(ctx context.Context, profileURL string) (*Profile, error) {
	endpoint := fmt.Sprintf("%s/person?url=%s", c.baseURL, url.QueryEscape(profileURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "profile: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "profile: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "profile: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == 401 || resp.StatusCode == 403:
			return nil, resilience.NewAuthError(apiErr, resp.StatusCode)
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		default:
			return nil, apiErr
		}
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "profile: decode response")
	}
	return &p, nil
}
