package techstack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlead/prospector/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.01,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, attempts int) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-api-key",
		WithBaseURL(srv.URL),
		WithRetry(fastRetry(attempts)),
	)
}

func TestDetect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/lookup", r.URL.Path)
		assert.Equal(t, "acme.io", r.URL.Query().Get("domain"))
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(detectResponse{
			Domain: "acme.io",
			Technologies: []Technology{
				{Name: "PostgreSQL", Category: "Databases"},
				{Name: "Stripe", Category: "Payments"},
			},
		})
	}, 3)

	techs, err := c.Detect(context.Background(), "acme.io")
	require.NoError(t, err)
	require.Len(t, techs, 2)
	assert.Equal(t, "PostgreSQL", techs[0].Name)
}

func TestDetect_EmptyDomain(t *testing.T) {
	c := NewClient("k")
	_, err := c.Detect(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty domain")
}

func TestDetect_AuthFailsFast(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}, 3)

	_, err := c.Detect(context.Background(), "acme.io")
	require.Error(t, err)
	assert.True(t, resilience.IsAuth(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDetect_ServiceUnavailableRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(detectResponse{Technologies: []Technology{{Name: "React", Category: "JS Frameworks"}}})
	}, 3)

	techs, err := c.Detect(context.Background(), "acme.io")
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRender(t *testing.T) {
	out := Render([]Technology{
		{Name: "PostgreSQL", Category: "Databases"},
		{Name: "Redis", Category: "Databases"},
		{Name: "Stripe", Category: "Payments"},
		{Name: "Mystery"},
	})
	assert.Equal(t, "Databases: PostgreSQL, Redis\nPayments: Stripe\nOther: Mystery", out)
}
