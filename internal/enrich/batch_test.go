package enrich

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumenlead/prospector/internal/config"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
	"github.com/lumenlead/prospector/pkg/profile"
)

func TestEnrichMany_FailuresDoNotAbortBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	good1 := h.seed(t, model.Prospect{Email: "a@one.io", ProfileURL: "https://li.example.com/in/a"})
	bad := h.seed(t, model.Prospect{Email: "b@gmail.com"}) // no inputs at all
	good2 := h.seed(t, model.Prospect{Email: "c@three.io", ProfileURL: "https://li.example.com/in/c"})

	h.profiles.On("Lookup", mock.Anything, mock.Anything).
		Return(&profile.Profile{FullName: "Someone", Headline: "Eng"}, nil)
	h.crawler.On("ScrapeSite", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)
	h.detector.On("Detect", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)
	h.expectCompletion("summary")

	var mu sync.Mutex
	var progress []int
	res, err := h.orch.EnrichMany(ctx, []string{good1, bad, good2}, model.EnrichOptions{}, BatchOptions{
		Concurrency: 2,
		OnProgress: func(processed, failed, total int) {
			mu.Lock()
			progress = append(progress, processed)
			mu.Unlock()
			assert.Equal(t, 3, total)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	// The two prospects with profiles fail the company and techstack stages,
	// so every outcome in this batch is a failure; none aborts the run.
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 0, res.Succeeded)
	assert.Len(t, res.Outcomes, 3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, progress, 3)
	assert.Contains(t, progress, 3)

	for _, id := range []string{good1, good2} {
		rec, err := h.store.GetEnrichment(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, rec.ProfileSummary, "persisted stages survive batch failures")
	}
}

func TestEnrichMany_AllSucceed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ids := []string{
		h.seed(t, model.Prospect{Email: "a@one.io", ProfileURL: "https://li.example.com/in/a"}),
		h.seed(t, model.Prospect{Email: "b@two.io", ProfileURL: "https://li.example.com/in/b"}),
	}

	h.profiles.On("Lookup", mock.Anything, mock.Anything).
		Return(&profile.Profile{FullName: "Someone", Headline: "Eng"}, nil)
	h.crawler.On("ScrapeSite", mock.Anything, mock.Anything).
		Return(nil, &NoUsableInputError{Reason: "no site"})
	h.detector.On("Detect", mock.Anything, mock.Anything).
		Return(nil, &NoUsableInputError{Reason: "no detection"})
	h.expectCompletion("summary")

	res, err := h.orch.EnrichMany(ctx, ids, model.EnrichOptions{}, BatchOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
}

func TestEnrichMany_DefaultsDelaysFromConfig(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	cfg := config.EnrichConfig{
		Concurrency:   2,
		ItemDelayMs:   40,
		ChunkDelayMs:  60,
		RatePerSecond: 1000,
	}
	orch := New(cfg, st, &mockProfileClient{}, &mockCrawlClient{}, &mockDetectClient{},
		NewProviders("anthropic", newMockLLM("anthropic", "claude-haiku-4-5-20251001")))

	var ids []string
	for _, email := range []string{"a@gmail.com", "b@gmail.com", "c@gmail.com", "d@gmail.com"} {
		ps := []model.Prospect{{Email: email}}
		_, err := st.CreateProspects(context.Background(), ps)
		require.NoError(t, err)
		ids = append(ids, ps[0].ID)
	}

	// Empty options, exactly as a queued batch job supplies them. Two chunks
	// of two: the second item in each chunk staggers 40ms and the chunk gap
	// is 60ms, so the run cannot finish in a burst.
	start := time.Now()
	res, err := orch.EnrichMany(context.Background(), ids, model.EnrichOptions{}, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"configured item/chunk delays apply when the caller leaves them unset")
}

func TestEnrichMany_LockedProspectGetsFailedOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	free := h.seed(t, model.Prospect{Email: "a@one.io", ProfileURL: "https://li.example.com/in/a"})
	locked := h.seed(t, model.Prospect{Email: "b@two.io", ProfileURL: "https://li.example.com/in/b"})

	unlock, ok, err := h.store.TryLockProspect(ctx, locked)
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = unlock(ctx) })

	h.profiles.On("Lookup", mock.Anything, mock.Anything).
		Return(&profile.Profile{FullName: "Someone", Headline: "Eng"}, nil)
	h.crawler.On("ScrapeSite", mock.Anything, mock.Anything).
		Return(nil, &NoUsableInputError{Reason: "no site"})
	h.detector.On("Detect", mock.Anything, mock.Anything).
		Return(nil, &NoUsableInputError{Reason: "no detection"})
	h.expectCompletion("summary")

	res, err := h.orch.EnrichMany(ctx, []string{free, locked}, model.EnrichOptions{}, BatchOptions{Concurrency: 1})
	require.NoError(t, err)

	// One outcome per prospect, even when enrichment never started.
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	lockedOutcome := res.Outcomes[1]
	assert.Equal(t, locked, lockedOutcome.ProspectID)
	assert.False(t, lockedOutcome.Success)
	require.NotEmpty(t, lockedOutcome.Errors)
	assert.Contains(t, lockedOutcome.Errors[0], "being enriched by another worker")
}

func TestEnrichMany_Empty(t *testing.T) {
	h := newHarness(t)
	res, err := h.orch.EnrichMany(context.Background(), nil, model.EnrichOptions{}, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Outcomes)
}
