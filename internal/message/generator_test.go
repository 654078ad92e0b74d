package message

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumenlead/prospector/internal/config"
	"github.com/lumenlead/prospector/internal/enrich"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
	"github.com/lumenlead/prospector/pkg/llm"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Completion), args.Error(1)
}

func (m *mockLLM) Provider() string     { return "anthropic" }
func (m *mockLLM) DefaultModel() string { return "claude-haiku-4-5-20251001" }

func newTestGenerator(t *testing.T) (*Generator, store.Store, *mockLLM) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	client := &mockLLM{}
	providers := enrich.NewProviders("anthropic", client)
	gen := NewGenerator(config.EnrichConfig{RatePerSecond: 1000}, st, providers)
	return gen, st, client
}

func seedEnriched(t *testing.T, st store.Store, email string) string {
	t.Helper()
	ctx := context.Background()
	ps := []model.Prospect{{Email: email, FirstName: "Ada", LastName: "Quinn", Title: "VP Eng"}}
	_, err := st.CreateProspects(ctx, ps)
	require.NoError(t, err)
	require.NoError(t, st.SetEnrichmentField(ctx, ps[0].ID, model.StageAnalysis,
		"Ada leads engineering at Acme.", "anthropic", "m"))
	return ps[0].ID
}

func TestGenerateOne(t *testing.T) {
	gen, st, client := newTestGenerator(t)
	ctx := context.Background()
	id := seedEnriched(t, st, "ada@acme.io")

	client.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.CompletionRequest) bool {
		return strings.Contains(req.Prompt, "Ada Quinn") &&
			strings.Contains(req.Prompt, "Ada leads engineering at Acme.")
	})).Return(&llm.Completion{Text: "Hi Ada, saw your work at Acme."}, nil)

	msg, err := gen.GenerateOne(ctx, id, model.EnrichOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, saw your work at Acme.", msg)

	rec, err := st.GetEnrichment(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.OutreachMessage)
	assert.Equal(t, "Hi Ada, saw your work at Acme.", *rec.OutreachMessage)
}

func TestGenerateOne_NotEnriched(t *testing.T) {
	gen, st, client := newTestGenerator(t)
	ctx := context.Background()

	ps := []model.Prospect{{Email: "raw@acme.io"}}
	_, err := st.CreateProspects(ctx, ps)
	require.NoError(t, err)

	_, err = gen.GenerateOne(ctx, ps[0].ID, model.EnrichOptions{})
	assert.ErrorIs(t, err, ErrNotEnriched)
	client.AssertNumberOfCalls(t, "Complete", 0)
}

func TestGenerateOne_ProspectMissing(t *testing.T) {
	gen, _, _ := newTestGenerator(t)
	_, err := gen.GenerateOne(context.Background(), "missing", model.EnrichOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerateMany_CollectsFailures(t *testing.T) {
	gen, st, client := newTestGenerator(t)
	ctx := context.Background()

	enriched := seedEnriched(t, st, "a@one.io")
	bare := func() string {
		ps := []model.Prospect{{Email: "b@two.io"}}
		_, err := st.CreateProspects(ctx, ps)
		require.NoError(t, err)
		return ps[0].ID
	}()

	client.On("Complete", mock.Anything, mock.Anything).
		Return(&llm.Completion{Text: "hello"}, nil)

	var progressCalls atomic.Int64
	res, err := gen.GenerateMany(ctx, []string{enriched, bare}, model.EnrichOptions{}, BatchOptions{
		Concurrency: 2,
		OnProgress:  func(processed, failed, total int) { progressCalls.Add(1) },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors[bare], "no combined analysis")
	assert.Equal(t, int64(2), progressCalls.Load())
}

func TestGenerateMany_Empty(t *testing.T) {
	gen, _, _ := newTestGenerator(t)
	res, err := gen.GenerateMany(context.Background(), nil, model.EnrichOptions{}, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
}

func TestGenerateMany_DefaultsDelaysFromConfig(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	client := &mockLLM{}
	client.On("Complete", mock.Anything, mock.Anything).
		Return(&llm.Completion{Text: "hello"}, nil)

	gen := NewGenerator(config.EnrichConfig{
		Concurrency:   2,
		ItemDelayMs:   40,
		ChunkDelayMs:  60,
		RatePerSecond: 1000,
	}, st, enrich.NewProviders("anthropic", client))

	ids := []string{
		seedEnriched(t, st, "a@one.io"),
		seedEnriched(t, st, "b@two.io"),
		seedEnriched(t, st, "c@three.io"),
		seedEnriched(t, st, "d@four.io"),
	}

	// Empty options, as the worker path supplies them. Two chunks of two:
	// the second item in each chunk staggers 40ms and the chunk gap is 60ms.
	start := time.Now()
	res, err := gen.GenerateMany(context.Background(), ids, model.EnrichOptions{}, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"configured item/chunk delays apply when the caller leaves them unset")
}
