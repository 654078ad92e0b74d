// Package message generates outbound outreach messages for enriched
// prospects from their combined analysis.
package message

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lumenlead/prospector/internal/config"
	"github.com/lumenlead/prospector/internal/enrich"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
	"github.com/lumenlead/prospector/pkg/llm"
)

// ErrNotEnriched rejects message generation for a prospect whose analysis
// stage has not completed. The message prompt is built from the combined
// analysis, so there is nothing to write from until enrichment runs.
var ErrNotEnriched = eris.New("message: prospect has no combined analysis")

// Generator writes outreach messages using the completion backend.
type Generator struct {
	cfg       config.EnrichConfig
	store     store.Store
	providers *enrich.Providers
	templates *enrich.Registry
	limiter   *rate.Limiter
}

// Option configures the Generator.
type Option func(*Generator)

// WithTemplates overrides the default template registry.
func WithTemplates(r *enrich.Registry) Option {
	return func(g *Generator) {
		g.templates = r
	}
}

// NewGenerator creates a Generator sharing the enrichment provider registry.
func NewGenerator(cfg config.EnrichConfig, st store.Store, providers *enrich.Providers, opts ...Option) *Generator {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	g := &Generator{
		cfg:       cfg,
		store:     st,
		providers: providers,
		templates: enrich.NewRegistry(),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateOne writes a message for a single prospect and persists it on the
// enrichment record. Returns the message text.
func (g *Generator) GenerateOne(ctx context.Context, prospectID string, opts model.EnrichOptions) (string, error) {
	prospect, err := g.store.GetProspect(ctx, prospectID)
	if err != nil {
		return "", eris.Wrapf(err, "message: load prospect %s", prospectID)
	}

	rec, err := g.store.GetEnrichment(ctx, prospectID)
	if err != nil {
		return "", eris.Wrapf(err, "message: load enrichment record %s", prospectID)
	}
	if !rec.HasStage(model.StageAnalysis) {
		return "", ErrNotEnriched
	}

	client, modelID := g.providers.Select(opts)
	prompt, err := g.templates.Render(enrich.TemplateOutreachMessage, map[string]string{
		"NAME":     prospect.FullName(),
		"TITLE":    prospect.Title,
		"ANALYSIS": *rec.CombinedAnalysis,
	})
	if err != nil {
		return "", err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "message: rate limiter")
	}

	out, err := client.Complete(ctx, llm.CompletionRequest{
		Model:     modelID,
		Prompt:    prompt,
		MaxTokens: 512,
	})
	if err != nil {
		return "", eris.Wrapf(err, "message: completion for %s", prospectID)
	}

	if err := g.store.SetOutreachMessage(ctx, prospectID, out.Text, client.Provider(), modelID); err != nil {
		return "", eris.Wrapf(err, "message: persist for %s", prospectID)
	}

	zap.L().Info("outreach message generated",
		zap.String("prospect_id", prospectID),
		zap.String("model", modelID),
	)
	return out.Text, nil
}

// BatchOptions controls chunked concurrent generation.
type BatchOptions struct {
	Concurrency int
	ItemDelay   time.Duration
	ChunkDelay  time.Duration
	OnProgress  func(processed, failed, total int)
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    map[string]string // prospect id -> error
}

// GenerateMany generates messages for many prospects in chunks. Individual
// failures are collected, never abort the batch.
func (g *Generator) GenerateMany(ctx context.Context, prospectIDs []string, opts model.EnrichOptions, batch BatchOptions) (*BatchResult, error) {
	result := &BatchResult{Total: len(prospectIDs), Errors: make(map[string]string)}
	if len(prospectIDs) == 0 {
		return result, nil
	}

	concurrency := batch.Concurrency
	if concurrency <= 0 {
		concurrency = g.cfg.Concurrency
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	itemDelay := batch.ItemDelay
	if itemDelay <= 0 {
		itemDelay = g.cfg.ItemDelay()
	}
	chunkDelay := batch.ChunkDelay
	if chunkDelay <= 0 {
		chunkDelay = g.cfg.ChunkDelay()
	}

	var processed, failed atomic.Int64

	for start := 0; start < len(prospectIDs); start += concurrency {
		end := min(start+concurrency, len(prospectIDs))
		chunk := prospectIDs[start:end]

		eg, gctx := errgroup.WithContext(ctx)
		errs := make([]error, len(chunk))
		for i, id := range chunk {
			stagger := time.Duration(i) * itemDelay
			eg.Go(func() error {
				if stagger > 0 {
					select {
					case <-time.After(stagger):
					case <-gctx.Done():
						return gctx.Err()
					}
				}

				_, err := g.GenerateOne(gctx, id, opts)
				errs[i] = err
				done := processed.Add(1)
				nFailed := failed.Load()
				if err != nil {
					nFailed = failed.Add(1)
					zap.L().Warn("message generation failed in batch",
						zap.String("prospect_id", id), zap.Error(err))
				}
				if batch.OnProgress != nil {
					batch.OnProgress(int(done), int(nFailed), len(prospectIDs))
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return result, err
		}
		for i, err := range errs {
			if err != nil {
				result.Errors[chunk[i]] = err.Error()
			}
		}

		if end < len(prospectIDs) && chunkDelay > 0 {
			select {
			case <-time.After(chunkDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	result.Failed = int(failed.Load())
	result.Succeeded = result.Total - result.Failed
	return result, nil
}
