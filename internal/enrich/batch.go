package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lumenlead/prospector/internal/model"
)

// BatchOptions controls chunked concurrent enrichment.
type BatchOptions struct {
	// Concurrency is the chunk size and the number of prospects enriched in
	// parallel. Zero uses the configured default.
	Concurrency int
	// ItemDelay staggers the start of the i-th prospect in a chunk by
	// ItemDelay*i, spreading load on the upstream APIs.
	ItemDelay time.Duration
	// ChunkDelay is the pause between chunks.
	ChunkDelay time.Duration
	// OnProgress, if set, receives the running completion count after each
	// prospect finishes (success or failure).
	OnProgress func(processed, failed, total int)
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Outcomes  []*model.EnrichmentOutcome
}

// EnrichMany enriches prospects in chunks. A failed prospect is counted and
// logged, never aborts the batch, and keeps whatever stages it persisted.
func (o *Orchestrator) EnrichMany(ctx context.Context, prospectIDs []string, opts model.EnrichOptions, batch BatchOptions) (*BatchResult, error) {
	result := &BatchResult{Total: len(prospectIDs)}
	if len(prospectIDs) == 0 {
		return result, nil
	}

	concurrency := batch.Concurrency
	if concurrency <= 0 {
		concurrency = o.cfg.Concurrency
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	itemDelay := batch.ItemDelay
	if itemDelay <= 0 {
		itemDelay = o.cfg.ItemDelay()
	}
	chunkDelay := batch.ChunkDelay
	if chunkDelay <= 0 {
		chunkDelay = o.cfg.ChunkDelay()
	}

	zap.L().Info("starting batch enrichment",
		zap.Int("prospects", len(prospectIDs)),
		zap.Int("concurrency", concurrency),
	)

	var processed, failed atomic.Int64
	outcomes := make([]*model.EnrichmentOutcome, len(prospectIDs))

	for start := 0; start < len(prospectIDs); start += concurrency {
		end := min(start+concurrency, len(prospectIDs))
		chunk := prospectIDs[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for i, id := range chunk {
			idx := start + i
			stagger := time.Duration(i) * itemDelay
			g.Go(func() error {
				if stagger > 0 {
					select {
					case <-time.After(stagger):
					case <-gctx.Done():
						return gctx.Err()
					}
				}

				outcome, err := o.EnrichOne(gctx, id, opts)
				if outcome == nil {
					// Lock contention and missing prospects return no
					// outcome; the batch still reports one per prospect.
					outcome = model.NewEnrichmentOutcome(id)
					if err != nil {
						outcome.Errors = append(outcome.Errors, err.Error())
					}
				}
				outcomes[idx] = outcome
				done := processed.Add(1)

				if err != nil || !outcome.Success {
					nFailed := failed.Add(1)
					zap.L().Warn("prospect enrichment failed in batch",
						zap.String("prospect_id", id),
						zap.Error(err),
					)
					if batch.OnProgress != nil {
						batch.OnProgress(int(done), int(nFailed), len(prospectIDs))
					}
					return nil // don't abort batch on individual failure
				}

				if batch.OnProgress != nil {
					batch.OnProgress(int(done), int(failed.Load()), len(prospectIDs))
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}

		if end < len(prospectIDs) && chunkDelay > 0 {
			select {
			case <-time.After(chunkDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	result.Succeeded = int(processed.Load() - failed.Load())
	result.Failed = int(failed.Load())
	result.Outcomes = outcomes

	zap.L().Info("batch enrichment complete",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}
