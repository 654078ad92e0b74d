package worker

import (
	"context"
	"errors"
	"math"

	"github.com/rotisserie/eris"

	"github.com/lumenlead/prospector/internal/enrich"
	"github.com/lumenlead/prospector/internal/exporter"
	"github.com/lumenlead/prospector/internal/importer"
	"github.com/lumenlead/prospector/internal/message"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/queue"
	"github.com/lumenlead/prospector/internal/store"
)

// Deps carries the services processors dispatch into.
type Deps struct {
	Orchestrator *enrich.Orchestrator
	Generator    *message.Generator
	Importer     *importer.Importer
	Exporter     *exporter.Exporter
}

// ProcessorFor returns the processor for a job family.
func (d Deps) ProcessorFor(family model.JobFamily) (Processor, error) {
	switch family {
	case model.JobFamilyEnrichProspect:
		return d.enrichProspect, nil
	case model.JobFamilyEnrichBatch:
		return d.enrichBatch, nil
	case model.JobFamilyGenerateMessage:
		return d.generateMessage, nil
	case model.JobFamilyGenerateBatchMsgs:
		return d.generateBatchMessages, nil
	case model.JobFamilyImportRecords:
		return d.importRecords, nil
	case model.JobFamilyExportRecords:
		return d.exportRecords, nil
	default:
		return nil, eris.Errorf("worker: no processor for family %q", family)
	}
}

func decode[T model.Payload](job *model.Job) (T, error) {
	var zero T
	p, err := model.DecodePayload(job.Family, job.Payload)
	if err != nil {
		// A payload that fails to decode will never succeed.
		return zero, queue.Terminal(err)
	}
	typed, ok := p.(T)
	if !ok {
		return zero, queue.Terminal(eris.Errorf("worker: unexpected payload type for %s", job.Family))
	}
	return typed, nil
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

func (d Deps) enrichProspect(ctx context.Context, job *model.Job, report ProgressReporter) error {
	payload, err := decode[*model.EnrichProspectPayload](job)
	if err != nil {
		return err
	}

	outcome, err := d.Orchestrator.EnrichOne(ctx, payload.ProspectID, payload.Options)
	if err != nil {
		if enrich.IsPersistence(err) || errors.Is(err, store.ErrNotFound) {
			return queue.Terminal(err)
		}
		return err
	}
	if !outcome.Success {
		// Stage failures already persisted what they could; re-running skips
		// completed stages, so let the queue retry.
		return eris.Errorf("enrichment incomplete for %s: %v", payload.ProspectID, outcome.Errors)
	}

	report(model.ProgressEvent{
		JobID:       job.ID,
		Scope:       model.ScopeProspect,
		Percent:     100,
		Processed:   1,
		Total:       1,
		CurrentItem: payload.ProspectID,
	})
	return nil
}

func (d Deps) enrichBatch(ctx context.Context, job *model.Job, report ProgressReporter) error {
	payload, err := decode[*model.EnrichBatchPayload](job)
	if err != nil {
		return err
	}

	result, err := d.Orchestrator.EnrichMany(ctx, payload.ProspectIDs, payload.Options, enrich.BatchOptions{
		Concurrency: payload.Concurrency,
		OnProgress: func(processed, failed, total int) {
			report(model.ProgressEvent{
				JobID:     job.ID,
				Scope:     model.ScopeJob,
				Percent:   percent(processed, total),
				Processed: processed,
				Failed:    failed,
				Total:     total,
			})
		},
	})
	if err != nil {
		return err
	}

	skipErrors := payload.SkipErrors == nil || *payload.SkipErrors
	if !skipErrors && result.Failed > 0 {
		return eris.Errorf("batch had %d failures of %d", result.Failed, result.Total)
	}
	return nil
}

func (d Deps) generateMessage(ctx context.Context, job *model.Job, report ProgressReporter) error {
	payload, err := decode[*model.GenerateMessagePayload](job)
	if err != nil {
		return err
	}

	if _, err := d.Generator.GenerateOne(ctx, payload.ProspectID, payload.Options); err != nil {
		if errors.Is(err, message.ErrNotEnriched) || errors.Is(err, store.ErrNotFound) {
			return queue.Terminal(err)
		}
		return err
	}

	report(model.ProgressEvent{
		JobID:       job.ID,
		Scope:       model.ScopeProspect,
		Percent:     100,
		Processed:   1,
		Total:       1,
		CurrentItem: payload.ProspectID,
	})
	return nil
}

func (d Deps) generateBatchMessages(ctx context.Context, job *model.Job, report ProgressReporter) error {
	payload, err := decode[*model.GenerateBatchMessagesPayload](job)
	if err != nil {
		return err
	}

	_, err = d.Generator.GenerateMany(ctx, payload.ProspectIDs, payload.Options, message.BatchOptions{
		OnProgress: func(processed, failed, total int) {
			report(model.ProgressEvent{
				JobID:     job.ID,
				Scope:     model.ScopeJob,
				Percent:   percent(processed, total),
				Processed: processed,
				Failed:    failed,
				Total:     total,
			})
		},
	})
	return err
}

func (d Deps) importRecords(ctx context.Context, job *model.Job, report ProgressReporter) error {
	payload, err := decode[*model.ImportPayload](job)
	if err != nil {
		return err
	}

	result, err := d.Importer.Import(ctx, payload.Source, payload.Format, func(rows int) {
		report(model.ProgressEvent{
			JobID:     job.ID,
			Scope:     model.ScopeJob,
			Processed: rows,
			Message:   "importing records",
		})
	})
	if err != nil {
		return err
	}

	report(model.ProgressEvent{
		JobID:     job.ID,
		Scope:     model.ScopeJob,
		Percent:   100,
		Processed: result.Imported,
		Failed:    result.Skipped,
		Total:     result.Rows,
		Message:   "import complete",
	})
	return nil
}

func (d Deps) exportRecords(ctx context.Context, job *model.Job, report ProgressReporter) error {
	payload, err := decode[*model.ExportPayload](job)
	if err != nil {
		return err
	}

	written, err := d.Exporter.Export(ctx, payload.Destination, payload.Format,
		model.ProspectStatus(payload.Status), func(rows int) {
			report(model.ProgressEvent{
				JobID:     job.ID,
				Scope:     model.ScopeJob,
				Processed: rows,
				Message:   "exporting records",
			})
		})
	if err != nil {
		return err
	}

	report(model.ProgressEvent{
		JobID:     job.ID,
		Scope:     model.ScopeJob,
		Percent:   100,
		Processed: written,
		Total:     written,
		Message:   "export complete",
	})
	return nil
}
