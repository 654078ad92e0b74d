// Package enrich orchestrates the staged enrichment of prospects: profile
// lookup, company website summary, technology footprint, and the combined
// analysis built on top of them.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lumenlead/prospector/internal/config"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/resilience"
	"github.com/lumenlead/prospector/internal/store"
	"github.com/lumenlead/prospector/pkg/llm"
	"github.com/lumenlead/prospector/pkg/profile"
	"github.com/lumenlead/prospector/pkg/techstack"
	"github.com/lumenlead/prospector/pkg/webcrawl"
)

// StageHook observes per-stage outcomes, used for progress events.
type StageHook func(prospectID string, stage model.Stage, status model.StageStatus)

// Orchestrator runs the enrichment stages for one prospect at a time.
// Each stage is idempotent: a populated record field is proof the stage
// already succeeded, so re-running a prospect never repeats external calls.
type Orchestrator struct {
	cfg       config.EnrichConfig
	store     store.Store
	profiles  profile.Client
	crawler   webcrawl.Client
	detector  techstack.Client
	providers *Providers
	templates *Registry
	limiter   *rate.Limiter
	breakers  map[string]*resilience.CircuitBreaker
	onStage   StageHook
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithStageHook registers a per-stage observer.
func WithStageHook(hook StageHook) Option {
	return func(o *Orchestrator) {
		o.onStage = hook
	}
}

// WithTemplates overrides the default template registry.
func WithTemplates(r *Registry) Option {
	return func(o *Orchestrator) {
		o.templates = r
	}
}

// New creates an Orchestrator with all dependencies.
func New(
	cfg config.EnrichConfig,
	st store.Store,
	profiles profile.Client,
	crawler webcrawl.Client,
	detector techstack.Client,
	providers *Providers,
	opts ...Option,
) *Orchestrator {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		profiles:  profiles,
		crawler:   crawler,
		detector:  detector,
		providers: providers,
		templates: NewRegistry(),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		breakers: map[string]*resilience.CircuitBreaker{
			"profile":   resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
			"webcrawl":  resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
			"techstack": resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
			"llm":       resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EnrichOne runs all stages for a single prospect. Stage failures are
// recorded in the outcome and do not abort later stages; only lock
// contention, a missing prospect, and persistence failures return an error.
func (o *Orchestrator) EnrichOne(ctx context.Context, prospectID string, opts model.EnrichOptions) (*model.EnrichmentOutcome, error) {
	unlock, ok, err := o.store.TryLockProspect(ctx, prospectID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: lock prospect %s", prospectID)
	}
	if !ok {
		return nil, ErrProspectLocked
	}
	defer func() {
		if uErr := unlock(context.WithoutCancel(ctx)); uErr != nil {
			zap.L().Warn("failed to release prospect lock", zap.String("prospect_id", prospectID), zap.Error(uErr))
		}
	}()

	prospect, err := o.store.GetProspect(ctx, prospectID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: load prospect %s", prospectID)
	}

	log := zap.L().With(zap.String("prospect_id", prospectID), zap.String("email", prospect.Email))
	log.Info("starting enrichment")

	o.setProspectStatus(ctx, prospectID, model.ProspectStatusEnriching, "")

	rec, err := o.store.GetEnrichment(ctx, prospectID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: load enrichment record %s", prospectID)
	}

	client, modelID := o.providers.Select(opts)
	outcome := model.NewEnrichmentOutcome(prospectID)

	stages := []struct {
		stage model.Stage
		fn    func(ctx context.Context) (string, error)
	}{
		{model.StageProfile, func(ctx context.Context) (string, error) {
			return o.profileStage(ctx, prospect, client, modelID)
		}},
		{model.StageCompany, func(ctx context.Context) (string, error) {
			return o.companyStage(ctx, prospect, client, modelID)
		}},
		{model.StageTechStack, func(ctx context.Context) (string, error) {
			return o.techStackStage(ctx, prospect, client, modelID)
		}},
		{model.StageAnalysis, func(ctx context.Context) (string, error) {
			return o.analysisStage(ctx, prospect, rec, client, modelID)
		}},
	}

	for _, s := range stages {
		if err := o.runStage(ctx, prospect, rec, s.stage, s.fn, client.Provider(), modelID, outcome, log); err != nil {
			// Persistence failure: report what ran, then surface the error.
			outcome.Finalize()
			o.setProspectStatus(ctx, prospectID, model.ProspectStatusFailed, err.Error())
			return outcome, err
		}
	}

	outcome.Finalize()
	o.finishRecord(ctx, rec, outcome, log)

	if outcome.Success {
		o.setProspectStatus(ctx, prospectID, model.ProspectStatusEnriched, "")
		log.Info("enrichment complete", zap.Any("stages", outcome.Stages))
	} else {
		o.setProspectStatus(ctx, prospectID, model.ProspectStatusFailed, strings.Join(outcome.Errors, "; "))
		log.Warn("enrichment finished with failures",
			zap.Any("stages", outcome.Stages),
			zap.Strings("errors", outcome.Errors),
		)
	}
	return outcome, nil
}

// runStage applies the idempotency check, executes the stage, and persists
// the result. Returns an error only when persisting fails.
func (o *Orchestrator) runStage(
	ctx context.Context,
	prospect *model.Prospect,
	rec *model.EnrichmentRecord,
	stage model.Stage,
	fn func(ctx context.Context) (string, error),
	provider, modelID string,
	outcome *model.EnrichmentOutcome,
	log *zap.Logger,
) error {
	report := func(status model.StageStatus, err error) {
		outcome.RecordStage(stage, status, err)
		if o.onStage != nil {
			o.onStage(prospect.ID, stage, status)
		}
	}

	if rec.HasStage(stage) {
		log.Debug("stage already populated, skipping", zap.String("stage", string(stage)))
		report(model.StageSkipped, nil)
		return nil
	}

	value, err := fn(ctx)
	if err != nil {
		if IsNoUsableInput(err) {
			log.Info("stage skipped, no usable input",
				zap.String("stage", string(stage)), zap.String("reason", err.Error()))
			report(model.StageSkipped, nil)
			return nil
		}
		log.Warn("stage failed", zap.String("stage", string(stage)), zap.Error(err))
		report(model.StageFailed, err)
		return nil
	}

	if err := o.store.SetEnrichmentField(ctx, prospect.ID, stage, value, provider, modelID); err != nil {
		report(model.StageFailed, err)
		return &PersistenceError{Op: string(stage), Err: err}
	}
	setRecordField(rec, stage, value)
	report(model.StageCompleted, nil)
	return nil
}

func (o *Orchestrator) profileStage(ctx context.Context, p *model.Prospect, client llm.Client, modelID string) (string, error) {
	if p.ProfileURL == "" {
		return "", &NoUsableInputError{Reason: "prospect has no profile URL"}
	}

	prof, err := resilience.ExecuteVal(ctx, o.breakers["profile"], func(ctx context.Context) (*profile.Profile, error) {
		return o.profiles.Lookup(ctx, p.ProfileURL)
	})
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return "", &NoUsableInputError{Reason: "profile URL has no record"}
		}
		return "", err
	}

	text := prof.Text()
	if text == "" {
		return "", &NoUsableInputError{Reason: "profile record is empty"}
	}

	return o.complete(ctx, client, modelID, TemplateProfileSummary, map[string]string{"PROFILE": text})
}

func (o *Orchestrator) companyStage(ctx context.Context, p *model.Prospect, client llm.Client, modelID string) (string, error) {
	domain := DeriveCompanyDomain(p.Email)
	if domain == "" {
		return "", &NoUsableInputError{Reason: "email has no company domain"}
	}

	page, err := resilience.ExecuteVal(ctx, o.breakers["webcrawl"], func(ctx context.Context) (*webcrawl.PageContent, error) {
		return o.crawler.ScrapeSite(ctx, "https://"+domain)
	})
	if err != nil {
		return "", err
	}

	body := page.Body()
	if body == "" {
		return "", &NoUsableInputError{Reason: "website returned no content"}
	}

	return o.complete(ctx, client, modelID, TemplateCompanySummary, map[string]string{"WEBSITE": body})
}

func (o *Orchestrator) techStackStage(ctx context.Context, p *model.Prospect, client llm.Client, modelID string) (string, error) {
	domain := DeriveCompanyDomain(p.Email)
	if domain == "" {
		return "", &NoUsableInputError{Reason: "email has no company domain"}
	}

	techs, err := resilience.ExecuteVal(ctx, o.breakers["techstack"], func(ctx context.Context) ([]techstack.Technology, error) {
		return o.detector.Detect(ctx, domain)
	})
	if err != nil {
		return "", err
	}
	if len(techs) == 0 {
		return "", &NoUsableInputError{Reason: "no technologies detected"}
	}

	return o.complete(ctx, client, modelID, TemplateTechStackSummary,
		map[string]string{"TECHNOLOGIES": techstack.Render(techs)})
}

// analysisStage requires at least one populated input summary. With none,
// the stage is terminal for this run: retrying cannot produce inputs.
func (o *Orchestrator) analysisStage(ctx context.Context, p *model.Prospect, rec *model.EnrichmentRecord, client llm.Client, modelID string) (string, error) {
	var sections []string
	if rec.HasStage(model.StageProfile) {
		sections = append(sections, "## Person\n"+*rec.ProfileSummary)
	}
	if rec.HasStage(model.StageCompany) {
		sections = append(sections, "## Company\n"+*rec.CompanySummary)
	}
	if rec.HasStage(model.StageTechStack) {
		sections = append(sections, "## Technology\n"+*rec.TechStackSummary)
	}
	if len(sections) == 0 {
		return "", ErrMissingPrerequisite
	}

	return o.complete(ctx, client, modelID, TemplateCombinedAnalysis, map[string]string{
		"NAME":     p.FullName(),
		"RESEARCH": strings.Join(sections, "\n\n"),
	})
}

// complete renders a template and runs it through the completion backend,
// rate limited and breaker guarded.
func (o *Orchestrator) complete(ctx context.Context, client llm.Client, modelID, templateName string, bindings map[string]string) (string, error) {
	prompt, err := o.templates.Render(templateName, bindings)
	if err != nil {
		return "", err
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "enrich: rate limiter")
	}

	out, err := resilience.ExecuteVal(ctx, o.breakers["llm"], func(ctx context.Context) (*llm.Completion, error) {
		return client.Complete(ctx, llm.CompletionRequest{
			Model:     modelID,
			Prompt:    prompt,
			MaxTokens: 1024,
		})
	})
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// finishRecord writes the record-level status once all stages have run.
func (o *Orchestrator) finishRecord(ctx context.Context, rec *model.EnrichmentRecord, outcome *model.EnrichmentOutcome, log *zap.Logger) {
	populated := 0
	for _, stage := range model.Stages {
		if rec.HasStage(stage) {
			populated++
		}
	}

	var status model.EnrichmentStatus
	switch {
	case populated == len(model.Stages):
		status = model.EnrichmentStatusCompleted
	case populated > 0:
		status = model.EnrichmentStatusPartial
	case !outcome.Success:
		status = model.EnrichmentStatusFailed
	default:
		status = model.EnrichmentStatusPending
	}

	if err := o.store.SetEnrichmentStatus(ctx, rec.ProspectID, status); err != nil {
		log.Warn("failed to update enrichment status", zap.Error(err))
	}
}

func (o *Orchestrator) setProspectStatus(ctx context.Context, id string, status model.ProspectStatus, statusErr string) {
	if err := o.store.UpdateProspectStatus(ctx, id, status, statusErr); err != nil {
		zap.L().Warn("failed to update prospect status",
			zap.String("prospect_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func setRecordField(rec *model.EnrichmentRecord, stage model.Stage, value string) {
	v := value
	switch stage {
	case model.StageProfile:
		rec.ProfileSummary = &v
	case model.StageCompany:
		rec.CompanySummary = &v
	case model.StageTechStack:
		rec.TechStackSummary = &v
	case model.StageAnalysis:
		rec.CombinedAnalysis = &v
	default:
		panic(fmt.Sprintf("unknown stage %q", stage))
	}
}
