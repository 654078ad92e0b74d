package model

import "time"

// EnrichmentStatus tracks the state of a prospect's enrichment record.
type EnrichmentStatus string

const (
	EnrichmentStatusPending   EnrichmentStatus = "PENDING"
	EnrichmentStatusPartial   EnrichmentStatus = "PARTIAL"
	EnrichmentStatusCompleted EnrichmentStatus = "COMPLETED"
	EnrichmentStatusFailed    EnrichmentStatus = "FAILED"
)

// EnrichmentRecord holds the per-stage enrichment results for one prospect.
// Each summary field is written at most once; a populated field is proof
// that the corresponding external call already succeeded.
type EnrichmentRecord struct {
	ProspectID       string           `json:"prospect_id"`
	ProfileSummary   *string          `json:"profile_summary,omitempty"`
	CompanySummary   *string          `json:"company_summary,omitempty"`
	TechStackSummary *string          `json:"tech_stack_summary,omitempty"`
	CombinedAnalysis *string          `json:"combined_analysis,omitempty"`
	OutreachMessage  *string          `json:"outreach_message,omitempty"`
	Status           EnrichmentStatus `json:"status"`
	Provider         string           `json:"provider,omitempty"`
	Model            string           `json:"model,omitempty"`
	LastEnrichedAt   *time.Time       `json:"last_enriched_at,omitempty"`
}

// Stage identifies one of the ordered enrichment stages.
type Stage string

const (
	StageProfile   Stage = "profile"
	StageCompany   Stage = "company"
	StageTechStack Stage = "techstack"
	StageAnalysis  Stage = "analysis"
)

// Stages lists the enrichment stages in execution order.
var Stages = []Stage{StageProfile, StageCompany, StageTechStack, StageAnalysis}

// StageStatus is the per-stage outcome of an enrichment run.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageSkipped   StageStatus = "skipped"
	StageFailed    StageStatus = "failed"
)

// SummaryField returns a pointer to the record field that stores the given
// stage's result, or nil for an unknown stage.
func (r *EnrichmentRecord) SummaryField(stage Stage) *string {
	switch stage {
	case StageProfile:
		if r.ProfileSummary == nil {
			return nil
		}
		return r.ProfileSummary
	case StageCompany:
		if r.CompanySummary == nil {
			return nil
		}
		return r.CompanySummary
	case StageTechStack:
		if r.TechStackSummary == nil {
			return nil
		}
		return r.TechStackSummary
	case StageAnalysis:
		if r.CombinedAnalysis == nil {
			return nil
		}
		return r.CombinedAnalysis
	default:
		return nil
	}
}

// HasStage reports whether the given stage's result field is populated.
func (r *EnrichmentRecord) HasStage(stage Stage) bool {
	if r == nil {
		return false
	}
	v := r.SummaryField(stage)
	return v != nil && *v != ""
}

// EnrichmentOutcome summarizes one prospect's trip through the pipeline.
// Partial failures retain whatever data earlier stages persisted.
type EnrichmentOutcome struct {
	ProspectID string                `json:"prospect_id"`
	Success    bool                  `json:"success"`
	Stages     map[Stage]StageStatus `json:"stages"`
	Errors     []string              `json:"errors,omitempty"`
}

// NewEnrichmentOutcome creates an outcome with an empty stage map.
func NewEnrichmentOutcome(prospectID string) *EnrichmentOutcome {
	return &EnrichmentOutcome{
		ProspectID: prospectID,
		Stages:     make(map[Stage]StageStatus, len(Stages)),
	}
}

// RecordStage sets the stage status, appending err to the error list when
// the stage failed.
func (o *EnrichmentOutcome) RecordStage(stage Stage, status StageStatus, err error) {
	o.Stages[stage] = status
	if status == StageFailed && err != nil {
		o.Errors = append(o.Errors, string(stage)+": "+err.Error())
	}
}

// Finalize computes overall success: every attempted stage must have
// completed or been skipped.
func (o *EnrichmentOutcome) Finalize() {
	o.Success = true
	for _, s := range o.Stages {
		if s == StageFailed {
			o.Success = false
			return
		}
	}
}
