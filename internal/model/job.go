package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// JobFamily names a category of asynchronous work with its own queue and
// worker pool.
type JobFamily string

const (
	JobFamilyEnrichProspect    JobFamily = "enrich_prospect"
	JobFamilyEnrichBatch       JobFamily = "enrich_batch"
	JobFamilyGenerateMessage   JobFamily = "generate_message"
	JobFamilyGenerateBatchMsgs JobFamily = "generate_batch_messages"
	JobFamilyImportRecords     JobFamily = "import_records"
	JobFamilyExportRecords     JobFamily = "export_records"
)

// JobFamilies lists every known job family.
var JobFamilies = []JobFamily{
	JobFamilyEnrichProspect,
	JobFamilyEnrichBatch,
	JobFamilyGenerateMessage,
	JobFamilyGenerateBatchMsgs,
	JobFamilyImportRecords,
	JobFamilyExportRecords,
}

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job is a queue-owned envelope around a serialized payload.
type Job struct {
	ID          string          `json:"id"`
	Family      JobFamily       `json:"family"`
	Payload     json.RawMessage `json:"payload"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	NextRunAt   time.Time       `json:"next_run_at"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Payload is a typed job payload. Payloads are validated at enqueue time so
// malformed work never reaches a worker.
type Payload interface {
	Family() JobFamily
	Validate() error
}

// EnrichOptions selects the language-model backend for summarization stages.
type EnrichOptions struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// EnrichProspectPayload requests enrichment of a single prospect.
type EnrichProspectPayload struct {
	ProspectID string        `json:"prospect_id"`
	Options    EnrichOptions `json:"options"`
	UserID     string        `json:"user_id,omitempty"`
}

func (EnrichProspectPayload) Family() JobFamily { return JobFamilyEnrichProspect }

func (p EnrichProspectPayload) Validate() error {
	if p.ProspectID == "" {
		return eris.New("enrich_prospect: prospect_id is required")
	}
	return nil
}

// EnrichBatchPayload requests enrichment of many prospects under a
// concurrency cap.
type EnrichBatchPayload struct {
	ProspectIDs []string      `json:"prospect_ids"`
	Options     EnrichOptions `json:"options"`
	Concurrency int           `json:"concurrency,omitempty"`
	SkipErrors  *bool         `json:"skip_errors,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
}

func (EnrichBatchPayload) Family() JobFamily { return JobFamilyEnrichBatch }

func (p EnrichBatchPayload) Validate() error {
	if len(p.ProspectIDs) == 0 {
		return eris.New("enrich_batch: prospect_ids is required")
	}
	for _, id := range p.ProspectIDs {
		if id == "" {
			return eris.New("enrich_batch: prospect_ids contains an empty id")
		}
	}
	if p.Concurrency < 0 {
		return eris.New("enrich_batch: concurrency must be >= 0")
	}
	return nil
}

// GenerateMessagePayload requests an outbound message for one enriched
// prospect.
type GenerateMessagePayload struct {
	ProspectID string        `json:"prospect_id"`
	Options    EnrichOptions `json:"options"`
	UserID     string        `json:"user_id,omitempty"`
}

func (GenerateMessagePayload) Family() JobFamily { return JobFamilyGenerateMessage }

func (p GenerateMessagePayload) Validate() error {
	if p.ProspectID == "" {
		return eris.New("generate_message: prospect_id is required")
	}
	return nil
}

// GenerateBatchMessagesPayload requests outbound messages for many prospects.
type GenerateBatchMessagesPayload struct {
	ProspectIDs []string      `json:"prospect_ids"`
	Options     EnrichOptions `json:"options"`
	UserID      string        `json:"user_id,omitempty"`
}

func (GenerateBatchMessagesPayload) Family() JobFamily { return JobFamilyGenerateBatchMsgs }

func (p GenerateBatchMessagesPayload) Validate() error {
	if len(p.ProspectIDs) == 0 {
		return eris.New("generate_batch_messages: prospect_ids is required")
	}
	return nil
}

// ImportPayload requests a record import from a local file or ftp:// URL.
type ImportPayload struct {
	Source string `json:"source"`
	Format string `json:"format,omitempty"` // csv | xlsx; inferred from extension when empty
	UserID string `json:"user_id,omitempty"`
}

func (ImportPayload) Family() JobFamily { return JobFamilyImportRecords }

func (p ImportPayload) Validate() error {
	if p.Source == "" {
		return eris.New("import_records: source is required")
	}
	switch p.Format {
	case "", "csv", "xlsx":
	default:
		return eris.Errorf("import_records: unsupported format %q", p.Format)
	}
	return nil
}

// ExportPayload requests an export of enriched prospects.
type ExportPayload struct {
	Destination string `json:"destination"`
	Format      string `json:"format,omitempty"` // csv | xlsx
	Status      string `json:"status,omitempty"` // optional prospect status filter
	UserID      string `json:"user_id,omitempty"`
}

func (ExportPayload) Family() JobFamily { return JobFamilyExportRecords }

func (p ExportPayload) Validate() error {
	if p.Destination == "" {
		return eris.New("export_records: destination is required")
	}
	switch p.Format {
	case "", "csv", "xlsx":
	default:
		return eris.Errorf("export_records: unsupported format %q", p.Format)
	}
	return nil
}

// EncodePayload validates and serializes a payload for enqueue.
func EncodePayload(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrapf(err, "marshal %s payload", p.Family())
	}
	return data, nil
}

// DecodePayload deserializes a job's payload into its family's typed form.
func DecodePayload(family JobFamily, data []byte) (Payload, error) {
	var p Payload
	switch family {
	case JobFamilyEnrichProspect:
		p = &EnrichProspectPayload{}
	case JobFamilyEnrichBatch:
		p = &EnrichBatchPayload{}
	case JobFamilyGenerateMessage:
		p = &GenerateMessagePayload{}
	case JobFamilyGenerateBatchMsgs:
		p = &GenerateBatchMessagesPayload{}
	case JobFamilyImportRecords:
		p = &ImportPayload{}
	case JobFamilyExportRecords:
		p = &ExportPayload{}
	default:
		return nil, eris.Errorf("unknown job family %q", family)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, eris.Wrapf(err, "unmarshal %s payload", family)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
