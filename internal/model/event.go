package model

// EventScope distinguishes job-level from per-prospect progress events.
type EventScope string

const (
	ScopeJob      EventScope = "job"
	ScopeProspect EventScope = "prospect"
)

// ProgressEvent is an ephemeral, best-effort progress notification. It is
// never persisted; the enrichment record in storage stays authoritative.
type ProgressEvent struct {
	JobID       string     `json:"job_id"`
	Scope       EventScope `json:"scope"`
	Percent     int        `json:"percent"`
	Processed   int        `json:"processed"`
	Failed      int        `json:"failed"`
	Total       int        `json:"total"`
	Message     string     `json:"message,omitempty"`
	CurrentItem string     `json:"current_item,omitempty"`
}
