// Package model defines the core domain types shared across the pipeline.
package model

import "time"

// ProspectStatus tracks a prospect's position in the enrichment lifecycle.
type ProspectStatus string

const (
	ProspectStatusPending   ProspectStatus = "pending"
	ProspectStatusEnriching ProspectStatus = "enriching"
	ProspectStatusEnriched  ProspectStatus = "enriched"
	ProspectStatusFailed    ProspectStatus = "failed"
)

// Prospect is a contact record to be enriched and eventually contacted.
type Prospect struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	FirstName   string            `json:"first_name"`
	LastName    string            `json:"last_name"`
	Company     string            `json:"company,omitempty"`
	Title       string            `json:"title,omitempty"`
	ProfileURL  string            `json:"profile_url,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Status      ProspectStatus    `json:"status"`
	StatusError string            `json:"status_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// FullName returns the prospect's display name.
func (p Prospect) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}
