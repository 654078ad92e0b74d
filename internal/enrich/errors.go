package enrich

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrMissingPrerequisite aborts the analysis stage when no earlier stage
// produced any data to analyze. Retrying cannot help until an input stage
// succeeds, so the stage is terminal for this run.
var ErrMissingPrerequisite = eris.New("enrich: no input summaries available for analysis")

// ErrProspectLocked signals that another worker currently holds the
// per-prospect lock. The job should be retried later.
var ErrProspectLocked = eris.New("enrich: prospect is being enriched by another worker")

// NoUsableInputError marks a stage that cannot run because the prospect
// lacks the input it needs (no profile URL, generic email domain, nothing
// detected). The stage is skipped, never failed.
type NoUsableInputError struct {
	Reason string
}

func (e *NoUsableInputError) Error() string {
	return "enrich: no usable input: " + e.Reason
}

// IsNoUsableInput reports whether err marks a soft input skip.
func IsNoUsableInput(err error) bool {
	var e *NoUsableInputError
	return errors.As(err, &e)
}

// PersistenceError wraps a failed write of enrichment data. An external
// result we cannot store must not be treated as progress, so a persistence
// failure ends the whole run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("enrich: persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var e *PersistenceError
	return errors.As(err, &e)
}
