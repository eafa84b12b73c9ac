// Package apperr defines the error taxonomy shared by the ingestion pipeline and its callers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRepositoryURL means the URL did not resolve to an (owner, repository) pair.
	ErrInvalidRepositoryURL = errors.New("invalid repository url")
	// ErrRepositoryNotFound means the repository does not exist or the token cannot read it.
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrUpstreamUnavailable covers transport failures of the repository host or the AI backend.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInsufficientCredits is returned by the admission gate and by the credit ledger.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrStorageConflict marks rows skipped by a unique constraint. Callers treat it as "already processed".
	ErrStorageConflict = errors.New("storage conflict")
	// ErrProjectNotFound is returned when a project does not exist, was archived, or is not visible to the caller.
	ErrProjectNotFound = errors.New("project not found")
)

// ItemFailure records why a single file or commit could not be processed.
type ItemFailure struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// PartialFailure is the aggregate of per-item failures of a run that otherwise completed.
type PartialFailure struct {
	Operation string
	Failures  []ItemFailure
}

func (e *PartialFailure) Error() string {
	items := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		items = append(items, f.Item)
	}
	if len(items) > 5 {
		items = append(items[:5], "...")
	}
	return fmt.Sprintf("%s: %d item(s) failed [%s]", e.Operation, len(e.Failures), strings.Join(items, ", "))
}
