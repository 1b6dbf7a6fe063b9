package migrate

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
)

// UnresolvedReason explains why a revision was migrated without a parent.
type UnresolvedReason string

const (
	// ReasonNotInSource means no record in the source has the parent id.
	ReasonNotInSource UnresolvedReason = "parent-not-in-source"
	// ReasonParentDuplicate means the parent was skipped as a duplicate.
	ReasonParentDuplicate UnresolvedReason = "parent-duplicate"
	// ReasonParentFailed means the parent failed to transform or insert.
	ReasonParentFailed UnresolvedReason = "parent-failed"
	// ReasonRevisionCycle means the parent is part of a revision cycle in
	// the source and could not be ordered before the record.
	ReasonRevisionCycle UnresolvedReason = "revision-cycle"
)

// Unresolved records a revision whose legacy parent could not be mapped
// to a destination id. The record itself was still migrated.
type Unresolved struct {
	LegacyID     string
	LegacyParent string
	Reason       UnresolvedReason
}

// Duplicate records a legacy record skipped as a near-duplicate of an
// existing experience.
type Duplicate struct {
	LegacyID   string
	ExistingID int64
	Score      float64
}

// Failure records a legacy record excluded because it could not be
// transformed or failed validation on insert.
type Failure struct {
	LegacyID string
	Err      error
}

// Report summarizes one migration run. Migrated counts records inserted,
// or that would be inserted in a dry run. A report returned together with
// a fatal error has Committed false and nothing was written.
type Report struct {
	Total           int
	Migrated        int
	Duplicates      int
	Errors          int
	RevisionsMapped int

	DryRun    bool
	Committed bool

	Unresolved  []Unresolved
	DuplicateOf []Duplicate
	Failures    []Failure

	// LegacyToNew maps migrated legacy ids to destination ids. Dry runs
	// report the overlay's negative placeholder ids.
	LegacyToNew map[string]int64
}

// LogValue implements slog.LogValuer.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("total", r.Total),
		slog.Int("migrated", r.Migrated),
		slog.Int("duplicates", r.Duplicates),
		slog.Int("errors", r.Errors),
		slog.Int("revisions_mapped", r.RevisionsMapped),
		slog.Int("unresolved", len(r.Unresolved)),
		slog.Bool("dry_run", r.DryRun),
		slog.Bool("committed", r.Committed),
	)
}

// Err describes u as an error wrapping ErrUnresolvedParent.
func (u Unresolved) Err() error {
	return goerr.Wrap(ErrUnresolvedParent, "revision migrated without parent",
		goerr.V("legacy_id", u.LegacyID),
		goerr.V("legacy_parent", u.LegacyParent),
		goerr.V("reason", string(u.Reason)))
}
