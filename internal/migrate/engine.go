// Package migrate moves legacy experience records into a memory
// repository, remapping legacy revision links to destination ids.
package migrate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/easeaico/adk-compliance-agent/internal/clock"
	"github.com/easeaico/adk-compliance-agent/internal/dedup"
	"github.com/easeaico/adk-compliance-agent/internal/legacy"
	"github.com/easeaico/adk-compliance-agent/internal/logging"
	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrStorageUnavailable means the source or target could not be reached
	// before the migration started. Nothing was written.
	ErrStorageUnavailable = goerr.New("migration storage unavailable")
	// ErrTransactionFailed means the run aborted and was rolled back.
	// Nothing was written.
	ErrTransactionFailed = goerr.New("migration transaction failed")
	// ErrUnresolvedParent describes a revision migrated without its parent.
	// It is reported, never returned.
	ErrUnresolvedParent = goerr.New("revision parent not resolved")
)

// Options controls one migration run.
type Options struct {
	DryRun          bool
	CheckDuplicates bool
	// Threshold outside (0, 1] uses dedup.DefaultThreshold.
	Threshold float64
}

// DefaultOptions checks duplicates at the default threshold and writes.
func DefaultOptions() Options {
	return Options{CheckDuplicates: true, Threshold: dedup.DefaultThreshold}
}

// Engine runs migrations. The zero value is not usable; use New.
type Engine struct {
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock that stamps records without a usable
// timestamp.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger. Without it the context logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{clock: clock.Real()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Migrate runs records into repo with a default Engine.
func Migrate(ctx context.Context, records []legacy.Record, repo memory.Repository, opts Options) (*Report, error) {
	return New().Migrate(ctx, records, repo, opts)
}

// Migrate transforms records and inserts them into repo. Base records go
// first in source order, then revisions in dependency order so that each
// links to its parent's new id.
//
// Unless opts.DryRun is set, every insert happens in one transaction on
// repo. Validation failures are counted and skipped. Any other error rolls
// the transaction back and is returned wrapping ErrTransactionFailed,
// together with a report whose Committed is false.
//
// A dry run stages inserts in a memory.Overlay so duplicate checks and
// revision links behave as in a real run, and writes nothing.
func (e *Engine) Migrate(ctx context.Context, records []legacy.Record, repo memory.Repository, opts Options) (*Report, error) {
	logger := e.logger
	if logger == nil {
		logger = logging.From(ctx)
	}
	logger = logger.With("dry_run", opts.DryRun)

	order := processingOrder(records)
	now := e.clock.Now()

	var report *Report
	exec := func(target memory.Repository) error {
		r := newRun(records, opts, now, logger)
		if err := r.execute(ctx, target, order); err != nil {
			return err
		}
		report = r.report
		return nil
	}

	aborted := &Report{Total: len(records), DryRun: opts.DryRun}

	if opts.DryRun {
		if err := exec(memory.NewOverlay(repo, e.clock)); err != nil {
			logger.Error("dry run aborted", "error", err)
			return aborted, goerr.Wrap(errors.Join(ErrTransactionFailed, err), "dry run aborted")
		}
		logger.Info("dry run finished", "report", report)
		return report, nil
	}

	if err := repo.InTransaction(ctx, exec); err != nil {
		logger.Error("migration rolled back", "error", err)
		return aborted, goerr.Wrap(errors.Join(ErrTransactionFailed, err), "migration rolled back")
	}

	report.Committed = true
	logger.Info("migration committed", "report", report)
	return report, nil
}

type recordStatus int

const (
	statusPending recordStatus = iota
	statusMigrated
	statusDuplicate
	statusFailed
)

// run holds the state of one pass over the source. A fresh run is used
// for every attempt so an aborted transaction leaves no counts behind.
type run struct {
	records []legacy.Record
	opts    Options
	now     time.Time
	logger  *slog.Logger

	inSource map[string]bool
	status   map[string]recordStatus
	report   *Report
}

func newRun(records []legacy.Record, opts Options, now time.Time, logger *slog.Logger) *run {
	inSource := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.ID != "" {
			inSource[string(rec.ID)] = true
		}
	}
	return &run{
		records:  records,
		opts:     opts,
		now:      now,
		logger:   logger,
		inSource: inSource,
		status:   make(map[string]recordStatus, len(records)),
		report: &Report{
			Total:       len(records),
			DryRun:      opts.DryRun,
			LegacyToNew: make(map[string]int64, len(records)),
		},
	}
}

func (r *run) execute(ctx context.Context, repo memory.Repository, order []int) error {
	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return goerr.Wrap(err, "migration interrupted")
		}
		if err := r.migrateOne(ctx, repo, r.records[i]); err != nil {
			return err
		}
	}
	return nil
}

// migrateOne returns an error only when the whole run must abort.
func (r *run) migrateOne(ctx context.Context, repo memory.Repository, rec legacy.Record) error {
	legacyID := string(rec.ID)

	exp, err := legacy.Transform(rec, r.now)
	if err != nil {
		r.fail(legacyID, err)
		return nil
	}

	var unresolved *Unresolved
	if rec.IsRevision() {
		parent := string(rec.RevisionOf)
		if newID, ok := r.report.LegacyToNew[parent]; ok {
			exp.RevisionOf = &newID
		} else {
			unresolved = &Unresolved{LegacyID: legacyID, LegacyParent: parent, Reason: r.unresolvedReason(parent)}
		}
	}

	if r.opts.CheckDuplicates {
		dup, err := r.findDuplicate(ctx, repo, &exp)
		if err != nil {
			return goerr.Wrap(err, "failed to check duplicates", goerr.V("legacy_id", legacyID))
		}
		if dup != nil {
			dup.LegacyID = legacyID
			r.report.Duplicates++
			r.report.DuplicateOf = append(r.report.DuplicateOf, *dup)
			r.mark(legacyID, statusDuplicate)
			r.logger.Debug("skipped near-duplicate",
				"legacy_id", legacyID, "existing_id", dup.ExistingID, "score", dup.Score)
			return nil
		}
	}

	id, err := repo.Insert(ctx, &exp)
	if err != nil {
		if errors.Is(err, memory.ErrValidation) {
			r.fail(legacyID, err)
			return nil
		}
		return goerr.Wrap(err, "failed to insert experience", goerr.V("legacy_id", legacyID))
	}

	r.report.Migrated++
	if exp.RevisionOf != nil {
		r.report.RevisionsMapped++
	}
	if unresolved != nil {
		r.report.Unresolved = append(r.report.Unresolved, *unresolved)
		r.logger.Warn("migrated revision without parent", "error", unresolved.Err())
	}
	if legacyID != "" {
		if _, exists := r.report.LegacyToNew[legacyID]; !exists {
			r.report.LegacyToNew[legacyID] = id
		}
	}
	r.mark(legacyID, statusMigrated)
	return nil
}

func (r *run) findDuplicate(ctx context.Context, repo memory.Repository, exp *memory.Experience) (*Duplicate, error) {
	candidates, err := repo.FindSimilarCandidates(ctx, exp.Domain, exp.Type, memory.DefaultCandidateLimit)
	if err != nil {
		return nil, err
	}

	subjects := make([]*memory.Experience, len(candidates))
	for i := range candidates {
		subjects[i] = &candidates[i]
	}

	d := dedup.NewDetector(exp, r.opts.Threshold)
	idx, score := dedup.FirstMatch(d, subjects)
	if idx < 0 {
		return nil, nil
	}
	return &Duplicate{ExistingID: candidates[idx].ID, Score: score}, nil
}

func (r *run) unresolvedReason(parent string) UnresolvedReason {
	if !r.inSource[parent] {
		return ReasonNotInSource
	}
	switch r.status[parent] {
	case statusDuplicate:
		return ReasonParentDuplicate
	case statusFailed:
		return ReasonParentFailed
	}
	return ReasonRevisionCycle
}

func (r *run) fail(legacyID string, err error) {
	r.report.Errors++
	r.report.Failures = append(r.report.Failures, Failure{LegacyID: legacyID, Err: err})
	r.mark(legacyID, statusFailed)
	r.logger.Warn("skipped invalid legacy record", "legacy_id", legacyID, "error", err)
}

// mark keeps the first outcome for a legacy id; later records reusing the
// id do not change how references to it resolve.
func (r *run) mark(legacyID string, s recordStatus) {
	if legacyID == "" {
		return
	}
	if _, ok := r.status[legacyID]; !ok {
		r.status[legacyID] = s
	}
}
