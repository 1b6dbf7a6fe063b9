package memory

import (
	"context"
	"errors"
	"sort"

	"github.com/easeaico/adk-compliance-agent/internal/clock"
	"github.com/m-mizutani/goerr/v2"
)

// Overlay stages inserts in memory on top of a base repository that it
// only reads from. Staged records get negative ids so they never collide
// with ids the base has assigned, and they are visible to later Get and
// FindSimilarCandidates calls exactly as committed rows would be.
// Overlay backs dry runs. It is not safe for concurrent use.
type Overlay struct {
	base   Repository
	clock  clock.Clock
	staged []*Experience
}

// NewOverlay returns an Overlay reading from base. A nil clock uses real
// time for default timestamps.
func NewOverlay(base Repository, c clock.Clock) *Overlay {
	if c == nil {
		c = clock.Real()
	}
	return &Overlay{base: base, clock: c}
}

// Staged returns copies of the records inserted so far.
func (o *Overlay) Staged() []Experience {
	out := make([]Experience, len(o.staged))
	for i, e := range o.staged {
		out[i] = *e.Clone()
	}
	return out
}

// Insert validates e and stages it.
func (o *Overlay) Insert(ctx context.Context, e *Experience) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.RevisionOf != nil {
		if _, err := o.Get(ctx, *e.RevisionOf); err != nil {
			if errors.Is(err, ErrNotFound) {
				return 0, goerr.Wrap(ErrValidation, "revision_of references a missing experience",
					goerr.V("revision_of", *e.RevisionOf))
			}
			return 0, err
		}
	}

	fillTimestamps(e, o.clock)
	e.ID = -int64(len(o.staged) + 1)
	o.staged = append(o.staged, e.Clone())
	return e.ID, nil
}

// Get returns a staged record for negative ids and defers to the base
// otherwise.
func (o *Overlay) Get(ctx context.Context, id int64) (*Experience, error) {
	if id < 0 {
		idx := int(-id) - 1
		if idx < len(o.staged) {
			return o.staged[idx].Clone(), nil
		}
		return nil, goerr.Wrap(ErrNotFound, "experience not found", goerr.V("id", id))
	}
	return o.base.Get(ctx, id)
}

// FindSimilarCandidates merges staged and base records, newest first.
// On equal created_at, staged records sort first, as they would have the
// higher ids once committed.
func (o *Overlay) FindSimilarCandidates(ctx context.Context, domain Domain, typ ExperienceType, limit int) ([]Experience, error) {
	limit = normalizeLimit(limit)

	base, err := o.base.FindSimilarCandidates(ctx, domain, typ, limit)
	if err != nil {
		return nil, err
	}

	var merged []Experience
	for i := len(o.staged) - 1; i >= 0; i-- {
		e := o.staged[i]
		if e.Domain == domain && e.Type == typ {
			merged = append(merged, *e.Clone())
		}
	}
	merged = append(merged, base...)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt > merged[j].CreatedAt
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Count returns base rows plus staged records.
func (o *Overlay) Count(ctx context.Context) (int, error) {
	n, err := o.base.Count(ctx)
	if err != nil {
		return 0, err
	}
	return n + len(o.staged), nil
}

// InTransaction runs fn against the overlay itself. Staged records are
// never written to the base, so there is nothing to commit.
func (o *Overlay) InTransaction(ctx context.Context, fn func(Repository) error) error {
	return fn(o)
}

var _ Repository = (*Overlay)(nil)
