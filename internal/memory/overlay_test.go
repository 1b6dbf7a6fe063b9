package memory_test

import (
	"context"
	"testing"

	"github.com/easeaico/adk-compliance-agent/internal/clock"
	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/m-mizutani/gt"
)

func TestOverlay_NeverWritesBase(t *testing.T) {
	ctx := context.Background()
	base := newSQLiteRepo(t)

	baseID, err := base.Insert(ctx, newExperience(memory.DomainTools, memory.TypeEffective, "base row"))
	gt.NoError(t, err).Required()

	overlay := memory.NewOverlay(base, clock.Fake(fixedNow))
	child := newExperience(memory.DomainTools, memory.TypeEffective, "staged child")
	child.RevisionOf = ptr(baseID)
	stagedID, err := overlay.Insert(ctx, child)
	gt.NoError(t, err).Required()
	gt.Bool(t, stagedID < 0).True()

	grandchild := newExperience(memory.DomainTools, memory.TypeEffective, "staged grandchild")
	grandchild.RevisionOf = ptr(stagedID)
	_, err = overlay.Insert(ctx, grandchild)
	gt.NoError(t, err).Required()

	n, err := overlay.Count(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(3)

	n, err = base.Count(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(1)

	candidates, err := overlay.FindSimilarCandidates(ctx, memory.DomainTools, memory.TypeEffective, 10)
	gt.NoError(t, err).Required()
	gt.Array(t, candidates).Length(3)

	staged := overlay.Staged()
	gt.Array(t, staged).Length(2)
	gt.Value(t, staged[1].Situation).Equal("staged grandchild")
}
