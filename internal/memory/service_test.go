package memory_test

import (
	"context"
	"testing"

	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/m-mizutani/gt"
	adkmemory "google.golang.org/adk/memory"
)

func TestService_Search(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	seed := []*memory.Experience{
		{
			Type: memory.TypeEffective, Domain: memory.DomainDebugging,
			Situation: "flaky integration test on CI", Approach: "pinned the container image",
			Outcome: "test stable", Reasoning: "image drift caused the flake",
		},
		{
			Type: memory.TypeIneffective, Domain: memory.DomainCommunication,
			Situation: "long status report", Approach: "sent a wall of text",
			Outcome: "ignored", Reasoning: "too long to read",
		},
	}
	for _, e := range seed {
		_, err := repo.Insert(ctx, e)
		gt.NoError(t, err).Required()
	}

	svc := memory.NewService(repo)
	gt.NoError(t, svc.AddSession(ctx, nil))

	resp, err := svc.Search(ctx, &adkmemory.SearchRequest{Query: "flaky integration test"})
	gt.NoError(t, err).Required()
	gt.Bool(t, len(resp.Memories) >= 1).True()
	gt.Value(t, resp.Memories[0].Author).Equal("system")
	gt.String(t, resp.Memories[0].Content.Parts[0].Text).Contains("pinned the container image")

	resp, err = svc.Search(ctx, &adkmemory.SearchRequest{Query: "   "})
	gt.NoError(t, err).Required()
	gt.Array(t, resp.Memories).Length(0)
}

func TestService_Rank(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	for _, s := range []string{"alpha beta gamma", "delta epsilon", "alpha beta"} {
		_, err := repo.Insert(ctx, newExperience(memory.DomainTools, memory.TypeEffective, s))
		gt.NoError(t, err).Required()
	}

	ranked, err := memory.NewService(repo).Rank(ctx, "approach for alpha beta gamma", 2)
	gt.NoError(t, err).Required()
	gt.Array(t, ranked).Length(2)
	gt.Value(t, ranked[0].Situation).Equal("alpha beta gamma")
	gt.Bool(t, ranked[0].Score >= ranked[1].Score).True()
}

func TestSummarize(t *testing.T) {
	e := newExperience(memory.DomainTools, memory.TypeEffective, "s")
	e.Tags = []string{"x", "y"}
	out := memory.Summarize(e)
	gt.String(t, out).Contains("[Tools/effective]")
	gt.String(t, out).Contains("Tags: x, y")
}
