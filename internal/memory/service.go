package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/easeaico/adk-compliance-agent/internal/dedup"
	"github.com/m-mizutani/goerr/v2"
	adkmemory "google.golang.org/adk/memory"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

// searchResultLimit caps how many experiences Search returns.
const searchResultLimit = 10

// Service exposes a Repository as an ADK memory.Service so the agent can
// recall experiences relevant to a query. Ranking is lexical (bigram
// similarity) over the bounded candidate set of every domain and type.
type Service struct {
	repo Repository
}

// NewService creates a memory service over repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// AddSession implements memory.Service. Experiences are recorded
// explicitly through the record_experience tool, never harvested from
// session transcripts, so this is a no-op.
func (s *Service) AddSession(ctx context.Context, sess session.Session) error {
	return nil
}

// ScoredExperience pairs an experience with its similarity to a query.
type ScoredExperience struct {
	Experience
	Score float64
}

// Rank scores candidates from every domain and type against query and
// returns at most limit results with a positive score, best first.
func (s *Service) Rank(ctx context.Context, query string, limit int) ([]ScoredExperience, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var scored []ScoredExperience
	for _, domain := range Domains {
		for _, typ := range ExperienceTypes {
			candidates, err := s.repo.FindSimilarCandidates(ctx, domain, typ, DefaultCandidateLimit)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to load candidates",
					goerr.V("domain", domain), goerr.V("type", typ))
			}
			for _, c := range candidates {
				score := dedup.Similarity(query, c.Text())
				if score > 0 {
					scored = append(scored, ScoredExperience{Experience: c, Score: score})
				}
			}
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Search implements memory.Service interface.
func (s *Service) Search(ctx context.Context, req *adkmemory.SearchRequest) (*adkmemory.SearchResponse, error) {
	ranked, err := s.Rank(ctx, req.Query, searchResultLimit)
	if err != nil {
		return nil, err
	}

	memories := make([]adkmemory.Entry, 0, len(ranked))
	for _, r := range ranked {
		contentParts := genai.Text(Summarize(&r.Experience))
		if len(contentParts) == 0 {
			continue
		}
		memories = append(memories, adkmemory.Entry{
			Content:   contentParts[0],
			Author:    "system",
			Timestamp: time.Unix(r.CreatedAt, 0),
		})
	}

	return &adkmemory.SearchResponse{Memories: memories}, nil
}

// Summarize renders an experience as plain text for the agent.
func Summarize(e *Experience) string {
	var b strings.Builder
	b.WriteString("[" + string(e.Domain) + "/" + string(e.Type) + "]\n")
	b.WriteString("Situation: " + e.Situation + "\n")
	b.WriteString("Approach: " + e.Approach + "\n")
	b.WriteString("Outcome: " + e.Outcome + "\n")
	b.WriteString("Reasoning: " + e.Reasoning)
	if len(e.Tags) > 0 {
		b.WriteString("\nTags: " + strings.Join(e.Tags, ", "))
	}
	return b.String()
}

// Ensure Service implements adk's memory.Service
var _ adkmemory.Service = (*Service)(nil)
