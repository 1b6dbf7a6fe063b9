package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/easeaico/adk-compliance-agent/internal/dedup"
	"github.com/easeaico/adk-compliance-agent/internal/gate"
	"github.com/easeaico/adk-compliance-agent/internal/logging"
	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/m-mizutani/goerr/v2"
)

const (
	maxReadSize        = 10000
	defaultSearchLimit = 5
)

var errOutsideWorkDir = goerr.New("access denied: path is outside working directory")

// handler implements the tools over plain context.Context so it can be
// tested without an agent runtime.
type handler struct {
	repo      memory.Repository
	service   *memory.Service
	guard     *gate.Guard
	workDir   string
	threshold float64
}

func newHandler(cfg ToolsConfig) *handler {
	return &handler{
		repo:      cfg.Repo,
		service:   memory.NewService(cfg.Repo),
		guard:     cfg.Guard,
		workDir:   cfg.WorkDir,
		threshold: cfg.Threshold,
	}
}

func failure(msg string, err error) Result {
	if err != nil {
		msg += ": " + err.Error()
	}
	return Result{Success: false, Error: msg}
}

func (h *handler) searchExperiences(ctx context.Context, args SearchExperiencesArgs) Result {
	if strings.TrimSpace(args.Query) == "" {
		return failure("query is required", nil)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	ranked, err := h.service.Rank(ctx, args.Query, limit)
	if err != nil {
		logging.From(ctx).Error("failed to search experiences", "error", err)
		return failure("failed to search experiences", err)
	}
	if len(ranked) == 0 {
		return Result{Success: true, Data: "No related experiences found."}
	}

	results := make([]map[string]any, 0, len(ranked))
	for _, r := range ranked {
		item := map[string]any{
			"id":         r.ID,
			"type":       r.Type,
			"domain":     r.Domain,
			"situation":  r.Situation,
			"approach":   r.Approach,
			"outcome":    r.Outcome,
			"reasoning":  r.Reasoning,
			"similarity": r.Score,
		}
		if len(r.Tags) > 0 {
			item["tags"] = r.Tags
		}
		if r.RevisionOf != nil {
			item["revision_of"] = *r.RevisionOf
		}
		results = append(results, item)
	}
	return Result{Success: true, Data: results}
}

func (h *handler) recordExperience(ctx context.Context, args RecordExperienceArgs) Result {
	if err := h.guard.Check(ctx, "record_experience"); err != nil {
		return failure("record_experience blocked", err)
	}

	e := &memory.Experience{
		Type:       memory.ExperienceType(strings.ToLower(strings.TrimSpace(args.Type))),
		Domain:     memory.Domain(strings.TrimSpace(args.Domain)),
		Situation:  strings.TrimSpace(args.Situation),
		Approach:   strings.TrimSpace(args.Approach),
		Outcome:    strings.TrimSpace(args.Outcome),
		Reasoning:  strings.TrimSpace(args.Reasoning),
		Confidence: args.Confidence,
		Tags:       args.Tags,
		RevisionOf: args.RevisionOf,
	}
	if err := e.Validate(); err != nil {
		return failure("invalid experience", err)
	}

	candidates, err := h.repo.FindSimilarCandidates(ctx, e.Domain, e.Type, memory.DefaultCandidateLimit)
	if err != nil {
		return failure("failed to check duplicates", err)
	}
	subjects := make([]*memory.Experience, len(candidates))
	for i := range candidates {
		subjects[i] = &candidates[i]
	}
	if idx, score := dedup.FirstMatch(dedup.NewDetector(e, h.threshold), subjects); idx >= 0 {
		return Result{Success: true, Data: map[string]any{
			"duplicate_of": candidates[idx].ID,
			"similarity":   score,
			"message":      "A near-identical experience is already recorded; nothing was saved.",
		}}
	}

	id, err := h.repo.Insert(ctx, e)
	if err != nil {
		if errors.Is(err, memory.ErrValidation) {
			return failure("invalid experience", err)
		}
		logging.From(ctx).Error("failed to record experience", "error", err)
		return failure("failed to record experience", err)
	}

	logging.From(ctx).Info("recorded experience", "id", id, "domain", e.Domain, "type", e.Type)
	return Result{Success: true, Data: map[string]any{"id": id}}
}

func (h *handler) readFile(args ReadFileArgs) Result {
	if args.Filepath == "" {
		return failure("filepath is required", nil)
	}
	absPath, err := h.resolve(args.Filepath)
	if err != nil {
		return failure("invalid path", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return failure("failed to read file", err)
	}

	contentStr := string(content)
	if len(contentStr) > maxReadSize {
		contentStr = truncateString(contentStr, maxReadSize) + "\n... (truncated)"
	}
	return Result{Success: true, Data: contentStr}
}

func (h *handler) listDirectory(args ListDirectoryArgs) Result {
	dirPath := args.Path
	if dirPath == "" {
		dirPath = "."
	}
	absPath, err := h.resolve(dirPath)
	if err != nil {
		return failure("invalid path", err)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return failure("failed to read directory", err)
	}

	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"name":  entry.Name(),
			"isDir": entry.IsDir(),
		}
		if info, err := entry.Info(); err == nil {
			item["size"] = info.Size()
		}
		items = append(items, item)
	}
	return Result{Success: true, Data: items}
}

func (h *handler) writeFile(ctx context.Context, args WriteFileArgs) Result {
	if args.Filepath == "" {
		return failure("filepath is required", nil)
	}
	if err := h.guard.Check(ctx, "write_file"); err != nil {
		return failure("write_file blocked", err)
	}

	absPath, err := h.resolve(args.Filepath)
	if err != nil {
		return failure("invalid path", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return failure("failed to create directory", err)
	}
	if err := os.WriteFile(absPath, []byte(args.Content), 0o644); err != nil {
		return failure("failed to write file", err)
	}

	logging.From(ctx).Info("wrote file", "path", absPath, "bytes", len(args.Content))
	return Result{Success: true, Data: map[string]any{"path": absPath, "bytes": len(args.Content)}}
}

// resolve returns the absolute form of p, resolved against the working
// directory, and rejects anything outside it.
func (h *handler) resolve(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.workDir, p)
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve path", goerr.V("path", p))
	}
	absWorkDir, err := filepath.Abs(h.workDir)
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve working directory")
	}

	rel, err := filepath.Rel(absWorkDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", goerr.Wrap(errOutsideWorkDir, "path rejected", goerr.V("path", absPath))
	}
	return absPath, nil
}

// truncateString cuts s to at most limit bytes without splitting a rune.
func truncateString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
