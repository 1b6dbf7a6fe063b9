package legacy

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/m-mizutani/goerr/v2"
)

// MigratedTag marks every record produced by a migration.
const MigratedTag = "migrated"

var sessionMarker = regexp.MustCompile(`(?i)\bsession:\s*([^\s,;]+)`)

// Transform converts r into an Experience. It is pure: the only input
// besides r is now, used when r carries no parsable timestamp.
// RevisionOf is left unset; linking is the migration's job because it
// needs destination ids. The returned error wraps ErrUnsupportedVersion
// or memory.ErrValidation.
func Transform(r Record, now time.Time) (memory.Experience, error) {
	switch r.Version {
	case 0, V1:
		return transformV1(r, now)
	}
	return memory.Experience{}, goerr.Wrap(ErrUnsupportedVersion, "no transform for schema version",
		goerr.V("version", r.Version), goerr.V("legacy_id", r.ID))
}

func transformV1(r Record, now time.Time) (memory.Experience, error) {
	ts := parseTimestamp(r.timestamp(), now)
	e := memory.Experience{
		Type:       memory.ExperienceType(strings.ToLower(strings.TrimSpace(r.Type))),
		Domain:     normalizeDomain(r.Domain),
		Situation:  strings.TrimSpace(r.Situation),
		Approach:   strings.TrimSpace(r.Approach),
		Outcome:    strings.TrimSpace(r.Outcome),
		Reasoning:  MergeReasoning(r),
		Confidence: r.Confidence,
		Tags:       DeriveTags(r),
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	if err := e.Validate(); err != nil {
		return e, goerr.Wrap(err, "legacy record failed validation", goerr.V("legacy_id", r.ID))
	}
	return e, nil
}

// MergeReasoning appends the legacy-only narrative fields to reasoning as
// labeled paragraphs, always in the order alternative, assumptions,
// limitations.
func MergeReasoning(r Record) string {
	parts := []string{}
	if s := strings.TrimSpace(r.Reasoning); s != "" {
		parts = append(parts, s)
	}
	extras := []struct {
		label string
		value string
	}{
		{"Alternative", r.Alternative},
		{"Assumptions", r.Assumptions},
		{"Limitations", r.Limitations},
	}
	for _, x := range extras {
		if s := strings.TrimSpace(x.value); s != "" {
			parts = append(parts, x.label+": "+s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// DeriveTags returns the legacy tags followed by the relationship tags,
// the originating session tag and MigratedTag. Duplicates are dropped,
// keeping first occurrence.
func DeriveTags(r Record) []string {
	var tags []string
	seen := map[string]bool{}
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		tags = append(tags, t)
	}

	for _, t := range r.Tags {
		add(t)
	}
	if r.Contradicts != "" {
		add("contradicts:" + string(r.Contradicts))
	}
	if r.Supports != "" {
		add("supports:" + string(r.Supports))
	}
	if session := SessionFromContext(r.Context); session != "" {
		add("migrated-from-session:" + session)
	}
	add(MigratedTag)
	return tags
}

// SessionFromContext extracts the token after the first "session:"
// marker in a free-text context, or "".
func SessionFromContext(context string) string {
	m := sessionMarker.FindStringSubmatch(context)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], `.)]}'"`)
}

func normalizeDomain(s string) memory.Domain {
	s = strings.TrimSpace(s)
	for _, d := range memory.Domains {
		if strings.EqualFold(s, string(d)) {
			return d
		}
	}
	return memory.Domain(s)
}

// parseTimestamp converts a legacy text timestamp to epoch seconds. An
// empty or unparsable value yields now.
func parseTimestamp(s string, now time.Time) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Unix()
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		// 13 digits or more is milliseconds.
		if n >= 1e12 {
			return n / 1000
		}
		return n
	}

	// Try various formats that SQLite and the legacy writers used
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02T15:04:05.000",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.Unix()
		}
	}
	return now.Unix()
}
