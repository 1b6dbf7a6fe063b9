// Package memory stores Experience records: observations of agent
// behavior kept for later retrieval. It provides the Repository contract
// and its SQLite and PostgreSQL implementations.
package memory

import (
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultCandidateLimit bounds FindSimilarCandidates when the caller
// passes a non-positive limit.
const DefaultCandidateLimit = 100

var (
	// ErrValidation marks a record that violates a schema constraint.
	ErrValidation = goerr.New("experience validation failed")
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = goerr.New("experience not found")
)

// ExperienceType says whether the recorded approach worked.
type ExperienceType string

const (
	TypeEffective   ExperienceType = "effective"
	TypeIneffective ExperienceType = "ineffective"
)

// ExperienceTypes lists every valid ExperienceType.
var ExperienceTypes = []ExperienceType{TypeEffective, TypeIneffective}

// Valid reports enum membership.
func (t ExperienceType) Valid() bool {
	return t == TypeEffective || t == TypeIneffective
}

// Domain classifies what an experience is about.
type Domain string

const (
	DomainTools         Domain = "Tools"
	DomainProtocol      Domain = "Protocol"
	DomainCommunication Domain = "Communication"
	DomainProcess       Domain = "Process"
	DomainDebugging     Domain = "Debugging"
	DomainDecision      Domain = "Decision"
)

// Domains lists every valid Domain.
var Domains = []Domain{
	DomainTools,
	DomainProtocol,
	DomainCommunication,
	DomainProcess,
	DomainDebugging,
	DomainDecision,
}

// Valid reports enum membership.
func (d Domain) Valid() bool {
	for _, v := range Domains {
		if d == v {
			return true
		}
	}
	return false
}

// Experience is a stored record of a situation, the approach taken, its
// outcome and the reasoning behind it. ID is assigned on insert.
// Timestamps are epoch seconds.
type Experience struct {
	ID         int64
	Type       ExperienceType
	Domain     Domain
	Situation  string
	Approach   string
	Outcome    string
	Reasoning  string
	Confidence *float64
	Tags       []string
	RevisionOf *int64
	CreatedAt  int64
	UpdatedAt  int64
}

// Text is the concatenated narrative used for duplicate detection.
func (e *Experience) Text() string {
	return e.Situation + e.Approach + e.Outcome + e.Reasoning
}

// Validate checks enum membership, required text and the confidence
// range. It does not check that RevisionOf resolves; repositories do.
func (e *Experience) Validate() error {
	if !e.Type.Valid() {
		return goerr.Wrap(ErrValidation, "unknown experience type", goerr.V("type", e.Type))
	}
	if !e.Domain.Valid() {
		return goerr.Wrap(ErrValidation, "unknown domain", goerr.V("domain", e.Domain))
	}

	fields := []struct {
		name  string
		value string
	}{
		{"situation", e.Situation},
		{"approach", e.Approach},
		{"outcome", e.Outcome},
		{"reasoning", e.Reasoning},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return goerr.Wrap(ErrValidation, "required field is empty", goerr.V("field", f.name))
		}
	}

	if e.Confidence != nil {
		c := *e.Confidence
		if math.IsNaN(c) || c < 0 || c > 1 {
			return goerr.Wrap(ErrValidation, "confidence out of range", goerr.V("confidence", c))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (e *Experience) Clone() *Experience {
	c := *e
	if e.Confidence != nil {
		v := *e.Confidence
		c.Confidence = &v
	}
	if e.RevisionOf != nil {
		v := *e.RevisionOf
		c.RevisionOf = &v
	}
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	return &c
}
