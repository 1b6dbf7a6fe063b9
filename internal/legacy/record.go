// Package legacy reads experience records written under the old
// knowledge schema and transforms them into memory.Experience values.
package legacy

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Version identifies a legacy schema revision.
type Version int

const (
	// V1 is the original flat record with narrative side fields and
	// free-text context.
	V1 Version = 1
)

var (
	// ErrSourceUnavailable is returned when a legacy source cannot be read.
	ErrSourceUnavailable = goerr.New("legacy source unavailable")
	// ErrUnsupportedVersion marks a record whose schema version has no
	// transform.
	ErrUnsupportedVersion = goerr.New("unsupported legacy schema version")
)

// Scalar is a loosely typed legacy value: it decodes from a JSON string
// or number and treats null as empty.
type Scalar string

// UnmarshalJSON accepts strings, numbers and null.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Scalar(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return goerr.Wrap(err, "legacy value must be a string or number", goerr.V("value", string(data)))
	}
	*s = Scalar(n.String())
	return nil
}

// String returns the raw value.
func (s Scalar) String() string { return string(s) }

// Record is one legacy experience. IDs and references are legacy ids,
// never destination ids.
type Record struct {
	Version Version `json:"schema_version,omitempty"`

	ID     Scalar `json:"id"`
	Type   string `json:"type"`
	Domain string `json:"domain"`

	Situation string `json:"situation"`
	Approach  string `json:"approach"`
	Outcome   string `json:"outcome"`
	Reasoning string `json:"reasoning"`

	Alternative string `json:"alternative,omitempty"`
	Assumptions string `json:"assumptions,omitempty"`
	Limitations string `json:"limitations,omitempty"`

	Contradicts Scalar `json:"contradicts,omitempty"`
	Supports    Scalar `json:"supports,omitempty"`
	Context     string `json:"context,omitempty"`

	Confidence *float64 `json:"confidence,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	RevisionOf Scalar   `json:"revision_of,omitempty"`

	Timestamp Scalar `json:"timestamp,omitempty"`
	CreatedAt Scalar `json:"created_at,omitempty"`
}

// IsRevision reports whether the record points at a legacy parent.
func (r *Record) IsRevision() bool {
	return r.RevisionOf != ""
}

// timestamp returns the record's text timestamp, preferring the
// timestamp field over created_at.
func (r *Record) timestamp() string {
	if r.Timestamp != "" {
		return string(r.Timestamp)
	}
	return string(r.CreatedAt)
}

// setField assigns a column value by legacy column name. Unknown columns
// are ignored.
func (r *Record) setField(name, value string) {
	switch strings.ToLower(name) {
	case "schema_version", "version":
		if v, err := strconv.Atoi(value); err == nil {
			r.Version = Version(v)
		}
	case "id":
		r.ID = Scalar(value)
	case "type":
		r.Type = value
	case "domain":
		r.Domain = value
	case "situation":
		r.Situation = value
	case "approach":
		r.Approach = value
	case "outcome":
		r.Outcome = value
	case "reasoning":
		r.Reasoning = value
	case "alternative":
		r.Alternative = value
	case "assumptions":
		r.Assumptions = value
	case "limitations":
		r.Limitations = value
	case "contradicts":
		r.Contradicts = Scalar(value)
	case "supports":
		r.Supports = Scalar(value)
	case "context":
		r.Context = value
	case "confidence":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			r.Confidence = &v
		}
	case "tags":
		r.Tags = parseTagColumn(value)
	case "revision_of":
		r.RevisionOf = Scalar(value)
	case "timestamp":
		r.Timestamp = Scalar(value)
	case "created_at":
		r.CreatedAt = Scalar(value)
	}
}

// parseTagColumn accepts a JSON array or a comma separated list.
func parseTagColumn(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var tags []string
	if strings.HasPrefix(value, "[") && json.Unmarshal([]byte(value), &tags) == nil {
		return tags
	}
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
