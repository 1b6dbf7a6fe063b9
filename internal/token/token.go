// Package token persists short-lived authorization tokens as files in a
// directory. Independent processes coordinate through that directory
// alone: issuing always creates a new uniquely named file, purging is an
// idempotent delete, and expiry is evaluated lazily when a token is read.
package token

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Kind distinguishes the two token flavors. Both share one file shape and
// differ only by filename prefix.
type Kind string

const (
	// KindSession tokens are checked by the gate before file mutation.
	KindSession Kind = "session"
	// KindOperation tokens are single-use proofs consumed by Consume.
	KindOperation Kind = "operation"
)

const (
	SessionPrefix   = "session-token-"
	OperationPrefix = "op-token-"

	fileSuffix    = ".json"
	pendingPrefix = ".pending-"
)

var (
	// ErrDirUnavailable is returned when the token directory itself cannot
	// be read or written.
	ErrDirUnavailable = goerr.New("token directory unavailable")

	// ErrCorruptToken marks a token file that failed to parse or lacks a
	// required field. It never reaches callers of IsAuthorized.
	ErrCorruptToken = goerr.New("corrupt token file")
)

// Prefix returns the filename prefix for k.
func (k Kind) Prefix() string {
	if k == KindOperation {
		return OperationPrefix
	}
	return SessionPrefix
}

// Token is the persisted authorization credential. Timestamps are epoch
// milliseconds.
type Token struct {
	Token     string `json:"token"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	SessionID string `json:"session_id"`
}

// ValidAt reports whether the token is unexpired at now.
func (t Token) ValidAt(now time.Time) bool {
	return t.ExpiresAt > now.UnixMilli()
}

// Expiry returns ExpiresAt as a time.
func (t Token) Expiry() time.Time {
	return time.UnixMilli(t.ExpiresAt)
}

// tokenFile mirrors Token with pointer fields so that a missing
// expires_at is distinguishable from zero.
type tokenFile struct {
	Token     string `json:"token"`
	CreatedAt *int64 `json:"created_at"`
	ExpiresAt *int64 `json:"expires_at"`
	SessionID string `json:"session_id"`
}

func decode(data []byte) (Token, error) {
	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Token{}, goerr.Wrap(ErrCorruptToken, "invalid JSON", goerr.V("cause", err.Error()))
	}
	if f.ExpiresAt == nil {
		return Token{}, goerr.Wrap(ErrCorruptToken, "missing expires_at")
	}

	t := Token{
		Token:     f.Token,
		ExpiresAt: *f.ExpiresAt,
		SessionID: f.SessionID,
	}
	if f.CreatedAt != nil {
		t.CreatedAt = *f.CreatedAt
	}
	return t, nil
}
