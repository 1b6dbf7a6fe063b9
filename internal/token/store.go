package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/easeaico/adk-compliance-agent/internal/clock"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Store reads and writes tokens in a single directory. The directory is
// always injected by the caller. A Store holds no state beyond its
// configuration, so separate processes may each build their own.
type Store struct {
	dir    string
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used when issuing tokens.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger used to report skipped token files.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store over dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		clock:  clock.Real(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the token directory.
func (s *Store) Dir() string { return s.dir }

// Issue writes a new session token valid for ttl.
func (s *Store) Issue(sessionID string, ttl time.Duration) (*Token, error) {
	return s.issue(KindSession, sessionID, ttl)
}

// IssueOperation writes a new single-use operation token valid for ttl.
func (s *Store) IssueOperation(sessionID string, ttl time.Duration) (*Token, error) {
	return s.issue(KindOperation, sessionID, ttl)
}

func (s *Store) issue(kind Kind, sessionID string, ttl time.Duration) (*Token, error) {
	if ttl <= 0 {
		return nil, goerr.New("token ttl must be positive", goerr.V("ttl", ttl))
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, goerr.Wrap(ErrDirUnavailable, "failed to create token directory",
			goerr.V("dir", s.dir), goerr.V("cause", err.Error()))
	}

	now := s.clock.Now().UnixMilli()
	t := &Token{
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now + ttl.Milliseconds(),
		SessionID: sessionID,
	}

	data, err := json.Marshal(t)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode token")
	}

	name := fileName(kind, now, t.Token)
	if err := writeFileAtomic(s.dir, name, data); err != nil {
		return nil, goerr.Wrap(ErrDirUnavailable, "failed to write token file",
			goerr.V("dir", s.dir), goerr.V("cause", err.Error()))
	}

	s.logger.Debug("token issued",
		slog.String("kind", string(kind)),
		slog.String("session_id", sessionID),
		slog.Time("expires_at", t.Expiry()),
	)
	return t, nil
}

// IsAuthorized reports whether any session token in the directory is
// unexpired at now. Unreadable or malformed files are skipped. The
// session that issued a token is not compared against anything: any
// valid token authorizes.
func (s *Store) IsAuthorized(now time.Time) (bool, error) {
	names, err := s.list(KindSession)
	if err != nil {
		return false, err
	}

	// Newest first: the most recently issued token is the likeliest to
	// still be valid.
	for i := len(names) - 1; i >= 0; i-- {
		t, err := s.read(names[i])
		if err != nil {
			continue
		}
		if t.ValidAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// List returns every well-formed session token, newest first, expired
// ones included.
func (s *Store) List() ([]Token, error) {
	names, err := s.list(KindSession)
	if err != nil {
		return nil, err
	}

	tokens := make([]Token, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		t, err := s.read(names[i])
		if err != nil {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// PurgeAll deletes every session and operation token file, expired or
// not, and returns how many were removed. Individual delete failures are
// ignored so one stuck file cannot block the sweep.
func (s *Store) PurgeAll() (int, error) {
	removed := 0
	for _, kind := range []Kind{KindSession, KindOperation} {
		names, err := s.list(kind)
		if err != nil {
			return removed, err
		}
		for _, name := range names {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				s.logger.Debug("skip token file on purge",
					slog.String("file", name), slog.Any("error", err))
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// Consume spends the operation token whose value equals value and
// returns it. It returns nil unless the caller's delete succeeds on an
// unexpired token, so a second Consume of the same value returns nil.
func (s *Store) Consume(value string, now time.Time) (*Token, error) {
	if value == "" {
		return nil, nil
	}
	names, err := s.list(KindOperation)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		t, err := s.read(name)
		if err != nil || t.Token != value {
			continue
		}
		if !t.ValidAt(now) {
			return nil, nil
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			// Lost the race to another consumer.
			return nil, nil
		}
		return &t, nil
	}
	return nil, nil
}

// list returns the names of files carrying kind's prefix in creation
// order. A missing directory holds no tokens.
func (s *Store) list(kind Kind) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, goerr.Wrap(ErrDirUnavailable, "failed to read token directory",
			goerr.V("dir", s.dir), goerr.V("cause", err.Error()))
	}

	prefix := kind.Prefix()
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) read(name string) (Token, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		// Purged between listing and reading.
		return Token{}, goerr.Wrap(ErrCorruptToken, "unreadable token file",
			goerr.V("file", name), goerr.V("cause", err.Error()))
	}
	t, err := decode(data)
	if err != nil {
		s.logger.Debug("skip corrupt token file", slog.String("file", name), slog.Any("error", err))
		return Token{}, err
	}
	return t, nil
}

// fileName sorts by creation time because the millisecond timestamp is
// zero padded to a fixed width.
func fileName(kind Kind, createdMs int64, value string) string {
	return fmt.Sprintf("%s%013d-%s%s", kind.Prefix(), createdMs, value, fileSuffix)
}

// writeFileAtomic writes data under a temporary name that does not carry
// a token prefix, then renames it into place so readers never see a
// partially written token.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, pendingPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}
	committed = true
	return nil
}
