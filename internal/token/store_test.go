package token_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/easeaico/adk-compliance-agent/internal/clock"
	"github.com/easeaico/adk-compliance-agent/internal/token"
	"github.com/m-mizutani/gt"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*token.Store, *clock.FakeClock) {
	t.Helper()
	c := clock.Fake(epoch)
	return token.NewStore(t.TempDir(), token.WithClock(c)), c
}

func writeRaw(t *testing.T, dir, name, content string) {
	t.Helper()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600)).Required()
}

func TestIssue(t *testing.T) {
	store, _ := newStore(t)

	tok, err := store.Issue("sess-1", 10*time.Minute)
	gt.NoError(t, err).Required()
	gt.String(t, tok.Token).NotEqual("")
	gt.Value(t, tok.SessionID).Equal("sess-1")
	gt.Value(t, tok.CreatedAt).Equal(epoch.UnixMilli())
	gt.Value(t, tok.ExpiresAt).Equal(epoch.UnixMilli() + 600_000)

	entries, err := os.ReadDir(store.Dir())
	gt.NoError(t, err).Required()
	gt.Array(t, entries).Length(1)
	gt.Bool(t, strings.HasPrefix(entries[0].Name(), token.SessionPrefix)).True()
}

func TestIssue_RejectsNonPositiveTTL(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Issue("s", 0)
	gt.Error(t, err)
}

func TestIssue_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "tokens")
	store := token.NewStore(dir)

	_, err := store.Issue("s", time.Minute)
	gt.NoError(t, err).Required()

	ok, err := store.IsAuthorized(time.Now())
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
}

func TestIssue_FilenamesSortByCreation(t *testing.T) {
	store, c := newStore(t)

	first, err := store.Issue("a", time.Minute)
	gt.NoError(t, err).Required()
	c.Advance(5 * time.Millisecond)
	second, err := store.Issue("b", time.Minute)
	gt.NoError(t, err).Required()

	entries, err := os.ReadDir(store.Dir())
	gt.NoError(t, err).Required()
	gt.Array(t, entries).Length(2)
	gt.String(t, entries[0].Name()).Contains(first.Token)
	gt.String(t, entries[1].Name()).Contains(second.Token)
}

func TestIsAuthorized_Expiry(t *testing.T) {
	store, _ := newStore(t)
	tok, err := store.Issue("s", time.Minute)
	gt.NoError(t, err).Required()

	testCases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before expiry", epoch.Add(59 * time.Second), true},
		{"one millisecond before expiry", tok.Expiry().Add(-time.Millisecond), true},
		{"exactly at expiry", tok.Expiry(), false},
		{"after expiry", epoch.Add(2 * time.Minute), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := store.IsAuthorized(tc.now)
			gt.NoError(t, err).Required()
			gt.Value(t, ok).Equal(tc.want)
		})
	}
}

func TestIsAuthorized_EmptyOrMissingDirectory(t *testing.T) {
	store, _ := newStore(t)
	ok, err := store.IsAuthorized(epoch)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()

	missing := token.NewStore(filepath.Join(t.TempDir(), "absent"))
	ok, err = missing.IsAuthorized(epoch)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()
}

func TestIsAuthorized_SkipsCorruptFiles(t *testing.T) {
	store, _ := newStore(t)
	dir := store.Dir()

	writeRaw(t, dir, token.SessionPrefix+"0000000000001-broken.json", "{not json")
	writeRaw(t, dir, token.SessionPrefix+"0000000000002-noexpiry.json", `{"token":"x","session_id":"s"}`)
	writeRaw(t, dir, token.SessionPrefix+"0000000000003-empty.json", "")

	ok, err := store.IsAuthorized(epoch)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()

	// A valid token next to corrupt ones still authorizes.
	far := epoch.Add(time.Hour).UnixMilli()
	writeRaw(t, dir, token.SessionPrefix+"0000000000004-good.json",
		`{"token":"good","created_at":1,"expires_at":`+itoa(far)+`,"session_id":"s"}`)

	ok, err = store.IsAuthorized(epoch)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
}

func TestIsAuthorized_IgnoresUnprefixedAndOperationTokens(t *testing.T) {
	store, _ := newStore(t)
	far := itoa(epoch.Add(time.Hour).UnixMilli())
	writeRaw(t, store.Dir(), "other-token.json", `{"token":"x","expires_at":`+far+`}`)
	writeRaw(t, store.Dir(), ".pending-123", `{"token":"x","expires_at":`+far+`}`)

	_, err := store.IssueOperation("s", time.Hour)
	gt.NoError(t, err).Required()

	ok, err := store.IsAuthorized(epoch)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()
}

func TestIsAuthorized_AnySessionAuthorizes(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Issue("someone-else", time.Minute)
	gt.NoError(t, err).Required()

	ok, err := store.IsAuthorized(epoch)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
}

func TestIsAuthorized_DirectoryIsAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir")
	gt.NoError(t, os.WriteFile(path, []byte("x"), 0o600)).Required()

	_, err := token.NewStore(path).IsAuthorized(epoch)
	gt.Error(t, err)
	gt.Bool(t, errors.Is(err, token.ErrDirUnavailable)).True()
}

func TestPurgeAll(t *testing.T) {
	store, _ := newStore(t)
	for i := 0; i < 3; i++ {
		_, err := store.Issue("s", time.Hour)
		gt.NoError(t, err).Required()
	}
	_, err := store.IssueOperation("s", time.Hour)
	gt.NoError(t, err).Required()
	writeRaw(t, store.Dir(), token.SessionPrefix+"0000000000001-expired.json", `{"token":"e","expires_at":1}`)
	writeRaw(t, store.Dir(), "keep.txt", "unrelated")

	n, err := store.PurgeAll()
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(5)

	entries, err := os.ReadDir(store.Dir())
	gt.NoError(t, err).Required()
	gt.Array(t, entries).Length(1)
	gt.Value(t, entries[0].Name()).Equal("keep.txt")

	ok, err := store.IsAuthorized(epoch)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()

	n, err = store.PurgeAll()
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(0)
}

func TestConsume(t *testing.T) {
	store, _ := newStore(t)
	op, err := store.IssueOperation("s", time.Minute)
	gt.NoError(t, err).Required()

	spent, err := store.Consume(op.Token, epoch)
	gt.NoError(t, err).Required()
	gt.Value(t, spent).NotNil()
	gt.Value(t, spent.SessionID).Equal("s")

	spent, err = store.Consume(op.Token, epoch)
	gt.NoError(t, err).Required()
	gt.Value(t, spent).Nil()
}

func TestConsume_Expired(t *testing.T) {
	store, _ := newStore(t)
	op, err := store.IssueOperation("s", time.Minute)
	gt.NoError(t, err).Required()

	spent, err := store.Consume(op.Token, epoch.Add(time.Hour))
	gt.NoError(t, err).Required()
	gt.Value(t, spent).Nil()

	spent, err = store.Consume("unknown", epoch)
	gt.NoError(t, err).Required()
	gt.Value(t, spent).Nil()
}

func TestList(t *testing.T) {
	store, c := newStore(t)
	_, err := store.Issue("old", time.Second)
	gt.NoError(t, err).Required()
	c.Advance(time.Second)
	_, err = store.Issue("new", time.Minute)
	gt.NoError(t, err).Required()
	writeRaw(t, store.Dir(), token.SessionPrefix+"0000000000000-bad.json", "nope")

	tokens, err := store.List()
	gt.NoError(t, err).Required()
	gt.Array(t, tokens).Length(2)
	gt.Value(t, tokens[0].SessionID).Equal("new")
	gt.Value(t, tokens[1].SessionID).Equal("old")
}
