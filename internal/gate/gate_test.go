package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/easeaico/adk-compliance-agent/internal/clock"
	"github.com/easeaico/adk-compliance-agent/internal/gate"
	"github.com/easeaico/adk-compliance-agent/internal/token"
	"github.com/m-mizutani/gt"
)

func TestEntryPoints(t *testing.T) {
	dir := t.TempDir()

	ok, err := gate.IsCurrentlyAuthorized(dir, time.Now())
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()

	tok, err := gate.IssueSessionToken(dir, "session-a", time.Minute)
	gt.NoError(t, err).Required()

	ok, err = gate.IsCurrentlyAuthorized(dir, time.Now())
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()

	ok, err = gate.IsCurrentlyAuthorized(dir, tok.Expiry())
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()

	n, err := gate.PurgeTokens(dir)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(1)

	ok, err = gate.IsCurrentlyAuthorized(dir, time.Now())
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()
}

func TestGuard(t *testing.T) {
	dir := t.TempDir()
	c := clock.Fake(time.Now())
	guard := gate.NewGuard(dir, c)
	ctx := context.Background()

	err := guard.Check(ctx, "write_file")
	gt.Bool(t, errors.Is(err, gate.ErrNotAuthorized)).True()

	_, err = gate.IssueSessionToken(dir, "s", time.Minute)
	gt.NoError(t, err).Required()
	gt.NoError(t, guard.Check(ctx, "write_file"))

	c.Advance(2 * time.Minute)
	err = guard.Check(ctx, "write_file")
	gt.Bool(t, errors.Is(err, gate.ErrNotAuthorized)).True()
}

func TestRedeemOperationToken(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	op, err := token.NewStore(dir).IssueOperation("session-op", time.Minute)
	gt.NoError(t, err).Required()

	ok, err := gate.IsCurrentlyAuthorized(dir, now)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()

	sess, err := gate.RedeemOperationToken(dir, op.Token, now, 10*time.Minute)
	gt.NoError(t, err).Required()
	gt.Value(t, sess).NotNil()
	gt.Value(t, sess.SessionID).Equal("session-op")
	gt.Value(t, sess.ExpiresAt).Equal(now.UnixMilli() + (10 * time.Minute).Milliseconds())

	ok, err = gate.IsCurrentlyAuthorized(dir, now)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()

	// Single use: the second redemption grants nothing new.
	again, err := gate.RedeemOperationToken(dir, op.Token, now, 10*time.Minute)
	gt.NoError(t, err).Required()
	gt.Value(t, again).Nil()

	tokens, err := token.NewStore(dir).List()
	gt.NoError(t, err).Required()
	gt.Array(t, tokens).Length(1)
}

func TestRedeemOperationToken_Expired(t *testing.T) {
	dir := t.TempDir()
	op, err := token.NewStore(dir).IssueOperation("session-op", time.Minute)
	gt.NoError(t, err).Required()

	sess, err := gate.RedeemOperationToken(dir, op.Token, op.Expiry(), time.Minute)
	gt.NoError(t, err).Required()
	gt.Value(t, sess).Nil()

	ok, err := gate.IsCurrentlyAuthorized(dir, op.Expiry())
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()
}
