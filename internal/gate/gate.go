// Package gate answers one question for the tool-invocation boundary: is
// a mutating operation authorized right now? It keeps no state of its own
// and only checks that some valid session token exists. The order in
// which the TEACH, LEARN and REASON steps issue tokens is up to the tool
// layer.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/easeaico/adk-compliance-agent/internal/clock"
	"github.com/easeaico/adk-compliance-agent/internal/logging"
	"github.com/easeaico/adk-compliance-agent/internal/token"
	"github.com/m-mizutani/goerr/v2"
)

// ErrNotAuthorized is returned by Guard.Check when no valid session token
// exists.
var ErrNotAuthorized = goerr.New("operation not authorized: no valid session token")

// IsCurrentlyAuthorized reports whether tokenDir holds a session token
// that is unexpired at now.
func IsCurrentlyAuthorized(tokenDir string, now time.Time) (bool, error) {
	return token.NewStore(tokenDir).IsAuthorized(now)
}

// IssueSessionToken writes a new session token into tokenDir.
func IssueSessionToken(tokenDir, sessionID string, ttl time.Duration) (*token.Token, error) {
	return token.NewStore(tokenDir).Issue(sessionID, ttl)
}

// RedeemOperationToken spends the operation token value and, when it was
// valid at now, issues a session token for the same session that expires
// ttl after now. It returns nil when the operation token was unknown,
// expired or already spent.
func RedeemOperationToken(tokenDir, value string, now time.Time, ttl time.Duration) (*token.Token, error) {
	store := token.NewStore(tokenDir, token.WithClock(clock.Fixed(now)))
	spent, err := store.Consume(value, now)
	if err != nil || spent == nil {
		return nil, err
	}
	return store.Issue(spent.SessionID, ttl)
}

// PurgeTokens removes every token file from tokenDir.
func PurgeTokens(tokenDir string) (int, error) {
	return token.NewStore(tokenDir).PurgeAll()
}

// Guard is the form of the check handed to tool handlers.
type Guard struct {
	tokenDir string
	clock    clock.Clock
}

// NewGuard returns a Guard over tokenDir. A nil clock uses real time.
func NewGuard(tokenDir string, c clock.Clock) *Guard {
	if c == nil {
		c = clock.Real()
	}
	return &Guard{tokenDir: tokenDir, clock: c}
}

// Check returns nil when a mutating operation is authorized.
func (g *Guard) Check(ctx context.Context, operation string) error {
	ok, err := IsCurrentlyAuthorized(g.tokenDir, g.clock.Now())
	if err != nil {
		return goerr.Wrap(err, "failed to check authorization", goerr.V("operation", operation))
	}
	if !ok {
		logging.From(ctx).Warn("blocked unauthorized operation", slog.String("operation", operation))
		return goerr.Wrap(ErrNotAuthorized, "blocked", goerr.V("operation", operation))
	}
	return nil
}
