package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/easeaico/adk-compliance-agent/internal/gate"
	"github.com/easeaico/adk-compliance-agent/internal/logging"
	"github.com/easeaico/adk-compliance-agent/internal/token"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func output(c *cli.Command) io.Writer {
	if w := c.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func cmdToken(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue, check and purge authorization tokens",
		Commands: []*cli.Command{
			cmdTokenIssue(g),
			cmdTokenCheck(g),
			cmdTokenList(g),
			cmdTokenConsume(g),
			cmdTokenPurge(g),
		},
	}
}

func cmdTokenIssue(g *globals) *cli.Command {
	var (
		sessionID string
		ttl       time.Duration
		operation bool
	)

	return &cli.Command{
		Name:  "issue",
		Usage: "Write a new token and print it as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "session-id",
				Usage:       "Session the token is issued for",
				Required:    true,
				Sources:     cli.EnvVars("SESSION_ID"),
				Destination: &sessionID,
			},
			&cli.DurationFlag{
				Name:        "ttl",
				Usage:       "Token lifetime (defaults to $TOKEN_TTL or 30m)",
				Destination: &ttl,
			},
			&cli.BoolFlag{
				Name:        "operation",
				Usage:       "Issue a single-use operation token instead of a session token",
				Destination: &operation,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if ttl == 0 {
				ttl = g.cfg.TokenTTL
			}

			store := token.NewStore(g.cfg.TokenDir, token.WithLogger(logging.From(ctx)))
			var (
				t   *token.Token
				err error
			)
			if operation {
				t, err = store.IssueOperation(sessionID, ttl)
			} else {
				t, err = gate.IssueSessionToken(g.cfg.TokenDir, sessionID, ttl)
			}
			if err != nil {
				return goerr.Wrap(err, "failed to issue token")
			}

			logging.From(ctx).Info("issued token",
				"session_id", t.SessionID, "operation", operation, "expires_at", t.Expiry())
			return writeJSON(output(c), t)
		},
	}
}

func cmdTokenCheck(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Exit 0 when a valid session token exists, 1 otherwise",
		Action: func(ctx context.Context, c *cli.Command) error {
			ok, err := gate.IsCurrentlyAuthorized(g.cfg.TokenDir, time.Now())
			if err != nil {
				return goerr.Wrap(err, "failed to check authorization")
			}
			if !ok {
				return cli.Exit("not authorized", 1)
			}
			fmt.Fprintln(output(c), "authorized")
			return nil
		},
	}
}

func cmdTokenList(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Print session tokens, newest first",
		Action: func(ctx context.Context, c *cli.Command) error {
			tokens, err := token.NewStore(g.cfg.TokenDir).List()
			if err != nil {
				return goerr.Wrap(err, "failed to list tokens")
			}

			now := time.Now()
			w := output(c)
			for _, t := range tokens {
				state := "valid"
				if !t.ValidAt(now) {
					state = "expired"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.SessionID, t.Expiry().Format(time.RFC3339), state)
			}
			return nil
		},
	}
}

func cmdTokenConsume(g *globals) *cli.Command {
	var ttl time.Duration

	return &cli.Command{
		Name:      "consume",
		Usage:     "Redeem a single-use operation token for a session token",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "ttl",
				Usage:       "Lifetime of the granted session token (defaults to $TOKEN_TTL or 30m)",
				Destination: &ttl,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			value := c.Args().First()
			if value == "" {
				return goerr.New("token value is required")
			}
			if ttl == 0 {
				ttl = g.cfg.TokenTTL
			}

			t, err := gate.RedeemOperationToken(g.cfg.TokenDir, value, time.Now(), ttl)
			if err != nil {
				return goerr.Wrap(err, "failed to consume token")
			}
			if t == nil {
				return cli.Exit("operation token invalid or expired", 1)
			}

			logging.From(ctx).Info("redeemed operation token",
				"session_id", t.SessionID, "expires_at", t.Expiry())
			return writeJSON(output(c), t)
		},
	}
}

func cmdTokenPurge(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete every token file, expired or not",
		Action: func(ctx context.Context, c *cli.Command) error {
			n, err := gate.PurgeTokens(g.cfg.TokenDir)
			if err != nil {
				return goerr.Wrap(err, "failed to purge tokens")
			}
			logging.From(ctx).Info("purged tokens", "count", n)
			fmt.Fprintf(output(c), "removed %d token(s)\n", n)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}
