package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"
)

// setupEnv points every setting at a temporary directory.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "memory.db"))
	t.Setenv("TOKEN_DIR", filepath.Join(dir, "tokens"))
	t.Setenv("WORK_DIR", dir)
	t.Setenv("TOKEN_TTL", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp("test", &out)
	// Keep cli.Exit from terminating the test binary.
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	err := app.Run(context.Background(), append([]string{"compliance-agent"}, args...))
	return out.String(), err
}

func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

func TestTokenLifecycle(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "token", "check")
	gt.Value(t, exitCode(err)).Equal(1)

	out, err := run(t, "token", "issue", "--session-id", "s-1", "--ttl", "10m")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains(`"session_id": "s-1"`)

	out, err = run(t, "token", "check")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("authorized")

	out, err = run(t, "token", "list")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("s-1")
	gt.String(t, out).Contains("valid")

	out, err = run(t, "token", "purge")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("removed 1 token(s)")

	_, err = run(t, "token", "check")
	gt.Value(t, exitCode(err)).Equal(1)
}

func TestTokenOperation(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "token", "issue", "--session-id", "s-2", "--operation")
	gt.NoError(t, err).Required()

	// Operation tokens do not authorize the session gate.
	_, err = run(t, "token", "check")
	gt.Value(t, exitCode(err)).Equal(1)

	start := strings.Index(out, `"token": "`) + len(`"token": "`)
	value := out[start : start+strings.Index(out[start:], `"`)]

	out, err = run(t, "token", "consume", value)
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains(`"session_id": "s-2"`)

	// The redeemed operation token grants a session token.
	out, err = run(t, "token", "check")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("authorized")

	_, err = run(t, "token", "consume", value)
	gt.Value(t, exitCode(err)).Equal(1)
}

func TestTokenDirFlagOverridesEnv(t *testing.T) {
	dir := setupEnv(t)
	other := filepath.Join(dir, "other-tokens")

	_, err := run(t, "--token-dir", other, "token", "issue", "--session-id", "s-3")
	gt.NoError(t, err).Required()

	entries, err := os.ReadDir(other)
	gt.NoError(t, err).Required()
	gt.Array(t, entries).Length(1)

	_, err = run(t, "token", "check")
	gt.Value(t, exitCode(err)).Equal(1)
}

func TestGlobalFlagsReadEnv(t *testing.T) {
	want := map[string]string{
		"db-type":      "DB_TYPE",
		"database-url": "DATABASE_URL",
		"token-dir":    "TOKEN_DIR",
		"work-dir":     "WORK_DIR",
		"log-level":    "LOG_LEVEL",
		"log-format":   "LOG_FORMAT",
	}
	for _, f := range (&globals{}).flags() {
		sf, ok := f.(*cli.StringFlag)
		if !ok {
			t.Fatalf("unexpected flag type %T", f)
		}
		gt.Value(t, sf.Sources.EnvKeys()).Equal([]string{want[sf.Name]})
	}

	dir := setupEnv(t)
	envDir := filepath.Join(dir, "env-tokens")
	t.Setenv("TOKEN_DIR", envDir)

	_, err := run(t, "token", "issue", "--session-id", "s-env")
	gt.NoError(t, err).Required()

	entries, err := os.ReadDir(envDir)
	gt.NoError(t, err).Required()
	gt.Array(t, entries).Length(1)
}

func TestMigrateCommand(t *testing.T) {
	dir := setupEnv(t)
	source := filepath.Join(dir, "legacy.jsonl")
	gt.NoError(t, os.WriteFile(source, []byte(
		`{"id": "a", "type": "effective", "domain": "Process", "situation": "release notes were missing", "approach": "generated them from merged PR titles", "outcome": "notes shipped on time", "reasoning": "titles were already curated"}
{"id": "b", "revision_of": "a", "type": "effective", "domain": "Process", "situation": "PR titles were inconsistent", "approach": "added a title lint to CI", "outcome": "notes need no manual edits", "reasoning": "fix the input, not the output"}
{"id": "c", "revision_of": "zz", "type": "ineffective", "domain": "Decision", "situation": "picked a library by stars", "approach": "compared only popularity", "outcome": "abandoned a month later", "reasoning": "maintenance activity matters more"}
`), 0o600)).Required()

	out, err := run(t, "migrate", "--source", source, "--dry-run")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("dry run, nothing written")
	gt.String(t, out).Contains("migrated:         3")
	gt.String(t, out).Contains("unresolved parent: c -> zz (parent-not-in-source)")

	out, err = run(t, "migrate", "--source", source)
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("migration committed")
	gt.String(t, out).Contains("revisions mapped: 1")

	store, err := memory.NewSQLiteStore(context.Background(), filepath.Join(dir, "memory.db"))
	gt.NoError(t, err).Required()
	defer store.Close()
	n, err := store.Count(context.Background())
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(3)
}

func TestMigrateCommand_Errors(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "migrate", "--source", filepath.Join(dir, "missing.json"))
	gt.Error(t, err)
	gt.String(t, out).Contains("nothing was migrated")

	_, err = run(t, "migrate", "--source", filepath.Join(dir, "missing.json"), "--threshold", "1.5")
	gt.Error(t, err)
}

func TestAgentRequiresAPIKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("GOOGLE_API_KEY", "")

	_, err := run(t, "agent")
	gt.Error(t, err)
}

func TestInvalidConfiguration(t *testing.T) {
	setupEnv(t)
	t.Setenv("DB_TYPE", "mysql")

	_, err := run(t, "token", "check")
	gt.Error(t, err)
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := buildSystemPrompt(memory.Domains)
	for _, d := range memory.Domains {
		gt.String(t, prompt).Contains("- " + string(d))
	}
	gt.String(t, prompt).Contains("search_experiences")
}
