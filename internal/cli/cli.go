// Package cli wires configuration, logging and the subcommands of the
// agent binary.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/easeaico/adk-compliance-agent/internal/config"
	"github.com/easeaico/adk-compliance-agent/internal/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Run executes the command line in args.
func Run(ctx context.Context, args []string, version string) error {
	app := newApp(version, os.Stdout)
	if err := app.Run(ctx, args); err != nil {
		logging.Default().Error("failed to run app", "error", err)
		return err
	}
	return nil
}

// globals holds settings shared by every subcommand: environment
// configuration overridden by root flags.
type globals struct {
	cfg config.Config

	dbType      string
	databaseURL string
	tokenDir    string
	workDir     string
	logLevel    string
	logFormat   string
}

func (g *globals) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-type",
			Usage:       "Experience store backend (sqlite or postgres)",
			Sources:     cli.EnvVars("DB_TYPE"),
			Destination: &g.dbType,
		},
		&cli.StringFlag{
			Name:        "database-url",
			Usage:       "PostgreSQL connection string or SQLite file path",
			Sources:     cli.EnvVars("DATABASE_URL"),
			Destination: &g.databaseURL,
		},
		&cli.StringFlag{
			Name:        "token-dir",
			Usage:       "Directory holding authorization tokens",
			Sources:     cli.EnvVars("TOKEN_DIR"),
			Destination: &g.tokenDir,
		},
		&cli.StringFlag{
			Name:        "work-dir",
			Usage:       "Working directory for file tools",
			Sources:     cli.EnvVars("WORK_DIR"),
			Destination: &g.workDir,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Sources:     cli.EnvVars("LOG_LEVEL"),
			Destination: &g.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Sources:     cli.EnvVars("LOG_FORMAT"),
			Destination: &g.logFormat,
		},
	}
}

// load reads the environment, applies any flag set on the command line
// or through its env source, then fills defaults so that derived paths
// follow the overrides.
func (g *globals) load(c *cli.Command) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	overrides := []struct {
		flag  string
		value string
		dst   *string
	}{
		{"db-type", g.dbType, &cfg.DBType},
		{"database-url", g.databaseURL, &cfg.DatabaseURL},
		{"token-dir", g.tokenDir, &cfg.TokenDir},
		{"work-dir", g.workDir, &cfg.WorkDir},
		{"log-level", g.logLevel, &cfg.LogLevel},
		{"log-format", g.logFormat, &cfg.LogFormat},
	}
	for _, o := range overrides {
		if c.IsSet(o.flag) {
			*o.dst = o.value
		}
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.cfg = cfg

	return logging.Configure(logging.Config{
		Level:  cfg.LogLevel,
		Format: logging.Format(cfg.LogFormat),
	})
}

func newApp(version string, w io.Writer) *cli.Command {
	g := &globals{}

	return &cli.Command{
		Name:    "compliance-agent",
		Usage:   "Coding agent with a gated experience memory",
		Version: version,
		Writer:  w,
		Flags:   g.flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := g.load(c); err != nil {
				return ctx, goerr.Wrap(err, "failed to load configuration")
			}
			logger := logging.Default()
			logger.Debug("Starting compliance-agent", "config", g.cfg)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			cmdAgent(g),
			cmdMigrate(g),
			cmdToken(g),
		},
	}
}
