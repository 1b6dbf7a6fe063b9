package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/easeaico/adk-compliance-agent/internal/dedup"
	"github.com/easeaico/adk-compliance-agent/internal/logging"
	"github.com/easeaico/adk-compliance-agent/internal/migrate"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdMigrate(g *globals) *cli.Command {
	var (
		source     string
		dryRun     bool
		noDupCheck bool
		threshold  float64
	)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Import legacy experience records into the experience store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "source",
				Usage:       "Legacy JSON, JSON lines or SQLite file (required)",
				Required:    true,
				Sources:     cli.EnvVars("MIGRATE_SOURCE"),
				Destination: &source,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "Report what would be migrated without writing",
				Destination: &dryRun,
			},
			&cli.BoolFlag{
				Name:        "no-dup-check",
				Usage:       "Insert records even when a near-duplicate exists",
				Destination: &noDupCheck,
			},
			&cli.Float64Flag{
				Name:        "threshold",
				Usage:       "Similarity at or above which a record is a duplicate",
				Value:       dedup.DefaultThreshold,
				Destination: &threshold,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if threshold <= 0 || threshold > 1 {
				return goerr.New("threshold must be in (0, 1]", goerr.V("threshold", threshold))
			}

			opts := migrate.Options{
				DryRun:          dryRun,
				CheckDuplicates: !noDupCheck,
				Threshold:       threshold,
			}
			target := migrate.Target{DBType: g.cfg.DBType, DatabaseURL: g.cfg.DatabaseURL}

			engine := migrate.New(migrate.WithLogger(logging.From(ctx)))
			report, err := engine.Run(ctx, source, target, opts)
			w := output(c)
			if err != nil {
				fmt.Fprintln(w, "migration aborted: nothing was migrated")
				return err
			}

			printReport(w, report)
			return nil
		},
	}
}

func printReport(w io.Writer, r *migrate.Report) {
	mode := "committed"
	if r.DryRun {
		mode = "dry run, nothing written"
	}
	fmt.Fprintf(w, "migration %s\n", mode)
	fmt.Fprintf(w, "  total:            %d\n", r.Total)
	fmt.Fprintf(w, "  migrated:         %d\n", r.Migrated)
	fmt.Fprintf(w, "  duplicates:       %d\n", r.Duplicates)
	fmt.Fprintf(w, "  errors:           %d\n", r.Errors)
	fmt.Fprintf(w, "  revisions mapped: %d\n", r.RevisionsMapped)

	for _, u := range r.Unresolved {
		fmt.Fprintf(w, "  unresolved parent: %s -> %s (%s), migrated without link\n", u.LegacyID, u.LegacyParent, u.Reason)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed: %s: %v\n", f.LegacyID, f.Err)
	}
}
