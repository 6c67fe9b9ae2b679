package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"squeeze-discovery/internal/adapter"
	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/screener"
	"squeeze-discovery/internal/storage/migrations"
	pgstore "squeeze-discovery/internal/storage/postgres"
)

func newScanCmd(rt *runtime) *cobra.Command {
	var screenerOnly bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery tick and print its summary",
		Long: `Run one discovery tick: scan, prefilter, enrich, score and persist.
With --screener-only the external scan runs alone and its artifact is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, rt)
			if err != nil {
				return rt.fail("build components", err)
			}
			defer a.Close()

			if screenerOnly {
				res, err := a.gateway.RunSingleton(ctx, screener.RunOptions{
					Limit:      rt.cfg.Screener.Limit,
					Budget:     rt.cfg.Screener.Budget,
					OutputPath: rt.cfg.Screener.OutputPath,
					Caller:     "cli",
				})
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				if err != nil {
					return rt.fail("scan", err)
				}
				return nil
			}

			res, err := a.orch.Tick(ctx)
			if err != nil {
				return rt.fail("tick", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&screenerOnly, "screener-only", false, "Run only the external scan")
	return cmd
}

func newIngestCmd(rt *runtime) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Ingest a JSON array or {\"items\": [...]} file ('-' reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hint := domain.Source(source)
			if hint != domain.SourceAuto && !hint.IsValid() {
				return fmt.Errorf("unknown source %q", source)
			}

			body, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return rt.fail("read input", err)
			}
			items, err := adapter.DecodeBatch(body)
			if err != nil {
				return rt.fail("decode input", err)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, rt)
			if err != nil {
				return rt.fail("build components", err)
			}
			defer a.Close()

			res := a.ingestion.IngestRaw(ctx, items, hint)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("ingestion unsuccessful: %d inserted, %d updated, %d invalid, %d failed",
					res.Inserted, res.Updated, res.Invalid, res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Item shape: screener, enrichment, canonical or cold_tape_seed (sniffed per item when empty)")
	return cmd
}

func newLabelCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "label",
		Short: "Label every discovery whose outcome horizon has elapsed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, rt)
			if err != nil {
				return rt.fail("build components", err)
			}
			defer a.Close()

			sum, err := a.labeler.Run(ctx)
			if sum != nil {
				if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil {
					return perr
				}
			}
			if err != nil {
				return rt.fail("label", err)
			}
			return nil
		},
	}
}

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := rt.cfg
			if cfg.Postgres.DSN == "" && cfg.Clickhouse.DSN == "" {
				return errors.New("nothing to migrate: set postgres.dsn and/or clickhouse.dsn")
			}

			if cfg.Postgres.DSN != "" {
				pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
				if err != nil {
					return rt.fail("connect to postgres", err)
				}
				defer pool.Close()
				if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
					return rt.fail("postgres migrations", err)
				}
				rt.logger.Info("postgres migrations applied")
			}

			if cfg.Clickhouse.DSN != "" {
				conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Clickhouse.DSN)
				if err != nil {
					return rt.fail("clickhouse migrations", err)
				}
				defer conn.Close()
				rt.logger.Info("clickhouse migrations applied")
			}
			return nil
		},
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
