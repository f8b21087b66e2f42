package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nged-substations/internal/app"
	"github.com/nged-substations/internal/config"
	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/db"
	"github.com/nged-substations/internal/export"
	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/reconcile"
	"github.com/nged-substations/internal/web"
)

var (
	configFile string
	v          = config.New()

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Substation name reconciliation",
		Long: `Joins the live primary transformer flow feed to the substation location
table by simplified name, applying curator overrides for names the automatic
join cannot resolve.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(); err != nil {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			var err error
			if cfg, err = config.LoadWith(v, configFile); err != nil {
				return err
			}
			logger := logging.New(cfg.Log)
			logging.SetDefault(logger)
			if cfg.ConfigFile != "" {
				logger.Debug().Str("file", cfg.ConfigFile).Msg("config loaded")
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default ./reconciler.yaml if present)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("store", config.BackendFile, "override store backend: file, postgres, memory")
	flags.String("store-path", "overrides.csv", "override file for the file backend (.csv, .yaml or .json)")
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("store.backend", flags.Lookup("store"))
	v.BindPFlag("store.path", flags.Lookup("store-path"))

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createNormalizeCmd())
	rootCmd.AddCommand(createOverridesCmd())
	rootCmd.AddCommand(createValidateCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp assembles the components for one command
func openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfg, *logging.Default())
}

// createRunCmd reconciles the configured tables and exports the results
func createRunCmd() *cobra.Command {
	var (
		outDir   string
		asJSON   bool
		liveArgs []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile live names against the location table",
		Long: `Reconcile the configured live table against the reference table. Extra live
tables can be given as --live id=path; they are reconciled concurrently.
Exits non-zero when any override fails its integrity check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			inputs, err := loadInputs(a, liveArgs)
			if err != nil {
				return err
			}

			outcomes, err := a.Reconciler.RunAll(ctx, inputs, cfg.Batch.Concurrency)
			if err != nil {
				return err
			}

			exporter := export.NewExporter(outDir, &a.Logger)
			for _, o := range outcomes {
				if asJSON {
					if err := export.WriteJSON(cmd.OutOrStdout(), o.Result); err != nil {
						return err
					}
				} else {
					printSummary(cmd, o.Result)
				}
				if outDir != "" {
					files, err := exporter.ExportAll(o.Result)
					if err != nil {
						return err
					}
					if !asJSON {
						fmt.Fprintf(cmd.OutOrStdout(), "  wrote %s, %s, %s\n", files.Matches, files.Unresolved, files.Result)
					}
				}
			}
			return reconcile.Errs(outcomes)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory for matches, unresolved and result files")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().StringArrayVar(&liveArgs, "live", nil, "additional live table as id=path (repeatable)")
	return cmd
}

// loadInputs returns the configured pair followed by one pair per --live table
func loadInputs(a *app.App, liveArgs []string) ([]reconcile.Input, error) {
	in, err := a.LoadInput()
	if err != nil {
		return nil, err
	}
	inputs := []reconcile.Input{in}

	for _, arg := range liveArgs {
		id, path, ok := strings.Cut(arg, "=")
		if !ok || id == "" || path == "" {
			return nil, fmt.Errorf("invalid --live %q, want id=path", arg)
		}
		src := cfg.Sources.Live
		src.ID = dataset.SourceID(id)
		src.Path = path
		live, _, err := app.LoadTable(src, &a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load live table %s: %w", id, err)
		}
		inputs = append(inputs, reconcile.Input{Live: live, Reference: in.Reference})
	}
	return inputs, nil
}

func printSummary(cmd *cobra.Command, res *reconcile.Result) {
	out := cmd.OutOrStdout()
	s := res.Stats
	fmt.Fprintf(out, "%s -> %s: %s (snapshot %s)\n", res.Live, res.Reference, res.State, res.SnapshotID)
	fmt.Fprintf(out, "  live records:     %d\n", s.LiveRecords)
	fmt.Fprintf(out, "  automatic:        %d\n", s.Automatic)
	fmt.Fprintf(out, "  override:         %d\n", s.Override)
	fmt.Fprintf(out, "  unresolved:       %d\n", s.Unresolved)
	fmt.Fprintf(out, "  collisions:       %d\n", s.Collisions)
	fmt.Fprintf(out, "  anomalies:        %d\n", s.Anomalies)
	fmt.Fprintf(out, "  integrity errors: %d\n", s.IntegrityErrors)

	for _, e := range res.SoftErrors() {
		fmt.Fprintf(out, "    note %v\n", e)
	}
	for _, u := range res.Unresolved {
		fmt.Fprintf(out, "    unresolved %-14s %q (%s)\n", u.Reason, u.RawName, u.SimplifiedName)
	}
	for _, w := range res.Warnings {
		if w.SuggestedName != "" {
			fmt.Fprintf(out, "    warning %s %q -> %s (use %q)\n", w.Kind, w.SimplifiedName, w.OverrideID, w.SuggestedName)
			continue
		}
		fmt.Fprintf(out, "    warning %s %s -> %s\n", w.Kind, w.SimplifiedName, w.OverrideID)
	}
	for _, e := range res.IntegrityErrors {
		fmt.Fprintf(out, "    error %v\n", e)
	}
}

// createNormalizeCmd shows every simplification stage for a name
func createNormalizeCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "normalize [name]",
		Short: "Show how a name is simplified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := app.NewNormalizer(cfg.Normalize)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, step := range n.Explain(args[0], dataset.SourceID(source)) {
				fmt.Fprintf(out, "%-12s %q\n", step.Stage, step.Output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", string(dataset.LivePrimaryFlows), "source dataset id whose rules apply")
	return cmd
}

// createValidateCmd checks configuration and that the stored overrides
// resolve against the reference table
func createValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check configuration, inputs and overrides without exporting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration ok")

			in, err := a.LoadInput()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "inputs ok: %d live, %d reference\n", in.Live.Len(), in.Reference.Len())

			res, err := a.Reconciler.Run(ctx, in)
			if res == nil {
				return err
			}
			fmt.Fprintf(out, "overrides: %d applied, %d invalid, %d warnings\n",
				res.Stats.Override, res.Stats.IntegrityErrors, len(res.Warnings))
			return err
		},
	}
}

// createServeCmd starts the HTTP API
func createServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the override and reconciliation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			a.Logger.Info().
				Str("store", cfg.Store.Backend).
				Bool("auth", cfg.Auth.Enabled).
				Bool("export", cfg.Features.ExportEnabled).
				Bool("manual_override", cfg.Features.ManualOverrideEnabled).
				Msg("features")
			return web.NewServer(a).Start()
		},
	}
	cmd.Flags().Int("port", 8080, "listen port")
	v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

// createPingCmd tests database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.NewConnection(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			var version string
			if err := conn.DB.GetContext(cmd.Context(), &version, "SELECT version()"); err != nil {
				return fmt.Errorf("database connection test failed: %w", err)
			}
			fmt.Fprintln(out, "Database connection successful!")
			fmt.Fprintln(out, version)

			var count int
			if err := conn.DB.GetContext(cmd.Context(), &count, "SELECT COUNT(*) FROM substation_name_override"); err != nil {
				fmt.Fprintln(out, "Override table not created yet")
			} else {
				fmt.Fprintf(out, "Overrides stored: %d\n", count)
			}
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// keyArgs parses "source name..." where the name may span several arguments
func keyArgs(args []string) (dataset.SourceID, string) {
	return dataset.SourceID(args[0]), strings.Join(args[1:], " ")
}
