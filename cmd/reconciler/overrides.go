package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/export"
	"github.com/nged-substations/internal/normalize"
	"github.com/nged-substations/internal/override"
)

// createOverridesCmd groups the curator commands for the override store
func createOverridesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "overrides",
		Aliases: []string{"override"},
		Short:   "Inspect and edit curator overrides",
	}

	cmd.AddCommand(createOverridesListCmd())
	cmd.AddCommand(createOverridesGetCmd())
	cmd.AddCommand(createOverridesSetCmd())
	cmd.AddCommand(createOverridesDeleteCmd())
	cmd.AddCommand(createOverridesHistoryCmd())
	return cmd
}

func createOverridesListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list [source]",
		Short: "List overrides, for one source or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var sources []dataset.SourceID
			if len(args) == 1 {
				sources = []dataset.SourceID{dataset.SourceID(args[0])}
			} else if sources, err = a.Store.Sources(ctx); err != nil {
				return err
			}

			var entries []override.Entry
			for _, source := range sources {
				found, err := a.Store.Entries(ctx, source)
				if err != nil {
					return err
				}
				entries = append(entries, found...)
			}

			if asJSON {
				if entries == nil {
					entries = []override.Entry{}
				}
				return printJSON(cmd, entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tSIMPLIFIED NAME\tCANONICAL ID\tUPDATED BY\tUPDATED AT")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Source, e.SimplifiedName, e.CanonicalID, e.UpdatedBy, e.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func createOverridesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [source] [simplified name]",
		Short: "Show one override",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			source, name := keyArgs(args)
			entry, ok, err := a.Store.Lookup(ctx, source, name)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no override for %s/%q", source, name)
			}
			return printJSON(cmd, entry)
		},
	}
}

func createOverridesSetCmd() *cobra.Command {
	var (
		replace bool
		by      string
		note    string
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "set [source] [simplified name] [canonical id]",
		Short: "Map a simplified name to a canonical location id",
		Long: `Create or update an override. Changing the canonical id of an existing
override needs --replace. With --raw the name is simplified first, so a name
can be pasted straight from the unresolved report.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			canonicalID := args[len(args)-1]
			source, name := keyArgs(args[:len(args)-1])
			name, err = overrideKey(a.Normalizer, source, name, raw)
			if err != nil {
				return err
			}

			var opts []override.WriteOption
			if replace {
				opts = append(opts, override.WithReplace())
			}
			err = a.Store.Upsert(ctx, override.Entry{
				Source:         source,
				SimplifiedName: name,
				CanonicalID:    canonicalID,
				UpdatedBy:      by,
				Note:           note,
			}, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%q -> %s\n", source, name, canonicalID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "allow changing an existing mapping")
	cmd.Flags().StringVar(&by, "by", "", "curator name recorded with the change")
	cmd.Flags().StringVar(&note, "note", "", "free-text note")
	cmd.Flags().BoolVar(&raw, "raw", false, "simplify the name before storing")
	return cmd
}

// overrideKey returns the key to store. Raw names are simplified; anything
// else must already be simplified or it could never match a live record.
func overrideKey(n *normalize.Normalizer, source dataset.SourceID, name string, raw bool) (string, error) {
	simplified := n.Simplify(name, source)
	if raw || simplified == name {
		return simplified, nil
	}
	return "", fmt.Errorf("%q is not a simplified name (it simplifies to %q); pass --raw to store the simplified form",
		name, simplified)
}

func createOverridesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [source] [simplified name]",
		Short: "Remove an override",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			source, name := keyArgs(args)
			if err := a.Store.Delete(ctx, source, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%q\n", source, name)
			return nil
		},
	}
}

func createOverridesHistoryCmd() *cobra.Command {
	var asCSV bool

	cmd := &cobra.Command{
		Use:   "history [source] [simplified name]",
		Short: "Show the audit trail of an override (postgres backend)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			historian, ok := a.Store.(override.Historian)
			if !ok {
				return fmt.Errorf("the %s store backend keeps no history", cfg.Store.Backend)
			}
			source, name := keyArgs(args)
			records, err := historian.History(ctx, source, name)
			if err != nil {
				return err
			}
			if asCSV {
				return export.WriteHistoryCSV(cmd.OutOrStdout(), records)
			}
			return printJSON(cmd, records)
		},
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "print as CSV")
	return cmd
}
