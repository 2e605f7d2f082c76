package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/subsidy-match/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the subsidy catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Load the catalog and report invalid rule sets",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadCatalogArg(args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		invalid := snap.Invalid()
		formatCatalogProblems(out, invalid)
		_, _ = fmt.Fprintf(out, "%d subsidies, %d invalid, version %s\n", snap.Len(), len(invalid), truncateID(snap.Version()))
		if len(invalid) > 0 {
			return eris.Errorf("catalog: %d invalid subsidies", len(invalid))
		}
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list [file]",
	Short: "List catalog subsidies",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadCatalogArg(args)
		if err != nil {
			return err
		}
		formatCatalog(cmd.OutOrStdout(), snap.Entries())
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

// loadCatalogArg parses the catalog named by args, or the configured one.
// Loading is always lenient so every problem gets reported.
func loadCatalogArg(args []string) (*catalog.Snapshot, error) {
	path := cfg.Catalog.Path
	if len(args) == 1 {
		path = args[0]
	} else if err := cfg.Validate("catalog"); err != nil {
		return nil, err
	}
	snap, err := catalog.LoadFile(path, catalog.Options{})
	if err != nil {
		return nil, eris.Wrap(err, "catalog")
	}
	return snap, nil
}

// formatCatalogProblems writes one line per schema error.
func formatCatalogProblems(out io.Writer, invalid []*catalog.Entry) {
	for _, e := range invalid {
		if e.RuleSet == nil && len(e.Errors) == 0 {
			_, _ = fmt.Fprintf(out, "%s: missing rule set\n", e.Code)
			continue
		}
		for _, se := range e.Errors {
			_, _ = fmt.Fprintf(out, "%s: %s\n", e.Code, se.Error())
		}
	}
}

// formatCatalog writes a tabular list of entries.
func formatCatalog(out io.Writer, entries []*catalog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tSTATUS\tWEIGHT\tVALID\tTITLE")
	_, _ = fmt.Fprintln(w, "----\t------\t------\t-----\t-----")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%g\t%s\t%s\n", e.Code, e.Status, e.TotalWeight, yesNo(e.Valid()), e.Title)
	}
	_ = w.Flush()
}
