package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/subsidy-match/internal/catalog"
	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/rules"
	"github.com/sells-group/subsidy-match/internal/scoring"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a single rule set against a dataset",
	Long:  "Validates and evaluates an ad-hoc rule set and prints the verdict tree and score. Nothing is stored.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rulesPath, _ := cmd.Flags().GetString("rules")
		datasetPath, _ := cmd.Flags().GetString("dataset")
		profilePath, _ := cmd.Flags().GetString("profile")
		useSchema, _ := cmd.Flags().GetBool("catalog-schema")
		asJSON, _ := cmd.Flags().GetBool("json")

		node, err := readRuleSet(rulesPath)
		if err != nil {
			return err
		}

		var schema rules.Schema
		if useSchema {
			snap, err := catalog.LoadFile(cfg.Catalog.Path, catalog.Options{})
			if err != nil {
				return eris.Wrap(err, "eval: load catalog schema")
			}
			schema = snap.Schema()
		}
		if errs := rules.Validate(node, schema); len(errs) > 0 {
			return eris.Errorf("eval: invalid rule set: %s", rules.JoinErrors(errs))
		}

		ds, err := readDataset(datasetPath, profilePath, time.Now().UTC())
		if err != nil {
			return err
		}
		if ds == nil {
			ds = eval.Dataset{}
		}

		verdict, res := scoring.Assess(node, rules.TotalWeight(node), ds)

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, struct {
				scoring.Result
				Explanation *eval.Verdict `json:"explanation"`
			}{res, verdict})
		}
		formatVerdict(out, verdict, 0)
		formatScore(out, res)
		return nil
	},
}

func init() {
	evalCmd.Flags().String("rules", "", "rule set file (JSON or YAML)")
	evalCmd.Flags().String("dataset", "", "dataset file (JSON or YAML)")
	evalCmd.Flags().String("profile", "", "farm profile file to derive the dataset from")
	evalCmd.Flags().Bool("catalog-schema", false, "validate fields against the configured catalog's schema")
	evalCmd.Flags().Bool("json", false, "print the verdict and score as JSON")
	_ = evalCmd.MarkFlagRequired("rules")
	rootCmd.AddCommand(evalCmd)
}

// formatVerdict writes the verdict tree, one node per line.
func formatVerdict(out io.Writer, v *eval.Verdict, depth int) {
	if v == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	mark := map[eval.Outcome]string{eval.Pass: "+", eval.Fail: "-", eval.Unknown: "?"}[v.Outcome]

	line := fmt.Sprintf("%s[%s] %s", indent, mark, v.Label)
	if v.Kind == eval.KindLeaf {
		line += fmt.Sprintf("  (%g/%g)", v.Contribution, v.Weight)
		switch {
		case v.Error != nil:
			line += "  " + v.Error.Error()
		case v.Missing:
			line += "  missing"
		case v.Actual != nil:
			line += fmt.Sprintf("  actual=%v", v.Actual)
		}
	}
	if v.Hard {
		line += "  HARD"
	}
	_, _ = fmt.Fprintln(out, line)

	for _, c := range v.Children {
		formatVerdict(out, c, depth+1)
	}
}

// formatScore writes the score summary.
func formatScore(out io.Writer, res scoring.Result) {
	_, _ = fmt.Fprintf(out, "\nscore %.0f (%s)  eligible=%s  earned %g of %g\n",
		res.Score, res.Band, yesNo(res.Eligible), res.Earned, res.Possible)
	if res.HardFailed {
		_, _ = fmt.Fprintln(out, "a hard requirement failed")
	}
	if len(res.Missing) > 0 {
		_, _ = fmt.Fprintf(out, "missing: %s\n", strings.Join(res.Missing, ", "))
	}
}
