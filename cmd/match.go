package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/subsidy-match/internal/matcher"
	"github.com/sells-group/subsidy-match/internal/model"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match one applicant against the subsidy catalog",
	Long:  "Evaluates every catalog subsidy against the applicant's dataset, ranks the results and stores the run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		userID, _ := cmd.Flags().GetString("user")
		datasetPath, _ := cmd.Flags().GetString("dataset")
		profilePath, _ := cmd.Flags().GetString("profile")
		asJSON, _ := cmd.Flags().GetBool("json")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ds, err := readDataset(datasetPath, profilePath, time.Now().UTC())
		if err != nil {
			return err
		}

		env, err := initMatchEnv(ctx, "match", !dryRun)
		if err != nil {
			return err
		}
		defer env.Close()

		var res *matcher.Result
		if ds != nil {
			res, err = env.Matcher.MatchDataset(ctx, userID, ds)
		} else {
			res, err = env.Matcher.Match(ctx, userID)
		}
		if err != nil && !errors.Is(err, matcher.ErrPersistence) {
			return eris.Wrap(err, "match")
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if encErr := writeJSON(out, res); encErr != nil {
				return eris.Wrap(encErr, "match: encode result")
			}
		} else {
			formatMatchResult(out, res)
		}

		if err != nil {
			zap.L().Error("run was not stored", zap.String("run_id", res.Run.ID), zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().String("user", "", "applicant user ID")
	matchCmd.Flags().String("dataset", "", "dataset file (JSON or YAML) instead of the stored profile")
	matchCmd.Flags().String("profile", "", "farm profile file to derive the dataset from")
	matchCmd.Flags().Bool("json", false, "print the full result as JSON")
	matchCmd.Flags().Bool("dry-run", false, "do not store the run")
	_ = matchCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(matchCmd)
}

// formatMatchResult writes the ranked items and the recommendations to w.
func formatMatchResult(out io.Writer, res *matcher.Result) {
	run := res.Run
	_, _ = fmt.Fprintf(out, "Run %s for %s (catalog %s)\n\n", run.ID, run.UserID, truncateID(run.CatalogVersion))
	formatItems(out, run.Items)

	if len(res.Recommendations) > 0 {
		_, _ = fmt.Fprintln(out, "\nRecommended:")
		for i, it := range res.Recommendations {
			_, _ = fmt.Fprintf(out, "  %d. %s  %s (score %.0f)\n", i+1, it.SubsidyCode, it.Title, it.Score)
		}
	}
	if !res.Persisted {
		_, _ = fmt.Fprintln(out, "\n(run not stored)")
	}
}

// formatItems writes a tabular list of match items to w.
func formatItems(out io.Writer, items []model.MatchItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tCODE\tTITLE\tELIGIBLE\tSCORE\tBAND\tAI\tNOTE")
	_, _ = fmt.Fprintln(w, "-\t----\t-----\t--------\t-----\t----\t--\t----")

	for i, it := range items {
		title := truncateTitle(it.Title, 40)

		ai := ""
		if it.AISignal != nil {
			ai = fmt.Sprintf("%.2f", *it.AISignal)
		}

		note := it.Error
		switch {
		case note != "":
		case it.HardFailed:
			note = "hard requirement failed"
		case len(it.Missing) > 0:
			note = fmt.Sprintf("missing %d field(s)", len(it.Missing))
		}
		if it.Status == model.SubsidyClosed {
			if note != "" {
				note = "closed; " + note
			} else {
				note = "closed"
			}
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.0f\t%s\t%s\t%s\n",
			i+1,
			it.SubsidyCode,
			title,
			yesNo(it.Eligible),
			it.Score,
			it.Band,
			ai,
			note,
		)
	}
	_ = w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// writeJSON pretty-prints v to out.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateTitle shortens s to at most max runes, ending in "...".
func truncateTitle(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
