// Package report renders stored match runs for people who do not read JSON.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/model"
)

// Sheet names.
const (
	SheetRun        = "Run"
	SheetItems      = "Items"
	SheetConditions = "Conditions"
)

var (
	itemHeader      = []string{"rank", "subsidy_code", "title", "status", "eligible", "hard_failed", "score", "band", "ai_signal", "missing", "error"}
	conditionHeader = []string{"subsidy_code", "field", "operator", "expected", "actual", "outcome", "weight", "contribution", "hard", "note"}
)

// Write renders run as a workbook with a summary sheet, one row per ranked
// item, and one row per evaluated condition.
func Write(w io.Writer, run *model.MatchRun) error {
	f, err := build(run)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write workbook")
	}
	return nil
}

// WriteFile renders run to an .xlsx file at path.
func WriteFile(path string, run *model.MatchRun) error {
	f, err := build(run)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func build(run *model.MatchRun) (*xlsx.File, error) {
	if run == nil {
		return nil, eris.New("report: nil run")
	}

	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetRun)
	if err != nil {
		return nil, eris.Wrap(err, "report: add run sheet")
	}
	s := run.Summary()
	addPair(summary, "run_id", s.ID)
	addPair(summary, "user_id", s.UserID)
	addPair(summary, "created_at", s.CreatedAt.UTC().Format(time.RFC3339))
	addPair(summary, "catalog_version", s.CatalogVersion)
	addPair(summary, "items", strconv.Itoa(s.ItemCount))
	addPair(summary, "eligible", strconv.Itoa(s.EligibleCount))
	addPair(summary, "top_subsidy", s.TopSubsidy)

	items, err := f.AddSheet(SheetItems)
	if err != nil {
		return nil, eris.Wrap(err, "report: add items sheet")
	}
	addStrings(items, itemHeader)

	conds, err := f.AddSheet(SheetConditions)
	if err != nil {
		return nil, eris.Wrap(err, "report: add conditions sheet")
	}
	addStrings(conds, conditionHeader)

	for i, it := range run.Items {
		row := items.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString(it.SubsidyCode)
		row.AddCell().SetString(it.Title)
		row.AddCell().SetString(string(it.Status))
		row.AddCell().SetString(yesNo(it.Eligible))
		row.AddCell().SetString(yesNo(it.HardFailed))
		row.AddCell().SetFloat(it.Score)
		row.AddCell().SetString(it.Band)
		if it.AISignal != nil {
			row.AddCell().SetFloat(*it.AISignal)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(strings.Join(it.Missing, ", "))
		row.AddCell().SetString(it.Error)

		for _, leaf := range it.Explanation.Leaves() {
			addStrings(conds, conditionRow(it.SubsidyCode, leaf))
		}
	}

	return f, nil
}

func conditionRow(code string, v *eval.Verdict) []string {
	note := ""
	switch {
	case v.Error != nil:
		note = v.Error.Error()
	case v.Missing:
		note = "missing"
	}
	return []string{
		code,
		v.Field,
		v.Operator,
		format(v.Expected),
		format(v.Actual),
		string(v.Outcome),
		strconv.FormatFloat(v.Weight, 'f', -1, 64),
		strconv.FormatFloat(v.Contribution, 'f', -1, 64),
		yesNo(v.Hard),
		note,
	}
}

func addPair(sheet *xlsx.Sheet, key, value string) {
	addStrings(sheet, []string{key, value})
}

func addStrings(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = format(e)
		}
		return strings.Join(parts, ", ")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return yesNo(t)
	default:
		return fmt.Sprint(t)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
