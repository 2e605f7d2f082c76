package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/model"
)

func sampleRun() *model.MatchRun {
	signal := 0.7
	return &model.MatchRun{
		ID:             "run-1",
		UserID:         "farm-1",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CatalogVersion: "abc123",
		Items: []model.MatchItem{
			{
				SubsidyCode: "CROP-01",
				Title:       "Crop support",
				Status:      model.SubsidyOpen,
				Eligible:    true,
				Score:       100,
				Band:        "green",
				AISignal:    &signal,
				Explanation: &eval.Verdict{
					Kind:    eval.KindAnd,
					Outcome: eval.Pass,
					Children: []*eval.Verdict{
						{Kind: eval.KindLeaf, Field: "farm.size_ha", Operator: "gte", Expected: 5.0, Actual: 12.5, Outcome: eval.Pass, Weight: 2, Contribution: 2},
						{Kind: eval.KindLeaf, Field: "farm.crop_types", Operator: "contains", Expected: "wheat", Actual: []any{"wheat", "corn"}, Outcome: eval.Pass, Weight: 1, Contribution: 1},
					},
				},
			},
			{
				SubsidyCode: "YOUNG-02",
				Title:       "Young farmer",
				Status:      model.SubsidyClosed,
				HardFailed:  true,
				Band:        "red",
				Missing:     []string{"owner.verified"},
				Explanation: &eval.Verdict{
					Kind: eval.KindLeaf, Field: "owner.age", Operator: "lte", Expected: 40.0, Actual: 52.0,
					Outcome: eval.Fail, Hard: true, HardFailed: true, Weight: 1,
				},
			},
			{SubsidyCode: "BAD-03", Band: "red", Error: "invalid rule set: unknown field"},
		},
	}
}

func cellsOf(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.String()
	}
	return out
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.xlsx")
	require.NoError(t, WriteFile(path, sampleRun()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)

	run := f.Sheet[SheetRun]
	require.NotNil(t, run)
	assert.Equal(t, []string{"run_id", "run-1"}, cellsOf(run.Rows[0]))
	assert.Equal(t, []string{"created_at", "2026-03-01T12:00:00Z"}, cellsOf(run.Rows[2]))
	assert.Equal(t, []string{"eligible", "1"}, cellsOf(run.Rows[5]))
	assert.Equal(t, []string{"top_subsidy", "CROP-01"}, cellsOf(run.Rows[6]))

	items := f.Sheet[SheetItems]
	require.NotNil(t, items)
	require.Len(t, items.Rows, 4)
	assert.Equal(t, itemHeader, cellsOf(items.Rows[0]))

	first := items.Rows[1].Cells
	assert.Equal(t, "CROP-01", first[1].String())
	assert.Equal(t, "open", first[3].String())
	assert.Equal(t, "yes", first[4].String())
	score, err := first[6].Float()
	require.NoError(t, err)
	assert.InDelta(t, 100, score, 1e-9)
	ai, err := first[8].Float()
	require.NoError(t, err)
	assert.InDelta(t, 0.7, ai, 1e-9)

	second := items.Rows[2].Cells
	assert.Equal(t, "closed", second[3].String())
	assert.Equal(t, "yes", second[5].String())
	assert.Equal(t, "owner.verified", second[9].String())

	third := items.Rows[3].Cells
	assert.Equal(t, "invalid rule set: unknown field", third[10].String())
}

func TestWriteFile_Conditions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.xlsx")
	require.NoError(t, WriteFile(path, sampleRun()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	conds := f.Sheet[SheetConditions]
	require.NotNil(t, conds)
	// header + two leaves for CROP-01 + one for YOUNG-02; BAD-03 has no trace
	require.Len(t, conds.Rows, 4)
	assert.Equal(t, conditionHeader, cellsOf(conds.Rows[0]))
	assert.Equal(t,
		[]string{"CROP-01", "farm.size_ha", "gte", "5", "12.5", "pass", "2", "2", "no", ""},
		cellsOf(conds.Rows[1]))
	assert.Equal(t, "wheat, corn", conds.Rows[2].Cells[4].String())
	assert.Equal(t,
		[]string{"YOUNG-02", "owner.age", "lte", "40", "52", "fail", "1", "0", "yes", ""},
		cellsOf(conds.Rows[3]))
}

func TestWrite_Stream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleRun()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, f.Sheet, SheetItems)
}

func TestWrite_NilRun(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil run")
}

func TestConditionRow_Notes(t *testing.T) {
	missing := conditionRow("X", &eval.Verdict{Kind: eval.KindLeaf, Field: "a", Outcome: eval.Unknown, Missing: true})
	assert.Equal(t, "missing", missing[9])

	bad := conditionRow("X", &eval.Verdict{
		Kind: eval.KindLeaf, Field: "a", Outcome: eval.Unknown,
		Error: &eval.EvaluationError{Kind: eval.ErrKindTypeMismatch, Message: "want number"},
	})
	assert.Equal(t, "type_mismatch: want number", bad[9])
}
