package store

import (
	"time"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/model"
)

func ptr[T any](v T) *T { return &v }

func sampleRun(id, user string, created time.Time) *model.MatchRun {
	return &model.MatchRun{
		ID:             id,
		UserID:         user,
		CreatedAt:      created,
		CatalogVersion: "abc123def456",
		Items: []model.MatchItem{
			{
				SubsidyCode: "CROP-01",
				Title:       "Cereal support",
				Status:      model.SubsidyOpen,
				Eligible:    true,
				Score:       100,
				Band:        "green",
				Explanation: &eval.Verdict{
					Kind:         eval.KindLeaf,
					Label:        "farm.crop_types contains wheat",
					Outcome:      eval.Pass,
					Contribution: 100,
					Weight:       100,
					Field:        "farm.crop_types",
				},
				AISignal: ptr(0.72),
			},
			{
				SubsidyCode: "FARM-A",
				Title:       "Farm modernisation",
				Status:      model.SubsidyClosed,
				Score:       60,
				Band:        "yellow",
				Missing:     []string{"region"},
			},
			{
				SubsidyCode: "BAD-03",
				Band:        "red",
				Error:       "invalid rule set: unknown field farm.colour",
			},
		},
	}
}
