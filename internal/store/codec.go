package store

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/model"
)

// itemColumns is the column order for match_items inserts.
var itemColumns = []string{
	"run_id", "position", "subsidy_code", "title", "status",
	"eligible", "hard_failed", "score", "band",
	"explanation", "missing", "ai_signal", "error",
}

// prepareRun fills in an ID for runs that have none and returns the summary
// row values.
func prepareRun(run *model.MatchRun) (model.RunSummary, error) {
	if run == nil {
		return model.RunSummary{}, eris.New("store: nil run")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.UserID == "" {
		return model.RunSummary{}, eris.Errorf("store: run %s has no user id", run.ID)
	}
	return run.Summary(), nil
}

// itemRow encodes one item in itemColumns order. JSON columns are strings.
func itemRow(runID string, position int, it model.MatchItem) ([]any, error) {
	var explanation, missing any
	if it.Explanation != nil {
		b, err := json.Marshal(it.Explanation)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal explanation for %s", it.SubsidyCode)
		}
		explanation = string(b)
	}
	if len(it.Missing) > 0 {
		b, err := json.Marshal(it.Missing)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal missing for %s", it.SubsidyCode)
		}
		missing = string(b)
	}
	var signal any
	if it.AISignal != nil {
		signal = *it.AISignal
	}
	return []any{
		runID, position, it.SubsidyCode, it.Title, string(it.Status),
		it.Eligible, it.HardFailed, it.Score, it.Band,
		explanation, missing, signal, it.Error,
	}, nil
}

// decodeItemJSON restores the JSON columns of an item.
func decodeItemJSON(it *model.MatchItem, explanation, missing []byte) error {
	if len(explanation) > 0 {
		it.Explanation = &eval.Verdict{}
		if err := json.Unmarshal(explanation, it.Explanation); err != nil {
			return eris.Wrapf(err, "store: unmarshal explanation for %s", it.SubsidyCode)
		}
	}
	if len(missing) > 0 {
		if err := json.Unmarshal(missing, &it.Missing); err != nil {
			return eris.Wrapf(err, "store: unmarshal missing for %s", it.SubsidyCode)
		}
	}
	return nil
}
