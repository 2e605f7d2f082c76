package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/subsidy-match/internal/catalog"
	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/matcher"
	"github.com/sells-group/subsidy-match/internal/model"
	"github.com/sells-group/subsidy-match/internal/monitoring"
	"github.com/sells-group/subsidy-match/internal/profile"
	"github.com/sells-group/subsidy-match/internal/rules"
	"github.com/sells-group/subsidy-match/internal/scoring"
	"github.com/sells-group/subsidy-match/internal/store"
)

type matchRequest struct {
	UserID  string               `json:"user_id"`
	Dataset json.RawMessage      `json:"dataset,omitempty"`
	Profile *profile.FarmProfile `json:"profile,omitempty"`
}

type matchResponse struct {
	Error           string            `json:"error,omitempty"`
	RunID           string            `json:"run_id"`
	UserID          string            `json:"user_id"`
	CreatedAt       time.Time         `json:"created_at"`
	CatalogVersion  string            `json:"catalog_version,omitempty"`
	Persisted       bool              `json:"persisted"`
	Items           []model.MatchItem `json:"items"`
	Recommendations []model.MatchItem `json:"recommendations"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "user_id is required")
		return
	}

	var (
		res *matcher.Result
		err error
	)
	switch {
	case present(req.Dataset):
		ds, perr := eval.ParseDataset(req.Dataset)
		if perr != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, perr.Error())
			return
		}
		res, err = s.matcher.MatchDataset(r.Context(), req.UserID, ds)
	case req.Profile != nil:
		res, err = s.matcher.MatchDataset(r.Context(), req.UserID, req.Profile.Dataset(s.now().UTC()))
	default:
		res, err = s.matcher.Match(r.Context(), req.UserID)
	}

	if err != nil && !errors.Is(err, matcher.ErrPersistence) {
		status, code := classify(err)
		zap.L().Error("api: match failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, status, code, err.Error())
		return
	}

	resp := matchResponse{
		RunID:           res.Run.ID,
		UserID:          res.Run.UserID,
		CreatedAt:       res.Run.CreatedAt,
		CatalogVersion:  res.Run.CatalogVersion,
		Persisted:       res.Persisted,
		Items:           res.Run.Items,
		Recommendations: res.Recommendations,
	}
	if err != nil {
		resp.Error = codePersistenceFailed
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type eligibilityRequest struct {
	RuleSet json.RawMessage `json:"rule_set"`
	Dataset json.RawMessage `json:"dataset"`
	Schema  rules.Schema    `json:"schema,omitempty"`
}

type eligibilityResponse struct {
	scoring.Result
	Explanation *eval.Verdict `json:"explanation"`
}

// handleEligibility evaluates an ad-hoc rule set. Nothing is persisted.
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !present(req.RuleSet) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "rule_set is required")
		return
	}

	node, err := rules.ParseJSON(req.RuleSet)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRuleSet, err.Error())
		return
	}
	if errs := rules.Validate(node, req.Schema); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   codeInvalidRuleSet,
			Message: rules.JoinErrors(errs),
			Details: errs,
		})
		return
	}

	ds := eval.Dataset{}
	if present(req.Dataset) {
		ds, err = eval.ParseDataset(req.Dataset)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
	}

	verdict, res := scoring.Assess(node, rules.TotalWeight(node), ds)
	writeJSON(w, http.StatusOK, eligibilityResponse{Result: res, Explanation: verdict})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "run history is disabled")
		return
	}
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "run history is disabled")
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{UserID: q.Get("user_id")}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "offset must be a non-negative integer")
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleStats summarizes recent runs; ?hours= sets the window (default 24).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "run history is disabled")
		return
	}
	hours, err := intParam(r.URL.Query().Get("hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "hours must be a non-negative integer")
		return
	}
	if hours == 0 {
		hours = 24
	}
	snap, err := monitoring.NewCollector(s.runs).Collect(r.Context(), hours)
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type catalogEntry struct {
	Code        string              `json:"code"`
	Title       string              `json:"title"`
	Status      model.SubsidyStatus `json:"status"`
	Valid       bool                `json:"valid"`
	TotalWeight float64             `json:"total_weight"`
	Errors      []rules.SchemaError `json:"errors,omitempty"`
}

type catalogResponse struct {
	Version      string         `json:"version"`
	LoadedAt     time.Time      `json:"loaded_at"`
	Count        int            `json:"count"`
	InvalidCount int            `json:"invalid_count"`
	Subsidies    []catalogEntry `json:"subsidies"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	snap, err := s.catalog.Snapshot(r.Context())
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	resp := catalogResponse{
		Version:      snap.Version(),
		LoadedAt:     snap.LoadedAt(),
		Count:        snap.Len(),
		InvalidCount: len(snap.Invalid()),
		Subsidies:    []catalogEntry{},
	}
	for _, e := range snap.Entries() {
		resp.Subsidies = append(resp.Subsidies, catalogEntry{
			Code:        e.Code,
			Title:       e.Title,
			Status:      e.Status,
			Valid:       e.Valid(),
			TotalWeight: e.TotalWeight,
			Errors:      e.Errors,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// classify maps domain errors to HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, catalog.ErrNotLoaded):
		return http.StatusServiceUnavailable, codeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}
