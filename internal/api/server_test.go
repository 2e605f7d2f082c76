package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/subsidy-match/internal/catalog"
	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/matcher"
	"github.com/sells-group/subsidy-match/internal/model"
	"github.com/sells-group/subsidy-match/internal/monitoring"
	"github.com/sells-group/subsidy-match/internal/profile"
	"github.com/sells-group/subsidy-match/internal/store"
)

const testCatalog = `
schema:
  farm.size_ha: number
  region: string
subsidies:
  - code: FARM-A
    title: Farm modernisation
    rule_set:
      op: AND
      children:
        - field: farm.size_ha
          operator: gte
          value: 5
          weight: 60
        - field: region
          operator: eq
          value: North
          weight: 40
  - code: BIG-B
    title: Large holdings
    rule_set:
      field: farm.size_ha
      operator: gte
      value: 100
      weight: 10
`

type staticCatalog struct {
	snap *catalog.Snapshot
	err  error
}

func (c staticCatalog) Snapshot(context.Context) (*catalog.Snapshot, error) { return c.snap, c.err }

type memSink struct {
	runs map[string]*model.MatchRun
	err  error
}

func (m *memSink) SaveRun(_ context.Context, run *model.MatchRun) error {
	if m.err != nil {
		return m.err
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memSink) GetRun(_ context.Context, id string) (*model.MatchRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return run, nil
}

func (m *memSink) ListRuns(_ context.Context, filter store.RunFilter) ([]model.RunSummary, error) {
	out := []model.RunSummary{}
	for _, r := range m.runs {
		if filter.UserID == "" || r.UserID == filter.UserID {
			out = append(out, r.Summary())
		}
	}
	return out, nil
}

type stubDatasets struct{}

func (stubDatasets) Dataset(_ context.Context, userID string) (eval.Dataset, error) {
	if userID != "known" {
		return nil, profile.ErrNotFound
	}
	return eval.Dataset{"farm": map[string]any{"size_ha": 7}, "region": "North"}, nil
}

type fixture struct {
	handler http.Handler
	sink    *memSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	snap, err := catalog.Parse([]byte(testCatalog), "yaml", catalog.Options{})
	require.NoError(t, err)

	sink := &memSink{runs: map[string]*model.MatchRun{}}
	cat := staticCatalog{snap: snap}
	m := matcher.New(cat, stubDatasets{}, sink, nil, matcher.Config{})
	srv := New(m, sink, cat, Options{})
	srv.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	return &fixture{handler: srv.Handler(), sink: sink}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["subsidies"])
}

func TestMatch_WithDataset(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/match",
		`{"user_id":"u1","dataset":{"farm":{"size_ha":12},"region":"North"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[matchResponse](t, rec)
	assert.True(t, resp.Persisted)
	assert.NotEmpty(t, resp.RunID)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "FARM-A", resp.Items[0].SubsidyCode)
	assert.True(t, resp.Items[0].Eligible)
	assert.Equal(t, 100.0, resp.Items[0].Score)
	assert.False(t, resp.Items[1].Eligible)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "FARM-A", resp.Recommendations[0].SubsidyCode)

	assert.Contains(t, f.sink.runs, resp.RunID)
}

func TestMatch_FromSource(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/match", `{"user_id":"known"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[matchResponse](t, rec)
	assert.Equal(t, "known", resp.UserID)
	assert.True(t, resp.Items[0].Eligible)
}

func TestMatch_WithProfile(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/match",
		`{"user_id":"u3","profile":{"region":"North","fields":[{"crop_type":"wheat","size_ha":6}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[matchResponse](t, rec)
	assert.True(t, resp.Items[0].Eligible)
}

func TestMatch_UnknownUser(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/match", `{"user_id":"stranger"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, decode[errorResponse](t, rec).Error)
}

func TestMatch_BadRequests(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/match", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/match", `{"user_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/match", `{"user_id":"u1","dataset":[1,2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatch_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("disk full")

	rec := f.do(t, http.MethodPost, "/api/match", `{"user_id":"known"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decode[matchResponse](t, rec)
	assert.Equal(t, codePersistenceFailed, resp.Error)
	assert.False(t, resp.Persisted)
	assert.Len(t, resp.Items, 2)
}

func TestEligibility(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/eligibility", `{
		"rule_set": {"op": "AND", "children": [
			{"field": "age", "operator": "lt", "value": 40, "weight": 50, "hard": true},
			{"field": "size", "operator": "gte", "value": 10, "weight": 30},
			{"field": "region", "operator": "in", "value": ["North", "Center"], "weight": 20}
		]},
		"dataset": {"age": 35, "size": 5, "region": "North"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["eligible"])
	assert.InDelta(t, 70.0, body["score"], 1e-9)
	assert.Equal(t, "yellow", body["band"])
	assert.NotNil(t, body["explanation"])
	assert.Empty(t, f.sink.runs)
}

func TestEligibility_InvalidRuleSet(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/eligibility", `{
		"rule_set": {"field": "colour", "operator": "eq", "value": "red"},
		"schema": {"size": "number"},
		"dataset": {}
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[errorResponse](t, rec)
	assert.Equal(t, codeInvalidRuleSet, body.Error)
	assert.Contains(t, body.Message, "colour")

	rec = f.do(t, http.MethodPost, "/api/eligibility", `{"dataset": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	created := decode[matchResponse](t, f.do(t, http.MethodPost, "/api/match", `{"user_id":"known"}`))

	rec := f.do(t, http.MethodGet, "/api/runs/"+created.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[model.MatchRun](t, rec)
	assert.Equal(t, created.RunID, run.ID)
	assert.Len(t, run.Items, 2)

	rec = f.do(t, http.MethodGet, "/api/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/runs?user_id=known", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]model.RunSummary](t, rec)
	require.Len(t, list["runs"], 1)
	assert.Equal(t, 1, list["runs"][0].EligibleCount)

	rec = f.do(t, http.MethodGet, "/api/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns_Disabled(t *testing.T) {
	snap, err := catalog.Parse([]byte(testCatalog), "yaml", catalog.Options{})
	require.NoError(t, err)
	cat := staticCatalog{snap: snap}
	h := New(matcher.New(cat, nil, nil, nil, matcher.Config{}), nil, cat, Options{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/match", `{"user_id":"known"}`)
	f.do(t, http.MethodPost, "/api/match", `{"user_id":"known"}`)

	rec := f.do(t, http.MethodGet, "/api/stats?hours=6", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[monitoring.MetricsSnapshot](t, rec)
	assert.Equal(t, 2, snap.Runs)
	assert.Equal(t, 1, snap.Users)
	assert.Equal(t, 6, snap.LookbackHours)
	assert.Equal(t, 2, snap.EligibleItems)

	rec = f.do(t, http.MethodGet, "/api/stats?hours=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[catalogResponse](t, rec)
	assert.Len(t, resp.Version, 12)
	assert.Equal(t, 2, resp.Count)
	assert.Zero(t, resp.InvalidCount)
	assert.Equal(t, "BIG-B", resp.Subsidies[0].Code)
}

func TestCatalog_NotLoaded(t *testing.T) {
	cat := staticCatalog{err: catalog.ErrNotLoaded}
	h := New(matcher.New(cat, nil, nil, nil, matcher.Config{}), nil, cat, Options{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "degraded"))
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/match", nil)
	req.Header.Set("Origin", "https://farm.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
