package aiscore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/resilience"
	"github.com/sells-group/subsidy-match/pkg/anthropic"
	"github.com/sells-group/subsidy-match/pkg/anthropic/mocks"
)

func vineyardRequest() Request {
	return Request{
		SubsidyCode: "VINE-01",
		Title:       "Restructurarea plantațiilor de viță de vie",
		Summary:     "Sprijin pentru sectorul vitivinicol",
		Dataset: eval.Dataset{
			"farm": map[string]any{
				"size_ha":   12.0,
				"has_vines": true,
			},
			"livestock": map[string]any{"total_animals": 0},
		},
	}
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 120, OutputTokens: 12},
	}
}

func TestClaude_Refine(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.Temperature != nil && *req.Temperature == 0 &&
			len(req.Messages) == 1 &&
			assert.Contains(t, req.Messages[0].Content, `"code":"VINE-01"`)
	})).Return(textResponse("```json\n{\"score\": 84, \"reason\": \"vineyard\"}\n```"), nil)

	adapter := NewClaude(client, "claude-haiku-4-5-20251001", 0)
	got, err := adapter.Refine(context.Background(), vineyardRequest())
	require.NoError(t, err)
	assert.InDelta(t, 0.84, got, 1e-9)
}

func TestClaude_RefineClientError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	_, err := NewClaude(client, "m", 64).Refine(context.Background(), vineyardRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claude refine VINE-01")
}

func TestParseSignal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    float64
		wantErr bool
	}{
		{name: "plain", text: `{"score": 55, "reason": "ok"}`, want: 0.55},
		{name: "fenced", text: "```json\n{\"score\": 10}\n```", want: 0.10},
		{name: "prose around", text: `Here you go: {"score": 70} hope it helps`, want: 0.70},
		{name: "clamped high", text: `{"score": 250}`, want: 1},
		{name: "clamped low", text: `{"score": -5}`, want: 0},
		{name: "no score", text: `{"reason": "none"}`, wantErr: true},
		{name: "not json", text: `I cannot answer`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseSignal(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestHeuristic_Refine(t *testing.T) {
	h := Heuristic{}

	vine, err := h.Refine(context.Background(), vineyardRequest())
	require.NoError(t, err)

	other := vineyardRequest()
	other.Title = "Modernizarea fermelor de porcine"
	other.Summary = "Investiții în adăposturi"
	unrelated, err := h.Refine(context.Background(), other)
	require.NoError(t, err)

	assert.Greater(t, vine, unrelated)
	assert.GreaterOrEqual(t, unrelated, 0.01)
	assert.LessOrEqual(t, vine, 1.0)

	again, err := h.Refine(context.Background(), vineyardRequest())
	require.NoError(t, err)
	assert.Equal(t, vine, again)
}

func TestHeuristic_EmptyProfile(t *testing.T) {
	got, err := Heuristic{}.Refine(context.Background(), Request{Title: "Anything"})
	require.NoError(t, err)
	assert.InDelta(t, 0.15, got, 1e-9)
}

func TestTokenize_StripsDiacritics(t *testing.T) {
	assert.Equal(t, []string{"vita", "de", "vie", "sera"}, tokenize("Viță-de-vie, seră!"))
}

func TestJaccard(t *testing.T) {
	assert.Zero(t, jaccard(nil, []string{"a"}))
	assert.InDelta(t, 1.0/3.0, jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}

func TestChain_FallsBack(t *testing.T) {
	failing := Func(func(context.Context, Request) (float64, error) { return 0, errors.New("down") })
	ok := Func(func(context.Context, Request) (float64, error) { return 1.7, nil })

	got, err := Chain{{Name: "a", Adapter: failing}, {Name: "b", Adapter: ok}}.Refine(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestChain_AllFail(t *testing.T) {
	failing := Func(func(context.Context, Request) (float64, error) { return 0, errors.New("down") })

	_, err := Chain{{Name: "a", Adapter: failing}}.Refine(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAdapterUnavailable))

	_, err = Chain{}.Refine(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
}

func TestChain_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	a := Func(func(context.Context, Request) (float64, error) { called = true; return 0.5, nil })
	_, err := Chain{{Name: "a", Adapter: a}}.Refine(ctx, Request{})
	require.Error(t, err)
	assert.False(t, called)
}

func TestGuarded_OpensCircuit(t *testing.T) {
	guard := resilience.NewGuard("ai",
		resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute},
		resilience.RetryConfig{MaxAttempts: 1},
	)
	calls := 0
	next := Func(func(context.Context, Request) (float64, error) {
		calls++
		return 0, errors.New("fail")
	})
	g := Guarded{Next: next, Guard: guard}

	_, err := g.Refine(context.Background(), Request{})
	require.Error(t, err)

	_, err = g.Refine(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
	assert.Equal(t, 1, calls)
}

func TestLimited_WaitHonoursContext(t *testing.T) {
	l := Limited{
		Next:    Func(func(context.Context, Request) (float64, error) { return 0.3, nil }),
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	}
	got, err := l.Refine(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 0.3, got)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Refine(ctx, Request{})
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	a, err := Build(Options{Provider: ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = Build(Options{Provider: ProviderHeuristic})
	require.NoError(t, err)
	assert.IsType(t, Heuristic{}, a)

	_, err = Build(Options{Provider: ProviderClaude, NoFallback: true})
	assert.Error(t, err)

	a, err = Build(Options{Provider: ProviderClaude})
	require.NoError(t, err)
	assert.IsType(t, Heuristic{}, a, "no client falls back to the heuristic")

	_, err = Build(Options{Provider: "oracle"})
	assert.Error(t, err)

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	a, err = Build(Options{Provider: ProviderClaude, Client: client, Model: "m", RatePerSecond: 100})
	require.NoError(t, err)
	got, err := a.Refine(context.Background(), vineyardRequest())
	require.NoError(t, err, "falls back to the heuristic")
	assert.Greater(t, got, 0.0)

	a, err = Build(Options{Provider: ProviderClaude, Client: client, Model: "m", NoFallback: true})
	require.NoError(t, err)
	_, err = a.Refine(context.Background(), vineyardRequest())
	assert.Error(t, err)
}
