package aiscore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/pkg/anthropic"
)

const claudeSystemPrompt = `You assess how well a farm fits an agricultural subsidy program.
You receive the farm profile (aggregated attributes) and a short program description.
Reply with STRICT JSON only: {"score": <integer 1-100>, "reason": "<one sentence>"}.
The score reflects compatibility between the profile and the criteria implied by the description.
Do not invent external rules.`

// Claude asks an Anthropic model for the signal.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaude creates a Claude adapter.
func NewClaude(client anthropic.Client, model string, maxTokens int64) *Claude {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Claude{client: client, model: model, maxTokens: maxTokens}
}

type claudeInput struct {
	Profile eval.Dataset  `json:"farm_profile"`
	Subsidy claudeSubsidy `json:"subsidy"`
}

type claudeSubsidy struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

type claudeOutput struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

// Refine implements Adapter.
func (c *Claude) Refine(ctx context.Context, req Request) (float64, error) {
	input, err := json.Marshal(claudeInput{
		Profile: req.Dataset,
		Subsidy: claudeSubsidy{Code: req.SubsidyCode, Title: req.Title, Summary: req.Summary},
	})
	if err != nil {
		return 0, eris.Wrap(err, "aiscore: marshal prompt")
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      []anthropic.SystemBlock{{Text: claudeSystemPrompt}},
		Messages:    []anthropic.Message{{Role: "user", Content: string(input)}},
		Temperature: &temp,
	})
	if err != nil {
		return 0, eris.Wrapf(err, "aiscore: claude refine %s", req.SubsidyCode)
	}
	resp.Usage.LogCost(c.model, req.SubsidyCode)

	return parseSignal(resp.Text())
}

// parseSignal reads {"score": 1..100} from a model reply, tolerating code
// fences and surrounding prose.
func parseSignal(text string) (float64, error) {
	var out claudeOutput
	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		return 0, eris.Wrap(err, "aiscore: parse model reply")
	}
	if out.Score == nil {
		return 0, eris.New("aiscore: model reply has no score")
	}
	return clamp01(*out.Score / 100), nil
}

func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
