package session

import (
	"fmt"
	"math"

	"github.com/mosaictheory-jt/panel-chat/internal/catalog"
	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// Per-call token estimates for one panelist answering n sub-questions.
const (
	estimatedSystemTokens      = 250
	estimatedPromptTokens      = 120
	estimatedTokensPerQuestion = 30
	estimatedBaseOutputTokens  = 10
	estimatedOutputPerQuestion = 15
)

// Completion returns how much of the run has arrived, as a rounded percent.
func Completion(s *core.Session) int {
	expected := Expected(s)
	got := len(s.Responses)
	if s.Mode == core.ModeDebate {
		rounds := s.TotalRounds
		if rounds < 1 {
			rounds = 1
		}
		expected *= rounds
		got = len(s.DebateMessages)
	}
	if expected == 0 {
		return 0
	}
	pct := int(math.Round(float64(got) / float64(expected) * 100))
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProviderCost is the spend attributed to one provider.
type ProviderCost struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
	Calls      int     `json:"calls"`
}

// Cost is a total with a per-provider breakdown.
type Cost struct {
	TotalCost   float64                 `json:"total_cost"`
	PerProvider map[string]ProviderCost `json:"per_provider"`
	Estimated   bool                    `json:"estimated"`
}

func (c *Cost) add(model string, inputTokens, outputTokens float64, calls int) {
	m, _ := catalog.Lookup(model)
	in := inputTokens / 1_000_000 * m.InputPerMillion
	out := outputTokens / 1_000_000 * m.OutputPerMillion

	provider := catalog.ProviderOf(model)
	pc := c.PerProvider[provider]
	pc.InputCost += in
	pc.OutputCost += out
	pc.TotalCost += in + out
	pc.Calls += calls
	c.PerProvider[provider] = pc
	c.TotalCost += in + out
}

func (c Cost) times(n int) Cost {
	out := Cost{TotalCost: c.TotalCost * float64(n), PerProvider: make(map[string]ProviderCost, len(c.PerProvider)), Estimated: c.Estimated}
	for p, pc := range c.PerProvider {
		out.PerProvider[p] = ProviderCost{
			InputCost:  pc.InputCost * float64(n),
			OutputCost: pc.OutputCost * float64(n),
			TotalCost:  pc.TotalCost * float64(n),
			Calls:      pc.Calls * n,
		}
	}
	return out
}

// EstimateSurveyCost prices a survey before it runs: one call per panelist
// per model. Unknown models are priced at zero.
func EstimateSurveyCost(models []string, panelSize, subQuestions int) Cost {
	c := Cost{PerProvider: make(map[string]ProviderCost), Estimated: true}
	input := float64(estimatedSystemTokens + estimatedPromptTokens + estimatedTokensPerQuestion*subQuestions)
	output := float64(estimatedBaseOutputTokens + estimatedOutputPerQuestion*subQuestions)
	for _, model := range models {
		c.add(model, input*float64(panelSize), output*float64(panelSize), panelSize)
	}
	return c
}

// ActualCost sums the reported token usage of a session. The analysis is
// billed to the first selected model.
func ActualCost(s *core.Session) Cost {
	c := Cost{PerProvider: make(map[string]ProviderCost)}
	for _, r := range s.Responses {
		if r.TokenUsage == nil {
			continue
		}
		c.add(r.Model, float64(r.TokenUsage.InputTokens), float64(r.TokenUsage.OutputTokens), 1)
	}
	for _, m := range s.DebateMessages {
		if m.TokenUsage == nil {
			continue
		}
		c.add(m.Model, float64(m.TokenUsage.InputTokens), float64(m.TokenUsage.OutputTokens), 1)
	}
	if s.Analysis != nil && s.Analysis.TokenUsage != nil && len(s.Models) > 0 {
		u := s.Analysis.TokenUsage
		c.add(s.Models[0], float64(u.InputTokens), float64(u.OutputTokens), 1)
	}
	return c
}

// RunningCost combines actual spend with an estimate for the calls still
// outstanding. Once the session is complete the actual figure is returned.
func RunningCost(s *core.Session) Cost {
	actual := ActualCost(s)
	if s.Phase == core.PhaseComplete && actual.TotalCost > 0 {
		return actual
	}

	subQuestions := 0
	if s.Breakdown != nil {
		subQuestions = len(s.Breakdown.SubQuestions)
	}
	estimate := EstimateSurveyCost(s.Models, len(s.Panel), subQuestions)
	if actual.TotalCost == 0 {
		if s.Mode == core.ModeDebate {
			return estimate.times(Rounds(s).Total)
		}
		return estimate
	}

	// The estimate prices one call per panelist and model; a debate makes
	// that many calls every round.
	perRound := Expected(s)
	calls, done := perRound, len(s.Responses)
	if s.Mode == core.ModeDebate {
		calls = perRound * Rounds(s).Total
		done = len(s.DebateMessages)
	}
	if remaining := calls - done; remaining > 0 && perRound > 0 {
		actual.TotalCost += estimate.TotalCost / float64(perRound) * float64(remaining)
	}
	actual.Estimated = true
	return actual
}

// FormatCost renders a dollar amount with precision scaled to its size.
func FormatCost(usd float64) string {
	switch {
	case usd < 0.001:
		return "< $0.001"
	case usd < 0.01:
		return fmt.Sprintf("$%.4f", usd)
	case usd < 1:
		return fmt.Sprintf("$%.3f", usd)
	default:
		return fmt.Sprintf("$%.2f", usd)
	}
}
