package session

import (
	"math"
	"testing"

	"github.com/mosaictheory-jt/panel-chat/internal/catalog"
	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/protocol"
)

func TestSurveyScenario(t *testing.T) {
	s := runningSession(core.ModeSurvey, 5, 1)
	for id := 1; id <= 5; id++ {
		s, _ = Apply(s, response(id, "gpt-4.1-mini"))
	}
	s, o := Apply(s, protocol.DoneEvent{SurveyID: s.ID})
	if o != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", o)
	}

	if got := Completion(&s); got != 100 {
		t.Errorf("Completion = %d, want 100", got)
	}
	if got := RoundProgress(&s, 1); got != 1 {
		t.Errorf("RoundProgress = %v, want 1", got)
	}
	if st := Rounds(&s); st.Current != 1 || st.Total != 1 || st.AwaitingAnalysis {
		t.Errorf("Rounds = %+v, want 1 of 1", st)
	}
}

func TestDebateScenario(t *testing.T) {
	s := runningSession(core.ModeDebate, 2, 2)

	if st := Rounds(&s); st.Current != 1 || st.Total != 2 {
		t.Fatalf("initial Rounds = %+v, want 1 of 2", st)
	}

	s, _ = Apply(s, message(1, 1))
	if got := RoundProgress(&s, 1); got != 0.5 {
		t.Errorf("round 1 progress = %v, want 0.5", got)
	}
	s, _ = Apply(s, message(2, 1))
	s, _ = Apply(s, roundComplete(1, 2))
	if got := Completion(&s); got != 50 {
		t.Errorf("Completion after round 1 = %d, want 50", got)
	}
	if st := Rounds(&s); st.Current != 2 {
		t.Errorf("Current = %d, want 2", st.Current)
	}

	s, _ = Apply(s, message(1, 2))
	s, _ = Apply(s, message(2, 2))
	s, _ = Apply(s, roundComplete(2, 2))

	st := Rounds(&s)
	if st.Current != 3 || !st.AwaitingAnalysis {
		t.Errorf("Rounds = %+v, want awaiting analysis after final round", st)
	}

	s, _ = Apply(s, protocol.AnalysisEvent{Analysis: core.DebateAnalysis{Synthesis: "split"}})
	if Rounds(&s).AwaitingAnalysis {
		t.Error("still awaiting analysis after it arrived")
	}
	s, o := Apply(s, protocol.DoneEvent{})
	if o != OutcomeCompleted || s.Phase != core.PhaseComplete {
		t.Errorf("done outcome = %s, phase = %s", o, s.Phase)
	}
	if got := Completion(&s); got != 100 {
		t.Errorf("Completion = %d, want 100", got)
	}
	if len(s.DebateMessages) != 4 || len(s.RoundSummaries) != 2 {
		t.Errorf("messages = %d, summaries = %d", len(s.DebateMessages), len(s.RoundSummaries))
	}
}

func TestCompletionRounds(t *testing.T) {
	tests := []struct {
		name      string
		panel     int
		models    []string
		responses int
		want      int
	}{
		{"empty panel", 0, []string{"gpt-4.1"}, 0, 0},
		{"one third", 3, []string{"gpt-4.1"}, 1, 33},
		{"two thirds", 3, []string{"gpt-4.1"}, 2, 67},
		{"two models", 2, []string{"gpt-4.1", "o3"}, 1, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := runningSession(core.ModeSurvey, tt.panel, 1, tt.models...)
			for i := 0; i < tt.responses; i++ {
				s.Responses = append(s.Responses, core.Response{RespondentID: i + 1, Model: tt.models[0]})
			}
			if got := Completion(&s); got != tt.want {
				t.Errorf("Completion = %d, want %d", got, tt.want)
			}
		})
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEstimateSurveyCost(t *testing.T) {
	c := EstimateSurveyCost([]string{"claude-haiku-4-5-20251001"}, 10, 3)

	// 460 input and 55 output tokens per call, 10 calls, at $1/$5 per million.
	want := 4600.0/1e6*1.0 + 550.0/1e6*5.0
	if !approx(c.TotalCost, want) {
		t.Errorf("TotalCost = %v, want %v", c.TotalCost, want)
	}
	pc, ok := c.PerProvider[catalog.ProviderAnthropic]
	if !ok {
		t.Fatal("missing Anthropic breakdown")
	}
	if pc.Calls != 10 {
		t.Errorf("Calls = %d, want 10", pc.Calls)
	}
	if !c.Estimated {
		t.Error("estimate not flagged as estimated")
	}

	unknown := EstimateSurveyCost([]string{"mystery-model"}, 10, 3)
	if unknown.TotalCost != 0 {
		t.Errorf("unknown model cost = %v, want 0", unknown.TotalCost)
	}
}

func TestActualCost(t *testing.T) {
	s := runningSession(core.ModeDebate, 2, 1, "gpt-4.1-mini", "gemini-2.5-flash")
	s.Responses = []core.Response{
		{RespondentID: 1, Model: "gpt-4.1-mini", TokenUsage: &core.TokenUsage{InputTokens: 1_000_000}},
		{RespondentID: 2, Model: "gpt-4.1-mini"},
	}
	s.DebateMessages = []core.DebateMessage{
		{RespondentID: 1, Model: "gemini-2.5-flash", Round: 1, TokenUsage: &core.TokenUsage{OutputTokens: 1_000_000}},
	}
	s.Analysis = &core.DebateAnalysis{TokenUsage: &core.TokenUsage{InputTokens: 500_000}}

	c := ActualCost(&s)
	want := 0.40 + 2.50 + 0.20
	if !approx(c.TotalCost, want) {
		t.Errorf("TotalCost = %v, want %v", c.TotalCost, want)
	}
	if got := c.PerProvider[catalog.ProviderOpenAI].Calls; got != 2 {
		t.Errorf("OpenAI calls = %d, want 2", got)
	}
	if got := c.PerProvider[catalog.ProviderGoogle].TotalCost; !approx(got, 2.50) {
		t.Errorf("Google cost = %v, want 2.50", got)
	}
}

func TestRunningCost(t *testing.T) {
	s := runningSession(core.ModeSurvey, 4, 1, "gpt-4.1")
	estimate := RunningCost(&s)
	if !estimate.Estimated || estimate.TotalCost <= 0 {
		t.Fatalf("RunningCost without usage = %+v", estimate)
	}

	s.Responses = []core.Response{{RespondentID: 1, Model: "gpt-4.1", TokenUsage: &core.TokenUsage{InputTokens: 1000, OutputTokens: 100}}}
	partial := RunningCost(&s)
	if !partial.Estimated {
		t.Error("in-progress cost not flagged as estimated")
	}
	if partial.TotalCost <= ActualCost(&s).TotalCost {
		t.Error("in-progress cost does not include remaining calls")
	}

	s.Phase = core.PhaseComplete
	final := RunningCost(&s)
	if final.Estimated || !approx(final.TotalCost, ActualCost(&s).TotalCost) {
		t.Errorf("complete cost = %+v, want actual", final)
	}
}

func TestRunningCostDebate(t *testing.T) {
	s := runningSession(core.ModeDebate, 2, 3, "gpt-4.1")
	perRound := EstimateSurveyCost(s.Models, 2, 1).TotalCost

	if got := RunningCost(&s); !approx(got.TotalCost, 3*perRound) {
		t.Errorf("estimate before messages = %v, want %v for 3 rounds", got.TotalCost, 3*perRound)
	}

	usage := &core.TokenUsage{InputTokens: 1000, OutputTokens: 100}
	for id := 1; id <= 2; id++ {
		m := message(id, 1)
		m.Message.Model = "gpt-4.1"
		m.Message.TokenUsage = usage
		s, _ = Apply(s, m)
	}
	actual := ActualCost(&s).TotalCost
	if actual <= 0 {
		t.Fatal("messages carried no cost")
	}

	// 6 calls in total, 2 made: the remaining 4 are two rounds of estimate.
	got := RunningCost(&s)
	if !got.Estimated || !approx(got.TotalCost, actual+2*perRound) {
		t.Errorf("RunningCost = %v, want %v", got.TotalCost, actual+2*perRound)
	}
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		usd  float64
		want string
	}{
		{0, "< $0.001"},
		{0.0009, "< $0.001"},
		{0.00512, "$0.0051"},
		{0.05, "$0.050"},
		{0.999, "$0.999"},
		{1, "$1.00"},
		{12.5, "$12.50"},
	}
	for _, tt := range tests {
		if got := FormatCost(tt.usd); got != tt.want {
			t.Errorf("FormatCost(%v) = %q, want %q", tt.usd, got, tt.want)
		}
	}
}
