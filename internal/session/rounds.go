package session

import (
	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// RoundState is the derived position of a run.
type RoundState struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	// AwaitingAnalysis is set for a debate whose rounds are all summarized
	// but whose analysis has not arrived yet.
	AwaitingAnalysis bool `json:"awaiting_analysis"`
}

// Rounds derives the round state of a session. A survey is always round 1 of 1.
func Rounds(s *core.Session) RoundState {
	total := s.TotalRounds
	if total < 1 {
		total = 1
	}
	if s.Mode != core.ModeDebate {
		return RoundState{Current: 1, Total: 1}
	}

	st := RoundState{
		Current: 1 + maxSummaryRound(*s),
		Total:   total,
	}
	st.AwaitingAnalysis = st.Current > st.Total && s.Analysis == nil
	return st
}

// Expected is the number of items a full round produces.
func Expected(s *core.Session) int {
	return len(s.Panel) * s.ModelCount()
}

// ItemsInRound counts the results recorded for a round. Survey responses
// without a round count toward round 1.
func ItemsInRound(s *core.Session, round int) int {
	n := 0
	if s.Mode == core.ModeDebate {
		for _, m := range s.DebateMessages {
			if m.Round == round {
				n++
			}
		}
		return n
	}
	for _, r := range s.Responses {
		if r.RoundNumber() == round {
			n++
		}
	}
	return n
}

// RoundProgress returns the fraction of a round that has arrived, in [0, 1].
func RoundProgress(s *core.Session, round int) float64 {
	expected := Expected(s)
	if expected == 0 {
		return 0
	}
	p := float64(ItemsInRound(s, round)) / float64(expected)
	if p > 1 {
		p = 1
	}
	return p
}
