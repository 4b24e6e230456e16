package session

import (
	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/protocol"
)

// Outcome classifies what Apply did with an event.
type Outcome string

const (
	// OutcomeApplied means the event changed the session.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means an event with the same key was already recorded.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event does not apply, e.g. the session is not
	// running or the round was already summarized.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the event names a respondent outside the panel.
	OutcomeRejected Outcome = "rejected"
	// OutcomeCompleted means the run finished and the session is complete.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the backend reported an error for the run.
	OutcomeFailed Outcome = "failed"
	// OutcomeStale means the event came from a superseded stream.
	OutcomeStale Outcome = "stale"
)

// Changed reports whether the outcome produced a new session value.
func (o Outcome) Changed() bool {
	return o == OutcomeApplied || o == OutcomeCompleted || o == OutcomeFailed
}

// Apply folds one event into a session and returns the resulting session.
// The input is never modified: slices are extended copy-on-write so the
// caller's value stays valid. Applying the same event twice yields the same
// session as applying it once. Only a running session accepts events.
func Apply(s core.Session, p protocol.Payload) (core.Session, Outcome) {
	if s.Phase != core.PhaseRunning {
		return s, OutcomeIgnored
	}

	switch ev := p.(type) {
	case protocol.ResponseEvent:
		return applyResponse(s, ev.Response)
	case protocol.DebateMessageEvent:
		return applyDebateMessage(s, ev.Message)
	case protocol.RoundCompleteEvent:
		return applyRoundComplete(s, ev.Summary)
	case protocol.AnalysisEvent:
		if s.Mode != core.ModeDebate {
			return s, OutcomeIgnored
		}
		if s.Analysis != nil {
			return s, OutcomeDuplicate
		}
		a := ev.Analysis
		s.Analysis = &a
		return s, OutcomeApplied
	case protocol.DoneEvent:
		// Analysis only exists for debates.
		if s.Mode == core.ModeDebate && ev.Analysis != nil && s.Analysis == nil {
			a := *ev.Analysis
			s.Analysis = &a
		}
		s.Phase = core.PhaseComplete
		return s, OutcomeCompleted
	case protocol.ErrorEvent:
		s.Error = ev.Message
		s.Phase = core.PhaseError
		return s, OutcomeFailed
	default:
		return s, OutcomeIgnored
	}
}

func applyResponse(s core.Session, r core.Response) (core.Session, Outcome) {
	if !s.InPanel(r.RespondentID) {
		return s, OutcomeRejected
	}
	round := r.RoundNumber()
	for _, existing := range s.Responses {
		if existing.RespondentID == r.RespondentID && existing.Model == r.Model && existing.RoundNumber() == round {
			return s, OutcomeDuplicate
		}
	}
	if r.SurveyID == "" {
		r.SurveyID = s.ID
	}
	s.Responses = append(s.Responses[:len(s.Responses):len(s.Responses)], r)
	return s, OutcomeApplied
}

func applyDebateMessage(s core.Session, m core.DebateMessage) (core.Session, Outcome) {
	if !s.InPanel(m.RespondentID) {
		return s, OutcomeRejected
	}
	for _, existing := range s.DebateMessages {
		if existing.RespondentID == m.RespondentID && existing.Round == m.Round {
			return s, OutcomeDuplicate
		}
	}
	s.DebateMessages = append(s.DebateMessages[:len(s.DebateMessages):len(s.DebateMessages)], m)
	return s, OutcomeApplied
}

func applyRoundComplete(s core.Session, rs core.RoundSummary) (core.Session, Outcome) {
	if rs.Round <= maxSummaryRound(s) {
		return s, OutcomeIgnored
	}
	if s.TotalRounds == 0 {
		s.TotalRounds = rs.TotalRounds
	}
	s.RoundSummaries = append(s.RoundSummaries[:len(s.RoundSummaries):len(s.RoundSummaries)], rs)
	return s, OutcomeApplied
}

func maxSummaryRound(s core.Session) int {
	highest := 0
	for _, rs := range s.RoundSummaries {
		if rs.Round > highest {
			highest = rs.Round
		}
	}
	return highest
}
