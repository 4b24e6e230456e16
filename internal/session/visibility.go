package session

import (
	"slices"
	"sync"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// Visibility is the ordered list of session ids the user chose to show.
// Ids are never duplicated. Hiding a session does not touch the repository.
type Visibility struct {
	mu  sync.RWMutex
	ids []string
}

// Show adds id to the end of the list. It is a no-op when already visible.
func (v *Visibility) Show(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if slices.Contains(v.ids, id) {
		return false
	}
	v.ids = append(v.ids, id)
	return true
}

// Hide removes id from the list.
func (v *Visibility) Hide(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := slices.Index(v.ids, id)
	if i < 0 {
		return false
	}
	v.ids = slices.Delete(v.ids, i, i+1)
	return true
}

// Toggle flips the visibility of id and returns the new state.
func (v *Visibility) Toggle(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := slices.Index(v.ids, id); i >= 0 {
		v.ids = slices.Delete(v.ids, i, i+1)
		return false
	}
	v.ids = append(v.ids, id)
	return true
}

// Contains reports whether id is visible.
func (v *Visibility) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Contains(v.ids, id)
}

// IDs returns a copy of the visible ids in user order.
func (v *Visibility) IDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.ids)
}

// PanelistState is how a merged panelist is presented.
type PanelistState string

const (
	StateAnswering  PanelistState = "answering"
	StateAnswered   PanelistState = "answered"
	StateSeenBefore PanelistState = "seen_before"
)

// MergedPanelist is one respondent in the combined view across the active
// session and the visible historical sessions.
type MergedPanelist struct {
	Respondent      core.Respondent      `json:"respondent"`
	IsActive        bool                 `json:"is_active"`
	HasActiveOutput bool                 `json:"has_active_output"`
	Responses       []core.Response      `json:"responses,omitempty"`
	Messages        []core.DebateMessage `json:"messages,omitempty"`
	HistoricalCount int                  `json:"historical_count"`
}

// State classifies the panelist for display.
func (m MergedPanelist) State() PanelistState {
	switch {
	case m.IsActive && m.HasActiveOutput:
		return StateAnswered
	case m.IsActive:
		return StateAnswering
	default:
		return StateSeenBefore
	}
}

// ResultSet is the composed view. It is recomputed on demand and never stored.
type ResultSet struct {
	Sessions  []*core.Session  `json:"sessions"`
	Panelists []MergedPanelist `json:"panelists"`
}

// Compose builds the visible result set from the visible ids, in user order,
// plus the active session while it is running and has produced output.
// active may be nil.
func Compose(repo *Repository, visible []string, active *core.Session) ResultSet {
	var rs ResultSet
	seen := make(map[string]bool, len(visible)+1)

	for _, id := range visible {
		if seen[id] {
			continue
		}
		s, ok := repo.Get(id)
		if !ok {
			continue
		}
		seen[id] = true
		rs.Sessions = append(rs.Sessions, s)
	}

	if active != nil && active.Phase == core.PhaseRunning && active.HasResults() && !seen[active.ID] {
		rs.Sessions = append(rs.Sessions, active.Clone())
	}

	rs.Panelists = MergedPanelists(rs.Sessions, visible, active)
	return rs
}

// MergedPanelists lists the active panel first, in panel order, followed by
// respondents that only appear in other visible sessions, in first-seen order.
// HistoricalCount counts the visible sessions other than the active one that
// included the respondent.
func MergedPanelists(sessions []*core.Session, visible []string, active *core.Session) []MergedPanelist {
	activeID := ""
	if active != nil {
		activeID = active.ID
	}

	counts := make(map[int]int)
	historical := make(map[int]core.Respondent)
	var order []int
	for _, s := range sessions {
		if s.ID == activeID || !slices.Contains(visible, s.ID) {
			continue
		}
		for _, r := range s.Panel {
			if _, ok := historical[r.ID]; !ok {
				historical[r.ID] = r
				order = append(order, r.ID)
			}
			counts[r.ID]++
		}
	}

	var out []MergedPanelist
	inActive := make(map[int]bool)
	if active != nil {
		for _, r := range active.Panel {
			inActive[r.ID] = true
			mp := MergedPanelist{
				Respondent:      r,
				IsActive:        true,
				HistoricalCount: counts[r.ID],
			}
			for _, resp := range active.Responses {
				if resp.RespondentID == r.ID {
					mp.Responses = append(mp.Responses, resp)
				}
			}
			for _, msg := range active.DebateMessages {
				if msg.RespondentID == r.ID {
					mp.Messages = append(mp.Messages, msg)
				}
			}
			mp.HasActiveOutput = len(mp.Responses) > 0 || len(mp.Messages) > 0
			out = append(out, mp)
		}
	}

	for _, id := range order {
		if inActive[id] {
			continue
		}
		out = append(out, MergedPanelist{
			Respondent:      historical[id],
			HistoricalCount: counts[id],
		})
	}
	return out
}
