package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/export"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
)

var (
	accentColor = lipgloss.Color("12")
	greenColor  = lipgloss.Color("10")
	redColor    = lipgloss.Color("9")
	mutedColor  = lipgloss.Color("8")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(greenColor)
	errorStyle   = lipgloss.NewStyle().Foreground(redColor)
	barStyle     = lipgloss.NewStyle().Foreground(accentColor)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

const barWidth = 30

func progressBar(pct int) string {
	filled := pct * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	return barStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", barWidth-filled))
}

func phaseLabel(p core.Phase) string {
	switch p {
	case core.PhaseComplete:
		return successStyle.Render(string(p))
	case core.PhaseError:
		return errorStyle.Render(string(p))
	case core.PhaseIdle:
		return mutedStyle.Render(string(p))
	}
	return titleStyle.Render(string(p))
}

// progressLine renders one status line for a running session.
func progressLine(snap session.Snapshot) string {
	s := snap.Active
	if s == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %3d%%", progressBar(snap.Completion), snap.Completion)
	if s.Mode == core.ModeDebate && snap.Rounds != nil {
		r := snap.Rounds
		if r.AwaitingAnalysis {
			b.WriteString("  analyzing debate")
		} else {
			fmt.Fprintf(&b, "  round %d/%d", min(r.Current, r.Total), r.Total)
		}
	}
	if snap.Cost != nil {
		label := session.FormatCost(snap.Cost.TotalCost)
		if snap.Cost.Estimated {
			label = "~" + label
		}
		b.WriteString("  " + mutedStyle.Render(label))
	}
	return b.String()
}

func printBreakdown(w io.Writer, bd *core.QuestionBreakdown) {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Breakdown") + "\n")
	for i, sq := range bd.SubQuestions {
		fmt.Fprintf(&b, "\n%d. %s %s\n", i+1, sq.Text, mutedStyle.Render("["+sq.ID+"]"))
		fmt.Fprintf(&b, "   %s", strings.Join(sq.AnswerOptions, " / "))
	}
	fmt.Fprintln(w, boxStyle.Render(b.String()))
}

func printSession(w io.Writer, s *core.Session) {
	fmt.Fprintln(w, titleStyle.Render(s.Question))
	fmt.Fprintf(w, "%s  %s  %s  panel %d  %s\n",
		mutedStyle.Render(s.ID),
		s.Mode,
		phaseLabel(s.Phase),
		len(s.Panel),
		strings.Join(s.Models, ","),
	)
	if s.Error != "" {
		fmt.Fprintln(w, errorStyle.Render("error: "+s.Error))
	}
	cost := session.ActualCost(s)
	if cost.TotalCost > 0 {
		fmt.Fprintf(w, "cost %s\n", session.FormatCost(cost.TotalCost))
	}
	fmt.Fprintln(w)

	if s.Mode == core.ModeDebate {
		printDebate(w, s)
		return
	}
	printSurvey(w, s)
}

func printSurvey(w io.Writer, s *core.Session) {
	if s.Breakdown == nil || len(s.Responses) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No responses recorded."))
		return
	}
	for _, sq := range s.Breakdown.SubQuestions {
		fmt.Fprintln(w, headerStyle.Render(sq.Text))
		counts := export.Tally(s, sq)
		total := 0
		width := 0
		for _, c := range counts {
			total += c.Count
			width = max(width, lipgloss.Width(c.Option))
		}
		for _, c := range counts {
			pct := 0
			if total > 0 {
				pct = c.Count * 100 / total
			}
			fmt.Fprintf(w, "  %-*s %s %d\n", width, c.Option, progressBar(pct), c.Count)
		}
		fmt.Fprintln(w)
	}
}

func printDebate(w io.Writer, s *core.Session) {
	summaries := make(map[int]string)
	for _, rs := range s.RoundSummaries {
		summaries[rs.Round] = rs.Summary
	}
	st := session.Rounds(s)
	for round := 1; round <= st.Total; round++ {
		n := session.ItemsInRound(s, round)
		if n == 0 {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render(fmt.Sprintf("Round %d", round)), mutedStyle.Render(fmt.Sprintf("(%d messages)", n)))
		if summary, ok := summaries[round]; ok {
			fmt.Fprintln(w, "  "+summary)
		}
	}
	if a := s.Analysis; a != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Analysis"))
		fmt.Fprintln(w, a.Synthesis)
		for _, t := range a.Themes {
			fmt.Fprintf(w, "  • %s (%s, %d panelists)\n", t.Label, t.Sentiment, len(t.RespondentIDs))
		}
	}
}

func printPanelists(w io.Writer, panelists []session.MergedPanelist) {
	if len(panelists) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No panelists in the result set."))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Panelists (%d)", len(panelists))))
	for _, p := range panelists {
		state := string(p.State())
		switch p.State() {
		case session.StateAnswered:
			state = successStyle.Render(state)
		case session.StateSeenBefore:
			state = mutedStyle.Render(state)
		}
		extra := ""
		if p.HistoricalCount > 0 {
			extra = mutedStyle.Render(fmt.Sprintf(" seen in %d other session(s)", p.HistoricalCount))
		}
		fmt.Fprintf(w, "  %-40s %s%s\n", p.Respondent.DisplayName(), state, extra)
	}
}
