package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
)

// MarkdownExporter exports sessions to Markdown format.
type MarkdownExporter struct{}

// Export writes the session as Markdown.
func (e *MarkdownExporter) Export(s *core.Session, w io.Writer) error {
	var sb strings.Builder

	// Title
	sb.WriteString(fmt.Sprintf("# %s\n\n", s.Question))

	// Metadata
	sb.WriteString("## Session Information\n\n")
	sb.WriteString(fmt.Sprintf("- **ID:** `%s`\n", s.ID))
	sb.WriteString(fmt.Sprintf("- **Mode:** %s\n", s.Mode))
	sb.WriteString(fmt.Sprintf("- **Status:** %s\n", s.Phase))
	sb.WriteString(fmt.Sprintf("- **Panel size:** %d\n", s.PanelSize))
	if len(s.Models) > 0 {
		sb.WriteString(fmt.Sprintf("- **Models:** %s\n", strings.Join(s.Models, ", ")))
	}
	if !s.CreatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("- **Created:** %s\n", s.CreatedAt.Format("January 2, 2006 at 3:04 PM")))
		if s.CompletedAt != nil {
			sb.WriteString(fmt.Sprintf("- **Completed:** %s\n", s.CompletedAt.Format("January 2, 2006 at 3:04 PM")))
			sb.WriteString(fmt.Sprintf("- **Duration:** %s\n", formatDuration(s.CreatedAt, *s.CompletedAt)))
		}
	}
	sb.WriteString(fmt.Sprintf("- **Completion:** %d%%\n", session.Completion(s)))
	if cost := session.ActualCost(s); cost.TotalCost > 0 {
		sb.WriteString(fmt.Sprintf("- **Cost:** %s\n", session.FormatCost(cost.TotalCost)))
	}
	if s.Error != "" {
		sb.WriteString(fmt.Sprintf("- **Error:** %s\n", s.Error))
	}
	sb.WriteString("\n")

	// Panel
	sb.WriteString("## Panel\n\n")
	if len(s.Panel) == 0 {
		sb.WriteString("*No panelists drawn.*\n\n")
	} else {
		for _, r := range s.Panel {
			sb.WriteString(fmt.Sprintf("- %s\n", r.DisplayName()))
		}
		sb.WriteString("\n")
	}

	if s.Mode == core.ModeDebate {
		writeDebate(&sb, s)
	} else {
		writeSurvey(&sb, s)
	}

	// Footer
	sb.WriteString("---\n\n")
	sb.WriteString("*Exported from panel-chat*\n")

	_, err := w.Write([]byte(sb.String()))
	return err
}

func writeSurvey(sb *strings.Builder, s *core.Session) {
	sb.WriteString("## Results\n\n")
	if s.Breakdown == nil || len(s.Responses) == 0 {
		sb.WriteString("*No responses recorded.*\n\n")
		return
	}

	for _, sq := range s.Breakdown.SubQuestions {
		sb.WriteString(fmt.Sprintf("### %s\n\n", sq.Text))
		sb.WriteString("| Answer | Count | Share |\n")
		sb.WriteString("|---|---:|---:|\n")
		total := 0
		counts := Tally(s, sq)
		for _, c := range counts {
			total += c.Count
		}
		for _, c := range counts {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.0f%% |\n", c.Option, c.Count, percent(c.Count, total)))
		}
		sb.WriteString("\n")
	}
}

func writeDebate(sb *strings.Builder, s *core.Session) {
	sb.WriteString("## Debate\n\n")

	rounds, maxRound := messagesByRound(s)
	if maxRound == 0 {
		sb.WriteString("*No messages recorded.*\n\n")
	}

	summaries := make(map[int]core.RoundSummary)
	for _, rs := range s.RoundSummaries {
		summaries[rs.Round] = rs
	}

	for r := 1; r <= maxRound; r++ {
		sb.WriteString(fmt.Sprintf("### Round %d\n\n", r))
		for _, m := range rounds[r] {
			sb.WriteString(fmt.Sprintf("#### %s\n\n", panelistName(s, m.RespondentID, m.AgentName)))
			if m.Model != "" {
				sb.WriteString(fmt.Sprintf("*%s*\n\n", m.Model))
			}
			sb.WriteString(m.Text)
			sb.WriteString("\n\n")
		}
		if rs, ok := summaries[r]; ok {
			sb.WriteString(fmt.Sprintf("**Round %d summary:** %s\n\n", r, rs.Summary))
		}
		sb.WriteString("---\n\n")
	}

	a := s.Analysis
	if a == nil {
		return
	}
	sb.WriteString("## Analysis\n\n")
	if a.Synthesis != "" {
		sb.WriteString(a.Synthesis)
		sb.WriteString("\n\n")
	}
	for _, t := range a.Themes {
		sb.WriteString(fmt.Sprintf("### %s (%s)\n\n", t.Label, t.Sentiment))
		if t.Description != "" {
			sb.WriteString(t.Description)
			sb.WriteString("\n\n")
		}
		for _, arg := range t.KeyArguments {
			sb.WriteString(fmt.Sprintf("- %s\n", arg))
		}
		sb.WriteString(fmt.Sprintf("\n*%d panelists*\n\n", len(t.RespondentIDs)))
	}
	if len(a.ConsensusPoints) > 0 {
		sb.WriteString("### Consensus\n\n")
		for _, p := range a.ConsensusPoints {
			sb.WriteString(fmt.Sprintf("- %s\n", p))
		}
		sb.WriteString("\n")
	}
	if len(a.KeyTensions) > 0 {
		sb.WriteString("### Tensions\n\n")
		for _, p := range a.KeyTensions {
			sb.WriteString(fmt.Sprintf("- %s\n", p))
		}
		sb.WriteString("\n")
	}
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return "md"
}
