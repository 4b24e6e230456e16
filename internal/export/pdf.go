package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
)

// PDFExporter exports sessions to PDF format.
type PDFExporter struct{}

// Export writes the session as PDF.
func (e *PDFExporter) Export(s *core.Session, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(0, 10, e.sanitizeText(s.Question), "", "C", false)
	pdf.Ln(5)

	// Metadata section
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Session Information")
	pdf.Ln(8)

	id := s.ID
	if len(id) > 8 {
		id = id[:8] + "..."
	}
	e.addMetadataRow(pdf, "ID:", id)
	e.addMetadataRow(pdf, "Mode:", string(s.Mode))
	e.addMetadataRow(pdf, "Status:", string(s.Phase))
	e.addMetadataRow(pdf, "Panel:", fmt.Sprintf("%d respondents", s.PanelSize))
	if len(s.Models) > 0 {
		e.addMetadataRow(pdf, "Models:", strings.Join(s.Models, ", "))
	}
	if !s.CreatedAt.IsZero() {
		e.addMetadataRow(pdf, "Created:", s.CreatedAt.Format("January 2, 2006 at 3:04 PM"))
		if s.CompletedAt != nil {
			e.addMetadataRow(pdf, "Duration:", formatDuration(s.CreatedAt, *s.CompletedAt))
		}
	}
	if cost := session.ActualCost(s); cost.TotalCost > 0 {
		e.addMetadataRow(pdf, "Cost:", session.FormatCost(cost.TotalCost))
	}
	pdf.Ln(5)

	if s.Mode == core.ModeDebate {
		e.writeDebate(pdf, s)
	} else {
		e.writeSurvey(pdf, s)
	}

	// Footer
	pdf.SetY(-15)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 10, "Exported from panel-chat", "", 0, "C", false, 0, "")

	return pdf.Output(w)
}

func (e *PDFExporter) writeSurvey(pdf *gofpdf.Fpdf, s *core.Session) {
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Results")
	pdf.Ln(8)

	if s.Breakdown == nil || len(s.Responses) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.Cell(0, 6, "No responses recorded.")
		pdf.Ln(6)
		return
	}

	for _, sq := range s.Breakdown.SubQuestions {
		if pdf.GetY() > 240 {
			pdf.AddPage()
		}
		pdf.SetFillColor(200, 230, 255) // Light blue
		pdf.SetFont("Arial", "B", 10)
		pdf.MultiCell(0, 7, e.sanitizeText(sq.Text), "", "", true)

		counts := Tally(s, sq)
		total := 0
		for _, c := range counts {
			total += c.Count
		}
		pdf.SetFont("Arial", "", 9)
		for _, c := range counts {
			share := percent(c.Count, total)
			pdf.Cell(90, 5, e.sanitizeText(c.Option))
			pdf.Cell(20, 5, fmt.Sprintf("%d", c.Count))
			// Bar proportional to share of answers
			x, y := pdf.GetX(), pdf.GetY()
			pdf.SetFillColor(120, 180, 120)
			if share > 0 {
				pdf.Rect(x, y+1, share*0.5, 3, "F")
			}
			pdf.SetX(x + 52)
			pdf.Cell(0, 5, fmt.Sprintf("%.0f%%", share))
			pdf.Ln(5)
		}
		pdf.Ln(4)
	}
}

func (e *PDFExporter) writeDebate(pdf *gofpdf.Fpdf, s *core.Session) {
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Debate")
	pdf.Ln(8)

	rounds, maxRound := messagesByRound(s)
	if maxRound == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.Cell(0, 6, "No messages recorded.")
		pdf.Ln(6)
	}

	summaries := make(map[int]string)
	for _, rs := range s.RoundSummaries {
		summaries[rs.Round] = rs.Summary
	}

	for r := 1; r <= maxRound; r++ {
		if pdf.GetY() > 250 {
			pdf.AddPage()
		}
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(0, 7, fmt.Sprintf("Round %d", r))
		pdf.Ln(7)

		for i, m := range rounds[r] {
			if pdf.GetY() > 250 {
				pdf.AddPage()
			}
			// Alternate header colors
			if i%2 == 0 {
				pdf.SetFillColor(200, 230, 255) // Light blue
			} else {
				pdf.SetFillColor(200, 255, 200) // Light green
			}
			pdf.SetFont("Arial", "B", 9)
			header := panelistName(s, m.RespondentID, m.AgentName)
			if m.Model != "" {
				header += " (" + m.Model + ")"
			}
			pdf.CellFormat(0, 6, e.sanitizeText(header), "", 1, "", true, 0, "")

			pdf.SetFont("Arial", "", 9)
			pdf.MultiCell(0, 5, e.sanitizeText(m.Text), "", "", false)
			pdf.Ln(3)
		}

		if summary, ok := summaries[r]; ok {
			pdf.SetFont("Arial", "I", 9)
			pdf.MultiCell(0, 5, e.sanitizeText("Summary: "+summary), "", "", false)
			pdf.Ln(4)
		}
	}

	a := s.Analysis
	if a == nil {
		return
	}
	if pdf.GetY() > 230 {
		pdf.AddPage()
	}
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Analysis")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 5, e.sanitizeText(a.Synthesis), "", "", false)
	pdf.Ln(3)

	for _, t := range a.Themes {
		pdf.SetFillColor(sentimentColor(t.Sentiment))
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 7, e.sanitizeText(fmt.Sprintf("%s (%d panelists)", t.Label, len(t.RespondentIDs))), "", 1, "", true, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, e.sanitizeText(t.Description), "", "", false)
		for _, arg := range t.KeyArguments {
			pdf.MultiCell(0, 5, e.sanitizeText("* "+arg), "", "", false)
		}
		pdf.Ln(3)
	}

	e.addList(pdf, "Consensus", a.ConsensusPoints)
	e.addList(pdf, "Tensions", a.KeyTensions)
}

func sentimentColor(sentiment string) (int, int, int) {
	switch sentiment {
	case core.SentimentPositive:
		return 200, 255, 200
	case core.SentimentNegative:
		return 255, 200, 200
	case core.SentimentMixed:
		return 255, 240, 200
	}
	return 230, 230, 230
}

func (e *PDFExporter) addList(pdf *gofpdf.Fpdf, title string, items []string) {
	if len(items) == 0 {
		return
	}
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, title)
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 9)
	for _, item := range items {
		pdf.MultiCell(0, 5, e.sanitizeText("* "+item), "", "", false)
	}
	pdf.Ln(3)
}

// FileExtension returns the file extension for PDF.
func (e *PDFExporter) FileExtension() string {
	return "pdf"
}

// Helper to add a metadata row
func (e *PDFExporter) addMetadataRow(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(30, 5, label)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 5, e.sanitizeText(value))
	pdf.Ln(5)
}

// gofpdf core fonts are Windows-1252; map common Unicode punctuation down.
func (e *PDFExporter) sanitizeText(text string) string {
	replacer := strings.NewReplacer(
		"\u2018", "'",
		"\u2019", "'",
		"\u201C", "\"",
		"\u201D", "\"",
		"\u2013", "-",
		"\u2014", "--",
		"\u2026", "...",
		"\u2022", "*",
		"\u00A0", " ",
	)
	return replacer.Replace(text)
}
