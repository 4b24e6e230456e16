// Package export handles exporting panel sessions to various formats.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// Format represents an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatJSON     Format = "json"
)

// Exporter defines the interface for exporting sessions.
type Exporter interface {
	Export(s *core.Session, w io.Writer) error
	FileExtension() string
}

// GetExporter returns an exporter for the given format.
func GetExporter(format Format) (Exporter, error) {
	switch format {
	case FormatMarkdown, "md":
		return &MarkdownExporter{}, nil
	case FormatPDF:
		return &PDFExporter{}, nil
	case FormatJSON:
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// GenerateFilename creates a filename for the export.
func GenerateFilename(s *core.Session, ext string) string {
	question := s.Question
	if len(question) > 50 {
		question = question[:50]
	}

	replacer := strings.NewReplacer(
		" ", "_",
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
	)
	question = replacer.Replace(question)

	timestamp := "undated"
	if !s.CreatedAt.IsZero() {
		timestamp = s.CreatedAt.Format("20060102")
	}
	mode := s.Mode
	if mode == "" {
		mode = core.ModeSurvey
	}
	return fmt.Sprintf("%s_%s_%s.%s", mode, timestamp, question, ext)
}

// OptionCount is how many responses chose one answer option.
type OptionCount struct {
	Option string
	Count  int
}

// Tally counts the answers to one sub-question across all responses, in the
// order the options were offered. Answers outside the offered options are
// appended after them.
func Tally(s *core.Session, sq core.SubQuestion) []OptionCount {
	counts := make(map[string]int)
	for _, r := range s.Responses {
		if a, ok := r.Answers[sq.ID]; ok && a != "" {
			counts[a]++
		}
	}

	out := make([]OptionCount, 0, len(counts))
	seen := make(map[string]bool, len(sq.AnswerOptions))
	for _, opt := range sq.AnswerOptions {
		seen[opt] = true
		out = append(out, OptionCount{Option: opt, Count: counts[opt]})
	}
	for _, r := range s.Responses {
		a := r.Answers[sq.ID]
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, OptionCount{Option: a, Count: counts[a]})
	}
	return out
}

func panelistName(s *core.Session, respondentID int, agentName string) string {
	for _, r := range s.Panel {
		if r.ID == respondentID {
			return r.DisplayName()
		}
	}
	if agentName != "" {
		return agentName
	}
	return fmt.Sprintf("Respondent %d", respondentID)
}

func messagesByRound(s *core.Session) (map[int][]core.DebateMessage, int) {
	rounds := make(map[int][]core.DebateMessage)
	maxRound := 0
	for _, m := range s.DebateMessages {
		rounds[m.Round] = append(rounds[m.Round], m)
		if m.Round > maxRound {
			maxRound = m.Round
		}
	}
	return rounds, maxRound
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

// Helper to format duration
func formatDuration(start, end time.Time) string {
	d := end.Sub(start)
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
