package export

import (
	"encoding/json"
	"io"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
)

// JSONExporter exports sessions to JSON format.
type JSONExporter struct{}

// ExportData represents the full export structure.
type ExportData struct {
	Session    *core.Session `json:"session"`
	Completion int           `json:"completion"`
	Cost       session.Cost  `json:"cost"`
}

// Export writes the session as JSON.
func (e *JSONExporter) Export(s *core.Session, w io.Writer) error {
	data := ExportData{
		Session:    s,
		Completion: session.Completion(s),
		Cost:       session.ActualCost(s),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return "json"
}
