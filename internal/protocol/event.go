// Package protocol defines the typed events streamed by the panel backend
// and the handshake sent when a stream opens.
package protocol

import (
	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// Kind is the wire tag of an inbound event.
type Kind string

const (
	KindResponse       Kind = "survey_response"
	KindDebateMessage  Kind = "debate_message"
	KindRoundComplete  Kind = "round_complete"
	KindDebateAnalysis Kind = "debate_analysis"
	KindDone           Kind = "survey_done"
	KindError          Kind = "error"
)

// Payload is implemented by every event variant.
type Payload interface {
	Kind() Kind
}

// ResponseEvent carries one survey answer.
type ResponseEvent struct {
	Response core.Response
}

// DebateMessageEvent carries one debate contribution.
type DebateMessageEvent struct {
	Message core.DebateMessage
}

// RoundCompleteEvent closes a debate round.
type RoundCompleteEvent struct {
	Summary core.RoundSummary
}

// AnalysisEvent delivers the final debate analysis ahead of completion.
type AnalysisEvent struct {
	Analysis core.DebateAnalysis
}

// DoneEvent marks the run finished. Debates may embed the analysis.
type DoneEvent struct {
	SurveyID string
	Analysis *core.DebateAnalysis
}

// ErrorEvent reports a failure raised by the backend.
type ErrorEvent struct {
	Message string
}

func (ResponseEvent) Kind() Kind      { return KindResponse }
func (DebateMessageEvent) Kind() Kind { return KindDebateMessage }
func (RoundCompleteEvent) Kind() Kind { return KindRoundComplete }
func (AnalysisEvent) Kind() Kind      { return KindDebateAnalysis }
func (DoneEvent) Kind() Kind          { return KindDone }
func (ErrorEvent) Kind() Kind         { return KindError }

// Event is a decoded payload tagged with the stream it arrived on.
type Event struct {
	// Generation identifies the stream; events from a superseded
	// generation are discarded by the dispatcher.
	Generation uint64
	SessionID  string
	Payload    Payload
}

// Frame is one item read off a stream: a decoded payload, or the error
// that prevented decoding it.
type Frame struct {
	Payload Payload
	Err     error
}
