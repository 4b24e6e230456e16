package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// ProtocolError reports an inbound message that could not be decoded.
type ProtocolError struct {
	// Type is the wire tag, if one could be read.
	Type    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	prefix := "protocol error"
	if e.Type != "" {
		prefix = fmt.Sprintf("protocol error in %q event", e.Type)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type responseWire struct {
	ID           string            `json:"id"`
	SurveyID     string            `json:"survey_id"`
	RespondentID *int              `json:"respondent_id"`
	AgentName    string            `json:"agent_name"`
	Model        string            `json:"model"`
	Answers      map[string]string `json:"answers"`
	Round        *int              `json:"round"`
	TokenUsage   *core.TokenUsage  `json:"token_usage"`
}

type debateMessageWire struct {
	RespondentID *int             `json:"respondent_id"`
	AgentName    string           `json:"agent_name"`
	Model        string           `json:"model"`
	Round        *int             `json:"round"`
	Text         *string          `json:"text"`
	TokenUsage   *core.TokenUsage `json:"token_usage"`
}

type roundCompleteWire struct {
	Round       *int   `json:"round"`
	TotalRounds *int   `json:"total_rounds"`
	Summary     string `json:"summary"`
}

type doneWire struct {
	SurveyID string               `json:"survey_id"`
	Analysis *core.DebateAnalysis `json:"analysis"`
}

type errorWire struct {
	Message *string `json:"message"`
}

// Decode parses one inbound frame into its typed payload. Unknown event
// types and payloads missing required fields are rejected.
func Decode(raw []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ProtocolError{Message: "invalid JSON envelope", Err: err}
	}
	if env.Type == "" {
		return nil, &ProtocolError{Message: "missing event type"}
	}

	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	fail := func(msg string, err error) (Payload, error) {
		return nil, &ProtocolError{Type: env.Type, Message: msg, Err: err}
	}

	switch Kind(env.Type) {
	case KindResponse:
		var w responseWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fail("malformed payload", err)
		}
		if w.RespondentID == nil {
			return fail("respondent_id is required", nil)
		}
		if w.Model == "" {
			return fail("model is required", nil)
		}
		if w.Answers == nil {
			return fail("answers are required", nil)
		}
		if w.Round != nil && *w.Round < 1 {
			return fail(fmt.Sprintf("round must be positive, got %d", *w.Round), nil)
		}
		return ResponseEvent{Response: core.Response{
			ID:           w.ID,
			SurveyID:     w.SurveyID,
			RespondentID: *w.RespondentID,
			AgentName:    w.AgentName,
			Model:        w.Model,
			Answers:      w.Answers,
			Round:        w.Round,
			TokenUsage:   w.TokenUsage,
		}}, nil

	case KindDebateMessage:
		var w debateMessageWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fail("malformed payload", err)
		}
		if w.RespondentID == nil {
			return fail("respondent_id is required", nil)
		}
		if w.Round == nil || *w.Round < 1 {
			return fail("round must be a positive number", nil)
		}
		if w.Text == nil {
			return fail("text is required", nil)
		}
		return DebateMessageEvent{Message: core.DebateMessage{
			RespondentID: *w.RespondentID,
			AgentName:    w.AgentName,
			Model:        w.Model,
			Round:        *w.Round,
			Text:         *w.Text,
			TokenUsage:   w.TokenUsage,
		}}, nil

	case KindRoundComplete:
		var w roundCompleteWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fail("malformed payload", err)
		}
		if w.Round == nil || *w.Round < 1 {
			return fail("round must be a positive number", nil)
		}
		total := *w.Round
		if w.TotalRounds != nil {
			total = *w.TotalRounds
		}
		if total < *w.Round {
			return fail(fmt.Sprintf("total_rounds %d is less than round %d", total, *w.Round), nil)
		}
		return RoundCompleteEvent{Summary: core.RoundSummary{
			Round:       *w.Round,
			TotalRounds: total,
			Summary:     w.Summary,
		}}, nil

	case KindDebateAnalysis:
		var a core.DebateAnalysis
		if err := json.Unmarshal(data, &a); err != nil {
			return fail("malformed payload", err)
		}
		return AnalysisEvent{Analysis: a}, nil

	case KindDone:
		var w doneWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fail("malformed payload", err)
		}
		return DoneEvent{SurveyID: w.SurveyID, Analysis: w.Analysis}, nil

	case KindError:
		var w errorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fail("malformed payload", err)
		}
		if w.Message == nil {
			return fail("message is required", nil)
		}
		msg := *w.Message
		if msg == "" {
			msg = "unknown error"
		}
		return ErrorEvent{Message: msg}, nil
	}

	return fail("unknown event type", nil)
}

// Encode renders a payload in the wire envelope. It is the inverse of Decode.
func Encode(p Payload) ([]byte, error) {
	var data any
	switch ev := p.(type) {
	case ResponseEvent:
		data = ev.Response
	case DebateMessageEvent:
		data = ev.Message
	case RoundCompleteEvent:
		data = ev.Summary
	case AnalysisEvent:
		data = ev.Analysis
	case DoneEvent:
		data = doneWire{SurveyID: ev.SurveyID, Analysis: ev.Analysis}
	case ErrorEvent:
		data = map[string]string{"message": ev.Message}
	default:
		return nil, fmt.Errorf("cannot encode payload of type %T", p)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(envelope{Type: string(p.Kind()), Data: raw})
}
