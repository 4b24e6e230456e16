package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

func TestDecodeResponse(t *testing.T) {
	raw := `{"type":"survey_response","data":{"id":"r-1","survey_id":"s-1","respondent_id":7,"agent_name":"Analyst","model":"gpt-4.1","answers":{"sq_1":"Yes"},"token_usage":{"input_tokens":420,"output_tokens":40}}}`

	p, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	ev, ok := p.(ResponseEvent)
	if !ok {
		t.Fatalf("expected ResponseEvent, got %T", p)
	}
	if ev.Response.RespondentID != 7 || ev.Response.Model != "gpt-4.1" || ev.Response.Answers["sq_1"] != "Yes" {
		t.Errorf("unexpected response: %+v", ev.Response)
	}
	if ev.Response.Round != nil {
		t.Errorf("expected nil round, got %d", *ev.Response.Round)
	}
	if ev.Response.TokenUsage == nil || ev.Response.TokenUsage.InputTokens != 420 {
		t.Errorf("token usage not decoded: %+v", ev.Response.TokenUsage)
	}
}

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"DebateMessage", `{"type":"debate_message","data":{"respondent_id":1,"agent_name":"A","model":"o3","round":2,"text":"I disagree"}}`, KindDebateMessage},
		{"RoundComplete", `{"type":"round_complete","data":{"round":1,"total_rounds":2,"summary":"Split views"}}`, KindRoundComplete},
		{"Analysis", `{"type":"debate_analysis","data":{"themes":[],"consensus_points":["x"],"key_tensions":[],"synthesis":"s"}}`, KindDebateAnalysis},
		{"Done", `{"type":"survey_done","data":{"survey_id":"s-1"}}`, KindDone},
		{"DoneWithoutData", `{"type":"survey_done"}`, KindDone},
		{"Error", `{"type":"error","data":{"message":"rate limited"}}`, KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if p.Kind() != tt.kind {
				t.Errorf("kind = %s, want %s", p.Kind(), tt.kind)
			}
		})
	}
}

func TestDecodeDoneWithAnalysis(t *testing.T) {
	raw := `{"type":"survey_done","data":{"analysis":{"themes":[{"label":"Pragmatists","description":"d","respondent_ids":[1,2],"key_arguments":["a"],"sentiment":"mixed"}],"consensus_points":[],"key_tensions":[],"synthesis":"done"}}}`
	p, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	done := p.(DoneEvent)
	if done.Analysis == nil || done.Analysis.Themes[0].Sentiment != core.SentimentMixed {
		t.Errorf("analysis not decoded: %+v", done.Analysis)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"NotJSON", `{type`},
		{"MissingType", `{"data":{}}`},
		{"UnknownType", `{"type":"agent_dance","data":{}}`},
		{"ResponseWithoutRespondent", `{"type":"survey_response","data":{"model":"o3","answers":{}}}`},
		{"ResponseWithoutModel", `{"type":"survey_response","data":{"respondent_id":1,"answers":{}}}`},
		{"ResponseWithoutAnswers", `{"type":"survey_response","data":{"respondent_id":1,"model":"o3"}}`},
		{"ResponseWrongFieldType", `{"type":"survey_response","data":{"respondent_id":"one","model":"o3","answers":{}}}`},
		{"MessageWithoutRound", `{"type":"debate_message","data":{"respondent_id":1,"text":"hi"}}`},
		{"MessageWithoutText", `{"type":"debate_message","data":{"respondent_id":1,"round":1}}`},
		{"RoundZero", `{"type":"round_complete","data":{"round":0,"total_rounds":2}}`},
		{"TotalBelowRound", `{"type":"round_complete","data":{"round":3,"total_rounds":2}}`},
		{"ErrorWithoutMessage", `{"type":"error","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	round := 2
	payloads := []Payload{
		ResponseEvent{Response: core.Response{ID: "r", RespondentID: 3, Model: "o3", Answers: map[string]string{"sq_1": "No"}, Round: &round}},
		DebateMessageEvent{Message: core.DebateMessage{RespondentID: 3, Model: "o3", Round: 1, Text: "t"}},
		RoundCompleteEvent{Summary: core.RoundSummary{Round: 1, TotalRounds: 2, Summary: "s"}},
		DoneEvent{SurveyID: "s"},
		ErrorEvent{Message: "boom"},
	}

	for _, p := range payloads {
		raw, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", p.Kind(), err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", p.Kind(), err)
		}
		if got.Kind() != p.Kind() {
			t.Errorf("kind changed: %s -> %s", p.Kind(), got.Kind())
		}
	}
}

func TestNewHandshake(t *testing.T) {
	keys := map[string]string{"anthropic": "sk-ant", "openai": "", "google": "g-key"}
	h := NewHandshake(keys, map[string]float64{"o3": 1}, true, core.ModeSurvey, 3)

	if len(h.APIKeys) != 2 {
		t.Errorf("expected empty keys to be dropped, got %v", h.APIKeys)
	}
	if h.NumRounds != 0 {
		t.Errorf("survey handshake should not carry rounds, got %d", h.NumRounds)
	}

	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := wire["num_rounds"]; ok {
		t.Error("num_rounds should be omitted for surveys")
	}
	if wire["chat_mode"] != "survey" || wire["persona_memory"] != true {
		t.Errorf("unexpected handshake: %s", data)
	}

	d := NewHandshake(keys, nil, false, core.ModeDebate, 3)
	if d.NumRounds != 3 {
		t.Errorf("debate handshake rounds = %d, want 3", d.NumRounds)
	}
}
