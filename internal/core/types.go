// Package core contains the core domain types for panel-chat.
package core

import (
	"time"
)

// Phase is the lifecycle position of a panel session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAnalyzing Phase = "analyzing"
	PhaseReviewing Phase = "reviewing"
	PhaseRunning   Phase = "running"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// InFlight reports whether the phase belongs to a session that is still being driven.
func (p Phase) InFlight() bool {
	return p == PhaseAnalyzing || p == PhaseReviewing || p == PhaseRunning
}

// Terminal reports whether no further events can change the session.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Mode selects how the panel answers a question.
type Mode string

const (
	ModeSurvey Mode = "survey"
	ModeDebate Mode = "debate"
)

// Valid returns true for a known chat mode.
func (m Mode) Valid() bool {
	return m == ModeSurvey || m == ModeDebate
}

// Respondent is one synthetic panelist drawn from the survey population.
type Respondent struct {
	ID                 int     `json:"id"`
	Role               *string `json:"role"`
	OrgSize            *string `json:"org_size"`
	Industry           *string `json:"industry"`
	TeamFocus          *string `json:"team_focus"`
	StorageEnvironment *string `json:"storage_environment"`
	Orchestration      *string `json:"orchestration"`
	AIUsageFrequency   *string `json:"ai_usage_frequency"`
	AIHelpsWith        *string `json:"ai_helps_with"`
	AIAdoption         *string `json:"ai_adoption"`
	ModelingApproach   *string `json:"modeling_approach"`
	ModelingPainPoints *string `json:"modeling_pain_points"`
	ArchitectureTrend  *string `json:"architecture_trend"`
	BiggestBottleneck  *string `json:"biggest_bottleneck"`
	TeamGrowth2026     *string `json:"team_growth_2026"`
	EducationTopic     *string `json:"education_topic"`
	IndustryWish       *string `json:"industry_wish"`
	Region             *string `json:"region"`
}

// SubQuestion is one categorical question derived from the user's question.
type SubQuestion struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	AnswerOptions []string `json:"answer_options"`
	ChartType     string   `json:"chart_type"`
}

// QuestionBreakdown decomposes a free-text question into sub-questions.
type QuestionBreakdown struct {
	OriginalQuestion string        `json:"original_question"`
	SubQuestions     []SubQuestion `json:"sub_questions"`
}

// TokenUsage is the model usage reported for a single call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a survey answer from one respondent through one model.
type Response struct {
	ID           string            `json:"id"`
	SurveyID     string            `json:"survey_id"`
	RespondentID int               `json:"respondent_id"`
	AgentName    string            `json:"agent_name"`
	Model        string            `json:"model"`
	Answers      map[string]string `json:"answers"` // sub_question_id -> chosen option
	Round        *int              `json:"round,omitempty"`
	TokenUsage   *TokenUsage       `json:"token_usage,omitempty"`
}

// RoundNumber returns the response round, treating an absent round as 1.
func (r Response) RoundNumber() int {
	if r.Round == nil {
		return 1
	}
	return *r.Round
}

// DebateMessage is one panelist contribution to a debate round.
type DebateMessage struct {
	RespondentID int         `json:"respondent_id"`
	AgentName    string      `json:"agent_name"`
	Model        string      `json:"model"`
	Round        int         `json:"round"`
	Text         string      `json:"text"`
	TokenUsage   *TokenUsage `json:"token_usage,omitempty"`
}

// RoundSummary is the synthesized digest of a finished debate round.
type RoundSummary struct {
	Round       int    `json:"round"`
	TotalRounds int    `json:"total_rounds"`
	Summary     string `json:"summary"`
}

// Sentiment values used by debate themes.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentMixed    = "mixed"
	SentimentNeutral  = "neutral"
)

// DebateTheme is a cluster of panelists sharing a position.
type DebateTheme struct {
	Label         string   `json:"label"`
	Description   string   `json:"description"`
	RespondentIDs []int    `json:"respondent_ids"`
	KeyArguments  []string `json:"key_arguments"`
	Sentiment     string   `json:"sentiment"`
}

// DebateAnalysis is produced once, after every debate round finished.
type DebateAnalysis struct {
	Themes          []DebateTheme `json:"themes"`
	ConsensusPoints []string      `json:"consensus_points"`
	KeyTensions     []string      `json:"key_tensions"`
	Synthesis       string        `json:"synthesis"`
	TokenUsage      *TokenUsage   `json:"token_usage,omitempty"`
}

// Session is the aggregate root for one question put to a panel.
type Session struct {
	ID             string             `json:"id"`
	Question       string             `json:"question"`
	Mode           Mode               `json:"chat_mode"`
	Phase          Phase              `json:"phase"`
	PanelSize      int                `json:"panel_size"`
	Filters        Filters            `json:"filters"`
	Models         []string           `json:"models"`
	Panel          []Respondent       `json:"panel"`
	Breakdown      *QuestionBreakdown `json:"breakdown"`
	Responses      []Response         `json:"responses"`
	DebateMessages []DebateMessage    `json:"debate_messages"`
	RoundSummaries []RoundSummary     `json:"round_summaries"`
	Analysis       *DebateAnalysis    `json:"debate_analysis"`
	TotalRounds    int                `json:"total_rounds"`
	Error          string             `json:"error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// SessionSummary is a lightweight representation for listing sessions.
type SessionSummary struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	PanelSize int       `json:"panel_size"`
	Mode      Mode      `json:"chat_mode,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionConfig holds what the user chose when submitting a question.
type NewSessionConfig struct {
	Question      string
	Mode          Mode
	PanelSize     int
	Rounds        int
	Filters       Filters
	Models        []string
	AnalyzerModel string
}

// HasResults reports whether any survey response or debate message was aggregated.
func (s *Session) HasResults() bool {
	return len(s.Responses) > 0 || len(s.DebateMessages) > 0
}

// InPanel reports whether the respondent is a member of the session panel.
func (s *Session) InPanel(respondentID int) bool {
	for _, r := range s.Panel {
		if r.ID == respondentID {
			return true
		}
	}
	return false
}

// ModelCount returns the number of models, never less than one.
func (s *Session) ModelCount() int {
	if len(s.Models) == 0 {
		return 1
	}
	return len(s.Models)
}

// Summary returns the listing form of the session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:        s.ID,
		Question:  s.Question,
		PanelSize: s.PanelSize,
		Mode:      s.Mode,
		Phase:     s.Phase,
		CreatedAt: s.CreatedAt,
	}
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Filters = s.Filters.Clone()
	c.Models = append([]string(nil), s.Models...)
	c.Panel = append([]Respondent(nil), s.Panel...)
	c.Breakdown = s.Breakdown.Clone()
	if s.Responses != nil {
		c.Responses = make([]Response, len(s.Responses))
		for i, r := range s.Responses {
			c.Responses[i] = r.clone()
		}
	}
	c.DebateMessages = append([]DebateMessage(nil), s.DebateMessages...)
	c.RoundSummaries = append([]RoundSummary(nil), s.RoundSummaries...)
	if s.Analysis != nil {
		a := *s.Analysis
		a.Themes = append([]DebateTheme(nil), s.Analysis.Themes...)
		a.ConsensusPoints = append([]string(nil), s.Analysis.ConsensusPoints...)
		a.KeyTensions = append([]string(nil), s.Analysis.KeyTensions...)
		c.Analysis = &a
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (r Response) clone() Response {
	c := r
	if r.Answers != nil {
		c.Answers = make(map[string]string, len(r.Answers))
		for k, v := range r.Answers {
			c.Answers[k] = v
		}
	}
	if r.Round != nil {
		n := *r.Round
		c.Round = &n
	}
	if r.TokenUsage != nil {
		u := *r.TokenUsage
		c.TokenUsage = &u
	}
	return c
}
