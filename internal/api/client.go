// Package api is the HTTP client for the remote panel backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("API error: %d %s", e.Status, e.Message)
}

// NotFound reports whether the backend answered 404.
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// Client talks to the panel backend over REST.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the backend at baseURL. A zero timeout means none.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type createRequest struct {
	Question      string              `json:"question"`
	PanelSize     int                 `json:"panel_size"`
	Filters       map[string][]string `json:"filters"`
	Models        []string            `json:"models"`
	AnalyzerModel string              `json:"analyzer_model"`
}

type analyzeRequest struct {
	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

type breakdownRequest struct {
	Breakdown *core.QuestionBreakdown `json:"breakdown"`
}

// sessionWire is the backend's session record. Its timestamps are free-form.
type sessionWire struct {
	ID          string                  `json:"id"`
	Question    string                  `json:"question"`
	Breakdown   *core.QuestionBreakdown `json:"breakdown"`
	PanelSize   int                     `json:"panel_size"`
	Filters     *core.Filters           `json:"filters"`
	Models      []string                `json:"models"`
	Panel       []core.Respondent       `json:"panel"`
	Responses   []core.Response         `json:"responses"`
	ChatMode    core.Mode               `json:"chat_mode"`
	NumRounds   int                     `json:"num_rounds"`
	Messages    []core.DebateMessage    `json:"debate_messages"`
	Summaries   []core.RoundSummary     `json:"round_summaries"`
	Analysis    *core.DebateAnalysis    `json:"debate_analysis"`
	CreatedAt   *string                 `json:"created_at"`
	CompletedAt *string                 `json:"completed_at"`
}

func (w sessionWire) session() *core.Session {
	s := &core.Session{
		ID:             w.ID,
		Question:       w.Question,
		Mode:           w.ChatMode,
		PanelSize:      w.PanelSize,
		Models:         w.Models,
		Panel:          w.Panel,
		Breakdown:      w.Breakdown,
		Responses:      w.Responses,
		DebateMessages: w.Messages,
		RoundSummaries: w.Summaries,
		Analysis:       w.Analysis,
		TotalRounds:    w.NumRounds,
		CreatedAt:      parseTime(w.CreatedAt),
	}
	if s.Mode == "" {
		s.Mode = core.ModeSurvey
	}
	if s.TotalRounds == 0 {
		s.TotalRounds = 1
	}
	if w.Filters != nil {
		s.Filters = *w.Filters
	}
	if t := parseTime(w.CompletedAt); !t.IsZero() {
		s.CompletedAt = &t
	}
	return s
}

type summaryWire struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	PanelSize int       `json:"panel_size"`
	ChatMode  core.Mode `json:"chat_mode"`
	CreatedAt *string   `json:"created_at"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts the timestamp formats the backend emits. Unparseable or
// missing values yield the zero time.
func parseTime(s *string) time.Time {
	if s == nil || *s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return t
		}
	}
	slog.Debug("Unrecognized timestamp", "value", *s)
	return time.Time{}
}

// CreateSession asks the backend to draw a panel for the question.
func (c *Client) CreateSession(ctx context.Context, cfg core.NewSessionConfig) (*core.Session, error) {
	req := createRequest{
		Question:      cfg.Question,
		PanelSize:     cfg.PanelSize,
		Filters:       cfg.Filters.Active(),
		Models:        cfg.Models,
		AnalyzerModel: cfg.AnalyzerModel,
	}
	var w sessionWire
	if err := c.do(ctx, http.MethodPost, "/api/surveys", req, &w); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return w.session(), nil
}

// Analyze generates the question breakdown with the analyzer model.
func (c *Client) Analyze(ctx context.Context, id, model, apiKey string) (*core.QuestionBreakdown, error) {
	var bd core.QuestionBreakdown
	path := "/api/surveys/" + url.PathEscape(id) + "/analyze"
	if err := c.do(ctx, http.MethodPost, path, analyzeRequest{Model: model, APIKey: apiKey}, &bd); err != nil {
		return nil, fmt.Errorf("failed to analyze question: %w", err)
	}
	return &bd, nil
}

// SubmitBreakdown stores the reviewed breakdown.
func (c *Client) SubmitBreakdown(ctx context.Context, id string, bd *core.QuestionBreakdown) error {
	path := "/api/surveys/" + url.PathEscape(id) + "/breakdown"
	if err := c.do(ctx, http.MethodPost, path, breakdownRequest{Breakdown: bd}, nil); err != nil {
		return fmt.Errorf("failed to submit breakdown: %w", err)
	}
	return nil
}

// ListSessions returns the backend's session history, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]core.SessionSummary, error) {
	var ws []summaryWire
	if err := c.do(ctx, http.MethodGet, "/api/surveys", nil, &ws); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]core.SessionSummary, 0, len(ws))
	for _, w := range ws {
		out = append(out, core.SessionSummary{
			ID:        w.ID,
			Question:  w.Question,
			PanelSize: w.PanelSize,
			Mode:      w.ChatMode,
			CreatedAt: parseTime(w.CreatedAt),
		})
	}
	return out, nil
}

// GetSession returns a session with its panel and results.
func (c *Client) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var w sessionWire
	if err := c.do(ctx, http.MethodGet, "/api/surveys/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return w.session(), nil
}

// FilterOptions lists the values each filter attribute can take.
func (c *Client) FilterOptions(ctx context.Context) (map[string][]string, error) {
	var opts map[string][]string
	if err := c.do(ctx, http.MethodGet, "/api/respondents/filters", nil, &opts); err != nil {
		return nil, fmt.Errorf("failed to get filter options: %w", err)
	}
	return opts, nil
}

// CountRespondents returns how many respondents match the filters.
func (c *Client) CountRespondents(ctx context.Context, f core.Filters) (int, error) {
	q := url.Values{}
	for key, values := range f.Active() {
		q.Set(key, strings.Join(values, ","))
	}
	path := "/api/respondents/count"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to count respondents: %w", err)
	}
	return resp.Count, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("Backend request", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the backend's error detail, falling back to the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch d := payload.Detail.(type) {
		case string:
			return d
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}
