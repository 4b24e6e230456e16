package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mosaictheory-jt/panel-chat/internal/api"
	"github.com/mosaictheory-jt/panel-chat/internal/config"
	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/metrics"
	"github.com/mosaictheory-jt/panel-chat/internal/protocol"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
	"github.com/mosaictheory-jt/panel-chat/internal/storage"
)

func strPtr(s string) *string { return &s }

func testBreakdown() *core.QuestionBreakdown {
	return &core.QuestionBreakdown{
		OriginalQuestion: "Do you use dbt?",
		SubQuestions: []core.SubQuestion{
			{ID: "q1", Text: "Do you use dbt?", AnswerOptions: []string{"Yes", "No"}, ChartType: core.ChartBar},
		},
	}
}

type fakeBackend struct {
	mu       sync.Mutex
	panel    []core.Respondent
	sessions map[string]*core.Session
	nextID   int
}

func (b *fakeBackend) CreateSession(ctx context.Context, cfg core.NewSessionConfig) (*core.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return &core.Session{
		ID:        fmt.Sprintf("survey-%d", b.nextID),
		PanelSize: len(b.panel),
		Panel:     append([]core.Respondent(nil), b.panel...),
	}, nil
}

func (b *fakeBackend) Analyze(ctx context.Context, id, model, apiKey string) (*core.QuestionBreakdown, error) {
	return testBreakdown(), nil
}

func (b *fakeBackend) SubmitBreakdown(ctx context.Context, id string, bd *core.QuestionBreakdown) error {
	return nil
}

func (b *fakeBackend) ListSessions(ctx context.Context) ([]core.SessionSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.SessionSummary
	for _, s := range b.sessions {
		out = append(out, s.Summary())
	}
	return out, nil
}

func (b *fakeBackend) GetSession(ctx context.Context, id string) (*core.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, &api.APIError{Status: http.StatusNotFound, Message: "Survey not found"}
	}
	return s.Clone(), nil
}

func (b *fakeBackend) FilterOptions(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{"industry": {"Retail", "Finance"}}, nil
}

func (b *fakeBackend) CountRespondents(ctx context.Context, f core.Filters) (int, error) {
	return 10 * len(f.Industry), nil
}

type fakeStream struct {
	frames    chan protocol.Frame
	closeOnce sync.Once
}

func (s *fakeStream) Frames() <-chan protocol.Frame { return s.frames }
func (s *fakeStream) Err() error                    { return nil }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.frames) })
	return nil
}

type fakeDialer struct {
	opened chan *fakeStream
}

func (d *fakeDialer) Open(ctx context.Context, sessionID string, hs protocol.Handshake) (session.Stream, error) {
	st := &fakeStream{frames: make(chan protocol.Frame, 16)}
	d.opened <- st
	return st, nil
}

type testEnv struct {
	handler *Handler
	router  http.Handler
	ctrl    *session.Controller
	backend *fakeBackend
	dialer  *fakeDialer
	store   *storage.SQLiteStorage
}

func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Initialize(); err != nil {
		store.Close()
		t.Fatalf("Failed to initialize storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	backend := &fakeBackend{
		panel: []core.Respondent{
			{ID: 1, Role: strPtr("Data Engineer")},
			{ID: 2, Role: strPtr("Analyst")},
		},
		sessions: make(map[string]*core.Session),
	}
	dialer := &fakeDialer{opened: make(chan *fakeStream, 4)}
	reg := prometheus.NewRegistry()

	ctrl := session.NewController(session.Options{
		Backend: backend,
		Dialer:  dialer,
		Archive: store,
		Metrics: metrics.New(reg),
		Settings: session.Settings{
			APIKeys:       map[string]string{"openai": "sk-test"},
			AnalyzerModel: "gpt-4.1-mini",
		},
	})

	defaults := config.Default().Defaults
	defaults.Models = []string{"gpt-4.1-mini"}
	h := New(ctrl, Options{
		Directory: backend,
		Store:     store,
		Gatherer:  reg,
		Defaults:  defaults,
	})

	return &testEnv{handler: h, router: h.Router(), ctrl: ctrl, backend: backend, dialer: dialer, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSurveyLifecycle(t *testing.T) {
	env := setupTestHandler(t)

	w := env.do(t, http.MethodPost, "/api/sessions", `{"question":"Do you use dbt?"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d: %s", w.Code, w.Body.String())
	}
	created := decode[core.Session](t, w)
	if created.Phase != core.PhaseReviewing || created.Breakdown == nil {
		t.Fatalf("expected reviewing session with breakdown, got %+v", created)
	}
	if created.Mode != core.ModeSurvey || created.Models[0] != "gpt-4.1-mini" {
		t.Errorf("defaults not applied: mode=%s models=%v", created.Mode, created.Models)
	}

	// An edit is stored as-is; the run refuses it.
	w = env.do(t, http.MethodPut, "/api/active/breakdown", `{"original_question":"q","sub_questions":[{"id":"q1","text":"Pick","answer_options":["Only"]}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/api/active/run", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("run with invalid breakdown status = %d, want 422", w.Code)
	}

	bd, _ := json.Marshal(map[string]interface{}{"breakdown": testBreakdown()})
	w = env.do(t, http.MethodPost, "/api/active/run", string(bd))
	if w.Code != http.StatusAccepted {
		t.Fatalf("run status = %d: %s", w.Code, w.Body.String())
	}

	st := <-env.dialer.opened
	for _, id := range []int{1, 2} {
		st.frames <- protocol.Frame{Payload: protocol.ResponseEvent{Response: core.Response{
			RespondentID: id,
			Model:        "gpt-4.1-mini",
			Answers:      map[string]string{"q1": "Yes"},
		}}}
	}
	st.frames <- protocol.Frame{Payload: protocol.DoneEvent{}}

	waitFor(t, "completion", func() bool {
		s, err := env.ctrl.Active()
		return err == nil && s.Phase == core.PhaseComplete
	})

	snap := decode[session.Snapshot](t, env.do(t, http.MethodGet, "/api/state", ""))
	if snap.Completion != 100 {
		t.Errorf("completion = %d, want 100", snap.Completion)
	}
	if len(snap.Visible) != 1 || snap.Visible[0] != created.ID {
		t.Errorf("visible = %v, want [%s]", snap.Visible, created.ID)
	}

	waitFor(t, "archive", func() bool {
		list, err := env.store.ListSessions(10, 0)
		return err == nil && len(list) == 1
	})
	archived := decode[[]core.SessionSummary](t, env.do(t, http.MethodGet, "/api/archive", ""))
	if len(archived) != 1 || archived[0].ID != created.ID {
		t.Errorf("archive = %+v", archived)
	}
}

func TestActiveSessionConflicts(t *testing.T) {
	env := setupTestHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"run without session", http.MethodPost, "/api/active/run", "", http.StatusConflict},
		{"cancel without session", http.MethodPost, "/api/active/cancel", "", http.StatusConflict},
		{"edit without session", http.MethodPut, "/api/active/breakdown", `{"sub_questions":[]}`, http.StatusConflict},
		{"malformed submit", http.MethodPost, "/api/sessions", `{`, http.StatusBadRequest},
		{"empty question", http.MethodPost, "/api/sessions", `{"question":"  "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestCancelRunningSession(t *testing.T) {
	env := setupTestHandler(t)

	if w := env.do(t, http.MethodPost, "/api/sessions", `{"question":"q"}`); w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/active/run", ""); w.Code != http.StatusAccepted {
		t.Fatalf("run status = %d", w.Code)
	}
	<-env.dialer.opened

	w := env.do(t, http.MethodPost, "/api/active/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", w.Code, w.Body.String())
	}
	snap := decode[session.Snapshot](t, w)
	if snap.Active == nil || snap.Active.Phase != core.PhaseError || snap.Active.Error != "cancelled" {
		t.Errorf("active after cancel = %+v", snap.Active)
	}
}

func TestSessionDetailAndExport(t *testing.T) {
	env := setupTestHandler(t)
	env.backend.sessions["old-1"] = &core.Session{
		ID:        "old-1",
		Question:  "Is the warehouse dead?",
		Mode:      core.ModeSurvey,
		PanelSize: 1,
		Panel:     []core.Respondent{{ID: 1}},
		Breakdown: testBreakdown(),
		Responses: []core.Response{{RespondentID: 1, Model: "gpt-4.1-mini", Answers: map[string]string{"q1": "No"}}},
		CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	w := env.do(t, http.MethodGet, "/api/sessions/old-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d: %s", w.Code, w.Body.String())
	}
	detail := decode[struct {
		Session    core.Session `json:"session"`
		Completion int          `json:"completion"`
	}](t, w)
	if detail.Session.Phase != core.PhaseComplete || detail.Completion != 100 {
		t.Errorf("detail = %+v", detail)
	}

	w = env.do(t, http.MethodGet, "/api/sessions/old-1/export/markdown", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "survey_20260102_Is_the_warehouse_dead.md") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(w.Body.String(), "| No | 1 | 100% |") {
		t.Errorf("export body missing tally:\n%s", w.Body.String())
	}

	if w := env.do(t, http.MethodGet, "/api/sessions/old-1/export/docx", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/sessions/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", w.Code)
	}
}

func TestVisibilityEndpoints(t *testing.T) {
	env := setupTestHandler(t)
	env.backend.sessions["old-1"] = &core.Session{
		ID:        "old-1",
		Question:  "q",
		Panel:     []core.Respondent{{ID: 1}},
		Breakdown: testBreakdown(),
		Responses: []core.Response{{RespondentID: 1, Answers: map[string]string{"q1": "Yes"}}},
	}

	toggle := func() bool {
		w := env.do(t, http.MethodPost, "/api/sessions/old-1/visibility", "")
		if w.Code != http.StatusOK {
			t.Fatalf("toggle status = %d: %s", w.Code, w.Body.String())
		}
		return decode[map[string]bool](t, w)["visible"]
	}

	if !toggle() {
		t.Error("first toggle should show the session")
	}
	if toggle() {
		t.Error("second toggle should hide the session")
	}
	toggle()
	if w := env.do(t, http.MethodDelete, "/api/sessions/old-1/visibility", ""); w.Code != http.StatusNoContent {
		t.Errorf("remove status = %d", w.Code)
	}
	if got := env.ctrl.Snapshot().Visible; len(got) != 0 {
		t.Errorf("visible after remove = %v", got)
	}

	if w := env.do(t, http.MethodPost, "/api/sessions/nope/visibility", ""); w.Code != http.StatusNotFound {
		t.Errorf("toggle unknown status = %d, want 404", w.Code)
	}
}

func TestLoadSession(t *testing.T) {
	env := setupTestHandler(t)
	env.backend.sessions["draft"] = &core.Session{ID: "draft", Question: "q", Breakdown: testBreakdown()}

	w := env.do(t, http.MethodPost, "/api/sessions/draft/load", "")
	if w.Code != http.StatusOK {
		t.Fatalf("load status = %d: %s", w.Code, w.Body.String())
	}
	if s := decode[core.Session](t, w); s.Phase != core.PhaseReviewing {
		t.Errorf("phase = %s, want reviewing", s.Phase)
	}

	list := decode[[]core.SessionSummary](t, env.do(t, http.MethodGet, "/api/sessions", ""))
	if len(list) != 1 || list[0].ID != "draft" {
		t.Errorf("history = %+v", list)
	}
}

func TestModels(t *testing.T) {
	env := setupTestHandler(t)

	resp := decode[struct {
		Models []ModelInfo `json:"models"`
		Ready  bool        `json:"ready"`
	}](t, env.do(t, http.MethodGet, "/api/models", ""))

	if !resp.Ready {
		t.Error("expected ready with an OpenAI key and an OpenAI default model")
	}
	available := make(map[string]bool)
	for _, m := range resp.Models {
		available[m.ID] = m.Available
	}
	if !available["gpt-4.1"] || available["claude-opus-4-6"] {
		t.Errorf("availability = %v", available)
	}
}

func TestCostEstimate(t *testing.T) {
	env := setupTestHandler(t)

	w := env.do(t, http.MethodGet, "/api/cost/estimate?models=gpt-4.1-mini,o3&panel_size=10&sub_questions=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Cost      session.Cost `json:"cost"`
		Formatted string       `json:"formatted"`
	}](t, w)
	if !resp.Cost.Estimated || resp.Cost.TotalCost <= 0 || len(resp.Cost.PerProvider) != 1 {
		t.Errorf("cost = %+v", resp.Cost)
	}
	if !strings.HasPrefix(resp.Formatted, "$") {
		t.Errorf("formatted = %q", resp.Formatted)
	}

	if w := env.do(t, http.MethodGet, "/api/cost/estimate?panel_size=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad panel_size status = %d", w.Code)
	}
}

func TestRespondentDirectory(t *testing.T) {
	env := setupTestHandler(t)

	opts := decode[map[string][]string](t, env.do(t, http.MethodGet, "/api/respondents/filters", ""))
	if len(opts["industry"]) != 2 {
		t.Errorf("filters = %v", opts)
	}

	count := decode[map[string]int](t, env.do(t, http.MethodGet, "/api/respondents/count?industry=Retail,Finance", ""))
	if count["count"] != 20 {
		t.Errorf("count = %v, want 20", count)
	}

	if w := env.do(t, http.MethodGet, "/api/respondents/count?shoe_size=9", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown filter status = %d, want 400", w.Code)
	}
}

func TestStateStream(t *testing.T) {
	env := setupTestHandler(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/state/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, session.Snapshot) {
		t.Helper()
		var event string
		var snap session.Snapshot
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err != nil {
					t.Fatalf("bad snapshot: %v", err)
				}
			case line == "" && event != "":
				return event, snap
			}
		}
	}

	event, snap := readEvent()
	if event != "snapshot" || snap.Active != nil {
		t.Fatalf("first event = %s %+v", event, snap)
	}

	env.backend.sessions["old-1"] = &core.Session{ID: "old-1", Question: "q"}
	if _, err := env.ctrl.Load(context.Background(), "old-1"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for {
		_, snap = readEvent()
		if snap.Active != nil && snap.Active.ID == "old-1" {
			break
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestHandler(t)

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "panel_streams_opened_total") {
		t.Errorf("metrics output missing stream counter:\n%s", w.Body.String())
	}
}

func TestArchiveDelete(t *testing.T) {
	env := setupTestHandler(t)
	if err := env.store.SaveSession(&core.Session{ID: "a1", Question: "q", Phase: core.PhaseComplete}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if w := env.do(t, http.MethodDelete, "/api/archive/a1", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodDelete, "/api/archive/a1", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrInvalidRequest, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", session.ErrNotFound), http.StatusNotFound},
		{&api.APIError{Status: 404, Message: "gone"}, http.StatusNotFound},
		{&api.APIError{Status: 500, Message: "boom"}, http.StatusBadGateway},
		{&session.TransitionError{SessionID: "s", From: "idle", Op: "run"}, http.StatusConflict},
		{session.ErrNoActiveSession, http.StatusConflict},
		{fmt.Errorf("%w: %w", session.ErrInvalidBreakdown, fmt.Errorf("no sub-questions")), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: dial", session.ErrTransportFailure), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
