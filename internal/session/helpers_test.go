package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/protocol"
)

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func testPanel(n int) []core.Respondent {
	panel := make([]core.Respondent, n)
	for i := range panel {
		panel[i] = core.Respondent{ID: i + 1, Role: strPtr(fmt.Sprintf("Role %d", i+1))}
	}
	return panel
}

func testBreakdown() *core.QuestionBreakdown {
	return &core.QuestionBreakdown{
		OriginalQuestion: "Do you use dbt?",
		SubQuestions: []core.SubQuestion{
			{ID: "q1", Text: "Do you use dbt?", AnswerOptions: []string{"Yes", "No"}, ChartType: core.ChartBar},
		},
	}
}

func runningSession(mode core.Mode, panelSize, rounds int, models ...string) core.Session {
	if len(models) == 0 {
		models = []string{"gpt-4.1-mini"}
	}
	return core.Session{
		ID:          "s1",
		Question:    "Do you use dbt?",
		Mode:        mode,
		Phase:       core.PhaseRunning,
		PanelSize:   panelSize,
		Panel:       testPanel(panelSize),
		Models:      models,
		Breakdown:   testBreakdown(),
		TotalRounds: rounds,
	}
}

func response(respondent int, model string) protocol.ResponseEvent {
	return protocol.ResponseEvent{Response: core.Response{
		RespondentID: respondent,
		Model:        model,
		Answers:      map[string]string{"q1": "Yes"},
		TokenUsage:   &core.TokenUsage{InputTokens: 400, OutputTokens: 30},
	}}
}

func message(respondent, round int) protocol.DebateMessageEvent {
	return protocol.DebateMessageEvent{Message: core.DebateMessage{
		RespondentID: respondent,
		Model:        "gpt-4.1-mini",
		Round:        round,
		Text:         fmt.Sprintf("round %d from %d", round, respondent),
	}}
}

func roundComplete(round, total int) protocol.RoundCompleteEvent {
	return protocol.RoundCompleteEvent{Summary: core.RoundSummary{Round: round, TotalRounds: total, Summary: "summary"}}
}

type fakeBackend struct {
	mu         sync.Mutex
	panel      []core.Respondent
	breakdown  *core.QuestionBreakdown
	analyzeErr error
	submitErr  error
	sessions   map[string]*core.Session
	nextID     int
	submitted  []*core.QuestionBreakdown
	getCalls   atomic.Int32
	getDelay   time.Duration
	getErr     error
	listCalls  atomic.Int32
}

func newFakeBackend(panelSize int) *fakeBackend {
	return &fakeBackend{
		panel:     testPanel(panelSize),
		breakdown: testBreakdown(),
		sessions:  make(map[string]*core.Session),
	}
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
	if b.analyzeErr != nil {
		return nil, b.analyzeErr
	}
	return b.breakdown.Clone(), nil
}

func (b *fakeBackend) SubmitBreakdown(ctx context.Context, id string, bd *core.QuestionBreakdown) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return b.submitErr
	}
	b.submitted = append(b.submitted, bd.Clone())
	return nil
}

func (b *fakeBackend) ListSessions(ctx context.Context) ([]core.SessionSummary, error) {
	b.listCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.SessionSummary
	for _, s := range b.sessions {
		out = append(out, s.Summary())
	}
	return out, nil
}

func (b *fakeBackend) GetSession(ctx context.Context, id string) (*core.Session, error) {
	b.getCalls.Add(1)
	if b.getDelay > 0 {
		select {
		case <-time.After(b.getDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.getErr != nil {
		return nil, b.getErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

// fakeStream is fed by the test through send and end.
type fakeStream struct {
	frames    chan protocol.Frame
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closed    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan protocol.Frame, 64)}
}

func (s *fakeStream) Frames() <-chan protocol.Frame { return s.frames }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.frames) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) send(p protocol.Payload) {
	s.frames <- protocol.Frame{Payload: p}
}

// drop simulates the remote end going away.
func (s *fakeStream) drop(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.frames) })
}

type fakeDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	shakes  []protocol.Handshake
	openErr error
	opened  chan *fakeStream
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{opened: make(chan *fakeStream, 8)}
}

func (d *fakeDialer) Open(ctx context.Context, sessionID string, hs protocol.Handshake) (Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	st := newFakeStream()
	d.mu.Lock()
	d.streams = append(d.streams, st)
	d.shakes = append(d.shakes, hs)
	d.mu.Unlock()
	d.opened <- st
	return st, nil
}

type memArchive struct {
	mu       sync.Mutex
	sessions map[string]*core.Session
}

func newMemArchive() *memArchive {
	return &memArchive{sessions: make(map[string]*core.Session)}
}

func (a *memArchive) SaveSession(s *core.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.ID] = s.Clone()
	return nil
}

func (a *memArchive) GetSession(id string) (*core.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		return nil, errors.New("not archived")
	}
	return s.Clone(), nil
}

// waitFor polls until cond holds or the test times out.
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
