// Package session drives panel sessions from question to results and keeps
// the in-memory record of every session the process has seen.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mosaictheory-jt/panel-chat/internal/catalog"
	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/metrics"
	"github.com/mosaictheory-jt/panel-chat/internal/protocol"
)

// Backend is the remote panel service.
type Backend interface {
	Fetcher
	CreateSession(ctx context.Context, cfg core.NewSessionConfig) (*core.Session, error)
	Analyze(ctx context.Context, id, model, apiKey string) (*core.QuestionBreakdown, error)
	SubmitBreakdown(ctx context.Context, id string, bd *core.QuestionBreakdown) error
	ListSessions(ctx context.Context) ([]core.SessionSummary, error)
}

// Stream is an open event stream for one session.
type Stream interface {
	// Frames is closed when the stream ends.
	Frames() <-chan protocol.Frame
	// Err reports why the stream ended. It is nil after a local Close.
	Err() error
	Close() error
}

// Dialer opens event streams. ctx bounds the dial only; the stream stays
// open until it is closed or the remote end hangs up.
type Dialer interface {
	Open(ctx context.Context, sessionID string, hs protocol.Handshake) (Stream, error)
}

// Settings are the user preferences applied to every run.
type Settings struct {
	// APIKeys maps a key name (anthropic, openai, google) to its value.
	APIKeys       map[string]string
	Temperatures  map[string]float64
	PersonaMemory bool
	AnalyzerModel string
}

// Options configures a Controller. Archive and Metrics are optional.
type Options struct {
	Backend  Backend
	Dialer   Dialer
	Archive  Archive
	Metrics  *metrics.Metrics
	Settings Settings
}

// Snapshot is a consistent copy of controller state for readers.
type Snapshot struct {
	Generation     uint64                `json:"generation"`
	Active         *core.Session         `json:"active,omitempty"`
	Rounds         *RoundState           `json:"rounds,omitempty"`
	Completion     int                   `json:"completion"`
	Cost           *Cost                 `json:"cost,omitempty"`
	Visible        []string              `json:"visible"`
	Results        ResultSet             `json:"results"`
	History        []core.SessionSummary `json:"history"`
	ProtocolErrors int                   `json:"protocol_errors"`
}

// Controller runs the session phase machine. Only one session is active at
// a time, and each stream it opens is tagged with a generation so events
// from a replaced stream are dropped.
type Controller struct {
	backend Backend
	dialer  Dialer
	archive Archive
	metrics *metrics.Metrics

	repo   *Repository
	vis    *Visibility
	loader *Loader

	mu             sync.Mutex
	settings       Settings
	activeID       string
	generation     uint64
	stream         Stream
	history        []core.SessionSummary
	protocolErrors int

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// NewController creates a controller with an empty repository.
func NewController(opts Options) *Controller {
	repo := NewRepository()
	return &Controller{
		backend:  opts.Backend,
		dialer:   opts.Dialer,
		archive:  opts.Archive,
		metrics:  opts.Metrics,
		repo:     repo,
		vis:      &Visibility{},
		loader:   NewLoader(opts.Backend, repo, opts.Archive, opts.Metrics),
		settings: opts.Settings,
		subs:     make(map[int]chan Snapshot),
	}
}

// Repository returns the session store.
func (c *Controller) Repository() *Repository {
	return c.repo
}

// Loader returns the detail loader.
func (c *Controller) Loader() *Loader {
	return c.loader
}

// UpdateSettings replaces the preferences used by later runs.
func (c *Controller) UpdateSettings(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

// Settings returns a copy of the current preferences.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.settings
	out.APIKeys = make(map[string]string, len(c.settings.APIKeys))
	for k, v := range c.settings.APIKeys {
		out.APIKeys[k] = v
	}
	out.Temperatures = make(map[string]float64, len(c.settings.Temperatures))
	for k, v := range c.settings.Temperatures {
		out.Temperatures[k] = v
	}
	return out
}

// Submit creates a session for the question and asks the analyzer for a
// breakdown. On success the session is left in the reviewing phase. An
// in-flight session is superseded.
func (c *Controller) Submit(ctx context.Context, cfg core.NewSessionConfig) (*core.Session, error) {
	if strings.TrimSpace(cfg.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if cfg.Mode == "" {
		cfg.Mode = core.ModeSurvey
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: invalid chat mode %q", ErrInvalidRequest, cfg.Mode)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("%w: at least one model is required", ErrInvalidRequest)
	}

	c.mu.Lock()
	if cfg.AnalyzerModel == "" {
		cfg.AnalyzerModel = c.settings.AnalyzerModel
	}
	analyzerKey := catalog.KeyFor(c.settings.APIKeys, cfg.AnalyzerModel)
	c.supersedeLocked("")
	c.mu.Unlock()

	slog.Debug("Creating session", "question", cfg.Question, "mode", cfg.Mode, "panel_size", cfg.PanelSize, "models", cfg.Models)
	created, err := c.backend.CreateSession(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s := created.Clone()
	s.Question = cfg.Question
	s.Mode = cfg.Mode
	s.Models = append([]string(nil), cfg.Models...)
	s.Filters = cfg.Filters.Clone()
	if s.PanelSize == 0 {
		s.PanelSize = len(s.Panel)
	}
	s.TotalRounds = 1
	if cfg.Mode == core.ModeDebate && cfg.Rounds > 1 {
		s.TotalRounds = cfg.Rounds
	}
	s.Phase = core.PhaseAnalyzing
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	c.mu.Lock()
	c.supersedeLocked(s.ID)
	c.activeID = s.ID
	c.generation++
	gen := c.generation
	c.repo.Put(s)
	c.mu.Unlock()
	c.metrics.SetGeneration(gen)
	c.publish()

	slog.Info("Session created", "id", s.ID, "panel", len(s.Panel), "analyzer", cfg.AnalyzerModel)

	bd, err := c.backend.Analyze(ctx, s.ID, cfg.AnalyzerModel, analyzerKey)

	c.mu.Lock()
	if c.activeID != s.ID || c.generation != gen {
		c.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err != nil {
		failed, _ := c.repo.Update(s.ID, func(cur *core.Session) (*core.Session, error) {
			cur.Phase = core.PhaseError
			cur.Error = fmt.Sprintf("analysis failed: %v", err)
			return cur, nil
		})
		c.mu.Unlock()
		slog.Error("Analysis failed", "id", s.ID, "model", cfg.AnalyzerModel, "error", err)
		c.finished(failed)
		c.publish()
		return failed, fmt.Errorf("%w: %w", ErrAnalysisFailure, err)
	}
	if bd.OriginalQuestion == "" {
		bd.OriginalQuestion = cfg.Question
	}
	reviewing, err := c.repo.Update(s.ID, func(cur *core.Session) (*core.Session, error) {
		cur.Breakdown = bd.Clone()
		cur.Phase = core.PhaseReviewing
		return cur, nil
	})
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	slog.Info("Breakdown ready", "id", s.ID, "sub_questions", len(bd.SubQuestions))
	c.publish()
	return reviewing, nil
}

// EditBreakdown replaces the breakdown of the session under review.
// Validation happens when the run starts.
func (c *Controller) EditBreakdown(bd *core.QuestionBreakdown) error {
	if bd == nil {
		return fmt.Errorf("%w: breakdown is required", ErrInvalidBreakdown)
	}

	c.mu.Lock()
	cur, err := c.activeLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if cur.Phase != core.PhaseReviewing {
		c.mu.Unlock()
		return &TransitionError{SessionID: cur.ID, From: string(cur.Phase), Op: "edit breakdown of"}
	}
	_, err = c.repo.Update(cur.ID, func(s *core.Session) (*core.Session, error) {
		s.Breakdown = bd.Clone()
		return s, nil
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.publish()
	return nil
}

// Run freezes the breakdown and starts streaming results. bd may be nil to
// run the breakdown already under review. An invalid breakdown is refused
// with ErrInvalidBreakdown and nothing changes.
func (c *Controller) Run(ctx context.Context, bd *core.QuestionBreakdown) error {
	c.mu.Lock()
	cur, err := c.activeLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if cur.Phase != core.PhaseReviewing || cur.Breakdown == nil {
		c.mu.Unlock()
		return &TransitionError{SessionID: cur.ID, From: string(cur.Phase), Op: "run"}
	}
	if bd == nil {
		bd = cur.Breakdown
	}
	if err := bd.Validate(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInvalidBreakdown, err)
	}
	bd = bd.Clone()
	gen := c.generation
	c.mu.Unlock()

	if err := c.backend.SubmitBreakdown(ctx, cur.ID, bd); err != nil {
		return fmt.Errorf("failed to submit breakdown: %w", err)
	}

	c.mu.Lock()
	if c.activeID != cur.ID || c.generation != gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.generation++
	gen = c.generation
	running, err := c.repo.Update(cur.ID, func(s *core.Session) (*core.Session, error) {
		s.Breakdown = bd
		s.Phase = core.PhaseRunning
		s.Error = ""
		return s, nil
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	hs := protocol.NewHandshake(
		c.settings.APIKeys,
		catalog.ClampTemperatures(c.settings.Temperatures),
		c.settings.PersonaMemory,
		running.Mode,
		running.TotalRounds,
	)
	c.mu.Unlock()
	c.metrics.SetGeneration(gen)
	c.publish()

	slog.Info("Starting run", "id", cur.ID, "mode", running.Mode, "rounds", running.TotalRounds, "generation", gen)

	st, err := c.dialer.Open(ctx, cur.ID, hs)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTransportFailure, err)
		c.fail(gen, cur.ID, err.Error())
		return err
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		st.Close()
		return ErrSuperseded
	}
	c.stream = st
	c.mu.Unlock()
	c.metrics.StreamOpened(gen)

	go c.pump(gen, cur.ID, st)
	return nil
}

// pump feeds a stream's frames to the dispatcher until the stream ends.
func (c *Controller) pump(gen uint64, id string, st Stream) {
	for f := range st.Frames() {
		if f.Err != nil {
			c.protocolError(gen, id, f.Err)
			continue
		}
		c.Dispatch(protocol.Event{Generation: gen, SessionID: id, Payload: f.Payload})
	}
	c.streamEnded(gen, id, st)
}

func (c *Controller) protocolError(gen uint64, id string, err error) {
	c.mu.Lock()
	current := gen == c.generation
	if current {
		c.protocolErrors++
	}
	c.mu.Unlock()
	c.metrics.ProtocolError()

	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		slog.Warn("Dropping malformed event", "id", id, "type", perr.Type, "error", err)
	} else {
		slog.Warn("Dropping unreadable frame", "id", id, "error", err)
	}
	if current {
		c.publish()
	}
}

// Dispatch applies one event to the active session. Events from another
// generation or for another session are dropped as stale.
func (c *Controller) Dispatch(ev protocol.Event) Outcome {
	kind := "unknown"
	if ev.Payload != nil {
		kind = string(ev.Payload.Kind())
	}

	c.mu.Lock()
	if ev.Generation != c.generation || ev.SessionID != c.activeID {
		c.mu.Unlock()
		slog.Debug("Dropping stale event", "id", ev.SessionID, "kind", kind, "generation", ev.Generation)
		c.metrics.Event(kind, string(OutcomeStale))
		return OutcomeStale
	}

	cur, ok := c.repo.Get(ev.SessionID)
	if !ok {
		c.mu.Unlock()
		c.metrics.Event(kind, string(OutcomeIgnored))
		return OutcomeIgnored
	}

	next, outcome := Apply(*cur, ev.Payload)
	c.metrics.Event(kind, string(outcome))
	if !outcome.Changed() {
		c.mu.Unlock()
		if outcome == OutcomeRejected {
			slog.Warn("Dropping event for respondent outside the panel", "id", ev.SessionID, "kind", kind)
		}
		return outcome
	}

	var st Stream
	if next.Phase.Terminal() {
		now := time.Now()
		next.CompletedAt = &now
		if next.Phase == core.PhaseComplete || next.HasResults() {
			c.vis.Show(next.ID)
		}
		st = c.stream
		c.stream = nil
	}
	c.repo.Put(&next)
	c.mu.Unlock()

	if st != nil {
		st.Close()
	}
	if next.Phase.Terminal() {
		if outcome == OutcomeFailed {
			slog.Error("Session failed", "id", next.ID, "error", next.Error)
		} else {
			slog.Info("Session complete", "id", next.ID, "responses", len(next.Responses), "messages", len(next.DebateMessages))
		}
		c.finished(&next)
	}
	c.publish()
	return outcome
}

// streamEnded handles the end of a stream. A stream that ends while its
// session is still running is a transport failure.
func (c *Controller) streamEnded(gen uint64, id string, st Stream) {
	c.mu.Lock()
	if c.stream != st {
		c.mu.Unlock()
		return
	}
	c.stream = nil
	c.mu.Unlock()

	reason := "stream closed unexpectedly"
	if err := st.Err(); err != nil {
		reason = fmt.Sprintf("stream closed unexpectedly: %v", err)
	}
	c.fail(gen, id, fmt.Sprintf("%s: %s", ErrTransportFailure, reason))
}

// fail moves the session to the error phase if gen is still current and
// the session is in flight. Partial results stay visible.
func (c *Controller) fail(gen uint64, id, message string) {
	c.mu.Lock()
	if gen != c.generation || id != c.activeID {
		c.mu.Unlock()
		return
	}
	failed, err := c.repo.Update(id, func(s *core.Session) (*core.Session, error) {
		if !s.Phase.InFlight() {
			return nil, &TransitionError{SessionID: id, From: string(s.Phase), Op: "fail"}
		}
		s.Phase = core.PhaseError
		s.Error = message
		now := time.Now()
		s.CompletedAt = &now
		return s, nil
	})
	if err == nil && failed.HasResults() {
		c.vis.Show(id)
	}
	st := c.stream
	c.stream = nil
	c.mu.Unlock()

	if st != nil {
		st.Close()
	}
	if err != nil {
		return
	}
	slog.Error("Session failed", "id", id, "error", message)
	c.finished(failed)
	c.publish()
}

// Cancel detaches from the active session. A session that was in flight
// moves to the error phase with message "cancelled".
func (c *Controller) Cancel() error {
	c.mu.Lock()
	cur, err := c.activeLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !cur.Phase.InFlight() {
		c.mu.Unlock()
		return &TransitionError{SessionID: cur.ID, From: string(cur.Phase), Op: "cancel"}
	}
	c.generation++
	gen := c.generation
	c.mu.Unlock()
	c.metrics.SetGeneration(gen)

	slog.Info("Cancelling session", "id", cur.ID, "phase", cur.Phase)
	c.fail(gen, cur.ID, "cancelled")
	return nil
}

// Load makes a historical session the active one without opening a stream.
// A terminal phase is kept as recorded. Otherwise the phase is derived from
// its contents: results mean complete, a breakdown alone means reviewing,
// anything else idle.
func (c *Controller) Load(ctx context.Context, id string) (*core.Session, error) {
	c.mu.Lock()
	if id == c.activeID {
		if cur, ok := c.repo.Get(id); ok && cur.Phase.InFlight() {
			c.mu.Unlock()
			return cur, nil
		}
	}
	c.mu.Unlock()

	s, err := c.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.Phase == "" || s.Phase == core.PhaseIdle {
		switch {
		case s.HasResults():
			s.Phase = core.PhaseComplete
		case s.Breakdown != nil:
			s.Phase = core.PhaseReviewing
		default:
			s.Phase = core.PhaseIdle
		}
	}

	c.mu.Lock()
	c.supersedeLocked(id)
	c.activeID = id
	c.generation++
	gen := c.generation
	c.repo.Put(s)
	if s.Breakdown != nil && s.HasResults() {
		c.vis.Show(id)
	}
	c.mu.Unlock()
	c.metrics.SetGeneration(gen)

	slog.Debug("Session loaded", "id", id, "phase", s.Phase)
	c.publish()
	return s, nil
}

// ToggleVisibility shows or hides a session in the result set. Showing a
// session that is not held locally loads it first.
func (c *Controller) ToggleVisibility(ctx context.Context, id string) (bool, error) {
	if !c.vis.Contains(id) {
		if _, err := c.loader.Load(ctx, id); err != nil {
			return false, err
		}
	}
	visible := c.vis.Toggle(id)
	c.publish()
	return visible, nil
}

// RemoveFromResults hides a session. The session itself is kept.
func (c *Controller) RemoveFromResults(id string) {
	if c.vis.Hide(id) {
		c.publish()
	}
}

// RefreshHistory reloads the session list from the backend.
func (c *Controller) RefreshHistory(ctx context.Context) error {
	list, err := c.backend.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	c.mu.Lock()
	c.history = list
	c.mu.Unlock()
	c.publish()
	return nil
}

// Active returns a copy of the active session.
func (c *Controller) Active() (*core.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

// Snapshot returns a consistent copy of controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Generation:     c.generation,
		Visible:        c.vis.IDs(),
		History:        append([]core.SessionSummary(nil), c.history...),
		ProtocolErrors: c.protocolErrors,
	}
	active, err := c.activeLocked()
	if err == nil {
		rounds := Rounds(active)
		cost := RunningCost(active)
		snap.Active = active
		snap.Rounds = &rounds
		snap.Completion = Completion(active)
		snap.Cost = &cost
	}
	snap.Results = Compose(c.repo, snap.Visible, active)
	return snap
}

// Subscribe returns a channel that receives a snapshot after every state
// change. Slow readers only see the latest snapshot. Call the returned
// function to unsubscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Await blocks until the active session is neither analyzing nor running,
// then returns it.
func (c *Controller) Await(ctx context.Context) (*core.Session, error) {
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	for {
		s, err := c.Active()
		if err != nil {
			return nil, err
		}
		if s.Phase != core.PhaseAnalyzing && s.Phase != core.PhaseRunning {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ch:
		}
	}
}

func (c *Controller) publish() {
	snap := c.Snapshot()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (c *Controller) activeLocked() (*core.Session, error) {
	if c.activeID == "" {
		return nil, ErrNoActiveSession
	}
	s, ok := c.repo.Get(c.activeID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	return s, nil
}

// supersedeLocked closes the current stream and fails the active session if
// it is still in flight, unless it is the session with id keep.
func (c *Controller) supersedeLocked(keep string) {
	if c.activeID == "" || c.activeID == keep {
		return
	}
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	prev, err := c.repo.Update(c.activeID, func(s *core.Session) (*core.Session, error) {
		if !s.Phase.InFlight() {
			return nil, errNotInFlight
		}
		s.Phase = core.PhaseError
		s.Error = "superseded by a new session"
		return s, nil
	})
	if err != nil {
		return
	}
	c.generation++
	if prev.HasResults() {
		c.vis.Show(prev.ID)
	}
	slog.Info("Superseded session", "id", prev.ID)
	c.metrics.SessionFinished(string(prev.Phase))
}

var errNotInFlight = errors.New("session not in flight")

// finished records a terminal session: archives it and refreshes history
// in the background.
func (c *Controller) finished(s *core.Session) {
	c.metrics.SessionFinished(string(s.Phase))
	if c.archive != nil {
		if err := c.archive.SaveSession(s); err != nil {
			slog.Error("Failed to archive session", "id", s.ID, "error", err)
		}
	}
	if s.Phase == core.PhaseComplete {
		go c.autoRefreshHistory(s.ID)
	}
}

func (c *Controller) autoRefreshHistory(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.RefreshHistory(ctx); err != nil {
		slog.Warn("Failed to refresh history", "after", id, "error", err)
	}
}
