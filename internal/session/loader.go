package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/metrics"
)

// fetchTimeout bounds a shared fetch, which outlives the caller that started it.
const fetchTimeout = 30 * time.Second

// Fetcher retrieves a full session record.
type Fetcher interface {
	GetSession(ctx context.Context, id string) (*core.Session, error)
}

// Archive is local durable storage for sessions.
type Archive interface {
	SaveSession(s *core.Session) error
	GetSession(id string) (*core.Session, error)
}

// Loader fetches historical sessions on demand. Concurrent loads of the same
// id share a single fetch.
type Loader struct {
	fetcher Fetcher
	repo    *Repository
	archive Archive
	metrics *metrics.Metrics
	group   singleflight.Group
}

// NewLoader creates a loader. archive and m may be nil.
func NewLoader(fetcher Fetcher, repo *Repository, archive Archive, m *metrics.Metrics) *Loader {
	return &Loader{
		fetcher: fetcher,
		repo:    repo,
		archive: archive,
		metrics: m,
	}
}

// Load returns the full session. A session already held with results, or
// one that is being driven, is returned without a fetch.
func (l *Loader) Load(ctx context.Context, id string) (*core.Session, error) {
	if s, ok := l.repo.Get(id); ok && (s.HasResults() || s.Phase != core.PhaseIdle) {
		l.metrics.Fetch("cached")
		return s, nil
	}

	// Joined callers must not fail because the first caller went away.
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(id, func() (any, error) {
		fctx, cancel := context.WithTimeout(fetchCtx, fetchTimeout)
		defer cancel()
		return l.fetch(fctx, id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			l.metrics.Fetch("shared")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.Session).Clone(), nil
	}
}

func (l *Loader) fetch(ctx context.Context, id string) (*core.Session, error) {
	slog.Debug("Fetching session", "id", id)

	s, err := l.fetcher.GetSession(ctx, id)
	if err != nil {
		archived, aerr := l.fromArchive(id)
		if aerr != nil {
			l.metrics.Fetch("failed")
			return nil, fmt.Errorf("failed to load session %s: %w", id, err)
		}
		slog.Warn("Backend fetch failed, using archived session", "id", id, "error", err)
		l.metrics.Fetch("archived")
		settle(archived, id)
		l.repo.Put(archived)
		return archived, nil
	}
	l.metrics.Fetch("fetched")

	settle(s, id)
	l.repo.Put(s)
	if l.archive != nil && s.HasResults() {
		if err := l.archive.SaveSession(s); err != nil {
			slog.Error("Failed to archive session", "id", id, "error", err)
		}
	}
	return s, nil
}

// settle fixes the phase of a session that is not being driven.
func settle(s *core.Session, id string) {
	if s.ID == "" {
		s.ID = id
	}
	switch {
	case s.Phase.Terminal():
	case s.HasResults():
		s.Phase = core.PhaseComplete
	default:
		s.Phase = core.PhaseIdle
	}
}

func (l *Loader) fromArchive(id string) (*core.Session, error) {
	if l.archive == nil {
		return nil, ErrNotFound
	}
	return l.archive.GetSession(id)
}

// LoadMany loads several sessions concurrently. Results keep the order of ids.
func (l *Loader) LoadMany(ctx context.Context, ids []string) ([]*core.Session, error) {
	out := make([]*core.Session, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			s, err := l.Load(ctx, id)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
