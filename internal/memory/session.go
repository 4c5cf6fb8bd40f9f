// Package memory implements the tiered conversation memory: the live
// turn buffer (M1), the rolling summary (M2), pinned facts (M2.5), and
// the patch engine that maintains long-term markdown documents (M3).
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spheredev/sphere/internal/config"
	"github.com/spheredev/sphere/internal/llm"
	"github.com/spheredev/sphere/internal/logicaldate"
	"github.com/spheredev/sphere/internal/storage"
)

// Turn is one message in the session transcript.
type Turn = llm.Message

// Completer is the blocking LLM surface the pipeline needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Session is the state of one logical day's conversation.
type Session struct {
	Date        logicaldate.Date
	Turns       []Turn
	Summary     string
	PinnedFacts []string
}

// Manager owns the live session. All access is serialized on an
// internal mutex, which also covers the compaction LLM call so two
// concurrent chat requests cannot race the buffer and summary.
type Manager struct {
	store     storage.Store
	scopes    storage.Scopes
	compactor *Compactor
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *Session
}

func NewManager(store storage.Store, scopes storage.Scopes, llmc Completer, cfg config.MemoryConfig, loc *time.Location, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		scopes:    scopes,
		compactor: NewCompactor(llmc, cfg, logger),
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

// load returns the session for the current logical date, reading the
// snapshot on first use and on day rollover. A new day with no snapshot
// carries the previous day's summary forward so the overnight
// consolidation reaches tomorrow's conversation. Caller holds m.mu.
func (m *Manager) load(ctx context.Context) (*Session, error) {
	today := logicaldate.At(m.now().In(m.loc))
	if m.current != nil && m.current.Date == today {
		return m.current, nil
	}

	snap, err := storage.LoadSession(ctx, m.store, m.scopes.Current, today)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		m.current = &Session{
			Date:        today,
			Turns:       snap.Turns,
			Summary:     snap.Summary,
			PinnedFacts: snap.PinnedFacts,
		}
		return m.current, nil
	}

	s := &Session{Date: today}
	prev, err := storage.LoadSession(ctx, m.store, m.scopes.Current, today.AddDays(-1))
	if err != nil {
		m.logger.Warn("previous session unavailable, starting cold", "error", err)
	} else if prev != nil {
		s.Summary = prev.Summary
		s.PinnedFacts = prev.PinnedFacts
	}
	m.current = s
	return s, nil
}

func (m *Manager) persist(ctx context.Context, s *Session) error {
	return storage.SaveSession(ctx, m.store, m.scopes.Current, &storage.SessionSnapshot{
		Turns:       s.Turns,
		Summary:     s.Summary,
		PinnedFacts: s.PinnedFacts,
		UpdatedAt:   m.now(),
		Date:        s.Date.String(),
	})
}

// Snapshot returns a copy of the current session for context assembly.
func (m *Manager) Snapshot(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.load(ctx)
	if err != nil {
		return Session{}, err
	}
	out := *s
	out.Turns = append([]Turn(nil), s.Turns...)
	out.PinnedFacts = append([]string(nil), s.PinnedFacts...)
	return out, nil
}

// Append records a completed chat exchange, runs the compaction check,
// and persists the snapshot. The returned session copy reflects the
// post-compaction state.
func (m *Manager) Append(ctx context.Context, user, assistant string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx)
	if err != nil {
		return Session{}, err
	}
	s.Turns = append(s.Turns,
		Turn{Role: "user", Content: user},
		Turn{Role: "assistant", Content: assistant},
	)

	if summary, kept, compacted := m.compactor.Compact(ctx, s.Summary, s.Turns); compacted {
		s.Summary = summary
		s.Turns = kept
	}

	if err := m.persist(ctx, s); err != nil {
		return Session{}, err
	}
	out := *s
	out.Turns = append([]Turn(nil), s.Turns...)
	return out, nil
}

// Reset replaces the session state for date with an empty turn buffer
// and the given summary. The archiver calls this after consolidation.
func (m *Manager) Reset(ctx context.Context, date logicaldate.Date, summary string, pinned []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{Date: date, Summary: summary, PinnedFacts: pinned}
	if err := m.persist(ctx, s); err != nil {
		return err
	}
	if m.current != nil && m.current.Date == date {
		m.current = s
	}
	return nil
}

// Today reports the current logical date.
func (m *Manager) Today() logicaldate.Date {
	return logicaldate.At(m.now().In(m.loc))
}
