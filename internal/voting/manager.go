package voting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flashtalks/backend/internal/realtime"
	"github.com/flashtalks/backend/pkg/storage"
)

// DefaultDuration applies when CreateSession receives no duration.
const DefaultDuration = 60 * time.Second

// Notifier pushes live aggregate updates to subscribers. *realtime.Hub
// satisfies it.
type Notifier interface {
	Emit(event string, data map[string]any) realtime.Notification
}

// CreateParams are the organizer inputs for a new session.
type CreateParams struct {
	EventID   string
	TalkID    string
	Duration  time.Duration // 0 means DefaultDuration
	CreatedBy string
}

// entry is a cached session with its own lock. All read-modify-write of one
// session's votes goes through this lock, so concurrent SubmitVote calls for
// the same session never lose updates.
type entry struct {
	mu      sync.Mutex
	session *Session
}

// Manager is the voting session state machine. The store is authoritative;
// the cache holds active sessions only. Timers are an eager-cleanup
// optimization: every access re-checks endsAt, so correctness survives
// restarts and timer slippage.
type Manager struct {
	store           storage.Store
	notifier        Notifier
	logger          *zap.Logger
	defaultDuration time.Duration
	now             func() time.Time

	mu     sync.Mutex
	cache  map[string]*entry
	timers map[string]*time.Timer
}

// NewManager creates a session manager. notifier may be nil in tests.
func NewManager(store storage.Store, notifier Notifier, defaultDuration time.Duration, logger *zap.Logger) *Manager {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}
	return &Manager{
		store:           store,
		notifier:        notifier,
		logger:          logger,
		defaultDuration: defaultDuration,
		now:             time.Now,
		cache:           make(map[string]*entry),
		timers:          make(map[string]*time.Timer),
	}
}

// CreateSession persists a new active session and schedules its auto-end.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (*Session, error) {
	duration := p.Duration
	if duration <= 0 {
		duration = m.defaultDuration
	}
	now := m.now()
	s := &Session{
		ID:              uuid.New().String(),
		EventID:         p.EventID,
		TalkID:          p.TalkID,
		Status:          StatusActive,
		CreatedBy:       p.CreatedBy,
		DurationSeconds: int(duration / time.Second),
		CreatedAt:       now,
		EndsAt:          now.Add(duration),
		Votes:           make(map[string]Vote),
		Results:         computeResults(nil),
	}
	if _, err := m.store.Create(ctx, storage.CollectionVotingSessions, toRecord(s)); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.cache[s.ID] = &entry{session: s}
	m.timers[s.ID] = time.AfterFunc(duration, func() {
		if _, err := m.EndSession(context.Background(), s.ID); err != nil {
			m.logger.Warn("timer end failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	})
	m.mu.Unlock()

	m.logger.Info("voting session created",
		zap.String("session_id", s.ID),
		zap.String("talk_id", s.TalkID),
		zap.Duration("duration", duration))

	if m.notifier != nil {
		m.notifier.Emit("voting_session_started", map[string]any{
			"sessionId": s.ID,
			"eventId":   s.EventID,
			"talkId":    s.TalkID,
			"endsAt":    s.EndsAt,
		})
	}
	return s.clone(), nil
}

// SubmitVote records one voter's rating. Expired sessions are lazily ended as
// a side effect before the rejection is returned.
func (m *Manager) SubmitVote(ctx context.Context, sessionID, voterID string, rating int) (*Vote, error) {
	if rating < MinRating || rating > MaxRating {
		return nil, ErrInvalidRating
	}
	e, err := m.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s.Status != StatusActive || m.now().After(s.EndsAt) {
		if s.Status == StatusActive {
			// deadline passed before the timer fired
			if err := m.endLocked(ctx, e); err != nil {
				m.logger.Warn("lazy end failed", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
		return nil, ErrSessionEnded
	}
	if _, dup := s.Votes[voterID]; dup {
		return nil, ErrAlreadyVoted
	}

	vote := Vote{Rating: rating, Timestamp: m.now()}
	updated := s.clone()
	updated.Votes[voterID] = vote
	updated.Results = computeResults(updated.Votes)

	patch := toRecord(map[string]any{"votes": updated.Votes, "results": updated.Results})
	if _, err := m.store.Update(ctx, storage.CollectionVotingSessions, s.ID, patch); err != nil {
		// cache stays untouched so it cannot diverge from the store
		return nil, fmt.Errorf("persist vote: %w", err)
	}
	e.session = updated

	if m.notifier != nil {
		m.notifier.Emit("vote_submitted", map[string]any{
			"sessionId":     s.ID,
			"talkId":        s.TalkID,
			"totalVotes":    updated.Results.TotalVotes,
			"averageRating": updated.Results.AverageRating,
			"distribution":  updated.Results.Distribution,
		})
	}
	return &vote, nil
}

// EndSession transitions a session to ended. Ending an already-ended session
// is a no-op returning the existing session.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*Session, error) {
	e, err := m.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == StatusEnded {
		return e.session.clone(), nil
	}
	if err := m.endLocked(ctx, e); err != nil {
		return nil, err
	}
	return e.session.clone(), nil
}

// endLocked performs the terminal transition. Caller holds e.mu.
func (m *Manager) endLocked(ctx context.Context, e *entry) error {
	s := e.session
	endedAt := m.now()
	updated := s.clone()
	updated.Status = StatusEnded
	updated.EndedAt = &endedAt

	patch := toRecord(map[string]any{"status": StatusEnded, "endedAt": endedAt})
	if _, err := m.store.Update(ctx, storage.CollectionVotingSessions, s.ID, patch); err != nil {
		return fmt.Errorf("persist end: %w", err)
	}
	e.session = updated

	m.mu.Lock()
	if t, ok := m.timers[s.ID]; ok {
		t.Stop()
		delete(m.timers, s.ID)
	}
	delete(m.cache, s.ID)
	m.mu.Unlock()

	if updated.Results.TotalVotes > 0 {
		m.recordTalkRating(ctx, updated)
	}

	m.logger.Info("voting session ended",
		zap.String("session_id", s.ID),
		zap.Int("total_votes", updated.Results.TotalVotes),
		zap.Float64("average_rating", updated.Results.AverageRating))

	if m.notifier != nil {
		m.notifier.Emit("voting_session_ended", map[string]any{
			"sessionId":     s.ID,
			"talkId":        s.TalkID,
			"totalVotes":    updated.Results.TotalVotes,
			"averageRating": updated.Results.AverageRating,
		})
	}
	return nil
}

// recordTalkRating writes the final aggregate onto the talk record. The vote
// total is additive across sessions. A missing talk is logged, not fatal:
// the session's own results are already persisted.
func (m *Manager) recordTalkRating(ctx context.Context, s *Session) {
	talk, err := m.store.FindOne(ctx, storage.CollectionTalks, storage.Filter{"id": s.TalkID})
	if err != nil {
		m.logger.Warn("talk lookup for rating write-back failed",
			zap.String("talk_id", s.TalkID), zap.Error(err))
		return
	}
	// Records seeded through the in-memory store keep their Go numeric
	// kinds, so the prior total may not arrive as a float64.
	prior := 0
	switch v := talk["totalVotes"].(type) {
	case float64:
		prior = int(v)
	case float32:
		prior = int(v)
	case int:
		prior = v
	case int32:
		prior = int(v)
	case int64:
		prior = int(v)
	}
	patch := storage.Record{
		"averageRating": s.Results.AverageRating,
		"totalVotes":    prior + s.Results.TotalVotes,
	}
	if _, err := m.store.Update(ctx, storage.CollectionTalks, s.TalkID, patch); err != nil {
		m.logger.Warn("talk rating write-back failed",
			zap.String("talk_id", s.TalkID), zap.Error(err))
	}
}

// GetResults returns the aggregate view for a session.
func (m *Manager) GetResults(ctx context.Context, sessionID string) (*ResultsView, error) {
	e, err := m.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.session.view()
	return &v, nil
}

// GetActiveSessions returns sessions for an event that are active with a
// future deadline. Sessions found past their deadline are lazily ended and
// excluded.
func (m *Manager) GetActiveSessions(ctx context.Context, eventID string) ([]*Session, error) {
	recs, err := m.store.Find(ctx, storage.CollectionVotingSessions,
		storage.Filter{"eventId": eventID, "status": StatusActive})
	if err != nil {
		return nil, fmt.Errorf("find active sessions: %w", err)
	}
	var out []*Session
	for _, rec := range recs {
		s, err := sessionFromRecord(rec)
		if err != nil {
			m.logger.Warn("skipping malformed session record", zap.Error(err))
			continue
		}
		if m.now().After(s.EndsAt) {
			if _, err := m.EndSession(ctx, s.ID); err != nil {
				m.logger.Warn("lazy end failed", zap.String("session_id", s.ID), zap.Error(err))
			}
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// CleanupExpiredSessions ends every persisted active session whose deadline
// has passed. Run once at startup to recover timers lost to a restart.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) error {
	recs, err := m.store.Find(ctx, storage.CollectionVotingSessions, storage.Filter{"status": StatusActive})
	if err != nil {
		return fmt.Errorf("find active sessions: %w", err)
	}
	ended := 0
	for _, rec := range recs {
		s, err := sessionFromRecord(rec)
		if err != nil {
			continue
		}
		if m.now().After(s.EndsAt) {
			if _, err := m.EndSession(ctx, s.ID); err == nil {
				ended++
			}
		}
	}
	if ended > 0 {
		m.logger.Info("expired voting sessions cleaned up", zap.Int("count", ended))
	}
	return nil
}

// HasVoted reports whether the voter already has a vote in the session.
func (m *Manager) HasVoted(ctx context.Context, sessionID, voterID string) (bool, error) {
	v, err := m.GetVoterVote(ctx, sessionID, voterID)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// GetVoterVote returns the voter's vote, or nil when they have not voted.
func (m *Manager) GetVoterVote(ctx context.Context, sessionID, voterID string) (*Vote, error) {
	e, err := m.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.session.Votes[voterID]; ok {
		return &v, nil
	}
	return nil, nil
}

// Shutdown cancels all pending auto-end timers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// entry returns the cached session or loads it from the store. Only active
// sessions stay cached; ended ones are served from transient entries.
func (m *Manager) entry(ctx context.Context, sessionID string) (*entry, error) {
	m.mu.Lock()
	if e, ok := m.cache[sessionID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	rec, err := m.store.FindOne(ctx, storage.CollectionVotingSessions, storage.Filter{"id": sessionID})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	s, err := sessionFromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	e := &entry{session: s}
	if s.Status == StatusActive {
		m.mu.Lock()
		if cached, ok := m.cache[sessionID]; ok {
			e = cached // lost the race, use the winner
		} else {
			m.cache[sessionID] = e
		}
		m.mu.Unlock()
	}
	return e, nil
}
