// Package participation records per-event online/onsite intent votes,
// deduplicated by participant name, with an in-memory cache over the
// document store.
package participation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flashtalks/backend/internal/realtime"
	"github.com/flashtalks/backend/pkg/storage"
)

// Participation types.
const (
	TypeOnline = "online"
	TypeOnsite = "onsite"
)

// Vote is one participant's intent signal for an event.
type Vote struct {
	ID                string    `json:"id"`
	EventID           string    `json:"eventId"`
	ParticipationType string    `json:"participationType"`
	ParticipantName   string    `json:"participantName"`
	ParticipantEmail  string    `json:"participantEmail,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Counts partitions an event's votes by participation type.
type Counts struct {
	Online []Vote `json:"online"`
	Onsite []Vote `json:"onsite"`
}

// Summary is the per-event aggregate for the dashboard.
type Summary struct {
	Online int `json:"online"`
	Onsite int `json:"onsite"`
	Total  int `json:"total"`
}

// Notifier pushes vote notifications; *realtime.Hub satisfies it.
type Notifier interface {
	Emit(event string, data map[string]any) realtime.Notification
}

// Tracker manages participation votes. The store is authoritative; the
// per-event cache is a read/write-through convenience that is dropped and
// rebuilt on miss.
type Tracker struct {
	store    storage.Store
	notifier Notifier
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]*Counts // eventID -> partitioned votes
}

// NewTracker creates a participation vote tracker. notifier may be nil.
func NewTracker(store storage.Store, notifier Notifier, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		logger:   logger,
		cache:    make(map[string]*Counts),
	}
}

// CreateVote persists a vote unconditionally; callers pre-check duplicates
// with GetParticipantVote. The cache is only updated after the write
// succeeds.
func (t *Tracker) CreateVote(ctx context.Context, v Vote) (*Vote, error) {
	if v.ParticipationType != TypeOnline && v.ParticipationType != TypeOnsite {
		return nil, fmt.Errorf("participation: invalid type %q", v.ParticipationType)
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	rec, err := t.store.Create(ctx, storage.CollectionParticipationVotes, toRecord(v))
	if err != nil {
		return nil, fmt.Errorf("persist participation vote: %w", err)
	}
	stored, err := voteFromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("decode participation vote: %w", err)
	}

	t.mu.Lock()
	if counts, ok := t.cache[stored.EventID]; ok {
		counts.add(*stored)
	}
	t.mu.Unlock()

	t.logger.Info("participation vote recorded",
		zap.String("event_id", stored.EventID),
		zap.String("type", stored.ParticipationType))

	if t.notifier != nil {
		t.notifier.Emit("participation_vote_created", map[string]any{
			"eventId":           stored.EventID,
			"participationType": stored.ParticipationType,
			"participantName":   stored.ParticipantName,
		})
	}
	return stored, nil
}

// GetVoteCounts returns the event's votes partitioned by type, cache-first.
func (t *Tracker) GetVoteCounts(ctx context.Context, eventID string) (*Counts, error) {
	t.mu.Lock()
	if counts, ok := t.cache[eventID]; ok {
		snapshot := counts.snapshot()
		t.mu.Unlock()
		return snapshot, nil
	}
	t.mu.Unlock()

	counts, err := t.loadCounts(ctx, eventID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.cache[eventID] = counts
	snapshot := counts.snapshot()
	t.mu.Unlock()
	return snapshot, nil
}

// GetParticipantVote is the best-effort duplicate check: persistence errors
// are logged and reported as "no vote", since the caller treats absence and
// failure identically.
func (t *Tracker) GetParticipantVote(ctx context.Context, eventID, participantName string) *Vote {
	rec, err := t.store.FindOne(ctx, storage.CollectionParticipationVotes,
		storage.Filter{"eventId": eventID, "participantName": participantName})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("participant vote lookup failed",
				zap.String("event_id", eventID), zap.Error(err))
		}
		return nil
	}
	v, err := voteFromRecord(rec)
	if err != nil {
		t.logger.Warn("malformed participation vote record", zap.Error(err))
		return nil
	}
	return v
}

// GetAllVotes aggregates every event's votes for dashboard consumption.
func (t *Tracker) GetAllVotes(ctx context.Context) (map[string]Summary, error) {
	recs, err := t.store.Find(ctx, storage.CollectionParticipationVotes, storage.Filter{})
	if err != nil {
		return nil, fmt.Errorf("find participation votes: %w", err)
	}
	out := make(map[string]Summary)
	for _, rec := range recs {
		v, err := voteFromRecord(rec)
		if err != nil {
			continue
		}
		s := out[v.EventID]
		switch v.ParticipationType {
		case TypeOnline:
			s.Online++
		case TypeOnsite:
			s.Onsite++
		}
		s.Total++
		out[v.EventID] = s
	}
	return out, nil
}

func (t *Tracker) loadCounts(ctx context.Context, eventID string) (*Counts, error) {
	recs, err := t.store.Find(ctx, storage.CollectionParticipationVotes,
		storage.Filter{"eventId": eventID})
	if err != nil {
		return nil, fmt.Errorf("find participation votes: %w", err)
	}
	counts := &Counts{Online: []Vote{}, Onsite: []Vote{}}
	for _, rec := range recs {
		v, err := voteFromRecord(rec)
		if err != nil {
			t.logger.Warn("malformed participation vote record", zap.Error(err))
			continue
		}
		counts.add(*v)
	}
	return counts, nil
}

func (c *Counts) add(v Vote) {
	switch v.ParticipationType {
	case TypeOnline:
		c.Online = append(c.Online, v)
	case TypeOnsite:
		c.Onsite = append(c.Onsite, v)
	}
}

func (c *Counts) snapshot() *Counts {
	out := &Counts{Online: make([]Vote, len(c.Online)), Onsite: make([]Vote, len(c.Onsite))}
	copy(out.Online, c.Online)
	copy(out.Onsite, c.Onsite)
	return out
}

func toRecord(v Vote) storage.Record {
	data, _ := json.Marshal(v)
	var rec storage.Record
	_ = json.Unmarshal(data, &rec)
	return rec
}

func voteFromRecord(rec storage.Record) (*Vote, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var v Vote
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
