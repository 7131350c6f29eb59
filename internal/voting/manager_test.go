package voting

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flashtalks/backend/internal/realtime"
	"github.com/flashtalks/backend/pkg/storage"
)

// recordingNotifier captures emitted events.
type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Emit(event string, data map[string]any) realtime.Notification {
	n.events = append(n.events, event)
	return realtime.NewNotification(event, data, realtime.TopicAll)
}

// failingStore wraps a Store and fails selected operations.
type failingStore struct {
	storage.Store
	failUpdate bool
}

func (s *failingStore) Update(ctx context.Context, collection, id string, patch storage.Record) (storage.Record, error) {
	if s.failUpdate {
		return nil, errors.New("store unavailable")
	}
	return s.Store.Update(ctx, collection, id, patch)
}

func newTestManager(t *testing.T) (*Manager, *storage.Memory, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemory()
	notifier := &recordingNotifier{}
	m := NewManager(store, notifier, time.Minute, zap.NewNop())
	t.Cleanup(m.Shutdown)
	return m, store, notifier
}

func createSession(t *testing.T, m *Manager, duration time.Duration) *Session {
	t.Helper()
	s, err := m.CreateSession(context.Background(), CreateParams{
		EventID: "event-1", TalkID: "talk-1", Duration: duration, CreatedBy: "organizer",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func TestCreateSession_Defaults(t *testing.T) {
	m, _, notifier := newTestManager(t)
	s := createSession(t, m, 0)

	if s.Status != StatusActive {
		t.Errorf("status = %q, want active", s.Status)
	}
	if s.DurationSeconds != 60 {
		t.Errorf("duration = %ds, want default 60", s.DurationSeconds)
	}
	if got := s.EndsAt.Sub(s.CreatedAt); got != time.Minute {
		t.Errorf("endsAt - createdAt = %v, want 1m", got)
	}
	if s.Results.AverageRating != 0 || s.Results.TotalVotes != 0 {
		t.Errorf("fresh session results = %+v, want zeros", s.Results)
	}
	if len(notifier.events) == 0 || notifier.events[0] != "voting_session_started" {
		t.Errorf("events = %v, want voting_session_started first", notifier.events)
	}
}

func TestSubmitVote_AggregatesAndRounds(t *testing.T) {
	m, _, notifier := newTestManager(t)
	s := createSession(t, m, time.Minute)
	ctx := context.Background()

	for voter, rating := range map[string]int{"v1": 5, "v2": 4, "v3": 5} {
		if _, err := m.SubmitVote(ctx, s.ID, voter, rating); err != nil {
			t.Fatalf("SubmitVote(%s, %d): %v", voter, rating, err)
		}
	}

	res, err := m.GetResults(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if res.TotalVotes != 3 {
		t.Errorf("totalVotes = %d, want 3", res.TotalVotes)
	}
	if res.AverageRating != 4.67 {
		t.Errorf("averageRating = %v, want 4.67", res.AverageRating)
	}
	if res.Distribution[5] != 2 || res.Distribution[4] != 1 {
		t.Errorf("distribution = %v, want {5:2, 4:1}", res.Distribution)
	}
	if res.Percentages[5] != 67 || res.Percentages[4] != 33 {
		t.Errorf("percentages = %v, want {5:67, 4:33}", res.Percentages)
	}

	voteEvents := 0
	for _, e := range notifier.events {
		if e == "vote_submitted" {
			voteEvents++
		}
	}
	if voteEvents != 3 {
		t.Errorf("vote_submitted emitted %d times, want 3", voteEvents)
	}
}

func TestSubmitVote_DuplicateVoterRejected(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := createSession(t, m, time.Minute)
	ctx := context.Background()

	if _, err := m.SubmitVote(ctx, s.ID, "v1", 5); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if _, err := m.SubmitVote(ctx, s.ID, "v1", 3); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("second vote err = %v, want ErrAlreadyVoted", err)
	}

	res, _ := m.GetResults(ctx, s.ID)
	if res.TotalVotes != 1 {
		t.Errorf("totalVotes = %d, want 1 (duplicate not counted)", res.TotalVotes)
	}
}

func TestSubmitVote_InvalidRating(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := createSession(t, m, time.Minute)

	for _, rating := range []int{0, 6, -1} {
		if _, err := m.SubmitVote(context.Background(), s.ID, "v1", rating); !errors.Is(err, ErrInvalidRating) {
			t.Errorf("rating %d err = %v, want ErrInvalidRating", rating, err)
		}
	}
}

func TestSubmitVote_UnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.SubmitVote(context.Background(), "missing", "v1", 5); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitVote_LazyExpiry(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := createSession(t, m, time.Hour) // timer far in the future
	ctx := context.Background()

	// move the clock past the deadline without the timer firing
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := m.SubmitVote(ctx, s.ID, "v1", 5); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}

	res, err := m.GetResults(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if res.Status != StatusEnded {
		t.Errorf("status after lazy expiry = %q, want ended", res.Status)
	}
}

func TestEndSessionTwice(t *testing.T) {
	m, store, _ := newTestManager(t)
	s := createSession(t, m, time.Minute)
	ctx := context.Background()

	first, err := m.EndSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("first EndSession: %v", err)
	}
	second, err := m.EndSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("second EndSession should be a no-op, got: %v", err)
	}
	if first.Status != StatusEnded || second.Status != StatusEnded {
		t.Errorf("statuses = %q/%q, want ended/ended", first.Status, second.Status)
	}

	rec, err := store.FindOne(ctx, storage.CollectionVotingSessions, storage.Filter{"id": s.ID})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if rec["status"] != StatusEnded {
		t.Errorf("persisted status = %v, want ended", rec["status"])
	}
}

func TestEndSession_WritesTalkAggregate(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, storage.CollectionTalks,
		storage.Record{"id": "talk-1", "title": "Generics", "totalVotes": float64(2)}); err != nil {
		t.Fatalf("seed talk: %v", err)
	}

	s := createSession(t, m, time.Minute)
	if _, err := m.SubmitVote(ctx, s.ID, "v1", 4); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if _, err := m.SubmitVote(ctx, s.ID, "v2", 5); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if _, err := m.EndSession(ctx, s.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	talk, err := store.FindOne(ctx, storage.CollectionTalks, storage.Filter{"id": "talk-1"})
	if err != nil {
		t.Fatalf("FindOne talk: %v", err)
	}
	if got := talk["averageRating"]; got != 4.5 {
		t.Errorf("talk averageRating = %v, want 4.5", got)
	}
	if got := talk["totalVotes"]; got != 4 {
		t.Errorf("talk totalVotes = %v, want 4 (2 prior + 2 new)", got)
	}
}

func TestEndSession_TalkAggregateAccumulatesIntTotal(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	// The in-memory store hands back the int as seeded, with no JSON
	// round-trip to float64.
	if _, err := store.Create(ctx, storage.CollectionTalks,
		storage.Record{"id": "talk-1", "title": "Generics", "totalVotes": 2}); err != nil {
		t.Fatalf("seed talk: %v", err)
	}

	s := createSession(t, m, time.Minute)
	if _, err := m.SubmitVote(ctx, s.ID, "v1", 3); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if _, err := m.EndSession(ctx, s.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	talk, err := store.FindOne(ctx, storage.CollectionTalks, storage.Filter{"id": "talk-1"})
	if err != nil {
		t.Fatalf("FindOne talk: %v", err)
	}
	if got := talk["totalVotes"]; got != 3 {
		t.Errorf("talk totalVotes = %v, want 3 (2 prior + 1 new)", got)
	}
}

func TestEndSession_NoTalkWriteWithoutVotes(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, storage.CollectionTalks,
		storage.Record{"id": "talk-1"}); err != nil {
		t.Fatalf("seed talk: %v", err)
	}

	s := createSession(t, m, time.Minute)
	if _, err := m.EndSession(ctx, s.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	talk, _ := store.FindOne(ctx, storage.CollectionTalks, storage.Filter{"id": "talk-1"})
	if _, ok := talk["averageRating"]; ok {
		t.Error("empty session should not write a rating onto the talk")
	}
}

func TestGetActiveSessions_ExcludesAndEndsExpired(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	live := createSession(t, m, time.Hour)
	expired := createSession(t, m, time.Minute)

	base := time.Now()
	m.now = func() time.Time { return base.Add(30 * time.Minute) }

	active, err := m.GetActiveSessions(ctx, "event-1")
	if err != nil {
		t.Fatalf("GetActiveSessions: %v", err)
	}
	if len(active) != 1 || active[0].ID != live.ID {
		t.Fatalf("active = %d sessions, want only the live one", len(active))
	}

	res, _ := m.GetResults(ctx, expired.ID)
	if res.Status != StatusEnded {
		t.Errorf("expired session status = %q, want ended", res.Status)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	// simulate a session persisted before a restart: active, deadline past,
	// no in-memory timer
	past := time.Now().Add(-time.Hour)
	stale := &Session{
		ID: "stale", EventID: "event-1", TalkID: "talk-1", Status: StatusActive,
		CreatedAt: past, EndsAt: past.Add(time.Minute),
		Votes: map[string]Vote{}, Results: computeResults(nil),
	}
	if _, err := store.Create(ctx, storage.CollectionVotingSessions, toRecord(stale)); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := m.CleanupExpiredSessions(ctx); err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}

	rec, _ := store.FindOne(ctx, storage.CollectionVotingSessions, storage.Filter{"id": "stale"})
	if rec["status"] != StatusEnded {
		t.Errorf("stale session status = %v, want ended", rec["status"])
	}
}

func TestHasVotedAndGetVoterVote(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := createSession(t, m, time.Minute)
	ctx := context.Background()

	if voted, _ := m.HasVoted(ctx, s.ID, "v1"); voted {
		t.Error("HasVoted before voting = true, want false")
	}
	if _, err := m.SubmitVote(ctx, s.ID, "v1", 3); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	voted, err := m.HasVoted(ctx, s.ID, "v1")
	if err != nil || !voted {
		t.Errorf("HasVoted = (%v, %v), want (true, nil)", voted, err)
	}
	vote, err := m.GetVoterVote(ctx, s.ID, "v1")
	if err != nil || vote == nil || vote.Rating != 3 {
		t.Errorf("GetVoterVote = (%+v, %v), want rating 3", vote, err)
	}
	if other, _ := m.GetVoterVote(ctx, s.ID, "v2"); other != nil {
		t.Errorf("GetVoterVote for non-voter = %+v, want nil", other)
	}
}

func TestSubmitVote_StoreFailureLeavesCacheClean(t *testing.T) {
	store := storage.NewMemory()
	failing := &failingStore{Store: store}
	m := NewManager(failing, nil, time.Minute, zap.NewNop())
	t.Cleanup(m.Shutdown)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, CreateParams{EventID: "e", TalkID: "t"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	failing.failUpdate = true
	if _, err := m.SubmitVote(ctx, s.ID, "v1", 5); err == nil {
		t.Fatal("expected persistence error")
	}
	failing.failUpdate = false

	// the failed vote must not be visible: same voter can vote again
	if _, err := m.SubmitVote(ctx, s.ID, "v1", 5); err != nil {
		t.Fatalf("retry after store failure: %v", err)
	}
	res, _ := m.GetResults(ctx, s.ID)
	if res.TotalVotes != 1 {
		t.Errorf("totalVotes = %d, want 1", res.TotalVotes)
	}
}

func TestTimerEndsSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := createSession(t, m, 20*time.Millisecond)
	ctx := context.Background()

	deadline := time.After(2 * time.Second)
	for {
		res, err := m.GetResults(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetResults: %v", err)
		}
		if res.Status == StatusEnded {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timer did not end the session")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPercentagesSumNearHundred(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := createSession(t, m, time.Minute)
	ctx := context.Background()

	ratings := []int{1, 2, 3, 4, 5, 5, 3}
	for i, r := range ratings {
		if _, err := m.SubmitVote(ctx, s.ID, string(rune('a'+i)), r); err != nil {
			t.Fatalf("SubmitVote: %v", err)
		}
	}

	res, _ := m.GetResults(ctx, s.ID)
	sum := 0
	for r := MinRating; r <= MaxRating; r++ {
		sum += res.Percentages[r]
	}
	if sum < 95 || sum > 105 {
		t.Errorf("percentage sum = %d, want 100 +/- rounding", sum)
	}
}
