package participation

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/flashtalks/backend/pkg/storage"
)

// brokenStore fails every operation, for the best-effort lookup contract.
type brokenStore struct{}

func (brokenStore) Create(ctx context.Context, c string, r storage.Record) (storage.Record, error) {
	return nil, errors.New("store unavailable")
}
func (brokenStore) FindOne(ctx context.Context, c string, f storage.Filter) (storage.Record, error) {
	return nil, errors.New("store unavailable")
}
func (brokenStore) Find(ctx context.Context, c string, f storage.Filter) ([]storage.Record, error) {
	return nil, errors.New("store unavailable")
}
func (brokenStore) Update(ctx context.Context, c, id string, p storage.Record) (storage.Record, error) {
	return nil, errors.New("store unavailable")
}
func (brokenStore) Delete(ctx context.Context, c, id string) error {
	return errors.New("store unavailable")
}

func newTestTracker(t *testing.T) (*Tracker, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	return NewTracker(store, nil, zap.NewNop()), store
}

func TestCreateVoteAndCounts(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	vote, err := tracker.CreateVote(ctx, Vote{
		EventID: "event-1", ParticipationType: TypeOnline, ParticipantName: "Alice",
	})
	if err != nil {
		t.Fatalf("CreateVote: %v", err)
	}
	if vote.ID == "" {
		t.Error("stored vote should have an id")
	}
	if vote.Timestamp.IsZero() {
		t.Error("stored vote should have a timestamp")
	}

	counts, err := tracker.GetVoteCounts(ctx, "event-1")
	if err != nil {
		t.Fatalf("GetVoteCounts: %v", err)
	}
	if len(counts.Online) != 1 || counts.Online[0].ParticipantName != "Alice" {
		t.Errorf("online = %+v, want Alice's vote", counts.Online)
	}
	if len(counts.Onsite) != 0 {
		t.Errorf("onsite = %+v, want empty", counts.Onsite)
	}
}

func TestCreateVote_InvalidType(t *testing.T) {
	tracker, _ := newTestTracker(t)
	if _, err := tracker.CreateVote(context.Background(), Vote{
		EventID: "event-1", ParticipationType: "hybrid", ParticipantName: "Alice",
	}); err == nil {
		t.Fatal("expected error for invalid participation type")
	}
}

func TestGetVoteCounts_PopulatesCacheFromStore(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	// votes written by another instance, bypassing this tracker's cache
	for _, v := range []Vote{
		{EventID: "event-1", ParticipationType: TypeOnline, ParticipantName: "Alice"},
		{EventID: "event-1", ParticipationType: TypeOnsite, ParticipantName: "Bob"},
		{EventID: "event-2", ParticipationType: TypeOnsite, ParticipantName: "Carol"},
	} {
		if _, err := store.Create(ctx, storage.CollectionParticipationVotes, toRecord(v)); err != nil {
			t.Fatalf("seed vote: %v", err)
		}
	}

	counts, err := tracker.GetVoteCounts(ctx, "event-1")
	if err != nil {
		t.Fatalf("GetVoteCounts: %v", err)
	}
	if len(counts.Online) != 1 || len(counts.Onsite) != 1 {
		t.Errorf("counts = %d online / %d onsite, want 1/1", len(counts.Online), len(counts.Onsite))
	}

	// cache hit path: a vote created through the tracker lands in the cache
	if _, err := tracker.CreateVote(ctx, Vote{
		EventID: "event-1", ParticipationType: TypeOnline, ParticipantName: "Dave",
	}); err != nil {
		t.Fatalf("CreateVote: %v", err)
	}
	counts, _ = tracker.GetVoteCounts(ctx, "event-1")
	if len(counts.Online) != 2 {
		t.Errorf("online after cached create = %d, want 2", len(counts.Online))
	}
}

func TestGetParticipantVote(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if v := tracker.GetParticipantVote(ctx, "event-1", "Alice"); v != nil {
		t.Errorf("vote before creation = %+v, want nil", v)
	}
	if _, err := tracker.CreateVote(ctx, Vote{
		EventID: "event-1", ParticipationType: TypeOnsite, ParticipantName: "Alice",
	}); err != nil {
		t.Fatalf("CreateVote: %v", err)
	}

	v := tracker.GetParticipantVote(ctx, "event-1", "Alice")
	if v == nil || v.ParticipationType != TypeOnsite {
		t.Errorf("vote = %+v, want Alice's onsite vote", v)
	}
	if other := tracker.GetParticipantVote(ctx, "event-2", "Alice"); other != nil {
		t.Errorf("vote for other event = %+v, want nil", other)
	}
}

func TestGetParticipantVote_SwallowsStoreErrors(t *testing.T) {
	tracker := NewTracker(brokenStore{}, nil, zap.NewNop())

	// lookup failure reads as "no vote", never an error
	if v := tracker.GetParticipantVote(context.Background(), "event-1", "Alice"); v != nil {
		t.Errorf("vote from broken store = %+v, want nil", v)
	}
}

func TestGetAllVotes(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	votes := []Vote{
		{EventID: "event-1", ParticipationType: TypeOnline, ParticipantName: "Alice"},
		{EventID: "event-1", ParticipationType: TypeOnsite, ParticipantName: "Bob"},
		{EventID: "event-1", ParticipationType: TypeOnline, ParticipantName: "Carol"},
		{EventID: "event-2", ParticipationType: TypeOnsite, ParticipantName: "Dave"},
	}
	for _, v := range votes {
		if _, err := tracker.CreateVote(ctx, v); err != nil {
			t.Fatalf("CreateVote: %v", err)
		}
	}

	all, err := tracker.GetAllVotes(ctx)
	if err != nil {
		t.Fatalf("GetAllVotes: %v", err)
	}
	if s := all["event-1"]; s.Online != 2 || s.Onsite != 1 || s.Total != 3 {
		t.Errorf("event-1 summary = %+v, want {2 1 3}", s)
	}
	if s := all["event-2"]; s.Online != 0 || s.Onsite != 1 || s.Total != 1 {
		t.Errorf("event-2 summary = %+v, want {0 1 1}", s)
	}
}
