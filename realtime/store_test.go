package realtime

import (
	"testing"
	"time"

	"fundingdesk/internal/channel"
	"fundingdesk/models"
)

func TestSetErrorPublishesOnlyChanges(t *testing.T) {
	hub := channel.NewHub(8)
	defer hub.Close()
	s := newStore(hub)
	sub := hub.Subscribe("test")

	s.setError("")
	if v := s.snapshot().Version; v != 0 {
		t.Fatalf("clearing an empty error bumped the version to %d", v)
	}

	s.setError("boom")
	s.setError("boom")
	s.setError("")

	if v := s.snapshot().Version; v != 2 {
		t.Fatalf("expected version 2, got %d", v)
	}
	if got := len(sub.C()); got != 2 {
		t.Fatalf("expected 2 notifications, got %d", got)
	}
}

func TestEventTrackerSkipsRepeats(t *testing.T) {
	at := time.Now()
	market := channel.Update{Category: models.CategoryMarket, At: at}
	snap := Snapshot{
		Version:   6,
		Market:    &models.MarketSnapshot{},
		Revisions: map[models.Category]uint64{models.CategoryMarket: 5, models.CategoryConnection: 6},
	}

	if _, ok := NewEventTracker(5).Next(snap, market); ok {
		t.Fatalf("value already covered by the initial snapshot was emitted")
	}

	tracker := NewEventTracker(3)
	ev, ok := tracker.Next(snap, market)
	if !ok || ev.Version != 6 || ev.Type != models.TypeArbitrageData {
		t.Fatalf("unexpected first event %+v %v", ev, ok)
	}
	if _, ok := tracker.Next(snap, market); ok {
		t.Fatalf("second notification for the same value was emitted")
	}
	if _, ok := tracker.Next(snap, channel.Update{Category: models.CategoryConnection, At: at}); !ok {
		t.Fatalf("other categories must not be suppressed")
	}

	snap.Version = 7
	if _, ok := tracker.Next(snap, market); ok {
		t.Fatalf("unrelated version bump re-emitted market")
	}
	snap.Revisions = map[models.Category]uint64{models.CategoryMarket: 7}
	if _, ok := tracker.Next(snap, market); !ok {
		t.Fatalf("newer market value was suppressed")
	}
}

func TestCommitRecordsCategoryRevision(t *testing.T) {
	hub := channel.NewHub(8)
	defer hub.Close()
	s := newStore(hub)

	s.setCategory(models.CategoryMarket, &models.MarketSnapshot{})
	s.setCategory(models.CategoryBalances, &models.BalanceSnapshot{})

	snap := s.snapshot()
	if snap.Revision(models.CategoryMarket) != 1 || snap.Revision(models.CategoryBalances) != 2 {
		t.Fatalf("unexpected revisions %v", snap.Revisions)
	}
	if snap.Revision(models.CategoryActivePositions) != 0 {
		t.Fatalf("untouched category has a revision")
	}
}
