package realtime

import (
	"sync"
	"time"

	"fundingdesk/internal/channel"
	"fundingdesk/models"
)

type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

// Snapshot is an immutable view of everything the client knows. Category
// values are replaced, never mutated, so a Snapshot may be shared freely.
type Snapshot struct {
	Version         uint64                        `json:"version"`
	State           ConnectionState               `json:"state"`
	LastError       string                        `json:"last_error,omitempty"`
	Market          *models.MarketSnapshot        `json:"market,omitempty"`
	ActivePositions *models.PositionList          `json:"active_positions,omitempty"`
	ClosedPositions *models.PositionList          `json:"closed_positions,omitempty"`
	Balances        *models.BalanceSnapshot       `json:"balances,omitempty"`
	UpdatedAt       map[models.Category]time.Time `json:"updated_at,omitempty"`
	// Revisions holds the snapshot version at which each category last changed.
	Revisions map[models.Category]uint64 `json:"revisions,omitempty"`
}

// Revision is the version at which cat last changed, zero if never.
func (s Snapshot) Revision(cat models.Category) uint64 {
	return s.Revisions[cat]
}

// Category returns the stored value of one cell, or nil when empty.
func (s Snapshot) Category(c models.Category) any {
	switch c {
	case models.CategoryMarket:
		if s.Market != nil {
			return s.Market
		}
	case models.CategoryActivePositions:
		if s.ActivePositions != nil {
			return s.ActivePositions
		}
	case models.CategoryClosedPositions:
		if s.ClosedPositions != nil {
			return s.ClosedPositions
		}
	case models.CategoryBalances:
		if s.Balances != nil {
			return s.Balances
		}
	case models.CategoryConnection:
		return ConnectionStatus{State: s.State, LastError: s.LastError}
	}
	return nil
}

// ConnectionStatus is the connection cell of a snapshot.
type ConnectionStatus struct {
	State     ConnectionState `json:"state"`
	LastError string          `json:"last_error,omitempty"`
}

// store holds the current snapshot. Every mutation produces one new version
// and one notification.
type store struct {
	mu   sync.RWMutex
	snap Snapshot
	hub  *channel.Hub
	now  func() time.Time
}

func newStore(hub *channel.Hub) *store {
	return &store{
		snap: Snapshot{State: StateDisconnected, UpdatedAt: map[models.Category]time.Time{}},
		hub:  hub,
		now:  time.Now,
	}
}

func (s *store) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *store) mutate(cat models.Category, fn func(*Snapshot)) {
	s.mu.Lock()
	u := s.commitLocked(cat, fn)
	s.mu.Unlock()

	s.hub.Publish(u)
}

// commitLocked applies fn as one new version. The caller holds s.mu and
// publishes the returned update after releasing it.
func (s *store) commitLocked(cat models.Category, fn func(*Snapshot)) channel.Update {
	fn(&s.snap)
	s.snap.Version++
	at := s.now()
	updated := make(map[models.Category]time.Time, len(s.snap.UpdatedAt)+1)
	for k, v := range s.snap.UpdatedAt {
		updated[k] = v
	}
	updated[cat] = at
	s.snap.UpdatedAt = updated
	revisions := make(map[models.Category]uint64, len(s.snap.Revisions)+1)
	for k, v := range s.snap.Revisions {
		revisions[k] = v
	}
	revisions[cat] = s.snap.Version
	s.snap.Revisions = revisions
	return channel.Update{Category: cat, Version: s.snap.Version, At: at}
}

func (s *store) setState(state ConnectionState) {
	s.mutate(models.CategoryConnection, func(snap *Snapshot) {
		snap.State = state
	})
}

func (s *store) setStateError(state ConnectionState, msg string) {
	s.mutate(models.CategoryConnection, func(snap *Snapshot) {
		snap.State = state
		snap.LastError = msg
	})
}

// setError publishes only when the message actually changes.
func (s *store) setError(msg string) {
	s.mu.Lock()
	if s.snap.LastError == msg {
		s.mu.Unlock()
		return
	}
	u := s.commitLocked(models.CategoryConnection, func(snap *Snapshot) {
		snap.LastError = msg
	})
	s.mu.Unlock()

	s.hub.Publish(u)
}

func (s *store) setCategory(cat models.Category, value any) {
	s.mutate(cat, func(snap *Snapshot) {
		switch v := value.(type) {
		case *models.MarketSnapshot:
			snap.Market = v
		case *models.PositionList:
			if cat == models.CategoryActivePositions {
				snap.ActivePositions = v
			} else {
				snap.ClosedPositions = v
			}
		case *models.BalanceSnapshot:
			snap.Balances = v
		}
	})
}

// TypeConnectionStatus tags relayed connection changes.
const TypeConnectionStatus models.MessageType = "connection_status"

// Event is the relay form of one update: the category's value at the
// notified version, tagged with the backend message type.
type Event struct {
	Type      models.MessageType `json:"type"`
	Category  models.Category    `json:"category"`
	Version   uint64             `json:"version"`
	Data      any                `json:"data"`
	Timestamp string             `json:"timestamp"`
}

func (s Snapshot) Event(u channel.Update) Event {
	typ := TypeConnectionStatus
	if u.Category != models.CategoryConnection {
		typ = models.MessageTypeFor(u.Category)
	}
	return Event{
		Type:      typ,
		Category:  u.Category,
		Version:   s.Version,
		Data:      s.Category(u.Category),
		Timestamp: u.At.UTC().Format(time.RFC3339Nano),
	}
}

// EventTracker turns a stream of update notifications into events without
// repeats. Several notifications for one category can resolve to the same
// stored value; only the first of them yields an event.
type EventTracker struct {
	after uint64
	sent  map[models.Category]uint64
}

// NewEventTracker treats every category revision at or below after as
// already delivered, e.g. through a full snapshot.
func NewEventTracker(after uint64) *EventTracker {
	return &EventTracker{after: after, sent: make(map[models.Category]uint64)}
}

// Next returns the event for u read from s, or false when the category's
// current value was already emitted.
func (t *EventTracker) Next(s Snapshot, u channel.Update) (Event, bool) {
	last, ok := t.sent[u.Category]
	if !ok {
		last = t.after
	}
	rev := s.Revision(u.Category)
	if rev <= last {
		return Event{}, false
	}
	t.sent[u.Category] = rev
	return s.Event(u), true
}
