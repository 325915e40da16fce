package channel

import (
	"sync"
	"time"

	"fundingdesk/logger"
	"fundingdesk/models"
)

// Update tells a subscriber that a category changed. Subscribers read the
// new value from the state snapshot, so a dropped notification never loses
// data: the next one (or a fresh read) carries the latest version.
type Update struct {
	Category models.Category
	Version  uint64
	At       time.Time
}

type HubStats struct {
	Subscribers int
	Sent        int64
	Dropped     int64
}

// Subscription is one consumer's bounded notification queue.
type Subscription struct {
	id   uint64
	name string
	ch   chan Update
	hub  *Hub
}

// C returns the receive side of the queue. It is closed on Unsubscribe or
// when the hub closes.
func (s *Subscription) C() <-chan Update { return s.ch }

// Unsubscribe removes the subscription from its hub. Safe to call twice.
func (s *Subscription) Unsubscribe() { s.hub.remove(s.id) }

// Hub fans updates out to subscribers without ever blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool

	stats      HubStats
	statsMutex sync.Mutex
	log        *logger.Log
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	log := logger.GetLogger()
	log.WithComponent("update_hub").WithFields(logger.Fields{
		"subscriber_buffer": buffer,
	}).Debug("update hub initialized")

	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers a named consumer. On a closed hub the returned
// subscription's channel is already closed.
func (h *Hub) Subscribe(name string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{id: h.nextID, name: name, ch: make(chan Update, h.buffer), hub: h}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub

	h.log.WithComponent("update_hub").WithFields(logger.Fields{
		"subscriber":  name,
		"subscribers": len(h.subs),
	}).Debug("subscriber added")
	return sub
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
}

// Publish delivers u to every subscriber whose queue has room.
func (h *Hub) Publish(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.ch <- u:
			h.incrementSent()
		default:
			h.incrementDropped()
			h.log.WithComponent("update_hub").WithFields(logger.Fields{
				"subscriber": sub.name,
				"category":   u.Category,
			}).Debug("subscriber queue full, dropping notification")
		}
	}
}

// Close closes every subscriber queue; later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.log.WithComponent("update_hub").Debug("update hub closed")
}

func (h *Hub) incrementSent() {
	h.statsMutex.Lock()
	h.stats.Sent++
	h.statsMutex.Unlock()
}

func (h *Hub) incrementDropped() {
	h.statsMutex.Lock()
	h.stats.Dropped++
	h.statsMutex.Unlock()
}

func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()

	h.statsMutex.Lock()
	defer h.statsMutex.Unlock()
	s := h.stats
	s.Subscribers = n
	return s
}
