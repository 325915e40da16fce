package channel

import (
	"testing"
	"time"

	"fundingdesk/models"
)

func TestHubDeliversToEverySubscriber(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("a")
	b := h.Subscribe("b")

	h.Publish(Update{Category: models.CategoryMarket, Version: 1, At: time.Now()})

	for _, sub := range []*Subscription{a, b} {
		select {
		case u := <-sub.C():
			if u.Category != models.CategoryMarket || u.Version != 1 {
				t.Fatalf("unexpected update: %+v", u)
			}
		default:
			t.Fatalf("subscriber %s got nothing", sub.name)
		}
	}
	if s := h.GetStats(); s.Sent != 2 || s.Dropped != 0 || s.Subscribers != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe("slow")

	h.Publish(Update{Category: models.CategoryMarket, Version: 1})
	h.Publish(Update{Category: models.CategoryBalances, Version: 2})

	if s := h.GetStats(); s.Sent != 1 || s.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	u := <-sub.C()
	if u.Version != 1 {
		t.Fatalf("expected first update to survive, got %+v", u)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe("gone")
	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	h.Publish(Update{Category: models.CategoryMarket})
	if s := h.GetStats(); s.Subscribers != 0 || s.Sent != 0 {
		t.Fatalf("unexpected stats after unsubscribe: %+v", s)
	}
}

func TestCloseHub(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe("x")
	h.Close()
	h.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel after hub close")
	}
	sub.Unsubscribe()

	late := h.Subscribe("late")
	if _, ok := <-late.C(); ok {
		t.Fatalf("subscription on closed hub should be closed")
	}
	h.Publish(Update{Category: models.CategoryMarket})
}
