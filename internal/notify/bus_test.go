package notify

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/localstore"
)

func TestPublishDeliversToSubscribersOfTopicOnly(t *testing.T) {
	bus := NewBus()
	var synced, forced []Event
	if _, err := bus.Subscribe(TopicProductsSynced, func(ev Event) { synced = append(synced, ev) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe(TopicForceSync, func(ev Event) { forced = append(forced, ev) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(TopicProductsSynced, catalog.Seed()[:1])
	if len(synced) != 1 || len(forced) != 0 {
		t.Fatalf("expected 1 synced and 0 forced events, got %d and %d", len(synced), len(forced))
	}
	if synced[0].Topic != TopicProductsSynced || len(synced[0].Products) != 1 {
		t.Fatalf("unexpected event %+v", synced[0])
	}
}

func TestPublishClonesPayloadPerSubscriber(t *testing.T) {
	bus := NewBus()
	var first, second Event
	_, _ = bus.Subscribe(TopicGlobalProductsSynced, func(ev Event) {
		first = ev
		ev.Products[0].Features[0] = "mutated"
	})
	_, _ = bus.Subscribe(TopicGlobalProductsSynced, func(ev Event) { second = ev })

	products := catalog.Seed()[:1]
	original := products[0].Features[0]
	bus.Publish(TopicGlobalProductsSynced, products)

	if first.Products == nil || second.Products[0].Features[0] != original {
		t.Fatalf("expected second subscriber to see unmodified payload, got %q", second.Products[0].Features[0])
	}
	if products[0].Features[0] != original {
		t.Fatalf("publish exposed caller's slice to subscribers")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	calls := map[string]int{}
	unsubA, _ := bus.Subscribe(TopicProductsUpdated, func(Event) { calls["a"]++ })
	_, _ = bus.Subscribe(TopicProductsUpdated, func(Event) { calls["b"]++ })

	bus.Publish(TopicProductsUpdated, nil)
	unsubA()
	unsubA()
	bus.Publish(TopicProductsUpdated, nil)

	if calls["a"] != 1 || calls["b"] != 2 {
		t.Fatalf("expected a=1 b=2, got %v", calls)
	}
	if got := bus.Subscribers(TopicProductsUpdated); got != 1 {
		t.Fatalf("expected 1 subscriber left, got %d", got)
	}
}

func TestSubscribeRejectsEmptyArguments(t *testing.T) {
	bus := NewBus()
	if _, err := bus.Subscribe("", func(Event) {}); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	if _, err := bus.Subscribe(TopicForceSync, nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

func TestHandlerMayPublishAndSubscribe(t *testing.T) {
	bus := NewBus()
	var synced int
	_, _ = bus.Subscribe(TopicProductsSynced, func(Event) { synced++ })
	_, _ = bus.Subscribe(TopicForceSync, func(ev Event) {
		bus.Publish(TopicProductsSynced, ev.Products)
		_, _ = bus.Subscribe("late_topic", func(Event) {})
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(TopicForceSync, catalog.Seed()[:1])
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("publish from inside a handler never returned")
	}
	if synced != 1 {
		t.Fatalf("expected nested publish to be delivered once, got %d", synced)
	}
	if got := bus.Subscribers("late_topic"); got != 1 {
		t.Fatalf("expected subscription made inside a handler, got %d", got)
	}
}

func TestSubscribeNewTopicsWhilePublishing(t *testing.T) {
	bus := NewBus()
	_, _ = bus.Subscribe(TopicForceSync, func(Event) {})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20000; i++ {
			bus.Publish(TopicForceSync, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			unsubscribe, err := bus.Subscribe("topic_"+strconv.Itoa(i), func(Event) {})
			if err != nil {
				t.Errorf("subscribe: %v", err)
				return
			}
			unsubscribe()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatalf("concurrent subscribe and publish never finished")
	}
}

type recordingStore struct {
	*localstore.MemoryStore
	sets    []string
	removes []string
}

func (s *recordingStore) Set(key, value string) error {
	s.sets = append(s.sets, key)
	return s.MemoryStore.Set(key, value)
}

func (s *recordingStore) Remove(key string) error {
	s.removes = append(s.removes, key)
	return s.MemoryStore.Remove(key)
}

func TestPiggybackWritesThenRemovesThrowawayKey(t *testing.T) {
	store := &recordingStore{MemoryStore: localstore.NewMemoryStore(0)}
	if err := Piggyback(store, time.UnixMilli(1700000000123)); err != nil {
		t.Fatalf("piggyback: %v", err)
	}
	if len(store.sets) != 1 || len(store.removes) != 1 || store.sets[0] != store.removes[0] {
		t.Fatalf("expected one set and matching remove, got sets=%v removes=%v", store.sets, store.removes)
	}
	if !strings.HasPrefix(store.sets[0], localstore.SyncKeyPrefix) || !strings.HasSuffix(store.sets[0], "1700000000123") {
		t.Fatalf("unexpected piggyback key %q", store.sets[0])
	}
	keys, _ := store.Keys()
	if len(keys) != 0 {
		t.Fatalf("expected no keys left behind, got %v", keys)
	}
}
