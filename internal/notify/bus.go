// Package notify delivers catalog change events to subscribers in the same
// process and nudges other processes that share the local store.
package notify

import (
	"sort"
	"strconv"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/pkg/errors"

	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/localstore"
)

const (
	TopicProductsSynced       = "products_synced"
	TopicForceSync            = "force_sync"
	TopicGithubProductsSynced = "github_products_synced"
	TopicGlobalProductsSynced = "global_products_synced"
	TopicProductsUpdated      = "products_updated"
)

var Topics = []string{
	TopicProductsSynced,
	TopicForceSync,
	TopicGithubProductsSynced,
	TopicGlobalProductsSynced,
	TopicProductsUpdated,
}

type Event struct {
	Topic    string
	Products []catalog.Product
	At       time.Time
}

type Handler func(Event)

// Bus is a synchronous publish/subscribe hub. Events published before a
// subscription are not replayed to it. Handlers run on the publishing
// goroutine after the underlying bus has been released, so they may publish
// or subscribe themselves.
type Bus struct {
	bus   evbus.Bus
	clock func() time.Time

	// regMu guards registered and is never taken while delivering.
	regMu      sync.Mutex
	registered map[string]bool

	mu     sync.RWMutex
	nextID uint64
	topics map[string]map[uint64]Handler
}

func NewBus() *Bus {
	b := &Bus{
		bus:        evbus.New(),
		clock:      time.Now,
		registered: map[string]bool{},
		topics:     map[string]map[uint64]Handler{},
	}
	for _, topic := range Topics {
		_ = b.register(topic)
	}
	return b
}

// register installs the single underlying handler for topic. It resolves the
// current subscribers into the delivery passed by Publish; the handlers
// themselves are called by Publish once the underlying bus is unlocked.
func (b *Bus) register(topic string) error {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	if b.registered[topic] {
		return nil
	}
	if err := b.bus.Subscribe(topic, func(ev Event, out *delivery) { out.handlers = b.resolve(ev.Topic) }); err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	b.registered[topic] = true
	return nil
}

type delivery struct {
	handlers []Handler
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, fn Handler) (func(), error) {
	if topic == "" || fn == nil {
		return nil, errors.New("notify: topic and handler are required")
	}
	if err := b.register(topic); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers, ok := b.topics[topic]
	if !ok {
		handlers = map[uint64]Handler{}
		b.topics[topic] = handlers
	}
	b.nextID++
	id := b.nextID
	handlers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.topics[topic], id)
		})
	}, nil
}

func (b *Bus) Publish(topic string, products []catalog.Product) {
	ev := Event{Topic: topic, Products: catalog.Clone(products), At: b.clock()}
	out := &delivery{}
	b.bus.Publish(topic, ev, out)
	for _, fn := range out.handlers {
		fn(Event{Topic: ev.Topic, Products: catalog.Clone(ev.Products), At: ev.At})
	}
}

// Subscribers reports how many handlers are registered for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) resolve(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := b.topics[topic]
	ids := make([]uint64, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Handler, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, handlers[id])
	}
	return fns
}

// Piggyback writes and immediately removes a throwaway key so that other
// processes watching the local store file observe a change.
func Piggyback(store localstore.Store, now time.Time) error {
	key := localstore.SyncKeyPrefix + strconv.FormatInt(now.UnixMilli(), 10)
	if err := store.Set(key, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return errors.Wrap(err, "piggyback notify")
	}
	if err := store.Remove(key); err != nil {
		return errors.Wrap(err, "piggyback notify")
	}
	return nil
}
