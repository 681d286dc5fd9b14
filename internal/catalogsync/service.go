// Package catalogsync keeps the canonical in-memory product catalog and
// reconciles it with the local store and the remote catalog endpoint.
package catalogsync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/history"
	"github.com/alburaq/catalogsync/internal/localstore"
	"github.com/alburaq/catalogsync/internal/notify"
	"github.com/alburaq/catalogsync/internal/remote"
)

const (
	DefaultStaleAfter  = time.Hour
	DefaultPushTimeout = 15 * time.Second

	MessageSavedGlobally = "Products saved globally successfully"
)

var errRemoteNotConfigured = errors.New("remote catalog not configured")

type Result struct {
	Success bool
	Message string
}

type Options struct {
	Local   localstore.Store
	Remote  remote.Client
	Bus     *notify.Bus
	History *history.Tracker
	IDs     history.IDSource
	Logger  *zap.Logger
	// StaleAfter is how old the last successful remote write may be before
	// IsDataStale reports true.
	StaleAfter  time.Duration
	PushTimeout time.Duration
	Clock       func() time.Time
}

type Service struct {
	local      localstore.Store
	remote     remote.Client
	bus        *notify.Bus
	history    *history.Tracker
	ids        history.IDSource
	logger     *zap.Logger
	staleAfter time.Duration
	clock      func() time.Time
	pusher     *pusher
	syncGroup  singleflight.Group

	initMu      sync.Mutex
	initialized bool

	// writeMu orders mutations; mu guards products for readers.
	writeMu sync.Mutex
	// generation counts local writes under writeMu. ForceSync only adopts a
	// fetch when no local write happened while it was in flight.
	generation uint64
	mu         sync.Mutex
	products   []catalog.Product
}

type localDocument struct {
	Products []catalog.Product `json:"products"`
}

func New(opts Options) (*Service, error) {
	if opts.Local == nil {
		return nil, errors.New("catalogsync: local store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = notify.NewBus()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	if opts.IDs == nil {
		gen, err := catalog.NewIDGenerator(0)
		if err != nil {
			return nil, err
		}
		opts.IDs = gen
	}
	if opts.History == nil {
		tracker, err := history.New(history.Options{
			Store:  opts.Local,
			IDs:    opts.IDs,
			Logger: opts.Logger,
			Clock:  opts.Clock,
		})
		if err != nil {
			return nil, err
		}
		opts.History = tracker
	}

	s := &Service{
		local:      opts.Local,
		remote:     opts.Remote,
		bus:        opts.Bus,
		history:    opts.History,
		ids:        opts.IDs,
		logger:     opts.Logger,
		staleAfter: opts.StaleAfter,
		clock:      opts.Clock,
	}
	p, err := newPusher(s.pushRemote, s.afterAsyncPush, opts.PushTimeout, opts.Logger)
	if err != nil {
		return nil, err
	}
	s.pusher = p
	return s, nil
}

func (s *Service) Bus() *notify.Bus {
	return s.bus
}

func (s *Service) History() *history.Tracker {
	return s.history
}

// Initialize adopts the remote catalog when it has products, otherwise the
// local one (repairing the remote copy). When both are empty the catalog is
// left empty for the caller to seed. Only the first call does anything.
func (s *Service) Initialize(ctx context.Context) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return
	}
	defer func() { s.initialized = true }()

	if doc, ok := s.fetchRemote(ctx); ok && len(doc.Products) > 0 {
		s.setProducts(doc.Products)
		if err := s.writeLocal(doc.Products); err != nil {
			s.logger.Warn("remote catalog not mirrored locally", zap.Error(err))
		}
		s.logger.Info("catalog initialized from remote", zap.Int("products", len(doc.Products)))
		return
	}

	local := s.readLocal()
	if len(local) > 0 {
		s.setProducts(local)
		res := s.pushRemote(ctx, local)
		if res.Success {
			s.markSynced()
		} else {
			s.logger.Warn("local catalog not pushed to remote", zap.String("reason", res.Message))
		}
		s.logger.Info("catalog initialized from local store", zap.Int("products", len(local)), zap.Bool("remote_repaired", res.Success))
		return
	}
	s.logger.Info("catalog empty after initialize")
}

func (s *Service) Initialized() bool {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initialized
}

// LoadProducts returns the remote catalog when it is reachable and not empty,
// mirroring it locally; otherwise the local snapshot, else an empty catalog.
func (s *Service) LoadProducts(ctx context.Context) []catalog.Product {
	if doc, ok := s.fetchRemote(ctx); ok && len(doc.Products) > 0 {
		s.setProducts(doc.Products)
		if err := s.writeLocal(doc.Products); err != nil {
			s.logger.Warn("remote catalog not mirrored locally", zap.Error(err))
		}
		return catalog.Clone(doc.Products)
	}
	local := s.readLocal()
	if local == nil {
		local = []catalog.Product{}
	}
	s.setProducts(local)
	return catalog.Clone(local)
}

// SaveProducts writes the catalog to the remote endpoint, then to the local
// store whatever the remote outcome. The local write is never rolled back.
func (s *Service) SaveProducts(ctx context.Context, products []catalog.Product) Result {
	products = normalizeAll(products)
	s.writeMu.Lock()
	// a queued background push would otherwise land after this write
	s.pusher.Supersede(ctx)

	res := s.pushRemote(ctx, products)
	localErr := s.writeLocal(products)
	s.setProducts(products)
	s.generation++
	if res.Success {
		s.markSynced()
	}
	s.writeMu.Unlock()
	s.broadcast(products)

	switch {
	case res.Success && localErr == nil:
		return Result{Success: true, Message: MessageSavedGlobally}
	case res.Success:
		return Result{Success: true, Message: fmt.Sprintf("%s. Warning: local copy not saved: %v", MessageSavedGlobally, localErr)}
	case localErr == nil:
		s.logger.Warn("catalog saved locally only", zap.String("reason", res.Message))
		return Result{Success: false, Message: fmt.Sprintf("Failed to save globally: %s. Data saved locally only.", res.Message)}
	default:
		s.logger.Error("catalog not saved", zap.String("reason", res.Message), zap.Error(localErr))
		return Result{Success: false, Message: fmt.Sprintf("Failed to save globally: %s. Local save also failed: %v", res.Message, localErr)}
	}
}

// ForceSync re-fetches the remote catalog and, when it has products, adopts
// and broadcasts it. Concurrent calls share one fetch. The fetch is dropped
// when a local write happened meanwhile or a push of one is still pending.
func (s *Service) ForceSync(ctx context.Context) {
	_, _, _ = s.syncGroup.Do("force-sync", func() (any, error) {
		s.forceSync(ctx)
		return nil, nil
	})
}

func (s *Service) forceSync(ctx context.Context) {
	s.writeMu.Lock()
	started := s.generation
	s.writeMu.Unlock()

	doc, ok := s.fetchRemote(ctx)
	if !ok || len(doc.Products) == 0 {
		return
	}
	s.writeMu.Lock()
	if s.generation != started || s.pusher.Busy() {
		s.writeMu.Unlock()
		s.logger.Debug("skipping remote adoption, local changes are newer")
		return
	}
	if err := s.writeLocal(doc.Products); err != nil {
		s.logger.Warn("remote catalog not mirrored locally", zap.Error(err))
	}
	changed := s.setProducts(doc.Products)
	s.writeMu.Unlock()
	s.broadcast(doc.Products)
	s.bus.Publish(notify.TopicProductsSynced, doc.Products)
	s.bus.Publish(notify.TopicForceSync, doc.Products)
	if changed {
		s.logger.Info("catalog updated from remote", zap.Int("products", len(doc.Products)))
	}
}

func (s *Service) Products() []catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return catalog.Clone(s.products)
}

func (s *Service) Product(id string) (catalog.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return catalog.Find(s.products, id)
}

func (s *Service) ProductsByCategory(category string) []catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return catalog.ByCategory(s.products, category)
}

func (s *Service) Categories() []string {
	return append([]string(nil), catalog.Categories...)
}

// Seed adopts products when the catalog is still empty and persists them.
// It reports whether the seed was used.
func (s *Service) Seed(ctx context.Context, products []catalog.Product) bool {
	s.mu.Lock()
	empty := len(s.products) == 0
	s.mu.Unlock()
	if !empty || len(products) == 0 {
		return false
	}
	res := s.SaveProducts(ctx, products)
	s.logger.Info("catalog seeded", zap.Int("products", len(products)), zap.Bool("remote", res.Success))
	return true
}

func (s *Service) LastSyncTimestamp() (int64, bool) {
	raw, ok, err := s.local.Get(localstore.KeyLastSync)
	if err != nil || !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// IsDataStale reports whether the last successful remote write is older than
// the stale threshold, or never happened.
func (s *Service) IsDataStale() bool {
	ts, ok := s.LastSyncTimestamp()
	if !ok {
		return true
	}
	return s.clock().Sub(time.UnixMilli(ts)) > s.staleAfter
}

// Flush waits for background remote pushes to finish.
func (s *Service) Flush(ctx context.Context) error {
	return s.pusher.Flush(ctx)
}

func (s *Service) Close() error {
	s.pusher.Close()
	return nil
}

func (s *Service) fetchRemote(ctx context.Context) (remote.Document, bool) {
	if s.remote == nil {
		return remote.Document{}, false
	}
	return s.remote.Fetch(ctx)
}

func (s *Service) pushRemote(ctx context.Context, products []catalog.Product) remote.Result {
	if s.remote == nil {
		return remote.Result{Success: false, Message: errRemoteNotConfigured.Error()}
	}
	return s.remote.Push(ctx, products)
}

func (s *Service) afterAsyncPush(products []catalog.Product, res remote.Result) {
	if !res.Success {
		s.logger.Warn("background remote push failed", zap.Int("products", len(products)), zap.String("reason", res.Message))
		return
	}
	s.markSynced()
	s.logger.Debug("background remote push done", zap.Int("products", len(products)))
}

func (s *Service) markSynced() {
	now := strconv.FormatInt(s.clock().UnixMilli(), 10)
	if err := s.local.Set(localstore.KeyLastSync, now); err != nil {
		s.logger.Warn("last sync timestamp not persisted", zap.Error(err))
	}
}

func (s *Service) readLocal() []catalog.Product {
	var doc localDocument
	ok, err := localstore.GetJSON(s.local, localstore.KeyProducts, &doc)
	if err != nil {
		s.logger.Warn("unreadable local catalog", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return normalizeAll(doc.Products)
}

func (s *Service) writeLocal(products []catalog.Product) error {
	if products == nil {
		products = []catalog.Product{}
	}
	if err := localstore.SetJSON(s.local, localstore.KeyProducts, localDocument{Products: products}); err != nil {
		return errors.Wrap(err, "write local catalog")
	}
	return nil
}

// setProducts replaces the in-memory catalog and reports whether it changed.
func (s *Service) setProducts(products []catalog.Product) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if catalog.EqualAll(s.products, products) {
		return false
	}
	s.products = catalog.Clone(products)
	return true
}

// broadcast announces a new catalog in this process and to other processes
// sharing the local store.
func (s *Service) broadcast(products []catalog.Product) {
	s.bus.Publish(notify.TopicGlobalProductsSynced, products)
	s.bus.Publish(notify.TopicGithubProductsSynced, products)
	if err := notify.Piggyback(s.local, s.clock()); err != nil {
		s.logger.Debug("cross-process notify failed", zap.Error(err))
	}
}

func normalizeAll(products []catalog.Product) []catalog.Product {
	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		out = append(out, catalog.Normalize(p.Clone()))
	}
	return out
}
