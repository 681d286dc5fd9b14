package catalogsync

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/alburaq/catalogsync/internal/localstore"
	"github.com/alburaq/catalogsync/internal/notify"
	"github.com/alburaq/catalogsync/internal/remote"
)

// WatchLocal follows writes other processes make to the local store file.
// When the stored catalog differs from the in-memory one it is adopted and
// announced as products_synced. The service's own writes compare equal and
// are ignored.
func (s *Service) WatchLocal(ctx context.Context) error {
	w, ok := s.local.(localstore.Watchable)
	if !ok {
		return errors.Errorf("local store %T cannot be watched", s.local)
	}
	return localstore.Watch(ctx, w.Path(), s.logger, s.ReloadLocal)
}

// ReloadLocal adopts the local store's catalog when it differs from memory.
// The change history is always reloaded, since another process may have
// extended or cleared it without touching the catalog.
func (s *Service) ReloadLocal() {
	s.writeMu.Lock()
	s.history.Load()
	products := s.readLocal()
	if products == nil {
		s.writeMu.Unlock()
		return
	}
	changed := s.setProducts(products)
	if changed {
		s.generation++
	}
	s.writeMu.Unlock()
	if !changed {
		return
	}
	s.logger.Info("catalog changed by another process", zap.Int("products", len(products)))
	s.bus.Publish(notify.TopicProductsSynced, products)
}

// WatchRemote runs ForceSync whenever the remote endpoint announces a write.
// It blocks until ctx is done.
func (s *Service) WatchRemote(ctx context.Context, w RemoteWatcher) error {
	return w.Watch(ctx, func(n remote.ChangeNotice) {
		s.logger.Debug("remote catalog changed", zap.String("version", n.Version))
		s.ForceSync(ctx)
	})
}

type RemoteWatcher interface {
	Watch(ctx context.Context, onChange func(remote.ChangeNotice)) error
}
