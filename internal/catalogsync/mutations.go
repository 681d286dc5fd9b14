package catalogsync

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/history"
	"github.com/alburaq/catalogsync/internal/notify"
)

// AddProduct appends a product built from d under a fresh id. The change is
// recorded, stored locally and announced before this returns; the remote
// copy is updated in the background.
func (s *Service) AddProduct(d catalog.Draft) (catalog.Product, Result) {
	if err := d.Validate(); err != nil {
		return catalog.Product{}, Result{Success: false, Message: err.Error()}
	}
	s.writeMu.Lock()
	s.mu.Lock()
	p := d.WithID(s.ids.Next())
	for catalog.IndexOf(s.products, p.ID) >= 0 {
		p.ID = s.ids.Next()
	}
	next := append(catalog.Clone(s.products), p.Clone())
	s.products = next
	snapshot := catalog.Clone(next)
	s.mu.Unlock()

	added := p.Clone()
	res := s.commit(snapshot, fmt.Sprintf("Added %s", p.Name), func() error {
		_, err := s.history.AddChange(history.ActionAdd, &added, &added, fmt.Sprintf("Added %s", added.Name))
		return err
	})
	s.writeMu.Unlock()
	s.announce(snapshot)
	return p, res
}

// UpdateProduct replaces the product with id by d, keeping the id.
func (s *Service) UpdateProduct(id string, d catalog.Draft) (catalog.Product, Result) {
	if err := d.Validate(); err != nil {
		return catalog.Product{}, Result{Success: false, Message: err.Error()}
	}
	s.writeMu.Lock()
	s.mu.Lock()
	before, ok := catalog.Find(s.products, id)
	if !ok {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return catalog.Product{}, notFound(id)
	}
	p := d.WithID(id)
	next, err := catalog.Replace(s.products, p)
	if err != nil {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return catalog.Product{}, notFound(id)
	}
	s.products = next
	snapshot := catalog.Clone(next)
	s.mu.Unlock()

	after := p.Clone()
	res := s.commit(snapshot, fmt.Sprintf("Updated %s", p.Name), func() error {
		_, err := s.history.AddChange(history.ActionUpdate, &before, &after, fmt.Sprintf("Updated %s", after.Name))
		return err
	})
	s.writeMu.Unlock()
	s.announce(snapshot)
	return p, res
}

func (s *Service) DeleteProduct(id string) Result {
	s.writeMu.Lock()
	s.mu.Lock()
	before, ok := catalog.Find(s.products, id)
	if !ok {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return notFound(id)
	}
	next := catalog.Remove(s.products, id)
	s.products = next
	snapshot := catalog.Clone(next)
	s.mu.Unlock()

	res := s.commit(snapshot, fmt.Sprintf("Deleted %s", before.Name), func() error {
		_, err := s.history.AddChange(history.ActionDelete, &before, nil, fmt.Sprintf("Deleted %s", before.Name))
		return err
	})
	s.writeMu.Unlock()
	s.announce(snapshot)
	return res
}

// UndoLastChange reverts the newest recorded mutation and persists the result
// the same way a mutation is persisted. Reverting is not itself recorded.
func (s *Service) UndoLastChange() history.UndoResult {
	s.writeMu.Lock()
	res := s.history.UndoLastChange()
	if !res.Success || res.Payload == nil {
		s.writeMu.Unlock()
		return res
	}

	s.mu.Lock()
	next := applyUndo(s.products, *res.Payload)
	s.products = next
	snapshot := catalog.Clone(next)
	s.mu.Unlock()

	res.Message = s.commit(snapshot, res.Message, nil).Message
	s.writeMu.Unlock()
	s.announce(snapshot)
	return res
}

func (s *Service) LastChange() (history.Record, bool) {
	return s.history.LastChange()
}

func (s *Service) Changes() []history.Record {
	return s.history.Changes()
}

func (s *Service) ClearChangeHistory() {
	if err := s.history.Clear(); err != nil {
		s.logger.Warn("persisted change history not removed", zap.Error(err))
	}
}

func applyUndo(products []catalog.Product, undo history.Undo) []catalog.Product {
	switch undo.Kind {
	case history.UndoInserted:
		return catalog.Remove(products, undo.ID)
	case history.UndoRemoved, history.UndoReplaced:
		if undo.Record == nil {
			return catalog.Clone(products)
		}
		restored := catalog.Normalize(undo.Record.Clone())
		if next, err := catalog.Replace(products, restored); err == nil {
			return next
		}
		return append(catalog.Clone(products), restored)
	}
	return catalog.Clone(products)
}

// commit runs the bookkeeping shared by every mutation while writeMu is
// held: history, local store, then a queued remote push. Storage failures
// become warnings in the message; the mutation stands.
func (s *Service) commit(snapshot []catalog.Product, message string, record func() error) Result {
	var warnings []string
	if record != nil {
		if err := record(); err != nil {
			warnings = append(warnings, fmt.Sprintf("change history not saved: %v", err))
		}
	}
	if err := s.writeLocal(snapshot); err != nil {
		s.logger.Warn("catalog change not stored locally", zap.Error(err))
		warnings = append(warnings, fmt.Sprintf("local copy not saved: %v", err))
	}
	s.generation++
	s.pusher.Enqueue(snapshot)

	if len(warnings) > 0 {
		message = message + ". Warning: " + strings.Join(warnings, "; ")
	}
	return Result{Success: true, Message: message}
}

// announce tells in-process listeners and other processes about a mutation.
// It runs after writeMu is released so listeners may mutate in turn.
func (s *Service) announce(snapshot []catalog.Product) {
	s.bus.Publish(notify.TopicProductsUpdated, snapshot)
	s.broadcast(snapshot)
}

func notFound(id string) Result {
	return Result{Success: false, Message: fmt.Sprintf("product %s not found", id)}
}
