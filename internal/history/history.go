// Package history keeps the bounded, newest-first ledger of catalog mutations
// used for single-step undo. The ledger is mirrored to the local store on
// every change.
package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/localstore"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultCapacity = 50

const (
	MessageNothingToUndo = "No changes to undo"
	MessageCannotUndo    = "Unable to undo this change"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type UndoKind string

const (
	// UndoInserted reverts an add: remove ID from the catalog.
	UndoInserted UndoKind = "inserted"
	// UndoRemoved reverts a delete: reinsert Record.
	UndoRemoved UndoKind = "removed"
	// UndoReplaced reverts an update: put Record back in place of ID.
	UndoReplaced UndoKind = "replaced"
)

type Undo struct {
	Kind   UndoKind         `json:"kind"`
	ID     string           `json:"id"`
	Record *catalog.Product `json:"record,omitempty"`
}

// Record is one ledger entry. previousData holds the added product for add
// records, matching the persisted shape older ledgers were written with.
type Record struct {
	ID           string           `json:"id"`
	Timestamp    int64            `json:"timestamp"`
	Action       Action           `json:"action"`
	PreviousData *catalog.Product `json:"previousData,omitempty"`
	NewData      *catalog.Product `json:"newData,omitempty"`
	Description  string           `json:"description"`
	Undo         *Undo            `json:"undo,omitempty"`
}

type UndoResult struct {
	Success  bool
	Message  string
	Restored []catalog.Product
	Payload  *Undo
}

type IDSource interface {
	Next() string
}

type Options struct {
	Store    localstore.Store
	Key      string
	Capacity int
	IDs      IDSource
	Logger   *zap.Logger
	Clock    func() time.Time
}

type Tracker struct {
	mu       sync.Mutex
	store    localstore.Store
	key      string
	capacity int
	ids      IDSource
	logger   *zap.Logger
	clock    func() time.Time
	records  []Record
}

func New(opts Options) (*Tracker, error) {
	if opts.Store == nil {
		return nil, errors.New("history: store is required")
	}
	if opts.Key == "" {
		opts.Key = localstore.KeyChangeHistory
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IDs == nil {
		gen, err := catalog.NewIDGenerator(0)
		if err != nil {
			return nil, err
		}
		opts.IDs = gen
	}
	t := &Tracker{
		store:    opts.Store,
		key:      opts.Key,
		capacity: opts.Capacity,
		ids:      opts.IDs,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
	t.Load()
	return t, nil
}

// Load replaces the in-memory ledger with the persisted one. A missing or
// malformed ledger leaves the tracker empty.
func (t *Tracker) Load() {
	var records []Record
	ok, err := localstore.GetJSON(t.store, t.key, &records)
	if err != nil {
		t.logger.Warn("discarding unreadable change history", zap.String("key", t.key), zap.Error(err))
		records = nil
	}
	if !ok {
		records = nil
	}
	for i := range records {
		if records[i].Undo == nil {
			records[i].Undo = undoFor(records[i].Action, records[i].PreviousData, records[i].NewData)
		}
	}
	if len(records) > t.capacity {
		records = records[:t.capacity]
	}
	t.mu.Lock()
	t.records = records
	t.mu.Unlock()
}

// AddChange prepends a record and persists the ledger. A persistence error is
// returned but the record stays in memory.
func (t *Tracker) AddChange(action Action, previous, next *catalog.Product, description string) (Record, error) {
	record := Record{
		ID:           "change_" + t.ids.Next(),
		Timestamp:    t.clock().UnixMilli(),
		Action:       action,
		PreviousData: cloneProduct(previous),
		NewData:      cloneProduct(next),
		Description:  description,
		Undo:         undoFor(action, previous, next),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	records := make([]Record, 0, len(t.records)+1)
	records = append(records, record)
	records = append(records, t.records...)
	if len(records) > t.capacity {
		records = records[:t.capacity]
	}
	t.records = records
	return record, t.persistLocked()
}

func (t *Tracker) LastChange() (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.records) == 0 {
		return Record{}, false
	}
	return t.records[0], true
}

// Changes returns a copy of the ledger, newest first.
func (t *Tracker) Changes() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// UndoLastChange pops the newest record and describes how to revert it. The
// record is consumed even when it cannot be reverted.
func (t *Tracker) UndoLastChange() UndoResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.records) == 0 {
		return UndoResult{Success: false, Message: MessageNothingToUndo}
	}
	last := t.records[0]
	t.records = append([]Record(nil), t.records[1:]...)
	if err := t.persistLocked(); err != nil {
		t.logger.Warn("change history not persisted after undo", zap.Error(err))
	}

	undo := last.Undo
	if undo == nil || last.PreviousData == nil {
		return UndoResult{Success: false, Message: MessageCannotUndo}
	}
	name := last.PreviousData.Name
	switch undo.Kind {
	case UndoRemoved:
		return UndoResult{
			Success:  true,
			Message:  fmt.Sprintf("Undid deletion of %s", name),
			Restored: []catalog.Product{undo.Record.Clone()},
			Payload:  undo,
		}
	case UndoInserted:
		return UndoResult{
			Success:  true,
			Message:  fmt.Sprintf("Undid addition of %s", name),
			Restored: []catalog.Product{},
			Payload:  undo,
		}
	case UndoReplaced:
		return UndoResult{
			Success:  true,
			Message:  fmt.Sprintf("Undid update of %s", name),
			Restored: []catalog.Product{undo.Record.Clone()},
			Payload:  undo,
		}
	}
	return UndoResult{Success: false, Message: MessageCannotUndo}
}

func (t *Tracker) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
	return t.store.Remove(t.key)
}

func (t *Tracker) persistLocked() error {
	if err := localstore.SetJSON(t.store, t.key, t.records); err != nil {
		t.logger.Warn("change history not persisted", zap.Int("records", len(t.records)), zap.Error(err))
		return errors.Wrap(err, "persist change history")
	}
	return nil
}

func undoFor(action Action, previous, next *catalog.Product) *Undo {
	switch action {
	case ActionAdd:
		added := previous
		if added == nil {
			added = next
		}
		if added == nil {
			return nil
		}
		return &Undo{Kind: UndoInserted, ID: added.ID}
	case ActionDelete:
		if previous == nil {
			return nil
		}
		return &Undo{Kind: UndoRemoved, ID: previous.ID, Record: cloneProduct(previous)}
	case ActionUpdate:
		if previous == nil {
			return nil
		}
		return &Undo{Kind: UndoReplaced, ID: previous.ID, Record: cloneProduct(previous)}
	}
	return nil
}

func cloneProduct(p *catalog.Product) *catalog.Product {
	if p == nil {
		return nil
	}
	c := p.Clone()
	return &c
}
