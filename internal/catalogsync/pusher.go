package catalogsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/remote"
)

type pushFunc func(ctx context.Context, products []catalog.Product) remote.Result

// pusher sends catalog snapshots to the remote endpoint on a single worker.
// Snapshots queued while a push is in flight collapse into the newest one, so
// the remote copy never moves backwards.
type pusher struct {
	pool     *ants.Pool
	push     pushFunc
	onResult func([]catalog.Product, remote.Result)
	timeout  time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	pending    []catalog.Product
	hasPending bool
	running    bool
	idle       chan struct{}
}

func newPusher(push pushFunc, onResult func([]catalog.Product, remote.Result), timeout time.Duration, logger *zap.Logger) (*pusher, error) {
	pool, err := ants.NewPool(1, ants.WithPanicHandler(func(v interface{}) {
		logger.Error("remote push worker panicked", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create push pool")
	}
	return &pusher{
		pool:     pool,
		push:     push,
		onResult: onResult,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

func (p *pusher) Enqueue(products []catalog.Product) {
	p.mu.Lock()
	p.pending = catalog.Clone(products)
	p.hasPending = true
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.idle = make(chan struct{})
	p.mu.Unlock()

	if err := p.pool.Submit(p.drain); err != nil {
		p.logger.Warn("remote push not scheduled", zap.Error(err))
		p.mu.Lock()
		p.pending = nil
		p.hasPending = false
		p.finishLocked()
		p.mu.Unlock()
	}
}

// Busy reports whether a push is queued or in flight.
func (p *pusher) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Supersede drops any queued snapshot and waits for the in-flight push.
func (p *pusher) Supersede(ctx context.Context) {
	p.mu.Lock()
	p.pending = nil
	p.hasPending = false
	p.mu.Unlock()
	_ = p.Flush(ctx)
}

func (p *pusher) Flush(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.running {
			p.mu.Unlock()
			return nil
		}
		idle := p.idle
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

func (p *pusher) Close() {
	p.pool.Release()
}

func (p *pusher) drain() {
	for {
		p.mu.Lock()
		if !p.hasPending {
			p.finishLocked()
			p.mu.Unlock()
			return
		}
		products := p.pending
		p.pending = nil
		p.hasPending = false
		p.mu.Unlock()

		res := p.pushOnce(products)
		if p.onResult != nil {
			p.onResult(products, res)
		}
	}
}

func (p *pusher) pushOnce(products []catalog.Product) (res remote.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			res = remote.Result{Success: false, Message: fmt.Sprintf("push panicked: %v", r)}
		}
	}()
	return p.push(ctx, products)
}

func (p *pusher) finishLocked() {
	p.running = false
	if p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
}
