package catalogsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultInterval   = 10 * time.Second
	DefaultRunTimeout = 30 * time.Second
)

type Syncer interface {
	ForceSync(ctx context.Context)
}

type LoopOptions struct {
	Interval time.Duration
	// RunTimeout bounds a single ForceSync run.
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// Loop runs ForceSync on a fixed interval so that changes written by other
// sessions reach this one without user action.
type Loop struct {
	syncer     Syncer
	interval   time.Duration
	runTimeout time.Duration
	logger     *zap.Logger
	cron       *cron.Cron

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewLoop(syncer Syncer, opts LoopOptions) (*Loop, error) {
	if syncer == nil {
		return nil, errors.New("catalogsync: loop needs a syncer")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	l := &Loop{
		syncer:     syncer,
		interval:   opts.Interval,
		runTimeout: opts.RunTimeout,
		logger:     opts.Logger,
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	cronLog := cronLogger{logger: opts.Logger.Sugar()}
	l.cron = cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := l.cron.AddFunc(fmt.Sprintf("@every %s", opts.Interval), l.RunNow); err != nil {
		return nil, errors.Wrapf(err, "schedule sync every %s", opts.Interval)
	}
	return l, nil
}

func (l *Loop) Interval() time.Duration {
	return l.interval
}

func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.cron.Start()
	l.logger.Info("periodic sync started", zap.Duration("interval", l.interval))
}

// Stop cancels the schedule and any run in progress. The returned context is
// done once the running sync has returned. A stopped loop cannot be restarted.
func (l *Loop) Stop() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel()
	return l.cron.Stop()
}

// RunNow performs one sync immediately on the caller's goroutine.
func (l *Loop) RunNow() {
	if l.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(l.ctx, l.runTimeout)
	defer cancel()
	l.syncer.ForceSync(ctx)
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
