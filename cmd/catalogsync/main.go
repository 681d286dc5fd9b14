package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/catalogsync"
	"github.com/alburaq/catalogsync/internal/config"
	"github.com/alburaq/catalogsync/internal/history"
	"github.com/alburaq/catalogsync/internal/localstore"
	"github.com/alburaq/catalogsync/internal/logging"
	"github.com/alburaq/catalogsync/internal/notify"
	"github.com/alburaq/catalogsync/internal/remote"
)

const usage = `usage: catalogsync <command> [flags]

commands:
  run       keep the local catalog in sync until interrupted
  sync      fetch the remote catalog once
  export    write the catalog as CSV (-o file, default stdout)
  import    replace the catalog from CSV (-i file)
  undo      revert the most recent change
  history   list recorded changes, newest first
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runCLI(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "config file (.toml, .yaml)")
	output := fs.String("o", "", "export destination, - for stdout")
	input := fs.String("i", "", "import source")
	switch cmd {
	case "run", "sync", "export", "import", "undo", "history":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	cfg, err := config.Load(config.LoadOptions{File: *configFile})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger, logFile, err := logging.New(logging.Options{Mode: cfg.Log.Mode, Level: cfg.Log.Level, File: cfg.Log.File, Stdout: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "build logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
		_ = logFile.Close()
	}()
	zap.ReplaceGlobals(logger)

	a, err := newAgent(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "start agent: %v\n", err)
		return 1
	}
	defer a.close()

	switch cmd {
	case "run":
		err = a.run(ctx, cfg)
	case "sync":
		err = a.syncOnce(ctx, stdout)
	case "export":
		err = a.export(ctx, *output, stdout)
	case "import":
		err = a.importCSV(ctx, *input, stdout)
	case "undo":
		err = a.undo(ctx, stdout)
	case "history":
		err = a.history(stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

type agent struct {
	svc    *catalogsync.Service
	local  localstore.Store
	client *remote.HTTPClient
	logger *zap.Logger
}

func newAgent(cfg config.Config, logger *zap.Logger) (*agent, error) {
	local, err := localstore.BuildFromDSN(cfg.Sync.LocalDSN, cfg.Sync.LocalQuota)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	ids, err := catalog.NewIDGenerator(cfg.Sync.NodeID)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	tracker, err := history.New(history.Options{
		Store:    local,
		Capacity: cfg.Sync.HistoryCapacity,
		IDs:      ids,
		Logger:   logger,
	})
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	client := remote.NewHTTPClient(remote.HTTPClientOptions{
		BaseURL: cfg.Remote.BaseURL,
		Path:    cfg.Remote.Path,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
		Logger:  logger,
	})
	svc, err := catalogsync.New(catalogsync.Options{
		Local:       local,
		Remote:      client,
		History:     tracker,
		IDs:         ids,
		Logger:      logger,
		StaleAfter:  cfg.Sync.StaleAfter,
		PushTimeout: cfg.Remote.Timeout,
	})
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	return &agent{svc: svc, local: local, client: client, logger: logger}, nil
}

func (a *agent) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.svc.Flush(ctx); err != nil {
		a.logger.Warn("pending remote push abandoned", zap.Error(err))
	}
	_ = a.svc.Close()
	_ = a.local.Close()
}

// run initializes the catalog, seeds it when empty and keeps it converged
// with the remote copy and other local processes until ctx is done.
func (a *agent) run(ctx context.Context, cfg config.Config) error {
	for _, topic := range notify.Topics {
		unsubscribe, err := a.svc.Bus().Subscribe(topic, func(ev notify.Event) {
			a.logger.Info("catalog event", zap.String("topic", ev.Topic), zap.Int("products", len(ev.Products)))
		})
		if err != nil {
			return err
		}
		defer unsubscribe()
	}

	a.svc.Initialize(ctx)
	if cfg.Sync.Seed && a.svc.Seed(ctx, catalog.Seed()) {
		a.logger.Info("empty catalog seeded with defaults")
	}

	loop, err := catalogsync.NewLoop(a.svc, catalogsync.LoopOptions{Interval: cfg.Sync.Interval, Logger: a.logger})
	if err != nil {
		return err
	}
	loop.Start()
	defer loop.Stop()

	if cfg.Sync.WatchLocal {
		go func() {
			if err := a.svc.WatchLocal(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("local store watch stopped", zap.Error(err))
			}
		}()
	}
	if cfg.Remote.Watch {
		go func() {
			_ = a.svc.WatchRemote(ctx, a.client)
		}()
	}

	a.logger.Info("catalog sync running",
		zap.Int("products", len(a.svc.Products())),
		zap.Duration("interval", loop.Interval()),
		zap.String("endpoint", a.client.Endpoint()),
	)
	<-ctx.Done()
	a.logger.Info("catalog sync stopping")
	return nil
}

func (a *agent) syncOnce(ctx context.Context, stdout io.Writer) error {
	a.svc.Initialize(ctx)
	a.svc.ForceSync(ctx)
	ts, ok := a.svc.LastSyncTimestamp()
	last := "never"
	if ok {
		last = time.UnixMilli(ts).UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(stdout, "%d products, last pushed %s, stale=%t\n", len(a.svc.Products()), last, a.svc.IsDataStale())
	return nil
}

func (a *agent) export(ctx context.Context, path string, stdout io.Writer) error {
	products := a.svc.LoadProducts(ctx)
	if path == "" || path == "-" {
		return catalog.WriteCSV(stdout, products)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := catalog.WriteCSV(f, products); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported %d products to %s\n", len(products), path)
	return nil
}

func (a *agent) importCSV(ctx context.Context, path string, stdout io.Writer) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("-i is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	products, err := catalog.ReadCSV(f)
	if err != nil {
		return err
	}
	res := a.svc.SaveProducts(ctx, products)
	fmt.Fprintln(stdout, res.Message)
	if !res.Success {
		return fmt.Errorf("catalog not saved globally")
	}
	return nil
}

func (a *agent) undo(ctx context.Context, stdout io.Writer) error {
	a.svc.Initialize(ctx)
	res := a.svc.UndoLastChange()
	fmt.Fprintln(stdout, res.Message)
	return nil
}

func (a *agent) history(stdout io.Writer) error {
	changes := a.svc.Changes()
	if len(changes) == 0 {
		fmt.Fprintln(stdout, history.MessageNothingToUndo)
		return nil
	}
	for _, c := range changes {
		at := time.UnixMilli(c.Timestamp).UTC().Format(time.RFC3339)
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", c.ID, at, c.Action, c.Description)
	}
	return nil
}
