package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/contractcheck/contract"
	"github.com/wudi/contractcheck/internal/config"
	"github.com/wudi/contractcheck/internal/engine"
	"github.com/wudi/contractcheck/internal/extract"
	"github.com/wudi/contractcheck/internal/extract/openapi"
	"github.com/wudi/contractcheck/internal/logging"
	"github.com/wudi/contractcheck/internal/metrics"
	"github.com/wudi/contractcheck/internal/snapshot"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "contractcheck.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("contractcheck %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("starting analysis",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("openapi_specs", len(cfg.OpenAPI.Specs)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Watch.Enabled {
		if err := runWatch(ctx, cfg, logger); err != nil {
			logging.Error("watch mode failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	breaking, err := runOnce(ctx, cfg, logger)
	if err != nil {
		logging.Error("analysis failed", zap.Error(err))
		os.Exit(1)
	}
	if breaking {
		os.Exit(2)
	}
}

// runWatch runs one analysis immediately and then again after every change
// burst in the snapshot inputs, until the context is cancelled.
func runWatch(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if _, err := runOnce(ctx, cfg, logger); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(
		[]string{cfg.Snapshots.CurrentDir, cfg.Snapshots.ProposedDir},
		time.Duration(cfg.Watch.DebounceMs)*time.Millisecond,
	)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	runs := make(chan struct{}, 1)
	watcher.OnChange(func() {
		select {
		case runs <- struct{}{}:
		default:
		}
	})
	if err := watcher.Start(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-runs:
			if _, err := runOnce(ctx, cfg, logger); err != nil {
				logging.Error("analysis failed", zap.Error(err))
			}
		}
	}
}

// runOnce assembles the input, runs the engine, prints the report to
// stdout, and archives the proposed snapshots. It reports whether any
// verdict was breaking.
func runOnce(ctx context.Context, cfg *config.Config, logger *zap.Logger) (bool, error) {
	store, err := snapshot.NewStore(cfg.Store.Dir, cfg.Store.MaxVersions)
	if err != nil {
		return false, err
	}

	in := engine.Input{Failures: make(map[contract.ServiceID]error)}

	if cfg.Snapshots.CurrentDir != "" {
		in.Current, err = loadSnapshotDir(cfg.Snapshots.CurrentDir)
		if err != nil {
			return false, err
		}
	} else {
		in.Current, err = loadStoredBaseline(store, cfg.Analysis.Baseline)
		if err != nil {
			return false, err
		}
	}

	if cfg.Snapshots.ProposedDir != "" {
		in.Proposed, err = loadSnapshotDir(cfg.Snapshots.ProposedDir)
		if err != nil {
			return false, err
		}
	}

	if len(cfg.OpenAPI.Specs) > 0 {
		sources := make([]extract.Source, 0, len(cfg.OpenAPI.Specs))
		for _, spec := range cfg.OpenAPI.Specs {
			sources = append(sources, extract.Source{
				Service: contract.ServiceID(spec.Service),
				Path:    spec.File,
				Adapter: openapi.Adapter{Service: contract.ServiceID(spec.Service)},
			})
		}
		res := extract.Run(ctx, sources, cfg.Analysis.Concurrency, logger)
		in.Proposed = append(in.Proposed, res.Snapshots...)
		in.Edges = append(in.Edges, res.Edges...)
		for svc, ferr := range res.Failures {
			in.Failures[svc] = ferr
		}
	}

	if cfg.Snapshots.EdgesFile != "" {
		data, err := os.ReadFile(cfg.Snapshots.EdgesFile)
		if err != nil {
			return false, fmt.Errorf("read edges file: %w", err)
		}
		edges, err := snapshot.DecodeEdges(data)
		if err != nil {
			return false, err
		}
		in.Edges = append(in.Edges, edges...)
	}

	eng := engine.New(engine.Options{
		Logger:      logger,
		Metrics:     metrics.NewCollector(),
		Concurrency: cfg.Analysis.Concurrency,
	})
	rep, err := eng.Analyze(ctx, in)
	if err != nil {
		return false, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return false, fmt.Errorf("encode report: %w", err)
	}

	for _, snap := range in.Proposed {
		if _, failed := in.Failures[snap.Service]; failed {
			continue
		}
		if err := store.Put(snap); err != nil {
			logging.Warn("failed to archive snapshot",
				zap.String("service", string(snap.Service)), zap.Error(err))
		}
	}

	return rep.HasBreaking(), nil
}

// loadSnapshotDir reads every *.json snapshot document in a directory.
func loadSnapshotDir(dir string) ([]*contract.Snapshot, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var snaps []*contract.Snapshot
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", path, err)
		}
		snap, err := snapshot.DecodeSnapshot(data)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", path, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// loadStoredBaseline uses the latest archived snapshot of every known
// service as the current surface. A non-empty baseline restricts the set to
// the named services (comma separated).
func loadStoredBaseline(store *snapshot.Store, baseline string) ([]*contract.Snapshot, error) {
	services, err := store.Services()
	if err != nil {
		return nil, err
	}
	if baseline != "" {
		wanted := make(map[contract.ServiceID]bool)
		for _, name := range strings.Split(baseline, ",") {
			wanted[contract.ServiceID(strings.TrimSpace(name))] = true
		}
		filtered := services[:0]
		for _, svc := range services {
			if wanted[svc] {
				filtered = append(filtered, svc)
			}
		}
		services = filtered
	}
	var snaps []*contract.Snapshot
	for _, svc := range services {
		snap, err := store.Latest(svc)
		if err != nil {
			return nil, fmt.Errorf("load stored snapshot for %s: %w", svc, err)
		}
		if snap != nil {
			snaps = append(snaps, snap)
		}
	}
	return snaps, nil
}
