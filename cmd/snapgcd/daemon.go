package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapgc-io/snapgc/internal/audit"
	"github.com/snapgc-io/snapgc/internal/catalog"
	"github.com/snapgc-io/snapgc/internal/catalog/journal"
	catoxia "github.com/snapgc-io/snapgc/internal/catalog/oxia"
	"github.com/snapgc-io/snapgc/internal/catalog/sqlite"
	"github.com/snapgc-io/snapgc/internal/config"
	"github.com/snapgc-io/snapgc/internal/gc"
	"github.com/snapgc-io/snapgc/internal/leader"
	"github.com/snapgc-io/snapgc/internal/metrics"
	"github.com/snapgc-io/snapgc/internal/storage"
	s3storage "github.com/snapgc-io/snapgc/internal/storage/s3"
)

// components is everything assembled from configuration for one process.
type components struct {
	cfg     *config.Config
	catalog catalog.Catalog
	// jcat is non-nil when the catalog is the journal implementation,
	// which is the only one supporting checkpoint/compact.
	jcat    *journal.Catalog
	storage storage.Backend
	elector leader.Elector
	sink    audit.Sink
	engine  *gc.Engine
}

func (c *components) close() {
	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			slog.Warn("closing event sink", "error", err)
		}
	}
	if closer, ok := c.elector.(interface{ Close() error }); ok && closer != nil {
		_ = closer.Close()
	}
	if c.storage != nil {
		_ = c.storage.Close()
	}
	if c.catalog != nil {
		_ = c.catalog.Close()
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	switch cfg.Observability.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func buildCatalog(cfg *config.Config) (catalog.Catalog, *journal.Catalog, error) {
	switch cfg.Catalog.Type {
	case "journal":
		c, err := journal.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case "sqlite":
		c, err := sqlite.Open(cfg.Catalog.Path)
		return c, nil, err
	case "oxia":
		c, err := catoxia.New(catoxia.Config{
			ServiceAddress: cfg.Catalog.Oxia.ServiceAddress,
			Namespace:      cfg.Catalog.Oxia.Namespace,
		})
		return c, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown catalog type %q", cfg.Catalog.Type)
	}
}

func buildStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Type {
	case "fs":
		return storage.NewFS(cfg.Storage.Root)
	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Bucket:          cfg.Storage.S3.Bucket,
			KeyPrefix:       cfg.Storage.S3.KeyPrefix,
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKey,
			SecretAccessKey: cfg.Storage.S3.SecretKey,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func buildElector(cfg *config.Config) (leader.Elector, error) {
	switch cfg.Leader.Type {
	case "none":
		return nil, nil
	case "file":
		return leader.NewFileLock(cfg.Leader.LockPath), nil
	case "oxia":
		return catoxia.NewElector(catoxia.Config{
			ServiceAddress: cfg.Catalog.Oxia.ServiceAddress,
			Namespace:      cfg.Catalog.Oxia.Namespace,
		})
	default:
		return nil, fmt.Errorf("unknown leader type %q", cfg.Leader.Type)
	}
}

func buildSink(ctx context.Context, cfg *config.Config) (audit.Sink, error) {
	var sinks audit.MultiSink
	if cfg.Audit.ParquetDir != "" {
		a, err := audit.NewParquetArchiver(cfg.Audit.ParquetDir, cfg.Audit.ParquetFlushThreshold)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a)
	}
	if len(cfg.Audit.Kafka.Brokers) > 0 {
		p, err := audit.NewKafkaPublisher(ctx, audit.KafkaConfig{
			Brokers:     cfg.Audit.Kafka.Brokers,
			Topic:       cfg.Audit.Kafka.Topic,
			EnsureTopic: cfg.Audit.Kafka.EnsureTopic,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, p)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func assemble(ctx context.Context, cfg *config.Config) (*components, error) {
	cat, jcat, err := buildCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	store, err := buildStorage(ctx, cfg)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	elector, err := buildElector(cfg)
	if err != nil {
		store.Close()
		cat.Close()
		return nil, fmt.Errorf("leader: %w", err)
	}

	sink, err := buildSink(ctx, cfg)
	if err != nil {
		store.Close()
		cat.Close()
		return nil, fmt.Errorf("audit: %w", err)
	}

	policy := gc.RetentionPolicy{
		KeepLastN:           cfg.Policy.KeepLastN,
		MaxAge:              time.Duration(cfg.Policy.MaxAgeHours) * time.Hour,
		EnableCheckpointing: cfg.Policy.EnableCheckpointing,
		CheckpointInterval:  time.Duration(cfg.Policy.CheckpointIntervalMs) * time.Millisecond,
	}
	opts := gc.Options{
		DryRun:                            cfg.GC.DryRun,
		EnableTombstoneStage:              cfg.GC.EnableTombstoneStage,
		EnableHardDeleteStage:             cfg.GC.EnableHardDeleteStage,
		InactiveTimeout:                   time.Duration(cfg.GC.InactiveTimeoutMs) * time.Millisecond,
		GracePeriod:                       time.Duration(cfg.GC.GracePeriodMs) * time.Millisecond,
		MaxDeletesPerRun:                  cfg.GC.MaxDeletesPerRun,
		BatchDeleteSize:                   cfg.GC.BatchDeleteSize,
		MaxDeleteFailuresBeforeQuarantine: uint32(cfg.GC.MaxDeleteFailuresBeforeQuarantine),
		BaseRetryBackoff:                  time.Duration(cfg.GC.BaseRetryBackoffMs) * time.Millisecond,
	}

	engineOpts := []gc.Option{gc.WithCorruptionTracker(gc.NewMemoryCorruptionTracker())}
	if elector != nil {
		engineOpts = append(engineOpts, gc.WithElector(elector))
	}
	if sink != nil {
		engineOpts = append(engineOpts, gc.WithEventSink(sink))
	}

	return &components{
		cfg:     cfg,
		catalog: cat,
		jcat:    jcat,
		storage: store,
		elector: elector,
		sink:    sink,
		engine:  gc.New(cat, store, policy, opts, engineOpts...),
	}, nil
}

func runOnce(args []string) {
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	configPath, catalogPath, dryRun := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *catalogPath != "" {
		cfg.Catalog.Path = *catalogPath
	}
	if *dryRun {
		cfg.GC.DryRun = true
	}
	setupLogger(cfg)

	ctx := context.Background()
	comps, err := assemble(ctx, cfg)
	if err != nil {
		slog.Error("assembly failed", "error", err)
		os.Exit(1)
	}
	defer comps.close()

	if n, err := comps.engine.RecoverStuck(ctx); err != nil {
		slog.Error("recovery failed", "error", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Info("recovered stuck records", "count", n)
	}

	m, err := comps.engine.RunOnce(ctx)
	if err != nil {
		slog.Error("gc pass failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("scanned=%d tombstoned=%d deleted=%d quarantined=%d deleteFailed=%d inactiveSignals=%d\n",
		m.Scanned, m.Tombstoned, m.Deleted, m.Quarantined, m.DeleteFailed, m.InactiveLoadedSignals)
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath, catalogPath, dryRun := commonFlags(fs)
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *catalogPath != "" {
		cfg.Catalog.Path = *catalogPath
	}
	if *dryRun {
		cfg.GC.DryRun = true
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := assemble(ctx, cfg)
	if err != nil {
		slog.Error("assembly failed", "error", err)
		os.Exit(1)
	}
	defer comps.close()

	if n, err := comps.engine.RecoverStuck(ctx); err != nil {
		slog.Error("recovery failed", "error", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Info("recovered stuck records", "count", n)
	}

	gcMetrics := metrics.NewGCMetrics()
	httpServer := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	scanInterval := time.Duration(cfg.GC.ScanIntervalMs) * time.Millisecond
	if scanInterval <= 0 {
		scanInterval = 5 * time.Minute
	}
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	var checkpointCh <-chan time.Time
	if cfg.Policy.EnableCheckpointing && comps.jcat != nil {
		checkpointTicker := time.NewTicker(time.Duration(cfg.Policy.CheckpointIntervalMs) * time.Millisecond)
		defer checkpointTicker.Stop()
		checkpointCh = checkpointTicker.C
	}

	slog.Info("snapgcd started",
		"version", version,
		"catalog", cfg.Catalog.Type,
		"storage", cfg.Storage.Type,
		"scanInterval", scanInterval.String(),
		"dryRun", cfg.GC.DryRun,
	)

	runPass := func() {
		m, err := comps.engine.RunOnce(ctx)
		if err != nil {
			slog.Error("gc pass failed", "error", err)
			return
		}
		gcMetrics.Record(m)
	}
	runPass()

	for {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig.String())
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = httpServer.Shutdown(shutdownCtx)
			shutdownCancel()
			slog.Info("snapgcd shutdown complete")
			return
		case <-ticker.C:
			runPass()
		case <-checkpointCh:
			writeCheckpoint(comps.jcat, cfg)
		}
	}
}

func runCheckpoint(args []string) {
	fs := flag.NewFlagSet("checkpoint", flag.ExitOnError)
	configPath, catalogPath, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *catalogPath != "" {
		cfg.Catalog.Path = *catalogPath
	}
	setupLogger(cfg)

	if cfg.Catalog.Type != "journal" {
		fmt.Fprintln(os.Stderr, "checkpoint requires the journal catalog")
		os.Exit(1)
	}

	jcat, err := journal.Open(cfg.Catalog.Path)
	if err != nil {
		slog.Error("open catalog failed", "error", err)
		os.Exit(1)
	}
	defer jcat.Close()

	writeCheckpoint(jcat, cfg)
	if err := jcat.Compact(); err != nil {
		slog.Error("compact failed", "error", err)
		os.Exit(1)
	}
	slog.Info("journal compacted", "records", jcat.Len())
}

func writeCheckpoint(jcat *journal.Catalog, cfg *config.Config) {
	codec, err := journal.ParseCodec(cfg.Policy.CheckpointCodec)
	if err != nil {
		slog.Error("invalid checkpoint codec", "error", err)
		return
	}
	path := cfg.Policy.CheckpointPath
	if path == "" {
		path = cfg.Catalog.Path + ".chk"
	}
	if err := jcat.WriteCheckpoint(path, codec); err != nil {
		slog.Error("checkpoint failed", "error", err)
		return
	}
	slog.Info("checkpoint written", "path", path, "codec", string(codec))
}
