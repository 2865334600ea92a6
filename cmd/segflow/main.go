package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"segflow/config"
	"segflow/internal/cluster"
	"segflow/internal/features"
	"segflow/internal/identity"
	inputredis "segflow/internal/input/redis"
	"segflow/internal/labeling"
	"segflow/internal/logger"
	"segflow/internal/metrics"
	"segflow/internal/output/clusterjson"
	"segflow/internal/output/natspub"
	"segflow/internal/output/policyjson"
	"segflow/internal/overrides"
	"segflow/internal/pipeline"
	"segflow/internal/sketch"
	"segflow/internal/syncstate"
	"segflow/internal/tags"
	"segflow/internal/transform/flowjson"
	"segflow/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("segflow.yml"); err == nil {
		return "segflow.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "segflow.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "segflow.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Segflow.SourceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "segflow-node"
		}
		cfg.Segflow.SourceID = host
	}

	if cfg.Segflow.Input.Redis.Addr == "" {
		cfg.Segflow.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Segflow.Input.Redis.Queue == "" {
		cfg.Segflow.Input.Redis.Queue = "flow_records"
	}
	if cfg.Segflow.Input.Redis.BlockTimeout == 0 {
		cfg.Segflow.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.Segflow.Pipeline.Workers <= 0 {
		cfg.Segflow.Pipeline.Workers = 8
	}
	if cfg.Segflow.Pipeline.WindowCapacity <= 0 {
		cfg.Segflow.Pipeline.WindowCapacity = 100000
	}

	if cfg.Segflow.Sketch.PeerPrecision == 0 {
		def := sketch.DefaultConfig()
		cfg.Segflow.Sketch.PeerPrecision = def.PeerPrecision
		cfg.Segflow.Sketch.ServicePrecision = def.ServicePrecision
		cfg.Segflow.Sketch.PortPrecision = def.PortPrecision
		cfg.Segflow.Sketch.CMSWidth = def.CMSWidth
		cfg.Segflow.Sketch.CMSDepth = def.CMSDepth
	}

	if cfg.Segflow.Features.PeerSaturation <= 0 {
		def := features.DefaultConfig()
		cfg.Segflow.Features.PeerSaturation = def.PeerSaturation
		cfg.Segflow.Features.ServiceSaturation = def.ServiceSaturation
		cfg.Segflow.Features.PortSaturation = def.PortSaturation
	}

	if cfg.Segflow.Clustering.Interval <= 0 {
		cfg.Segflow.Clustering.Interval = 15 * time.Minute
	}
	if cfg.Segflow.Clustering.AssignInterval <= 0 {
		cfg.Segflow.Clustering.AssignInterval = cfg.Segflow.Clustering.Interval / 5
	}
	if cfg.Segflow.Clustering.Eps <= 0 {
		cfg.Segflow.Clustering.Eps = cluster.DefaultConfig().Eps
	}
	if cfg.Segflow.Clustering.MinSamples <= 0 {
		cfg.Segflow.Clustering.MinSamples = cluster.DefaultConfig().MinSamples
	}
	if cfg.Segflow.Clustering.MinClusterSize <= 0 {
		cfg.Segflow.Clustering.MinClusterSize = cluster.DefaultConfig().MinClusterSize
	}
	if cfg.Segflow.Clustering.ContinuityMaxDist <= 0 {
		cfg.Segflow.Clustering.ContinuityMaxDist = 0.5
	}
	if cfg.Segflow.Clustering.ClosenessGap <= 0 {
		cfg.Segflow.Clustering.ClosenessGap = cluster.DefaultAssignConfig().ClosenessGap
	}
	if cfg.Segflow.Clustering.LowConfidence <= 0 {
		cfg.Segflow.Clustering.LowConfidence = cluster.DefaultAssignConfig().LowConfidence
	}

	if cfg.Segflow.Labeling.MajorityThreshold <= 0 {
		cfg.Segflow.Labeling.MajorityThreshold = 0.7
	}

	if cfg.Segflow.Tags.Identity.End == 0 && cfg.Segflow.Tags.Device.End == 0 && cfg.Segflow.Tags.Behavior.End == 0 {
		def := tags.DefaultConfig()
		cfg.Segflow.Tags.Identity = config.TagRange{Start: def.Identity.Start, End: def.Identity.End}
		cfg.Segflow.Tags.Device = config.TagRange{Start: def.Device.Start, End: def.Device.End}
		cfg.Segflow.Tags.Behavior = config.TagRange{Start: def.Behavior.Start, End: def.Behavior.End}
	}

	if cfg.Segflow.Policy.MinRuleConfidence <= 0 {
		cfg.Segflow.Policy.MinRuleConfidence = 0.1
	}

	if cfg.Segflow.Identity.CacheSize <= 0 {
		cfg.Segflow.Identity.CacheSize = 4096
	}

	if cfg.Segflow.Output.Mode == "" {
		cfg.Segflow.Output.Mode = "file"
	}
	if cfg.Segflow.Output.File.ClustersPath == "" {
		cfg.Segflow.Output.File.ClustersPath = "output/clusters.jsonl"
	}
	if cfg.Segflow.Output.File.PolicyPath == "" {
		cfg.Segflow.Output.File.PolicyPath = "output/policy.jsonl"
	}

	if cfg.Segflow.Metrics.Addr == "" {
		cfg.Segflow.Metrics.Addr = ":9143"
	}
	if cfg.Segflow.Logging.Level == "" {
		cfg.Segflow.Logging.Level = "info"
	}
}

func buildAnalyzer(cfg *config.Config, registry *sketch.Registry, window *pipeline.FlowWindow) (*pipeline.Analyzer, error) {
	engine := cluster.NewEngine(
		cluster.Config{
			Eps:            cfg.Segflow.Clustering.Eps,
			MinSamples:     cfg.Segflow.Clustering.MinSamples,
			MinClusterSize: cfg.Segflow.Clustering.MinClusterSize,
		},
		cluster.AssignConfig{
			ClosenessGap:  cfg.Segflow.Clustering.ClosenessGap,
			LowConfidence: cfg.Segflow.Clustering.LowConfidence,
		},
		cfg.Segflow.Clustering.ContinuityMaxDist,
	)

	var provider identity.Provider = identity.NoopProvider{}
	if cfg.Segflow.Identity.Enabled && cfg.Segflow.Identity.File != "" {
		fileProvider, err := identity.NewFileProvider(cfg.Segflow.Identity.File)
		if err != nil {
			return nil, fmt.Errorf("identity provider: %w", err)
		}
		cached, err := identity.NewCachedProvider(fileProvider, cfg.Segflow.Identity.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("identity cache: %w", err)
		}
		provider = cached
		logger.Infof("Identity directory loaded: %s (%d endpoints)", cfg.Segflow.Identity.File, fileProvider.Len())
	}

	var store *overrides.Store
	if cfg.Segflow.Overrides.File != "" {
		s, err := overrides.Load(cfg.Segflow.Overrides.File)
		if err != nil {
			return nil, fmt.Errorf("overrides store: %w", err)
		}
		store = s
		logger.Infof("Manual overrides loaded: %s", cfg.Segflow.Overrides.File)
	}

	mapper := tags.NewMapper(tags.Config{
		Identity: tags.Range{Start: cfg.Segflow.Tags.Identity.Start, End: cfg.Segflow.Tags.Identity.End},
		Device:   tags.Range{Start: cfg.Segflow.Tags.Device.Start, End: cfg.Segflow.Tags.Device.End},
		Behavior: tags.Range{Start: cfg.Segflow.Tags.Behavior.Start, End: cfg.Segflow.Tags.Behavior.End},
	})

	analyzer := pipeline.NewAnalyzer(
		pipeline.AnalyzerConfig{
			Interval:          cfg.Segflow.Clustering.Interval,
			AssignInterval:    cfg.Segflow.Clustering.AssignInterval,
			MinRuleConfidence: cfg.Segflow.Policy.MinRuleConfidence,
			Features: features.Config{
				PeerSaturation:    cfg.Segflow.Features.PeerSaturation,
				ServiceSaturation: cfg.Segflow.Features.ServiceSaturation,
				PortSaturation:    cfg.Segflow.Features.PortSaturation,
			},
		},
		registry,
		engine,
		provider,
		labeling.NewLabeler(cfg.Segflow.Labeling.MajorityThreshold),
		mapper,
		store,
		window,
	)
	return analyzer, nil
}

func attachWriters(cfg *config.Config, analyzer *pipeline.Analyzer) error {
	mode := cfg.Segflow.Output.Mode
	if mode == "file" || mode == "both" {
		cw, err := clusterjson.NewWriter(cfg.Segflow.Output.File.ClustersPath)
		if err != nil {
			return fmt.Errorf("cluster file writer: %w", err)
		}
		pw, err := policyjson.NewWriter(cfg.Segflow.Output.File.PolicyPath)
		if err != nil {
			return fmt.Errorf("policy file writer: %w", err)
		}
		analyzer.AddClusterWriter(cw)
		analyzer.AddPolicyWriter(pw)
		logger.Infof("Output mode: file (%s, %s)", cfg.Segflow.Output.File.ClustersPath, cfg.Segflow.Output.File.PolicyPath)
	}
	if mode == "nats" || mode == "both" {
		nw, err := natspub.NewWriter(natspub.Config{
			URL:            cfg.Segflow.Output.NATS.URL,
			ClusterSubject: cfg.Segflow.Output.NATS.ClusterSubject,
			PolicySubject:  cfg.Segflow.Output.NATS.PolicySubject,
		})
		if err != nil {
			return fmt.Errorf("nats writer: %w", err)
		}
		analyzer.AddClusterWriter(natsClusterWriter{nw})
		analyzer.AddPolicyWriter(natsPolicyWriter{nw})
		logger.Infof("Output mode: nats (%s)", cfg.Segflow.Output.NATS.URL)
	}
	if mode != "file" && mode != "nats" && mode != "both" {
		return fmt.Errorf("unknown output mode: %s", mode)
	}
	return nil
}

func runProducer(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.Segflow.Logging.Enabled, cfg.Segflow.Logging.Level, cfg.Segflow.Logging.File, cfg.Segflow.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("Segflow starting")
	logger.Infof("Config loaded from: %s", configPath)

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.Segflow.Input.Redis.Addr,
		Password:     cfg.Segflow.Input.Redis.Password,
		DB:           cfg.Segflow.Input.Redis.DB,
		Queue:        cfg.Segflow.Input.Redis.Queue,
		BlockTimeout: cfg.Segflow.Input.Redis.BlockTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	registry := sketch.NewRegistry(sketch.Config{
		PeerPrecision:    cfg.Segflow.Sketch.PeerPrecision,
		ServicePrecision: cfg.Segflow.Sketch.ServicePrecision,
		PortPrecision:    cfg.Segflow.Sketch.PortPrecision,
		CMSWidth:         cfg.Segflow.Sketch.CMSWidth,
		CMSDepth:         cfg.Segflow.Sketch.CMSDepth,
	})
	window := pipeline.NewFlowWindow(cfg.Segflow.Pipeline.WindowCapacity)

	analyzer, err := buildAnalyzer(cfg, registry, window)
	if err != nil {
		log.Fatalf("Failed to build analyzer: %v", err)
	}
	if err := attachWriters(cfg, analyzer); err != nil {
		log.Fatalf("Failed to attach writers: %v", err)
	}

	var met *metrics.Metrics
	if cfg.Segflow.Metrics.Enabled {
		met = metrics.New()
		analyzer.SetMetrics(met)
	}

	if cfg.Segflow.Sync.Enabled {
		syncStore, err := syncstate.NewStore(syncstate.Config{
			Addr:      cfg.Segflow.Sync.Addr,
			Password:  cfg.Segflow.Sync.Password,
			DB:        cfg.Segflow.Sync.DB,
			KeyPrefix: cfg.Segflow.Sync.KeyPrefix,
			TTL:       cfg.Segflow.Sync.TTL,
		}, cfg.Segflow.SourceID)
		if err != nil {
			log.Fatalf("Failed to create sync store: %v", err)
		}
		defer syncStore.Close()
		analyzer.SetSyncStore(syncStore)
		logger.Infof("Sketch sync enabled: %s", cfg.Segflow.Sync.Addr)
	}

	pipe := pipeline.NewFlowPipeline(consumer, registry, window, met, cfg.Segflow.Pipeline.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()
	go func() {
		if err := analyzer.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Analyzer error: %v", err)
		}
	}()
	if cfg.Segflow.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Segflow.Metrics.Addr); err != nil {
				logger.Errorf("Metrics endpoint error: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("Segflow stopped")
}

func runAnalyzer(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	input := fs.String("input", "output/flows.jsonl", "Flow JSONL input path")
	configFlag := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(findConfigFile(*configFlag))
	if err != nil {
		// Offline analysis works from defaults alone.
		cfg = &config.Config{}
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.Segflow.Logging.Enabled, cfg.Segflow.Logging.Level, cfg.Segflow.Logging.File, cfg.Segflow.Logging.Console); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	registry := sketch.NewRegistry(sketch.Config{
		PeerPrecision:    cfg.Segflow.Sketch.PeerPrecision,
		ServicePrecision: cfg.Segflow.Sketch.ServicePrecision,
		PortPrecision:    cfg.Segflow.Sketch.PortPrecision,
		CMSWidth:         cfg.Segflow.Sketch.CMSWidth,
		CMSDepth:         cfg.Segflow.Sketch.CMSDepth,
	})
	window := pipeline.NewFlowWindow(cfg.Segflow.Pipeline.WindowCapacity)

	loaded, rejected, err := loadFlowsJSONL(*input, registry, window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load flows: %v\n", err)
		return 1
	}

	analyzer, err := buildAnalyzer(cfg, registry, window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build analyzer: %v\n", err)
		return 1
	}
	if err := attachWriters(cfg, analyzer); err != nil {
		fmt.Fprintf(os.Stderr, "failed to attach writers: %v\n", err)
		return 1
	}

	clusterSnap, policySnap, err := analyzer.RunOnce(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		return 1
	}

	fmt.Printf("analyzed flows=%d rejected=%d clusters=%d assignments=%d cells=%d\n",
		loaded, rejected, len(clusterSnap.Clusters), len(clusterSnap.Assignments), len(policySnap.Cells))
	return 0
}

func loadFlowsJSONL(path string, registry *sketch.Registry, window *pipeline.FlowWindow) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open flow input: %w", err)
	}
	defer f.Close()

	loaded, rejected := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		flow, err := flowjson.Parse(line)
		if err != nil {
			rejected++
			continue
		}
		if err := registry.Apply(flow); err != nil {
			rejected++
			continue
		}
		window.Append(flow)
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, rejected, fmt.Errorf("read flow input: %w", err)
	}
	return loaded, rejected, nil
}

type natsClusterWriter struct{ w *natspub.Writer }

func (n natsClusterWriter) WriteSnapshot(s *models.ClusterSnapshot) error {
	return n.w.WriteClusterSnapshot(s)
}
func (n natsClusterWriter) Close() error { return n.w.Close() }

type natsPolicyWriter struct{ w *natspub.Writer }

func (n natsPolicyWriter) WriteSnapshot(s *models.PolicySnapshot) error {
	return n.w.WritePolicySnapshot(s)
}
func (n natsPolicyWriter) Close() error { return nil }

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "produce":
			runProducer(os.Args[2:])
			return
		case "analyze":
			os.Exit(runAnalyzer(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runProducer(os.Args[1:])
			return
		}
	}

	runProducer(nil)
}
