package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"signalflow/config"
	"signalflow/consumer"
	"signalflow/internal/alert"
	"signalflow/internal/bus"
	"signalflow/internal/dashboard"
	"signalflow/internal/endpoint"
	"signalflow/internal/feedhealth"
	"signalflow/internal/watchdog"
	"signalflow/logger"
	"signalflow/models"
	"signalflow/reader/fallback"
	"signalflow/reader/firehose"
	"signalflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	endpointsPath := flag.String("endpoints", "", "Path to endpoint pool file (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Signalflow.Name,
		"version": cfg.Signalflow.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting signalflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
		logger.CreateDefaultDashboard(ctx)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	poolsFile := cfg.Endpoints.File
	if *endpointsPath != "" {
		poolsFile = *endpointsPath
	}
	pools, err := config.LoadEndpointPools(poolsFile)
	if err != nil {
		log.WithError(err).Error("failed to load endpoint pools")
		os.Exit(1)
	}
	network := pools.Network(cfg.Endpoints.Network)
	if len(network.RPC) == 0 && len(network.Websocket) == 0 {
		env := config.AppEnvironment()
		entry := log.WithFields(logger.Fields{"network": cfg.Endpoints.Network, "env": env})
		if config.IsProductionLike(env) {
			entry.Error("endpoint pool has no endpoints")
			os.Exit(1)
		}
		entry.Warn("endpoint pool has no endpoints; continuing, every dial will fail until one is added")
	}

	rpcPool := endpoint.NewPool(cfg.Endpoints.FailureThreshold, cfg.Endpoints.CooldownPeriod, cfg.Endpoints.RotateMin, cfg.Endpoints.RotateMax)
	rpcPool.Load(network.RPC)
	wsPool := endpoint.NewPool(cfg.Endpoints.FailureThreshold, cfg.Endpoints.CooldownPeriod, cfg.Endpoints.RotateMin, cfg.Endpoints.RotateMax)
	wsPool.Load(network.Websocket)

	notifier := alert.NewLogNotifier()
	b := bus.New(cfg.Bus.HistorySize, cfg.Bus.QueueSize)
	health := feedhealth.NewMonitor(cfg.Health.StallThreshold, cfg.Health.WindowSeconds, cfg.Health.MaxLatencySamples)

	var wg sync.WaitGroup

	for _, p := range []*endpoint.Pool{rpcPool, wsPool} {
		pool := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.RotationLoop(ctx)
		}()
		wg.Add(1)
		mon := endpoint.NewMonitor(pool, notifier, cfg.Endpoints.MonitorInterval, cfg.Endpoints.AlertCooldown)
		go func() {
			defer wg.Done()
			mon.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		health.Run(ctx, cfg.Health.PollInterval, func(snap feedhealth.Snapshot) {
			log.LogMetric("feed_health", "packets_per_second", snap.PacketsPerSecond, "gauge", logger.Fields{
				"stalled":       snap.Stalled,
				"stall_seconds": snap.StallSeconds,
				"latency_p95":   snap.DecodeLatencyP95.Milliseconds(),
			})
		})
	}()

	var listener *firehose.Listener
	if cfg.Firehose.Enabled {
		listener = firehose.NewListener(cfg.Firehose, b, wsPool, health)
		if err := listener.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start firehose listener")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Warn("firehose disabled; relying on backup ingestion")
	}

	starter := func(taskCtx context.Context) (watchdog.Task, error) {
		return fallback.Start(taskCtx, cfg.Fallback, b, rpcPool, health)
	}
	dog := watchdog.New(health.Snapshot, starter, notifier, rpcPool,
		cfg.Watchdog.Interval, cfg.Watchdog.BootGrace, cfg.Watchdog.SettleDelay)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dog.Run(ctx)
	}()

	status := dashboard.NewServer(cfg.Dashboard, b, health, rpcPool, wsPool, dog)
	if status != nil {
		if err := status.Start(); err != nil {
			log.WithError(err).Error("failed to start status server")
			os.Exit(1)
		}
	}

	registry := consumer.NewRegistry()
	registry.Register(models.IntentKindToken, consumer.NewRPCExecutor("token_router", "place_token_order", rpcPool, cfg.Fallback.RequestTimeout))
	registry.Register(models.IntentKindNFT, consumer.NewRPCExecutor("nft_router", "place_nft_order", rpcPool, cfg.Fallback.RequestTimeout))
	if err := registry.Validate(models.IntentKindToken, models.IntentKindNFT); err != nil {
		log.WithError(err).Error("executor registry incomplete")
		os.Exit(1)
	}

	provider := consumer.NewBusContextProvider(b, cfg.Bus.HistorySize)
	cons, err := consumer.NewConsumer(cfg.Consumer, provider, registry)
	if err != nil {
		log.WithError(err).Error("failed to create intent consumer")
		os.Exit(1)
	}
	defer cons.Close()

	var archiver *writer.OutcomeArchiver
	if cfg.Archive.Enabled {
		archiver, err = writer.NewOutcomeArchiver(cfg.Archive)
		if err != nil {
			log.WithError(err).Error("failed to create outcome archiver")
			os.Exit(1)
		}
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start outcome archiver")
			os.Exit(1)
		}
		cons.SetArchiver(archiver)
	} else {
		log.WithComponent("main").Info("outcome archiving disabled")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cons.Run(ctx); err != nil {
			log.WithError(err).Error("intent consumer stopped with error")
			cancel()
		}
	}()

	log.WithComponent("main").WithFields(logger.Fields{
		"rpc_endpoints": len(network.RPC),
		"ws_endpoints":  len(network.Websocket),
		"execute":       cfg.Consumer.ExecuteEnabled,
	}).Info("signalflow running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	if listener != nil {
		listener.Stop()
	}
	if status != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		status.Stop(shutdownCtx)
		shutdownCancel()
	}
	wg.Wait()
	if archiver != nil {
		archiver.Stop()
	}
	log.WithComponent("main").Info("signalflow stopped")
}
