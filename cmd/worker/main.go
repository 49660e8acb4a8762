package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bkose/ocr-relay/pkg/config"
	"github.com/bkose/ocr-relay/pkg/logging"
	"github.com/bkose/ocr-relay/pkg/metrics"
	"github.com/bkose/ocr-relay/pkg/ocr"
	"github.com/bkose/ocr-relay/pkg/queue"
	"github.com/bkose/ocr-relay/pkg/retry"
	"github.com/bkose/ocr-relay/pkg/shutdown"
	"github.com/bkose/ocr-relay/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "Config file path (default: ./ocr-relay.yaml if present)")
	concurrency := flag.Int("concurrency", 0, "Number of worker loops (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	enableMetrics := flag.Bool("metrics", true, "Enable Prometheus metrics endpoint")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := logging.NewFileLogger("worker", logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("starting ocr-relay worker", map[string]interface{}{
		"backend":     cfg.Backend,
		"concurrency": cfg.Worker.Concurrency,
		"ocr_engine":  cfg.OCR.Endpoint,
	})

	store, err := queue.FromConfig(cfg)
	if err != nil {
		logger.Fatal("failed to create queue store", map[string]interface{}{"error": err.Error()})
	}

	// The worker is useless without a queue, so startup blocks until the
	// backend answers.
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 2*time.Minute)
	err = retry.Do(connectCtx, retry.DefaultConfig(), func() error {
		if !store.Healthy(connectCtx) {
			return fmt.Errorf("queue backend %s not reachable", cfg.Backend)
		}
		return nil
	})
	cancelConnect()
	if err != nil {
		logger.Fatal("queue not reachable", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("queue connected", map[string]interface{}{"backend": cfg.Backend})

	recognizer := ocr.NewClient(cfg.OCR.Endpoint, cfg.OCR.Timeout)
	recognizer.SetMinConfidence(cfg.OCR.MinConfidence)

	var workerMetrics *metrics.WorkerMetrics
	sm := shutdown.New(30 * time.Second)
	sm.Register(shutdown.CloseResource(store, "queue store"))

	if *enableMetrics {
		registry := prometheus.NewRegistry()
		workerMetrics = metrics.NewWorkerMetrics(registry, store)
		metricsServer := metrics.Serve(cfg.Worker.MetricsAddr, registry)
		sm.Register(shutdown.StopHTTPServer(metricsServer, "metrics"))
		logger.Info("metrics endpoint enabled", map[string]interface{}{
			"addr": cfg.Worker.MetricsAddr,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		w := worker.New(worker.Options{
			Store:          store,
			Recognizer:     recognizer,
			Logger:         logger.WithField("loop", i),
			Metrics:        workerMetrics,
			PollInterval:   cfg.Worker.PollInterval,
			MaxRetries:     cfg.Worker.MaxRetries,
			RequestTimeout: cfg.Worker.RequestTimeout,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	sm.Register(func(shutdownCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-shutdownCtx.Done():
			return fmt.Errorf("worker loops did not stop in time")
		}
	})

	sm.Wait()
	logger.Info("shutting down")
	sm.Shutdown()
	logger.Info("worker stopped")
}
