package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bkose/ocr-relay/pkg/api"
	"github.com/bkose/ocr-relay/pkg/config"
	"github.com/bkose/ocr-relay/pkg/logging"
	"github.com/bkose/ocr-relay/pkg/metrics"
	"github.com/bkose/ocr-relay/pkg/queue"
	"github.com/bkose/ocr-relay/pkg/ratelimit"
	"github.com/bkose/ocr-relay/pkg/retry"
	"github.com/bkose/ocr-relay/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "Config file path (default: ./ocr-relay.yaml if present)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	enableMetrics := flag.Bool("metrics", true, "Enable Prometheus metrics endpoint")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Receiver.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := logging.NewFileLogger("receiver", logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("starting ocr-relay receiver", map[string]interface{}{
		"listen_addr": cfg.Receiver.ListenAddr,
		"backend":     cfg.Backend,
	})

	store, err := queue.FromConfig(cfg)
	if err != nil {
		logger.Fatal("failed to create queue store", map[string]interface{}{"error": err.Error()})
	}

	// Probe the queue at startup. A dead queue is not fatal for the
	// receiver: submissions are refused with 503 until it comes back.
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	err = retry.Do(connectCtx, retry.Config{
		MaxRetries:     4,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
	}, func() error {
		if !store.Healthy(connectCtx) {
			return fmt.Errorf("queue backend %s not reachable", cfg.Backend)
		}
		return nil
	})
	cancelConnect()
	if err != nil {
		logger.Warn("queue not reachable at startup, submissions will be refused", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		logger.Info("queue connected", map[string]interface{}{"backend": cfg.Backend})
	}

	handler := api.NewReceiverHandler(store, logger)

	var metricsServer *http.Server
	if *enableMetrics {
		registry := prometheus.NewRegistry()
		handler.SetMetrics(metrics.NewReceiverMetrics(registry, store))
		metricsServer = metrics.Serve(cfg.Receiver.MetricsAddr, registry)
		logger.Info("metrics endpoint enabled", map[string]interface{}{
			"addr": cfg.Receiver.MetricsAddr,
		})
	}

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	limiter := ratelimit.NewLimiter(cfg.Receiver.RateLimitRPS, cfg.Receiver.RateLimitBurst)
	server := &http.Server{
		Addr:         cfg.Receiver.ListenAddr,
		Handler:      limiter.Middleware(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sm := shutdown.New(30 * time.Second)
	sm.Register(shutdown.CloseResource(store, "queue store"))
	if metricsServer != nil {
		sm.Register(shutdown.StopHTTPServer(metricsServer, "metrics"))
	}
	sm.Register(shutdown.StopHTTPServer(server, "api"))

	go func() {
		logger.Info("listening", map[string]interface{}{"addr": cfg.Receiver.ListenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	sm.Wait()
	logger.Info("shutting down")
	sm.Shutdown()
	logger.Info("receiver stopped")
}
