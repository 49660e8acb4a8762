// Package metrics exposes Prometheus instrumentation for the receiver and
// worker daemons. Each daemon serves its own registry on a side port.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bkose/ocr-relay/pkg/queue"
)

// ReceiverMetrics instruments the admission/query HTTP service.
type ReceiverMetrics struct {
	JobsEnqueued       prometheus.Counter
	ValidationFailures prometheus.Counter
	QueueUnavailable   prometheus.Counter
	ResultQueries      *prometheus.CounterVec
}

// NewReceiverMetrics registers receiver collectors, including a queue depth
// gauge read live from the store.
func NewReceiverMetrics(reg *prometheus.Registry, store queue.Store) *ReceiverMetrics {
	m := &ReceiverMetrics{
		JobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_relay_jobs_enqueued_total",
			Help: "Jobs accepted and pushed to the queue",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_relay_validation_failures_total",
			Help: "Submissions rejected at admission",
		}),
		QueueUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_relay_queue_unavailable_total",
			Help: "Submissions refused because the queue store was unreachable",
		}),
		ResultQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocr_relay_result_queries_total",
			Help: "Result queries by reported status",
		}, []string{"status"}),
	}
	reg.MustRegister(m.JobsEnqueued, m.ValidationFailures, m.QueueUnavailable, m.ResultQueries)
	reg.MustRegister(queueDepthGauge(store))
	return m
}

// WorkerMetrics instruments the worker loop.
type WorkerMetrics struct {
	JobsProcessed      *prometheus.CounterVec
	JobsRetried        prometheus.Counter
	CallbackDeliveries *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
}

// NewWorkerMetrics registers worker collectors plus host CPU/memory gauges.
func NewWorkerMetrics(reg *prometheus.Registry, store queue.Store) *WorkerMetrics {
	m := &WorkerMetrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocr_relay_jobs_processed_total",
			Help: "Processing attempts by outcome",
		}, []string{"status"}),
		JobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_relay_jobs_retried_total",
			Help: "Failed jobs pushed back for another attempt",
		}),
		CallbackDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocr_relay_callback_deliveries_total",
			Help: "Webhook callback attempts by outcome",
		}, []string{"outcome"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocr_relay_processing_duration_seconds",
			Help:    "Wall time of one processing attempt",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	reg.MustRegister(m.JobsProcessed, m.JobsRetried, m.CallbackDeliveries, m.ProcessingDuration)
	reg.MustRegister(queueDepthGauge(store))
	registerHostGauges(reg)
	return m
}

func queueDepthGauge(store queue.Store) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ocr_relay_queue_depth",
		Help: "Pending jobs in the queue",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		size, err := store.Size(ctx)
		if err != nil {
			return -1
		}
		return float64(size)
	})
}

func registerHostGauges(reg *prometheus.Registry) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ocr_relay_worker_cpu_percent",
		Help: "Host CPU utilization",
	}, func() float64 {
		percentages, err := cpu.Percent(0, false)
		if err != nil || len(percentages) == 0 {
			return 0
		}
		return percentages[0]
	}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ocr_relay_worker_memory_used_percent",
		Help: "Host memory utilization",
	}, func() float64 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return 0
		}
		return vm.UsedPercent
	}))
}

// Serve starts a metrics HTTP server on addr. The caller shuts it down via
// the returned server.
func Serve(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server on %s failed: %v", addr, err)
		}
	}()
	return srv
}
