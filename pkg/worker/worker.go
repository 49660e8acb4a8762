// Package worker implements the job processing loop: it pops jobs from the
// queue, fetches the image, runs OCR, extracts a contract number, stores the
// result and fires the optional callback.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/bkose/ocr-relay/pkg/extract"
	"github.com/bkose/ocr-relay/pkg/logging"
	"github.com/bkose/ocr-relay/pkg/metrics"
	"github.com/bkose/ocr-relay/pkg/models"
	"github.com/bkose/ocr-relay/pkg/ocr"
	"github.com/bkose/ocr-relay/pkg/queue"
)

const (
	// DefaultPollInterval bounds each blocking pop.
	DefaultPollInterval = 1 * time.Second
	// DefaultMaxRetries is how many times a failed job is requeued before
	// its error result becomes terminal.
	DefaultMaxRetries = 3
	// DefaultRequestTimeout bounds image downloads and callback posts.
	DefaultRequestTimeout = 30 * time.Second

	// maxOCRTextLen caps the stored recognized text.
	maxOCRTextLen = 500
	// maxImageBytes caps a single image download.
	maxImageBytes = 32 << 20
)

// Options configures a Worker. Store and Recognizer are required.
type Options struct {
	Store          queue.Store
	Recognizer     ocr.Recognizer
	Logger         *logging.Logger
	Metrics        *metrics.WorkerMetrics
	PollInterval   time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Worker consumes jobs from the queue until its context is cancelled.
type Worker struct {
	store          queue.Store
	recognizer     ocr.Recognizer
	logger         *logging.Logger
	metrics        *metrics.WorkerMetrics
	pollInterval   time.Duration
	maxRetries     int
	requestTimeout time.Duration
	httpClient     *http.Client
}

// New builds a Worker, filling unset options with defaults.
func New(opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(logging.INFO, false)
	}
	return &Worker{
		store:          opts.Store,
		recognizer:     opts.Recognizer,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		pollInterval:   opts.PollInterval,
		maxRetries:     opts.MaxRetries,
		requestTimeout: opts.RequestTimeout,
		httpClient:     opts.HTTPClient,
	}
}

// Run polls the queue until ctx is cancelled. Queue errors are logged and the
// loop keeps going after a short pause.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker loop started", map[string]interface{}{
		"poll_interval": w.pollInterval.String(),
		"max_retries":   w.maxRetries,
	})
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker loop stopped")
			return
		default:
		}

		job, err := w.store.Pop(ctx, w.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker loop stopped")
				return
			}
			w.logger.Error("queue pop failed", map[string]interface{}{"error": err.Error()})
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if job == nil {
			continue
		}
		w.Process(ctx, job)
	}
}

// Process runs one attempt for job: fetch, recognize, extract, store, notify,
// and requeue on failure while retries remain. The stored result is returned.
func (w *Worker) Process(ctx context.Context, job *models.Job) *models.Result {
	started := time.Now()
	w.logger.Info("processing job", map[string]interface{}{
		"task_id":     job.TaskID,
		"image_url":   job.ImageURL,
		"retry_count": job.RetryCount,
	})

	result := w.attempt(ctx, job)
	elapsed := time.Since(started).Seconds()
	result.ProcessingTime = math.Round(elapsed*100) / 100
	result.ProcessedAt = time.Now().UTC().Format(time.RFC3339)

	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(string(result.Status)).Inc()
		w.metrics.ProcessingDuration.Observe(elapsed)
	}

	// The result is stored even for attempts that will be retried so that
	// pollers always see the latest state.
	if err := w.store.PutResult(ctx, result.TaskID, result); err != nil {
		w.logger.Error("failed to store result", map[string]interface{}{
			"task_id": job.TaskID,
			"error":   err.Error(),
		})
	}

	if job.CallbackURL != "" {
		w.deliverCallback(ctx, job.CallbackURL, result)
	}

	if result.Status == models.JobStatusError {
		w.maybeRequeue(ctx, job)
	}
	return result
}

func (w *Worker) attempt(ctx context.Context, job *models.Job) *models.Result {
	result := &models.Result{
		TaskID:    job.TaskID,
		UserID:    job.UserID,
		Timestamp: job.Timestamp,
		ImageURL:  job.ImageURL,
	}

	image, err := w.fetchImage(ctx, job.ImageURL)
	if err != nil {
		result.Status = models.JobStatusError
		result.Error = fmt.Sprintf("image download failed: %v", err)
		return result
	}

	recognizeCtx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	defer cancel()
	fragments, err := w.recognizer.Recognize(recognizeCtx, image)
	if err != nil {
		result.Status = models.JobStatusError
		result.Error = fmt.Sprintf("ocr failed: %v", err)
		return result
	}

	number, confidence := extract.ContractNumber(fragments)
	result.Status = models.JobStatusCompleted
	result.PhoneNumber = number
	result.Confidence = confidence
	result.OCRText = joinFragments(fragments)

	w.logger.Info("job completed", map[string]interface{}{
		"task_id":      job.TaskID,
		"phone_number": number,
		"confidence":   confidence,
	})
	return result
}

func (w *Worker) fetchImage(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	return data, nil
}

// deliverCallback posts the result to the job's callback URL. Delivery is best
// effort: a failure is logged and never affects the stored result.
func (w *Worker) deliverCallback(ctx context.Context, url string, result *models.Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("failed to encode callback payload", map[string]interface{}{
			"task_id": result.TaskID,
			"error":   err.Error(),
		})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		w.logger.Error("failed to build callback request", map[string]interface{}{
			"task_id": result.TaskID,
			"error":   err.Error(),
		})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.countCallback("error")
		w.logger.Warn("callback delivery failed", map[string]interface{}{
			"task_id":      result.TaskID,
			"callback_url": url,
			"error":        err.Error(),
		})
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.countCallback("delivered")
		w.logger.Info("callback delivered", map[string]interface{}{
			"task_id": result.TaskID,
			"status":  resp.StatusCode,
		})
		return
	}
	w.countCallback("rejected")
	w.logger.Warn("callback rejected", map[string]interface{}{
		"task_id": result.TaskID,
		"status":  resp.StatusCode,
	})
}

func (w *Worker) maybeRequeue(ctx context.Context, job *models.Job) {
	if job.RetryCount >= w.maxRetries {
		w.logger.Error("job failed permanently", map[string]interface{}{
			"task_id":     job.TaskID,
			"retry_count": job.RetryCount,
		})
		return
	}

	requeued := *job
	requeued.RetryCount = job.RetryCount + 1
	if err := w.store.Push(ctx, &requeued); err != nil {
		w.logger.Error("failed to requeue job", map[string]interface{}{
			"task_id": job.TaskID,
			"error":   err.Error(),
		})
		return
	}
	if w.metrics != nil {
		w.metrics.JobsRetried.Inc()
	}
	w.logger.Warn("job requeued", map[string]interface{}{
		"task_id":     job.TaskID,
		"retry_count": requeued.RetryCount,
	})
}

func (w *Worker) countCallback(outcome string) {
	if w.metrics != nil {
		w.metrics.CallbackDeliveries.WithLabelValues(outcome).Inc()
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func joinFragments(fragments []ocr.Fragment) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		parts = append(parts, f.Text)
	}
	text := strings.Join(parts, " ")
	runes := []rune(text)
	if len(runes) > maxOCRTextLen {
		return string(runes[:maxOCRTextLen])
	}
	return text
}
