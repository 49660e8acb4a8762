package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bkose/ocr-relay/pkg/models"
	"github.com/bkose/ocr-relay/pkg/ocr"
	"github.com/bkose/ocr-relay/pkg/queue"
)

type fakeRecognizer struct {
	fragments []ocr.Fragment
	err       error
	calls     int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte) ([]ocr.Fragment, error) {
	f.calls++
	return f.fragments, f.err
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-image-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWorker(store queue.Store, rec ocr.Recognizer) *Worker {
	return New(Options{
		Store:          store,
		Recognizer:     rec,
		PollInterval:   20 * time.Millisecond,
		MaxRetries:     3,
		RequestTimeout: 2 * time.Second,
	})
}

func TestProcessCompletedJob(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(time.Hour)
	defer store.Close()
	images := imageServer(t)

	rec := &fakeRecognizer{fragments: []ocr.Fragment{
		{Text: "Sözleşme No", Confidence: 0.91},
		{Text: "5356314848", Confidence: 0.88},
	}}
	w := newTestWorker(store, rec)

	job := &models.Job{
		TaskID:   "task-1",
		ImageURL: images.URL + "/receipt.jpg",
		UserID:   "u1",
	}
	result := w.Process(ctx, job)

	if result.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", result.Status, result.Error)
	}
	if result.PhoneNumber != "5356314848" {
		t.Errorf("expected phone number 5356314848, got %q", result.PhoneNumber)
	}
	if result.Confidence != 0.88 {
		t.Errorf("expected confidence 0.88, got %v", result.Confidence)
	}
	if !strings.Contains(result.OCRText, "Sözleşme") {
		t.Errorf("expected recognized text in result, got %q", result.OCRText)
	}

	stored, err := store.GetResult(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if stored == nil || stored.Status != models.JobStatusCompleted {
		t.Fatalf("expected stored completed result, got %+v", stored)
	}

	if size, _ := store.Size(ctx); size != 0 {
		t.Errorf("completed job must not be requeued, queue size %d", size)
	}
}

func TestProcessTruncatesLongText(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(time.Hour)
	defer store.Close()
	images := imageServer(t)

	rec := &fakeRecognizer{fragments: []ocr.Fragment{
		{Text: strings.Repeat("ç", 600), Confidence: 0.9},
	}}
	w := newTestWorker(store, rec)

	result := w.Process(ctx, &models.Job{TaskID: "task-long", ImageURL: images.URL})
	if got := len([]rune(result.OCRText)); got != 500 {
		t.Errorf("expected text truncated to 500 runes, got %d", got)
	}
}

func TestProcessFailureRequeuesWithIncrement(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(time.Hour)
	defer store.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	w := newTestWorker(store, &fakeRecognizer{})
	job := &models.Job{TaskID: "task-fail", ImageURL: srv.URL, RetryCount: 1}
	result := w.Process(ctx, job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if result.Error == "" {
		t.Error("expected error message on failed result")
	}

	requeued, err := store.Pop(ctx, 0)
	if err != nil || requeued == nil {
		t.Fatalf("expected requeued job, got %v err=%v", requeued, err)
	}
	if requeued.RetryCount != 2 {
		t.Errorf("expected retry count incremented to 2, got %d", requeued.RetryCount)
	}
	if requeued.TaskID != "task-fail" {
		t.Errorf("requeued job has wrong task id %q", requeued.TaskID)
	}
}

func TestProcessExhaustedRetriesNotRequeued(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(time.Hour)
	defer store.Close()
	images := imageServer(t)

	rec := &fakeRecognizer{err: context.DeadlineExceeded}
	w := newTestWorker(store, rec)

	job := &models.Job{TaskID: "task-done", ImageURL: images.URL, RetryCount: 3}
	result := w.Process(ctx, job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if size, _ := store.Size(ctx); size != 0 {
		t.Errorf("exhausted job must not be requeued, queue size %d", size)
	}
	// The terminal error result stays visible to pollers.
	stored, _ := store.GetResult(ctx, "task-done")
	if stored == nil || stored.Status != models.JobStatusError {
		t.Fatalf("expected stored error result, got %+v", stored)
	}
}

func TestRunRetriesAtMostMaxTimes(t *testing.T) {
	store := queue.NewMemoryStore(time.Hour)
	defer store.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var mu sync.Mutex
	attempts := 0
	rec := &fakeRecognizer{}
	w := newTestWorker(store, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Push(ctx, &models.Job{TaskID: "task-r", ImageURL: srv.URL}); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			job, err := store.Pop(ctx, 50*time.Millisecond)
			if err != nil || job == nil {
				return
			}
			mu.Lock()
			attempts++
			mu.Unlock()
			w.Process(ctx, job)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain the job in time")
	}

	mu.Lock()
	defer mu.Unlock()
	// one initial attempt plus maxRetries requeues
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestCallbackDelivered(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(time.Hour)
	defer store.Close()
	images := imageServer(t)

	received := make(chan models.Result, 1)
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST callback, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json callback, got %s", ct)
		}
		var res models.Result
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			t.Errorf("failed to decode callback body: %v", err)
		}
		received <- res
		w.WriteHeader(http.StatusOK)
	}))
	defer callback.Close()

	rec := &fakeRecognizer{fragments: []ocr.Fragment{{Text: "Sözleşme 5356314848", Confidence: 0.95}}}
	w := newTestWorker(store, rec)

	w.Process(ctx, &models.Job{
		TaskID:      "task-cb",
		ImageURL:    images.URL,
		CallbackURL: callback.URL,
	})

	select {
	case res := <-received:
		if res.TaskID != "task-cb" || res.Status != models.JobStatusCompleted {
			t.Errorf("unexpected callback payload %+v", res)
		}
		if res.PhoneNumber != "5356314848" {
			t.Errorf("expected phone number in callback, got %q", res.PhoneNumber)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not delivered")
	}
}

func TestCallbackFailureDoesNotAffectResult(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(time.Hour)
	defer store.Close()
	images := imageServer(t)

	calls := 0
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer callback.Close()

	rec := &fakeRecognizer{fragments: []ocr.Fragment{{Text: "hello", Confidence: 0.9}}}
	w := newTestWorker(store, rec)

	result := w.Process(ctx, &models.Job{
		TaskID:      "task-cbfail",
		ImageURL:    images.URL,
		CallbackURL: callback.URL,
	})

	if result.Status != models.JobStatusCompleted {
		t.Fatalf("callback failure must not fail the job, got %s", result.Status)
	}
	if calls != 1 {
		t.Errorf("expected exactly one callback attempt, got %d", calls)
	}
	stored, _ := store.GetResult(ctx, "task-cbfail")
	if stored == nil || stored.Status != models.JobStatusCompleted {
		t.Fatalf("expected stored completed result, got %+v", stored)
	}
}

func TestRunDrainsQueue(t *testing.T) {
	store := queue.NewMemoryStore(time.Hour)
	defer store.Close()
	images := imageServer(t)

	rec := &fakeRecognizer{fragments: []ocr.Fragment{{Text: "Sözleşme 5356314848", Confidence: 0.9}}}
	w := newTestWorker(store, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		job := &models.Job{TaskID: "run-" + string(rune('a'+i)), ImageURL: images.URL}
		if err := store.Push(ctx, job); err != nil {
			t.Fatalf("push failed: %v", err)
		}
	}

	go w.Run(ctx)

	deadline := time.After(5 * time.Second)
	for {
		size, _ := store.Size(context.Background())
		if size == 0 {
			res, _ := store.GetResult(context.Background(), "run-a")
			if res != nil && res.Status == models.JobStatusCompleted {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained, %d jobs left", size)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
