package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bkose/ocr-relay/pkg/models"
)

func testJob(id string) *models.Job {
	return &models.Job{
		TaskID:     id,
		ImageURL:   "http://example.com/img.jpg",
		UserID:     "u1",
		Timestamp:  "2026-02-14T12:00:00",
		EnqueuedAt: time.Now().Format(time.RFC3339),
	}
}

func TestMemoryFIFOOrder(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Push(ctx, testJob(fmt.Sprintf("task-%d", i))); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 5 {
		t.Errorf("Expected size 5, got %d", size)
	}

	for i := 0; i < 5; i++ {
		job, err := store.Pop(ctx, 0)
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		if job == nil {
			t.Fatalf("Expected job at position %d, got nil", i)
		}
		if want := fmt.Sprintf("task-%d", i); job.TaskID != want {
			t.Errorf("Expected %s, got %s", want, job.TaskID)
		}
	}

	// Empty queue, non-blocking pop.
	job, err := store.Pop(ctx, 0)
	if err != nil {
		t.Fatalf("Pop on empty queue failed: %v", err)
	}
	if job != nil {
		t.Errorf("Expected nil from empty queue, got %v", job)
	}
}

func TestMemoryBlockingPop(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	// Timeout path: nothing arrives.
	start := time.Now()
	job, err := store.Pop(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	if job != nil {
		t.Errorf("Expected timeout with nil job, got %v", job)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Pop returned before the timeout: %v", elapsed)
	}

	// Wakeup path: push while a Pop is blocked.
	done := make(chan *models.Job, 1)
	go func() {
		j, _ := store.Pop(ctx, 5*time.Second)
		done <- j
	}()

	time.Sleep(50 * time.Millisecond)
	if err := store.Push(ctx, testJob("wake")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	select {
	case j := <-done:
		if j == nil || j.TaskID != "wake" {
			t.Errorf("Expected job 'wake', got %v", j)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Blocked Pop was not woken by Push")
	}
}

// TestMemoryAtomicPop verifies the competing-consumer property: N jobs and
// multiple concurrent consumers must yield exactly N distinct jobs with no
// duplicates and no omissions.
func TestMemoryAtomicPop(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	const jobCount = 200
	const consumers = 4

	for i := 0; i < jobCount; i++ {
		if err := store.Push(ctx, testJob(fmt.Sprintf("task-%d", i))); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for w := 0; w < consumers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.Pop(ctx, 0)
				if err != nil {
					t.Errorf("Pop failed: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.TaskID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobCount {
		t.Errorf("Expected %d distinct jobs, got %d", jobCount, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("Job %s was popped %d times", id, count)
		}
	}
}

func TestMemoryResultTTL(t *testing.T) {
	store := NewMemoryStore(50 * time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	result := &models.Result{
		TaskID:      "task-ttl",
		Status:      models.JobStatusCompleted,
		PhoneNumber: "5356314848",
		Confidence:  0.9,
	}
	if err := store.PutResult(ctx, result.TaskID, result); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}

	got, err := store.GetResult(ctx, result.TaskID)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if got == nil || got.PhoneNumber != "5356314848" {
		t.Fatalf("Expected stored result back, got %v", got)
	}

	time.Sleep(80 * time.Millisecond)

	got, err = store.GetResult(ctx, result.TaskID)
	if err != nil {
		t.Fatalf("GetResult after expiry failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected expired result to be absent, got %v", got)
	}
}

func TestMemoryResultOverwrite(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	// An error attempt followed by a successful retry: last write wins.
	first := &models.Result{TaskID: "task-1", Status: models.JobStatusError, Error: "download failed"}
	if err := store.PutResult(ctx, "task-1", first); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}
	second := &models.Result{TaskID: "task-1", Status: models.JobStatusCompleted, PhoneNumber: "5001234567"}
	if err := store.PutResult(ctx, "task-1", second); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}

	got, err := store.GetResult(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if got.Status != models.JobStatusCompleted {
		t.Errorf("Expected the retry's result to supersede, got status %s", got.Status)
	}
}

func TestMemoryClear(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.Push(ctx, testJob(fmt.Sprintf("task-%d", i)))
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	size, _ := store.Size(ctx)
	if size != 0 {
		t.Errorf("Expected empty queue after Clear, got size %d", size)
	}
}

func TestBlockingPopCoalescedWakeups(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	// Two consumers block, then two pushes land back to back. The signal
	// channel may coalesce them into one wakeup; both jobs must still be
	// handed out before the pop timeouts expire.
	const consumers = 2
	popped := make(chan *models.Job, consumers)
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := store.Pop(ctx, 500*time.Millisecond)
			if err != nil {
				t.Errorf("Pop failed: %v", err)
			}
			popped <- job
		}()
	}

	time.Sleep(50 * time.Millisecond)
	if err := store.Push(ctx, testJob("wake-1")); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := store.Push(ctx, testJob("wake-2")); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	wg.Wait()
	close(popped)

	got := 0
	for job := range popped {
		if job != nil {
			got++
		}
	}
	if got != consumers {
		t.Errorf("expected both pushed jobs to be consumed, got %d", got)
	}
	if size, _ := store.Size(ctx); size != 0 {
		t.Errorf("expected empty queue after consumption, got %d", size)
	}
}
