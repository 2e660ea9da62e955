package queue_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trendwatch-io/trendwatch/internal/queue"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestSuccessPath(t *testing.T) {
	q := queue.New(10, 1, 0, time.Millisecond)
	q.SetProcessor(func(data any) (any, error) {
		return "ok", nil
	})

	var (
		mu       sync.Mutex
		cbID     string
		cbResult any
		cbOK     bool
		cbCalls  int
	)
	q.SetResultCallback(func(id string, result any, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		cbID, cbResult, cbOK = id, result, ok
		cbCalls++
	})

	q.Start()
	defer q.Stop(true, time.Second)

	id, err := q.Enqueue("payload")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return q.GetStatus(id) == queue.StatusCompleted })

	if got := q.GetResult(id); got != "ok" {
		t.Fatalf("expected result ok, got %v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if cbCalls != 1 || cbID != id || cbResult != "ok" || !cbOK {
		t.Fatalf("unexpected callback: calls=%d id=%q result=%v ok=%v", cbCalls, cbID, cbResult, cbOK)
	}
}

func TestRetryThenFail(t *testing.T) {
	q := queue.New(10, 1, 2, time.Millisecond)

	var attempts atomic.Int32
	q.SetProcessor(func(data any) (any, error) {
		attempts.Add(1)
		return nil, errors.New("always fails")
	})

	var fails atomic.Int32
	q.SetResultCallback(func(id string, result any, ok bool) {
		if !ok {
			fails.Add(1)
		}
	})

	q.Start()
	defer q.Stop(true, time.Second)

	id, err := q.Enqueue("payload")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return q.GetStatus(id) == queue.StatusFailed })

	// max_retries=2 means the first attempt plus two retries.
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}

	task, ok := q.GetTask(id)
	if !ok || task.RetryCount != 2 {
		t.Fatalf("expected retry_count 2, got %+v", task)
	}

	// Give a stray extra callback a chance to show up.
	time.Sleep(50 * time.Millisecond)
	if got := fails.Load(); got != 1 {
		t.Fatalf("expected exactly one failure callback, got %d", got)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	q := queue.New(10, 1, 3, time.Millisecond)

	var attempts atomic.Int32
	q.SetProcessor(func(data any) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("not yet")
		}
		return "done", nil
	})

	q.Start()
	defer q.Stop(true, time.Second)

	id, _ := q.Enqueue("payload")
	waitFor(t, func() bool { return q.GetStatus(id) == queue.StatusCompleted })

	if got := q.GetResult(id); got != "done" {
		t.Fatalf("expected done, got %v", got)
	}
	task, _ := q.GetTask(id)
	if task.RetryCount != 2 {
		t.Fatalf("expected 2 retries before success, got %d", task.RetryCount)
	}
}

func TestEnqueueFailsFastWhenFull(t *testing.T) {
	q := queue.New(2, 1, 0, time.Millisecond)
	// Not started: nothing drains the channel.

	if _, err := q.Enqueue(1); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if _, err := q.Enqueue(2); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}

	id, err := q.Enqueue(3)
	if !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if id != "" {
		t.Fatal("expected no task ID on rejected enqueue")
	}
	if q.GetStats().Pending != 2 {
		t.Fatal("rejected task should not be tracked")
	}
}

func TestPanickingProcessorCountsAsFailure(t *testing.T) {
	q := queue.New(10, 1, 0, time.Millisecond)
	q.SetProcessor(func(data any) (any, error) {
		panic("boom")
	})

	q.Start()
	defer q.Stop(true, time.Second)

	id, _ := q.Enqueue("payload")
	waitFor(t, func() bool { return q.GetStatus(id) == queue.StatusFailed })

	task, _ := q.GetTask(id)
	if task.Err == "" {
		t.Fatal("expected panic to be recorded as the task error")
	}
}

func TestStopWaitsForInFlightTask(t *testing.T) {
	q := queue.New(10, 1, 0, time.Millisecond)

	release := make(chan struct{})
	q.SetProcessor(func(data any) (any, error) {
		<-release
		return "late", nil
	})

	q.Start()
	id, _ := q.Enqueue("payload")

	waitFor(t, func() bool { return q.GetStatus(id) == queue.StatusProcessing })

	done := make(chan struct{})
	go func() {
		q.Stop(true, 2*time.Second)
		close(done)
	}()

	close(release)
	<-done

	if q.GetStatus(id) != queue.StatusCompleted {
		t.Fatal("expected in-flight task to finish during stop")
	}
	if q.IsRunning() {
		t.Fatal("expected queue to report stopped")
	}
}

func TestStats(t *testing.T) {
	q := queue.New(10, 2, 0, time.Millisecond)
	q.SetProcessor(func(data any) (any, error) {
		if data == "bad" {
			return nil, errors.New("bad payload")
		}
		return data, nil
	})

	q.Start()
	defer q.Stop(true, time.Second)

	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("bad")

	waitFor(t, func() bool {
		s := q.GetStats()
		return s.Processed == 3
	})

	s := q.GetStats()
	if s.Enqueued != 3 || s.Succeeded != 2 || s.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestClearCancelsQueuedTasks(t *testing.T) {
	q := queue.New(10, 1, 0, time.Millisecond)
	idA, _ := q.Enqueue("a")
	idB, _ := q.Enqueue("b")

	if n := q.Clear(); n != 2 {
		t.Fatalf("expected 2 cleared tasks, got %d", n)
	}

	if q.Size() != 0 {
		t.Fatal("expected empty queue after clear")
	}
	if s := q.GetStats(); s.Pending != 0 {
		t.Fatalf("expected no pending tasks, got %+v", s)
	}
	for _, id := range []string{idA, idB} {
		if got := q.GetStatus(id); got != queue.StatusCancelled {
			t.Fatalf("expected task %s cancelled, got %q", id, got)
		}
	}

	task, ok := q.GetTask(idA)
	if !ok || task.CompletedAt.IsZero() {
		t.Fatalf("expected cancelled task record kept with completion time, got %+v", task)
	}
}
