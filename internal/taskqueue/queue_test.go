package taskqueue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reelswap/internal/taskqueue"
	"reelswap/internal/testsupport"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueue(t *testing.T, maxAttempts int) (*taskqueue.Queue, *clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDatabase(t, cfg)
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return taskqueue.New(db, taskqueue.Options{MaxAttempts: maxAttempts, TTL: time.Hour, Now: clk.Now}), clk
}

func TestClaimReturnsOldestFirst(t *testing.T) {
	q, clk := newQueue(t, 3)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskSplit, JobID: "job-a"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	clk.Advance(time.Millisecond)
	if _, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskProcessClip, JobID: "job-a", ClipIndex: 2, Generation: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	task, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if task == nil || task.ID != first {
		t.Fatalf("expected task %d first, got %+v", first, task)
	}
	if task.State != taskqueue.StateRunning || task.Attempts != 1 || task.LeaseOwner != "w1" {
		t.Fatalf("unexpected claimed task: %+v", task)
	}
	if task.ClipIndex != -1 {
		t.Fatalf("job-scoped task should carry clip index -1, got %d", task.ClipIndex)
	}

	second, err := q.Claim(ctx, "w2", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if second == nil || second.Name != taskqueue.TaskProcessClip || second.ClipIndex != 2 || second.Generation != 1 {
		t.Fatalf("unexpected second task: %+v", second)
	}

	empty, err := q.Claim(ctx, "w3", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected empty queue, got %+v", empty)
	}
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	q, _ := newQueue(t, 3)
	ctx := context.Background()

	const tasks = 20
	for i := 0; i < tasks; i++ {
		if _, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskProcessClip, JobID: "job", ClipIndex: i}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Claim(ctx, "worker", time.Minute)
				if err != nil {
					t.Errorf("Claim: %v", err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != tasks {
		t.Fatalf("expected %d distinct tasks, got %d", tasks, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("task %d claimed %d times", id, count)
		}
	}
}

func TestNackBacksOffThenDeadLetters(t *testing.T) {
	q, clk := newQueue(t, 2)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskStitch, JobID: "job"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, _ := q.Claim(ctx, "w", time.Minute)
	dead, err := q.Nack(ctx, task.ID, "w", errors.New("boom"), 5*time.Second)
	if err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if dead {
		t.Fatal("first failure should not dead-letter")
	}

	if again, _ := q.Claim(ctx, "w", time.Minute); again != nil {
		t.Fatalf("task should be backing off, got %+v", again)
	}
	clk.Advance(5 * time.Second)
	task, err = q.Claim(ctx, "w", time.Minute)
	if err != nil || task == nil {
		t.Fatalf("expected redelivery after backoff, got %v, %v", task, err)
	}
	if task.Attempts != 2 || task.LastError != "boom" {
		t.Fatalf("unexpected redelivered task: %+v", task)
	}

	dead, err = q.Nack(ctx, task.ID, "w", errors.New("boom again"), 5*time.Second)
	if err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if !dead {
		t.Fatal("expected dead-letter once attempts are exhausted")
	}
	stored, _ := q.Get(ctx, id)
	if stored.State != taskqueue.StateDead {
		t.Fatalf("expected dead state, got %s", stored.State)
	}

	if err := q.RetryDead(ctx, id); err != nil {
		t.Fatalf("RetryDead: %v", err)
	}
	task, _ = q.Claim(ctx, "w", time.Minute)
	if task == nil || task.Attempts != 1 {
		t.Fatalf("expected revived task with fresh budget, got %+v", task)
	}
}

func TestLeaseOwnershipAndReclaim(t *testing.T) {
	q, clk := newQueue(t, 3)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskSplit, JobID: "job"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, _ := q.Claim(ctx, "w1", 30*time.Second)

	if err := q.Ack(ctx, task.ID, "intruder"); !errors.Is(err, taskqueue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if err := q.Extend(ctx, task.ID, "w1", 30*time.Second); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	clk.Advance(20 * time.Second)
	if n, dead, err := q.ReclaimExpired(ctx); err != nil || n != 0 || len(dead) != 0 {
		t.Fatalf("lease still live, reclaimed %d dead %d (%v)", n, len(dead), err)
	}
	clk.Advance(20 * time.Second)
	if n, dead, err := q.ReclaimExpired(ctx); err != nil || n != 1 || len(dead) != 0 {
		t.Fatalf("expected one reclaimed task, got %d dead %d (%v)", n, len(dead), err)
	}

	if err := q.Ack(ctx, task.ID, "w1"); !errors.Is(err, taskqueue.ErrLeaseLost) {
		t.Fatalf("stale owner should lose the ack, got %v", err)
	}
	again, _ := q.Claim(ctx, "w2", time.Minute)
	if again == nil || again.ID != task.ID || again.Attempts != 2 {
		t.Fatalf("expected redelivery to w2, got %+v", again)
	}
	if err := q.Ack(ctx, again.ID, "w2"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestReclaimDeadLettersExhaustedTasks(t *testing.T) {
	q, clk := newQueue(t, 1)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskStitch, JobID: "job"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, _ := q.Claim(ctx, "w1", time.Second)
	clk.Advance(2 * time.Second)

	n, dead, err := q.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	if n != 0 || len(dead) != 1 || dead[0].ID != task.ID || dead[0].State != taskqueue.StateDead {
		t.Fatalf("expected task dead-lettered, got requeued=%d dead=%+v", n, dead)
	}
	if next, _ := q.Claim(ctx, "w2", time.Minute); next != nil {
		t.Fatalf("dead task was redelivered: %+v", next)
	}
}

func TestPurgeAndStats(t *testing.T) {
	q, clk := newQueue(t, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskProcessClip, JobID: "job", ClipIndex: i}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	a, _ := q.Claim(ctx, "w", time.Minute)
	if err := q.Ack(ctx, a.ID, "w"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	b, _ := q.Claim(ctx, "w", time.Minute)
	if err := q.Bury(ctx, b.ID, "w", errors.New("fatal")); err != nil {
		t.Fatalf("Bury: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[taskqueue.StateDone] != 1 || stats[taskqueue.StateDead] != 1 || stats[taskqueue.StatePending] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	if n, _ := q.Purge(ctx); n != 0 {
		t.Fatalf("nothing should expire yet, purged %d", n)
	}
	clk.Advance(2 * time.Hour)
	if n, err := q.Purge(ctx); err != nil || n != 2 {
		t.Fatalf("expected two purged tasks, got %d (%v)", n, err)
	}
	remaining, err := q.List(ctx, "job")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].State != taskqueue.StatePending {
		t.Fatalf("expected only the pending task to remain, got %+v", remaining)
	}
}

func TestEnqueueIsIdempotentPerIdentity(t *testing.T) {
	q, _ := newQueue(t, 3)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskStitch, JobID: "job", Generation: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	again, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskStitch, JobID: "job", Generation: 1})
	if err != nil {
		t.Fatalf("Enqueue duplicate: %v", err)
	}
	if again != first {
		t.Fatalf("duplicate enqueue returned %d, want %d", again, first)
	}
	next, err := q.Enqueue(ctx, taskqueue.Task{Name: taskqueue.TaskStitch, JobID: "job", Generation: 2})
	if err != nil || next == first {
		t.Fatalf("new generation should get its own task, got %d (%v)", next, err)
	}
	tasks, _ := q.List(ctx, "job")
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{30, time.Hour},
	}
	for _, tc := range cases {
		if got := taskqueue.Backoff(time.Second, tc.attempt); got != tc.want {
			t.Fatalf("Backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
