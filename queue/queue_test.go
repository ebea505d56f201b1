package queue

import (
	"context"
	"testing"
	"time"

	"tpar/job"
)

func req(name string, pri job.Priority) job.Request {
	return job.Request{Name: name, Priority: pri, Command: "echo", Args: []string{"hi"}}
}

func TestDispatchOrderByPriorityThenID(t *testing.T) {
	q := New()
	pris := []job.Priority{5, 0, 3}
	ids := make([]job.ID, len(pris))
	for i, p := range pris {
		j := q.Enqueue(req("j", p), job.Sink{})
		ids[i] = j.ID
	}
	if ids[0] != 0 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("got ids %v, want [0 1 2]", ids)
	}

	var order []job.ID
	for i := 0; i < 3; i++ {
		j, err := q.TakeQueued(context.Background())
		if err != nil {
			t.Fatalf("TakeQueued: %v", err)
		}
		order = append(order, j.ID)
	}
	want := []job.ID{1, 2, 0} // priorities 0, 3, 5 -> ids 1, 2, 0
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestTakeQueuedBlocksUntilEnqueue(t *testing.T) {
	q := New()
	result := make(chan job.Job, 1)
	go func() {
		j, err := q.TakeQueued(context.Background())
		if err != nil {
			t.Errorf("TakeQueued: %v", err)
			return
		}
		result <- j
	}()

	select {
	case <-result:
		t.Fatalf("TakeQueued returned before any job was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(req("late", 0), job.Sink{})

	select {
	case j := <-result:
		if j.Request.Name != "late" {
			t.Fatalf("got job %v, want name=late", j)
		}
	case <-time.After(time.Second):
		t.Fatalf("TakeQueued never woke up after Enqueue")
	}
}

func TestTakeQueuedRespectsContextCancellation(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.TakeQueued(ctx)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("want non-nil error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatalf("TakeQueued did not observe cancellation")
	}
}

func TestRemoveFromHeapExcludesFromTake(t *testing.T) {
	q := New()
	a := q.Enqueue(req("a", 0), job.Sink{})
	b := q.Enqueue(req("b", 0), job.Sink{})
	q.RemoveFromHeap(a.ID)

	j, err := q.TakeQueued(context.Background())
	if err != nil {
		t.Fatalf("TakeQueued: %v", err)
	}
	if j.ID != b.ID {
		t.Fatalf("got %v, want %v (a should have been skipped)", j.ID, b.ID)
	}
}

func TestSetStateAndGet(t *testing.T) {
	q := New()
	j := q.Enqueue(req("a", 0), job.Sink{})
	updated, ok := q.SetState(j.ID, job.KilledState(time.Now()))
	if !ok {
		t.Fatalf("SetState: id not found")
	}
	if updated.State.Kind != job.Killed {
		t.Fatalf("got state %v, want Killed", updated.State.Kind)
	}
	got, ok := q.Get(j.ID)
	if !ok || got.State.Kind != job.Killed {
		t.Fatalf("Get after SetState: got %+v, ok=%v", got, ok)
	}
}

func TestAllSnapshot(t *testing.T) {
	q := New()
	q.Enqueue(req("a", 0), job.Sink{})
	q.Enqueue(req("b", 1), job.Sink{})
	all := q.All()
	if len(all) != 2 {
		t.Fatalf("got %d jobs, want 2", len(all))
	}
}
