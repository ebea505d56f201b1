// Package queue implements the job queue and state store: a fresh-id
// counter, a priority heap of queued jobs, and an id→job map, all
// mutated only inside one atomic region per operation.
//
// The priority heap reuses container.UniqueHeap, whose pop-skips-removed
// semantics let a kill invalidate a heap entry without an O(n) search.
// Blocking retry (TakeQueued on an empty queue) uses a mutex plus a
// condition variable.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tpar/job"
	"tpar/lib/container"
)

// Queue is the server-owned job table and dispatch heap. All exported
// methods are atomic: each one completes (including any
// composed read-modify-write) while holding mu.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	nextID job.ID
	heap   *container.UniqueHeap
	jobs   map[job.ID]*job.Job

	closed bool
}

// New creates an empty Queue.
func New() *Queue {
	q := &Queue{
		jobs: make(map[job.ID]*job.Job),
	}
	q.cond = sync.NewCond(&q.mu)
	q.heap = container.NewUniqueHeap(q.less)
	return q
}

// queuedEntry is the heap element: a job's dispatch priority paired
// with its id, so ordering doesn't need a map lookup back into jobs.
type queuedEntry struct {
	Priority job.Priority
	JobID    job.ID
}

// less orders two queuedEntry values: smaller numeric Priority is
// dispatched first, ties broken by the older (smaller) JobID.
func (q *Queue) less(i, j interface{}) bool {
	a := i.(queuedEntry)
	b := j.(queuedEntry)
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.JobID < b.JobID
}

// Enqueue allocates a fresh ID, stores a Queued job and pushes it onto
// the priority heap, all atomically. It returns the stored job.
func (q *Queue) Enqueue(req job.Request, sink job.Sink) job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	req.NormalizeDefaults()
	id := q.nextID
	q.nextID++
	j := &job.Job{
		ID:      id,
		Request: req,
		Sink:    sink,
		State:   job.QueuedState(time.Now()),
	}
	q.jobs[id] = j
	q.heap.Push(queuedEntry{Priority: req.Priority, JobID: id})
	q.cond.Broadcast()
	return j.Clone()
}

// TakeQueued blocks until a job is available and returns it, or returns
// ctx's error if ctx is cancelled first, or an error if the queue was
// closed. It does not itself transition the job's state: the caller (the
// per-job supervisor in package server) does that once it has allocated
// a reply channel for the job.
func (q *Queue) TakeQueued(ctx context.Context) (job.Job, error) {
	// Wake a blocked Wait() when ctx is cancelled. sync.Cond has no
	// native cancellation, so a watcher goroutine broadcasts on our
	// behalf; this is the standard pattern for making a condvar wait
	// respect a context.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return job.Job{}, err
		}
		if q.closed {
			return job.Job{}, fmt.Errorf("queue: closed")
		}
		if v := q.heap.Pop(); v != nil {
			id := v.(queuedEntry).JobID
			j, ok := q.jobs[id]
			if !ok {
				// Deleted between push and pop; not reachable today
				// since nothing deletes jobs, but the guard is cheap
				// and keeps this loop correct if that changes.
				continue
			}
			return j.Clone(), nil
		}
		q.cond.Wait()
	}
}

// Get returns a snapshot of the job with the given id.
func (q *Queue) Get(id job.ID) (job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return job.Job{}, false
	}
	return j.Clone(), true
}

// Update atomically applies fn to the current job and stores the result.
// It returns the updated job and whether the id was found.
func (q *Queue) Update(id job.ID, fn func(job.Job) job.Job) (job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return job.Job{}, false
	}
	updated := fn(j.Clone())
	updated.ID = id
	q.jobs[id] = &updated
	return updated.Clone(), true
}

// SetState is a specialization of Update for the common case of only
// changing State.
func (q *Queue) SetState(id job.ID, state job.State) (job.Job, bool) {
	return q.Update(id, func(j job.Job) job.Job {
		j.State = state
		return j
	})
}

// SetRunning atomically transitions id to Running for workerID, but only
// if its current state allows it. The caller tells the two outcomes
// apart by checking the returned job's State.Kind: a popped-but-killed
// job comes back unchanged (still its terminal Kind), not Running.
func (q *Queue) SetRunning(id job.ID, workerID string, now time.Time) (job.Job, bool) {
	return q.Update(id, func(j job.Job) job.Job {
		if !j.State.CanTransitionTo(job.Running) {
			return j
		}
		j.State = job.RunningState(workerID, now)
		return j
	})
}

// Kill atomically transitions id to Killed, unless its current state can
// no longer get there, and — in the same mu hold — drops its heap entry
// if it was still Queued. Doing both under one lock is what closes the
// window a separate Update+RemoveFromHeap pair would leave open: a
// worker's TakeQueued popping the entry between the two calls and
// running a job this call meant to kill.
//
// It reports the job's state after the attempt (ok is false only if id
// is unknown) and whether the job was Running at the moment it was
// killed, which callers use to decide whether to push a terminate
// signal to whichever worker had it.
func (q *Queue) Kill(id job.ID, now time.Time) (updated job.Job, ok bool, wasRunning bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return job.Job{}, false, false
	}
	if !j.State.CanTransitionTo(job.Killed) {
		return j.Clone(), true, false
	}
	wasRunning = j.State.Kind == job.Running
	wasQueued := j.State.Kind == job.Queued
	nu := *j
	nu.State = job.KilledState(now)
	q.jobs[id] = &nu
	if wasQueued {
		q.heap.Remove(queuedEntry{Priority: nu.Request.Priority, JobID: id})
	}
	return nu.Clone(), true, wasRunning
}

// RemoveFromHeap drops id's entry from the priority heap without
// touching the id→job map, for use when kill transitions a Queued job
// straight to Killed. A no-op if id isn't currently in the heap (already
// taken, or never queued).
func (q *Queue) RemoveFromHeap(id job.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return
	}
	q.heap.Remove(queuedEntry{Priority: j.Request.Priority, JobID: id})
}

// All returns a snapshot of every job known to the queue. No ordering
// is guaranteed; callers sort/filter as needed.
func (q *Queue) All() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]job.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// Close marks the queue closed and wakes every blocked TakeQueued caller,
// which will observe the closed error. Used during server shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
