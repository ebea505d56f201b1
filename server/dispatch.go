package server

import (
	"encoding/json"
	"fmt"
	"time"

	"tpar/filter"
	"tpar/job"
)

// filteredJobs compiles expr and applies it to the current job table. A
// malformed expr is reported as an error distinct from "nothing
// matched", so status/kill/rerun can surface a parse diagnostic to the
// caller instead of silently reporting an empty result.
func (s *Server) filteredJobs(expr string) ([]job.Job, error) {
	m, err := filter.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("server: parse filter %q: %w", expr, err)
	}
	var out []job.Job
	for _, j := range s.Queue.All() {
		if m(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

// dispatchKill marks every filtered job Killed, unless its current
// state can no longer transition there (it already reached Finished,
// Failed or Killed by some other path). Queue.Kill performs the
// transition and, if the job was still Queued, its heap removal under
// one lock, so a worker's TakeQueued can never pop the entry in the
// window between the two — the race that would otherwise resurrect a
// just-killed job to Running. A job that was Running also gets an
// out-of-band terminate push so its worker stops the child process; the
// worker's eventual report-exit is then a no-op against the now-terminal
// job (see completeJob).
func (s *Server) dispatchKill(payload json.RawMessage) (interface{}, error) {
	var req KillRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("server: decode kill request: %w", err)
	}
	matched, err := s.filteredJobs(req.Filter)
	if err != nil {
		return nil, err
	}
	var killed []job.Job
	for _, j := range matched {
		updated, ok, wasRunning := s.Queue.Kill(j.ID, time.Now())
		if !ok || updated.State.Kind != job.Killed {
			continue
		}
		if wasRunning {
			s.mu.Lock()
			conn, has := s.runningWorker[j.ID]
			s.mu.Unlock()
			if has {
				_ = conn.Push("terminate", TerminatePush{JobID: j.ID})
			}
			s.finishStream(j.ID, fmt.Errorf("job killed"))
		}
		killed = append(killed, updated)
	}
	return KillReply{Jobs: killed}, nil
}

// dispatchRerun resubmits every terminal job matched by the filter as a
// fresh Queued job with the same request. A job whose sink pointed at a
// remote stream reruns with no output sink: the original stream's
// subscribers are long gone and a stream id is not a durable handle
// across a rerun.
func (s *Server) dispatchRerun(payload json.RawMessage) (interface{}, error) {
	var req RerunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("server: decode rerun request: %w", err)
	}
	matched, err := s.filteredJobs(req.Filter)
	if err != nil {
		return nil, err
	}
	var created []job.Job
	for _, j := range matched {
		if !j.State.Kind.Terminal() {
			continue
		}
		sink := j.Sink
		if sink.Kind == job.ToRemoteSink {
			sink = job.Sink{Kind: job.NoOutput}
		}
		nj := s.Queue.Enqueue(j.Request, sink)
		created = append(created, nj)
	}
	return RerunReply{Jobs: created}, nil
}
