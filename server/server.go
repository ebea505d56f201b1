// Package server implements the dispatcher: it owns the job queue,
// accepts connections from clients and workers over one shared RPC
// protocol, hands queued jobs to whichever worker asks first, and
// answers status/kill/rerun requests against the live job table.
//
// The accept-and-serve shape and the per-job supervisor goroutine that
// races a worker's reported exit code against the worker's connection
// dying are adapted from a render farm's assign/done/failed dispatch
// loop, generalized from a hierarchical task tree to this module's
// flat, single-command job model.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"tpar/job"
	"tpar/queue"
	"tpar/rpc"
)

// ProtocolVersion is reported in the discovery handshake's reply. No
// peer compares it against a version of its own; there is exactly one
// wire format.
const ProtocolVersion = 1

// Server is the dispatcher's process-wide state: the job queue, the
// table of which connection is currently running which job (for kill's
// out-of-band terminate push), and the remote-output streams backing
// ToRemoteSink jobs.
type Server struct {
	ID    string
	Queue *queue.Queue

	mu            sync.Mutex
	runningWorker map[job.ID]*rpc.Conn
	exitWaiters   map[job.ID]chan exitResult

	streamsMu sync.Mutex
	streams   map[job.ID]*remoteStream
}

// exitResult is the internal (non-wire) value a report-exit call hands
// to the per-job supervisor blocked in dispatchRequestJob.
type exitResult struct {
	ExitCode int
	Err      error
}

// New creates an empty Server backed by a fresh queue.
func New() *Server {
	return &Server{
		ID:            xid.New().String(),
		Queue:         queue.New(),
		runningWorker: make(map[job.ID]*rpc.Conn),
		exitWaiters:   make(map[job.ID]chan exitResult),
		streams:       make(map[job.ID]*remoteStream),
	}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed), handling each one in its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.ServeConn(nc)
	}
}

// ServeConn wires one connection's RPC handlers and runs its reader
// loop until the peer disconnects, then fails any job still recorded
// as running on this connection: a dead worker cannot finish what it
// started. It blocks until the connection closes, so callers normally
// invoke it in its own goroutine; Serve does this for every accepted
// connection, and a test or an in-process client can call it directly
// against one end of a net.Pipe.
func (s *Server) ServeConn(nc net.Conn) {
	conn := rpc.New(nc)
	s.registerHandlers(conn)
	err := conn.Serve()
	if err != nil && !errors.Is(err, io.EOF) {
		log.Printf("server: connection from %s closed: %v", nc.RemoteAddr(), err)
	}
	s.failJobsOn(conn)
}

func (s *Server) registerHandlers(conn *rpc.Conn) {
	conn.HandleSync("hello", func(payload json.RawMessage) (interface{}, error) {
		return HelloReply{ServerID: s.ID, ProtocolVersion: ProtocolVersion}, nil
	})
	conn.HandleSync("enqueue", s.dispatchEnqueue)
	conn.HandleAsync("request-job", func(payload json.RawMessage, reply rpc.Reply) {
		s.dispatchRequestJob(conn, payload, reply)
	})
	conn.HandleSync("report-exit", s.dispatchReportExit)
	conn.HandleSync("status", s.dispatchStatus)
	conn.HandleSync("kill", s.dispatchKill)
	conn.HandleSync("rerun", s.dispatchRerun)
	conn.HandleSync("subscribe-output", func(payload json.RawMessage) (interface{}, error) {
		return s.dispatchSubscribe(conn, payload)
	})
	conn.OnPush("publish-output", s.handlePublishOutput)
	conn.OnPush("publish-end", s.handlePublishEnd)
}

// failJobsOn marks every job currently recorded as running on conn as
// Failed, and finalizes any remote-output stream it was feeding. It
// does not touch jobs that already reached a terminal state (e.g. a
// kill that raced the worker's own exit report).
func (s *Server) failJobsOn(conn *rpc.Conn) {
	s.mu.Lock()
	var affected []job.ID
	for id, c := range s.runningWorker {
		if c == conn {
			affected = append(affected, id)
		}
	}
	s.mu.Unlock()

	for _, id := range affected {
		s.completeJob(id, exitResult{Err: errors.New("worker disconnected")})
	}
}

// completeJob is the single place a job moves from Running to Finished
// or Failed (kill's Running-to-Killed edge goes through Queue.Kill): it
// is called both from the per-job supervisor (on a normal report-exit)
// and from failJobsOn (on a worker's connection dying). It is a no-op
// if the job already reached a terminal state by some other path (e.g.
// kill): CanTransitionTo rejects the edge and the job is left alone.
func (s *Server) completeJob(id job.ID, res exitResult) {
	target := job.Finished
	if res.Err != nil {
		target = job.Failed
	}
	s.Queue.Update(id, func(j job.Job) job.Job {
		if !j.State.CanTransitionTo(target) {
			return j
		}
		if res.Err != nil {
			j.State = job.FailedState(res.Err.Error(), time.Now())
		} else {
			j.State = job.FinishedState(res.ExitCode, time.Now())
		}
		return j
	})
	s.mu.Lock()
	delete(s.runningWorker, id)
	delete(s.exitWaiters, id)
	s.mu.Unlock()
	s.finishStream(id, res.Err)
}

func (s *Server) dispatchEnqueue(payload json.RawMessage) (interface{}, error) {
	var req EnqueueRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("server: decode enqueue request: %w", err)
	}
	j := s.Queue.Enqueue(req.Request, req.Sink)
	if j.Sink.Kind == job.ToRemoteSink {
		s.createStream(j.ID)
	}
	return EnqueueReply{Job: j}, nil
}

// dispatchRequestJob implements the worker's blocking pull for work.
// It is an async handler because the reply may not be ready for a long
// time: the queue can be empty for as long as the worker is connected.
func (s *Server) dispatchRequestJob(conn *rpc.Conn, payload json.RawMessage, reply rpc.Reply) {
	var req RequestJobRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		reply(nil, fmt.Errorf("server: decode request-job request: %w", err))
		return
	}
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-conn.Closed():
				cancel()
			case <-ctx.Done():
			}
		}()

		// Take jobs off the heap until one of them actually starts: a
		// kill can transition a job to Killed after TakeQueued pops it
		// but before SetRunning claims it (Queue.Kill only drops the
		// heap entry, it doesn't stop a pop already in flight), and a
		// job that lost that race must not run.
		var j, running job.Job
		for {
			var err error
			j, err = s.Queue.TakeQueued(ctx)
			if err != nil {
				reply(nil, err)
				return
			}
			var ok bool
			running, ok = s.Queue.SetRunning(j.ID, req.WorkerID, time.Now())
			if !ok {
				reply(nil, fmt.Errorf("server: job %d vanished before dispatch", j.ID))
				return
			}
			if running.State.Kind == job.Running {
				break
			}
		}

		ch := make(chan exitResult, 1)
		s.mu.Lock()
		s.exitWaiters[j.ID] = ch
		s.runningWorker[j.ID] = conn
		s.mu.Unlock()

		reply(RequestJobReply{Job: running}, nil)

		select {
		case res := <-ch:
			s.completeJob(j.ID, res)
		case <-conn.Closed():
			s.completeJob(j.ID, exitResult{Err: errors.New("worker disconnected")})
		}
	}()
}

func (s *Server) dispatchReportExit(payload json.RawMessage) (interface{}, error) {
	var req ReportExitRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("server: decode report-exit request: %w", err)
	}
	s.mu.Lock()
	ch, ok := s.exitWaiters[req.JobID]
	s.mu.Unlock()
	if !ok {
		// The supervisor already retired this job (e.g. the connection
		// was observed closed first); nothing left to notify.
		return ReportExitReply{}, nil
	}
	var err error
	if req.SpawnErr != "" {
		err = errors.New(req.SpawnErr)
	}
	select {
	case ch <- exitResult{ExitCode: req.ExitCode, Err: err}:
	default:
	}
	return ReportExitReply{}, nil
}

func (s *Server) dispatchStatus(payload json.RawMessage) (interface{}, error) {
	var req StatusRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("server: decode status request: %w", err)
	}
	matched, err := s.filteredJobs(req.Filter)
	if err != nil {
		return nil, err
	}
	return StatusReply{Jobs: matched}, nil
}
