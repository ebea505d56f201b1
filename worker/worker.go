// Package worker implements the job-running side of the protocol:
// connect to a server, repeatedly pull one job at a time, run it with
// package procrunner, route its output according to the job's sink,
// and report how it ended.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"

	"tpar/job"
	"tpar/procrunner"
	"tpar/rpc"
	"tpar/server"
)

// DefaultReconnectDelay is how long a reconnecting worker waits between
// dropped connections before dialing again, when the caller doesn't
// override it.
const DefaultReconnectDelay = 10 * time.Second

// Worker is one connected worker identity. It runs at most one job at
// a time; current tracks that job so an incoming terminate push knows
// what to kill.
type Worker struct {
	ID   string
	conn *rpc.Conn

	mu           sync.Mutex
	current      *procrunner.Handle
	currentJobID job.ID
	hasCurrent   bool
}

func newWorker(nc net.Conn) *Worker {
	w := &Worker{ID: xid.New().String(), conn: rpc.New(nc)}
	w.conn.OnPush("terminate", w.handleTerminate)
	return w
}

func (w *Worker) handleTerminate(payload json.RawMessage) {
	var msg server.TerminatePush
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	w.mu.Lock()
	h, id, ok := w.current, w.currentJobID, w.hasCurrent
	w.mu.Unlock()
	if ok && id == msg.JobID {
		if err := h.Terminate(); err != nil {
			log.Printf("worker %s: terminate job %d: %v", w.ID, id, err)
		}
	}
}

// Run dials addr and serves jobs until ctx is cancelled or, if
// reconnectDelay is zero, until the connection is lost once. A positive
// reconnectDelay makes a lost connection non-fatal: Run waits that long
// and dials again.
func Run(ctx context.Context, addr string, reconnectDelay time.Duration) error {
	for {
		err := runOnce(ctx, addr)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reconnectDelay <= 0 {
			return err
		}
		log.Printf("worker: lost connection to %s: %v; reconnecting in %s", addr, err, reconnectDelay)
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runOnce(ctx context.Context, addr string) error {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("worker: dial %s: %w", addr, err)
	}
	defer nc.Close()

	w := newWorker(nc)
	serveErr := make(chan error, 1)
	go func() { serveErr <- w.conn.Serve() }()

	var hello server.HelloReply
	if err := w.conn.Call(ctx, "hello", server.HelloRequest{ClientKind: "worker"}, &hello); err != nil {
		return fmt.Errorf("worker: handshake: %w", err)
	}
	log.Printf("worker %s: connected to server %s (protocol %d)", w.ID, hello.ServerID, hello.ProtocolVersion)

	for {
		if err := w.runOneJob(ctx); err != nil {
			select {
			case svErr := <-serveErr:
				return svErr
			default:
				return err
			}
		}
	}
}

// runOneJob blocks for the next job, runs it, and reports its result.
// A returned error means the connection (or ctx) is no longer usable;
// the caller's loop ends and, if reconnect was requested, dials again.
func (w *Worker) runOneJob(ctx context.Context) error {
	var resp server.RequestJobReply
	if err := w.conn.Call(ctx, "request-job", server.RequestJobRequest{WorkerID: w.ID}, &resp); err != nil {
		return err
	}
	j := resp.Job

	handle := procrunner.Run(ctx, j.Request)
	w.mu.Lock()
	w.current = handle
	w.currentJobID = j.ID
	w.hasCurrent = true
	w.mu.Unlock()

	w.routeOutput(j, handle)
	res := <-handle.Result

	w.mu.Lock()
	w.hasCurrent = false
	w.mu.Unlock()

	if j.Sink.Kind == job.ToRemoteSink {
		end := server.PublishEndPush{JobID: j.ID}
		if res.SpawnErr != nil {
			end.Failed = true
			end.FailMsg = res.SpawnErr.Error()
		}
		if err := w.conn.Push("publish-end", end); err != nil {
			return err
		}
	}

	spawnErr := ""
	if res.SpawnErr != nil {
		spawnErr = res.SpawnErr.Error()
	}
	return w.conn.Call(ctx, "report-exit", server.ReportExitRequest{
		JobID:    j.ID,
		ExitCode: res.ExitCode,
		SpawnErr: spawnErr,
	}, nil)
}

func (w *Worker) routeOutput(j job.Job, h *procrunner.Handle) {
	switch j.Sink.Kind {
	case job.ToFiles:
		w.routeToFiles(j, h)
	case job.ToRemoteSink:
		w.routeToRemote(j, h)
	default:
		for range h.Chunks {
		}
	}
}

// routeToFiles writes stdout/stderr lines to the paths the sink names.
// When both paths are equal, they share one open file so lines from
// either stream interleave in the order they were produced rather than
// landing in two independent files.
func (w *Worker) routeToFiles(j job.Job, h *procrunner.Handle) {
	stdoutF, err := os.Create(j.Sink.StdoutPath)
	if err != nil {
		log.Printf("worker %s: open stdout file %s: %v", w.ID, j.Sink.StdoutPath, err)
		for range h.Chunks {
		}
		return
	}
	defer stdoutF.Close()

	stderrF := stdoutF
	if j.Sink.StderrPath != j.Sink.StdoutPath {
		stderrF, err = os.Create(j.Sink.StderrPath)
		if err != nil {
			log.Printf("worker %s: open stderr file %s: %v", w.ID, j.Sink.StderrPath, err)
			stderrF = nil
		} else {
			defer stderrF.Close()
		}
	}

	for c := range h.Chunks {
		f := stdoutF
		if c.Stream == procrunner.Stderr {
			f = stderrF
		}
		if f == nil {
			continue
		}
		f.Write(c.Line)
		f.Write([]byte("\n"))
	}
}

// routeToRemote forwards each chunk to the server as it arrives so the
// job's SubPub stream can fan it out live. publish-end, sent once the
// exit result is known, is handled by the caller.
func (w *Worker) routeToRemote(j job.Job, h *procrunner.Handle) {
	for c := range h.Chunks {
		if err := w.conn.Push("publish-output", server.PublishChunkPush{JobID: j.ID, Chunk: c}); err != nil {
			log.Printf("worker %s: publish output for job %d: %v", w.ID, j.ID, err)
		}
	}
}
