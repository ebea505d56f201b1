package server_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"tpar/job"
	"tpar/rpc"
	"tpar/server"
)

func dialServer(t *testing.T, s *server.Server) *rpc.Conn {
	t.Helper()
	client, serverSide := net.Pipe()
	go s.ServeConn(serverSide)
	c := rpc.New(client)
	go c.Serve()
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEndToEndEnqueueDispatchReportStatus(t *testing.T) {
	s := server.New()
	client := dialServer(t, s)
	worker := dialServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var enqueued server.EnqueueReply
	if err := client.Call(ctx, "enqueue", server.EnqueueRequest{
		Request: job.Request{Name: "build", Command: "true"},
	}, &enqueued); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var dispatched server.RequestJobReply
	if err := worker.Call(ctx, "request-job", server.RequestJobRequest{WorkerID: "w1"}, &dispatched); err != nil {
		t.Fatalf("request-job: %v", err)
	}
	if dispatched.Job.ID != enqueued.Job.ID {
		t.Fatalf("dispatched job %d, want %d", dispatched.Job.ID, enqueued.Job.ID)
	}
	if dispatched.Job.State.Kind != job.Running {
		t.Fatalf("dispatched job state = %v, want Running", dispatched.Job.State.Kind)
	}

	if err := worker.Call(ctx, "report-exit", server.ReportExitRequest{
		JobID: dispatched.Job.ID, ExitCode: 0,
	}, nil); err != nil {
		t.Fatalf("report-exit: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		var status server.StatusReply
		if err := client.Call(ctx, "status", server.StatusRequest{Filter: "id:0"}, &status); err != nil {
			t.Fatalf("status: %v", err)
		}
		if len(status.Jobs) == 1 && status.Jobs[0].State.Kind == job.Finished {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached Finished: %+v", status.Jobs)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEndToEndKillRunningJobTerminatesWorkerPush(t *testing.T) {
	s := server.New()
	client := dialServer(t, s)
	worker := dialServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var enqueued server.EnqueueReply
	if err := client.Call(ctx, "enqueue", server.EnqueueRequest{
		Request: job.Request{Name: "sleep", Command: "sleep", Args: []string{"30"}},
	}, &enqueued); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var dispatched server.RequestJobReply
	if err := worker.Call(ctx, "request-job", server.RequestJobRequest{WorkerID: "w1"}, &dispatched); err != nil {
		t.Fatalf("request-job: %v", err)
	}

	terminated := make(chan server.TerminatePush, 1)
	worker.OnPush("terminate", func(payload json.RawMessage) {
		var p server.TerminatePush
		if err := json.Unmarshal(payload, &p); err == nil {
			terminated <- p
		}
	})

	var killed server.KillReply
	if err := client.Call(ctx, "kill", server.KillRequest{Filter: "id:0"}, &killed); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if len(killed.Jobs) != 1 || killed.Jobs[0].State.Kind != job.Killed {
		t.Fatalf("kill reply = %+v, want one Killed job", killed.Jobs)
	}

	select {
	case p := <-terminated:
		if p.JobID != dispatched.Job.ID {
			t.Fatalf("terminate push for job %d, want %d", p.JobID, dispatched.Job.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker never received a terminate push")
	}

	var status server.StatusReply
	if err := client.Call(ctx, "status", server.StatusRequest{Filter: "id:0"}, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Jobs) != 1 || status.Jobs[0].State.Kind != job.Killed {
		t.Fatalf("status after kill = %+v, want Killed", status.Jobs)
	}
}
