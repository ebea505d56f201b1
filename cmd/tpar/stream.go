package main

import (
	"context"
	"encoding/json"
	"fmt"

	"tpar/job"
	"tpar/rpc"
	"tpar/server"
)

// exitCodeError lets main propagate a job's own exit code as the CLI
// process's exit code instead of the generic failure code every other
// error maps to.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("job exited with code %d", e.code)
}

// followStream subscribes to jobID's remote output stream on conn,
// prints each line as it arrives, and blocks until the stream reaches
// its terminal item. A Failed item is returned as an error straight
// away. After a Done item (or if the stream had already ended) it looks
// the job up by status to learn its final state, since the stream's own
// Done item doesn't carry an exit code, and returns what finalResult
// makes of it: a non-zero exit code comes back as an *exitCodeError so
// callers that want the child's exit code propagated (enqueue -w) can
// recognize it.
func followStream(ctx context.Context, conn *rpc.Conn, jobID job.ID) error {
	done := make(chan error, 1)
	conn.OnPush("stream-item", func(payload json.RawMessage) {
		var item server.StreamItemPush
		if err := json.Unmarshal(payload, &item); err != nil {
			return
		}
		if item.JobID != jobID {
			return
		}
		switch {
		case item.Chunk != nil:
			fmt.Println(string(item.Chunk.Line))
		case item.Done:
			done <- nil
		case item.Failed:
			done <- fmt.Errorf("stream failed: %s", item.FailMsg)
		}
	})

	callCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	var sub server.SubscribeReply
	err := conn.Call(callCtx, "subscribe-output", server.SubscribeRequest{JobID: jobID}, &sub)
	cancel()
	if err != nil {
		return err
	}
	if sub.Terminated {
		return finalResult(ctx, conn, jobID)
	}
	if !sub.Subscribed {
		return fmt.Errorf("job %d has no remote output stream", jobID)
	}

	if err := <-done; err != nil {
		return err
	}
	return finalResult(ctx, conn, jobID)
}

// finalResult fetches jobID's current state via the status RPC and
// turns it into the appropriate error for a watching client: nil for a
// clean exit, *exitCodeError for a non-zero exit, or a plain error for
// Failed/Killed (neither of which has a meaningful exit code).
func finalResult(ctx context.Context, conn *rpc.Conn, jobID job.ID) error {
	callCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	var reply server.StatusReply
	err := conn.Call(callCtx, "status", server.StatusRequest{Filter: fmt.Sprintf("id:%d", jobID)}, &reply)
	cancel()
	if err != nil {
		return err
	}
	if len(reply.Jobs) == 0 {
		return fmt.Errorf("job %d vanished", jobID)
	}
	j := reply.Jobs[0]
	switch j.State.Kind {
	case job.Finished:
		if j.State.ExitCode != 0 {
			return &exitCodeError{code: j.State.ExitCode}
		}
		return nil
	case job.Failed:
		return fmt.Errorf("job %d failed: %s", jobID, j.State.ErrorMsg)
	case job.Killed:
		return fmt.Errorf("job %d was killed", jobID)
	default:
		return fmt.Errorf("job %d ended in unexpected state %v", jobID, j.State.Kind)
	}
}
