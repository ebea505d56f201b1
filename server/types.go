package server

import (
	"tpar/job"
	"tpar/procrunner"
)

// HelloRequest is the discovery handshake's first frame: the client
// declares what kind of peer it is so log lines and future protocol
// negotiation have somewhere to hang.
type HelloRequest struct {
	ClientKind string `json:"client_kind"` // "client", "worker"
}

// HelloReply answers the handshake with the server's identity and
// protocol version.
type HelloReply struct {
	ServerID        string `json:"server_id"`
	ProtocolVersion int    `json:"protocol_version"`
}

// EnqueueRequest is the enqueue RPC's argument.
type EnqueueRequest struct {
	Request job.Request `json:"request"`
	Sink    job.Sink    `json:"sink"`
}

// EnqueueReply carries the freshly allocated job.
type EnqueueReply struct {
	Job job.Job `json:"job"`
}

// RequestJobRequest is the worker's argument to the request-job RPC.
type RequestJobRequest struct {
	WorkerID string `json:"worker_id"`
}

// RequestJobReply hands the worker the job to run.
type RequestJobReply struct {
	Job job.Job `json:"job"`
}

// ReportExitRequest is how a worker reports the result of running a job's
// command back to the per-job supervisor waiting on it. ExitCode is
// meaningless when SpawnErr is set.
type ReportExitRequest struct {
	JobID    job.ID `json:"job_id"`
	ExitCode int    `json:"exit_code"`
	SpawnErr string `json:"spawn_err,omitempty"`
}

// ReportExitReply is an empty acknowledgement.
type ReportExitReply struct{}

// StatusRequest carries the raw JobMatch filter expression.
type StatusRequest struct {
	Filter string `json:"filter"`
}

// StatusReply is the unordered snapshot the status RPC returns.
type StatusReply struct {
	Jobs []job.Job `json:"jobs"`
}

// KillRequest carries the mandatory filter expression.
type KillRequest struct {
	Filter string `json:"filter"`
}

// KillReply lists the jobs that are now Killed.
type KillReply struct {
	Jobs []job.Job `json:"jobs"`
}

// RerunRequest carries the mandatory filter expression.
type RerunRequest struct {
	Filter string `json:"filter"`
}

// RerunReply lists the freshly created jobs.
type RerunReply struct {
	Jobs []job.Job `json:"jobs"`
}

// SubscribeRequest asks to join a running job's output stream.
type SubscribeRequest struct {
	JobID job.ID `json:"job_id"`
}

// SubscribeReply reports whether the subscription was registered.
// Terminated is set when the stream had already finished before the
// subscription could be confirmed.
type SubscribeReply struct {
	Subscribed bool `json:"subscribed"`
	Terminated bool `json:"terminated"`
}

// StreamItemPush is what the server Pushes down a subscribing client's
// connection for each element of the job's output, and finally once more
// to carry the terminal Done/Failed.
type StreamItemPush struct {
	JobID   job.ID            `json:"job_id"`
	Chunk   *procrunner.Chunk `json:"chunk,omitempty"`
	Done    bool              `json:"done,omitempty"`
	Failed  bool              `json:"failed,omitempty"`
	FailMsg string            `json:"fail_msg,omitempty"`
}

// PublishChunkPush is what a worker Pushes to the server for each line of
// output belonging to a job whose sink is ToRemoteSink.
type PublishChunkPush struct {
	JobID job.ID           `json:"job_id"`
	Chunk procrunner.Chunk `json:"chunk"`
}

// PublishEndPush tells the server the worker has no more output to
// publish for the job, and whether it ended in error.
type PublishEndPush struct {
	JobID   job.ID `json:"job_id"`
	Failed  bool   `json:"failed"`
	FailMsg string `json:"fail_msg,omitempty"`
}

// TerminatePush is the out-of-band signal the server sends to the worker
// holding a job when that job is killed.
type TerminatePush struct {
	JobID job.ID `json:"job_id"`
}
