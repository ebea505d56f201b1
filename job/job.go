// Package job defines the data model shared by the server, workers and
// clients: the job record, its request, its output sink and its lifecycle
// state.
package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// ID identifies a job for the lifetime of the server process.
// It is allocated by the server's fresh-id counter and never reused.
type ID int64

// Priority orders queued jobs. Smaller values are dispatched first; ties
// are broken by the older (smaller) ID.
type Priority int

// Request is the immutable submission record a client sends to enqueue a
// job. Two requests with the same fields describe the same unit of work;
// Request itself carries no identity.
type Request struct {
	Name       string            `json:"name"`
	Priority   Priority          `json:"priority"`
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Dir        string            `json:"dir"`
	Env        map[string]string `json:"env,omitempty"`
}

// NormalizeDefaults fills in the defaults an omitted name or working
// directory gets.
func (r *Request) NormalizeDefaults() {
	if r.Name == "" {
		r.Name = "unnamed-job"
	}
	if r.Dir == "" {
		r.Dir = "."
	}
}

// SinkKind tags the variant of an OutputSink.
type SinkKind int

const (
	NoOutput SinkKind = iota
	ToFiles
	ToRemoteSink
)

func (k SinkKind) String() string {
	switch k {
	case NoOutput:
		return "none"
	case ToFiles:
		return "files"
	case ToRemoteSink:
		return "remote"
	default:
		return "unknown"
	}
}

// Sink describes where a job's combined child output must be delivered.
// Only the fields relevant to Kind are meaningful.
type Sink struct {
	Kind       SinkKind `json:"kind"`
	StdoutPath string   `json:"stdout_path,omitempty"`
	StderrPath string   `json:"stderr_path,omitempty"`
	// StreamID is carried on the wire for a ToRemoteSink sink but is
	// not read by the server, which keys each job's remote-output stream
	// by the job's ID. A rerun of a ToRemoteSink job gets no sink at all.
	StreamID string `json:"stream_id,omitempty"`
}

// Files builds a Sink that writes stdout/stderr to the given paths. If the
// paths are equal a single file is shared by both streams.
func Files(stdoutPath, stderrPath string) Sink {
	return Sink{Kind: ToFiles, StdoutPath: stdoutPath, StderrPath: stderrPath}
}

// Remote builds a ToRemoteSink Sink, whose output the server fans out to
// subscribers of the job's stream; streamID is stored as-is.
func Remote(streamID string) Sink {
	return Sink{Kind: ToRemoteSink, StreamID: streamID}
}

// StateKind tags the variant of a State.
type StateKind int

const (
	Queued StateKind = iota
	Running
	Finished
	Failed
	Killed
)

func (k StateKind) String() string {
	switch k {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// ParseStateKind parses the lowercase names used by the filter language and
// the CLI's pretty printer.
func ParseStateKind(s string) (StateKind, error) {
	switch s {
	case "queued":
		return Queued, nil
	case "running":
		return Running, nil
	case "finished":
		return Finished, nil
	case "failed":
		return Failed, nil
	case "killed":
		return Killed, nil
	}
	return 0, fmt.Errorf("unknown job state: %q", s)
}

// Terminal reports whether the kind is one of the three states a job
// never leaves once reached.
func (k StateKind) Terminal() bool {
	return k == Finished || k == Failed || k == Killed
}

// State is the job's current lifecycle state, a tagged union over
// StateKind. Only the fields relevant to Kind are meaningful.
type State struct {
	Kind StateKind `json:"kind"`

	QueueTime time.Time `json:"queue_time,omitempty"`

	WorkerID  string    `json:"worker_id,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`

	ExitCode   int       `json:"exit_code,omitempty"`
	FinishTime time.Time `json:"finish_time,omitempty"`

	ErrorMsg   string    `json:"error_msg,omitempty"`
	FailedTime time.Time `json:"failed_time,omitempty"`

	KilledTime time.Time `json:"killed_time,omitempty"`
}

// QueuedState builds a State{Kind: Queued} stamped with now.
func QueuedState(now time.Time) State { return State{Kind: Queued, QueueTime: now} }

// RunningState builds a State{Kind: Running} for the given worker.
func RunningState(workerID string, now time.Time) State {
	return State{Kind: Running, WorkerID: workerID, StartTime: now}
}

// FinishedState builds a State{Kind: Finished} carrying the exit code.
func FinishedState(exitCode int, now time.Time) State {
	return State{Kind: Finished, ExitCode: exitCode, FinishTime: now}
}

// FailedState builds a State{Kind: Failed} carrying the failure reason.
func FailedState(reason string, now time.Time) State {
	return State{Kind: Failed, ErrorMsg: reason, FailedTime: now}
}

// KilledState builds a State{Kind: Killed}.
func KilledState(now time.Time) State {
	return State{Kind: Killed, KilledTime: now}
}

// CanTransitionTo reports whether moving from the receiver's Kind to
// `to` is a legal state-machine edge. It does not check the payload,
// only the transition itself.
func (s State) CanTransitionTo(to StateKind) bool {
	switch s.Kind {
	case Queued:
		return to == Running || to == Killed
	case Running:
		return to == Finished || to == Failed || to == Killed
	default:
		return false
	}
}

// Job aggregates an ID, its immutable Request and Sink, and its current
// State. The Request and Sink are set at creation and never mutated; State
// transitions happen only inside the queue's atomic region.
type Job struct {
	ID      ID      `json:"id"`
	Request Request `json:"request"`
	Sink    Sink    `json:"sink"`
	State   State   `json:"state"`
}

// Clone returns a deep-enough copy for snapshotting: Request.Args/Env are
// copied so a caller holding the snapshot cannot observe later mutation.
func (j Job) Clone() Job {
	c := j
	if j.Request.Args != nil {
		c.Request.Args = append([]string(nil), j.Request.Args...)
	}
	if j.Request.Env != nil {
		c.Request.Env = make(map[string]string, len(j.Request.Env))
		for k, v := range j.Request.Env {
			c.Request.Env[k] = v
		}
	}
	return c
}

// MarshalJSON renders the state's Kind as its lowercase name alongside
// the numeric job fields, projecting the enum onto its String() form
// for wire/CLI consumption.
func (j Job) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID      ID       `json:"id"`
		Request Request  `json:"request"`
		Sink    Sink     `json:"sink"`
		State   State    `json:"state"`
		Status  string   `json:"status"`
	}
	return json.Marshal(wire{
		ID:      j.ID,
		Request: j.Request,
		Sink:    j.Sink,
		State:   j.State,
		Status:  j.State.Kind.String(),
	})
}
