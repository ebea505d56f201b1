package worker

import (
	"context"

	"tpar/job"
	"tpar/procrunner"
)

// SSHRunner is a seam for running a job's command on a remote host over
// SSH instead of the local procrunner.Run. Dialing, authentication and
// remote stdout/stderr plumbing would need golang.org/x/crypto/ssh, but
// nothing in the retrieved corpus exercises an SSH transport to ground
// an implementation on, so this stays a marked stub rather than
// invented code.
type SSHRunner struct {
	Addr string
	User string
}

// Run is unimplemented; it exists so callers have a concrete type to
// wire in once an SSH-backed runner is grounded on real reference code.
func (SSHRunner) Run(ctx context.Context, req job.Request) *procrunner.Handle {
	panic("worker: SSHRunner is an unimplemented seam")
}
