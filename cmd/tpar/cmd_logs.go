package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"tpar/job"
)

// runLogs follows a job's remote output stream, the sink an enqueue's
// -s/--stream flag selects. It prints each line as it arrives and exits
// once the stream reaches Done or Failed, propagating the job's final
// exit code as the process's own.
func runLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	host, port := hostPortFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("logs: usage: tpar logs [flags] <job-id>")
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("logs: invalid job id %q: %w", rest[0], err)
	}
	jobID := job.ID(id)

	conn, err := dialClient(fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		return err
	}
	defer conn.Close()

	return followStream(context.Background(), conn, jobID)
}
