package main

import (
	"context"
	"flag"
	"fmt"

	"tpar/job"
	"tpar/server"
)

func runEnqueue(args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	host, port := hostPortFlags(fs)
	name := fs.String("n", "", "job name")
	fs.StringVar(name, "name", "", "alias for -n")
	dir := fs.String("d", ".", "working directory")
	fs.StringVar(dir, "directory", ".", "alias for -d")
	priority := fs.Int("P", 0, "priority; smaller values are dispatched first")
	fs.IntVar(priority, "priority", 0, "alias for -P")
	stdout := fs.String("o", "", "file to write stdout to")
	stderr := fs.String("e", "", "file to write stderr to")
	stream := fs.Bool("s", false, "make output available to `tpar logs` instead of writing it to files")
	fs.BoolVar(stream, "stream", false, "alias for -s")
	watch := fs.Bool("w", false, "stream output to this terminal and exit with the job's exit code")
	fs.BoolVar(watch, "watch", false, "alias for -w")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("enqueue: missing command (flags must precede it)")
	}

	req := job.Request{
		Name:     *name,
		Priority: job.Priority(*priority),
		Command:  rest[0],
		Args:     rest[1:],
		Dir:      *dir,
	}
	sink := outputSink(*stdout, *stderr)
	if *stream || *watch {
		sink = job.Remote("")
	}

	conn, err := dialClient(fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	var reply server.EnqueueReply
	err = conn.Call(ctx, "enqueue", server.EnqueueRequest{Request: req, Sink: sink}, &reply)
	cancel()
	if err != nil {
		return err
	}

	if !*watch {
		fmt.Printf("enqueued job %d\n", reply.Job.ID)
		return nil
	}
	return followStream(context.Background(), conn, reply.Job.ID)
}

// outputSink builds the Sink an enqueue's -o/-e flags describe: no sink
// if neither was given, a shared file if only one was, else two.
func outputSink(stdout, stderr string) job.Sink {
	if stdout == "" && stderr == "" {
		return job.Sink{}
	}
	if stdout == "" {
		stdout = stderr
	}
	if stderr == "" {
		stderr = stdout
	}
	return job.Files(stdout, stderr)
}
