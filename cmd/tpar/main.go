// Command tpar is the client/server/worker entry point: one binary that
// either starts a dispatcher (server), joins it to run jobs (worker),
// or talks to a running dispatcher (enqueue/status/kill/rerun/logs).
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "server":
		err = runServer(os.Args[2:])
	case "worker":
		err = runWorker(os.Args[2:])
	case "enqueue":
		err = runEnqueue(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "kill":
		err = runKill(os.Args[2:])
	case "rerun":
		err = runRerun(os.Args[2:])
	case "logs":
		err = runLogs(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "tpar:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tpar <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands: server, worker, enqueue, status, kill, rerun, logs")
}

// hostPortFlags registers the -H/--host and -p/--port flags every
// subcommand that talks to a dispatcher shares, both names sharing one
// underlying variable.
func hostPortFlags(fs *flag.FlagSet) (host *string, port *int) {
	host = new(string)
	port = new(int)
	fs.StringVar(host, "H", "localhost", "dispatcher host")
	fs.StringVar(host, "host", "localhost", "alias for -H")
	fs.IntVar(port, "p", 5757, "dispatcher port")
	fs.IntVar(port, "port", 5757, "alias for -p")
	return host, port
}
