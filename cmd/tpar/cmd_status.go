package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"tpar/job"
	"tpar/rpc"
	"tpar/server"
)

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	host, port := hostPortFlags(fs)
	verbose := fs.Bool("v", false, "print each job's full state, not just a summary line")
	fs.BoolVar(verbose, "verbose", false, "alias for -v")
	watch := fs.Bool("w", false, "repeat the query every second until interrupted")
	fs.BoolVar(watch, "watch", false, "alias for -w")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filterExpr := strings.Join(fs.Args(), " ")

	conn, err := dialClient(fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		if err := printStatus(conn, filterExpr, *verbose); err != nil {
			return err
		}
		if !*watch {
			return nil
		}
		time.Sleep(time.Second)
	}
}

func printStatus(conn *rpc.Conn, filterExpr string, verbose bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	var reply server.StatusReply
	if err := conn.Call(ctx, "status", server.StatusRequest{Filter: filterExpr}, &reply); err != nil {
		return err
	}
	sort.Slice(reply.Jobs, func(i, j int) bool { return reply.Jobs[i].ID < reply.Jobs[j].ID })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tNAME\tCOMMAND")
	for _, j := range reply.Jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", j.ID, j.State.Kind, j.Request.Name, commandLine(j.Request))
	}
	w.Flush()

	if verbose {
		for _, j := range reply.Jobs {
			printJobDetail(j)
		}
	}
	return nil
}

func commandLine(r job.Request) string {
	return strings.Join(append([]string{r.Command}, r.Args...), " ")
}

func printJobDetail(j job.Job) {
	fmt.Printf("\njob %d (%s):\n", j.ID, j.Request.Name)
	fmt.Printf("  state:     %s\n", j.State.Kind)
	fmt.Printf("  command:   %s\n", commandLine(j.Request))
	fmt.Printf("  dir:       %s\n", j.Request.Dir)
	fmt.Printf("  priority:  %d\n", j.Request.Priority)
	fmt.Printf("  sink:      %s\n", j.Sink.Kind)
	switch j.State.Kind {
	case job.Running:
		fmt.Printf("  worker:    %s\n", j.State.WorkerID)
		fmt.Printf("  started:   %s\n", j.State.StartTime)
	case job.Finished:
		fmt.Printf("  exit code: %d\n", j.State.ExitCode)
		fmt.Printf("  finished:  %s\n", j.State.FinishTime)
	case job.Failed:
		fmt.Printf("  error:     %s\n", j.State.ErrorMsg)
		fmt.Printf("  failed:    %s\n", j.State.FailedTime)
	case job.Killed:
		fmt.Printf("  killed:    %s\n", j.State.KilledTime)
	}
}
