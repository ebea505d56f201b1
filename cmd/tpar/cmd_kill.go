package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"tpar/server"
)

func runKill(args []string) error {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	host, port := hostPortFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	filterExpr := strings.Join(fs.Args(), " ")
	if filterExpr == "" {
		return fmt.Errorf("kill: a filter expression is required")
	}

	conn, err := dialClient(fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	var reply server.KillReply
	if err := conn.Call(ctx, "kill", server.KillRequest{Filter: filterExpr}, &reply); err != nil {
		return err
	}
	if len(reply.Jobs) == 0 {
		return fmt.Errorf("kill: no jobs matched %q", filterExpr)
	}
	for _, j := range reply.Jobs {
		fmt.Printf("killed job %d\n", j.ID)
	}
	return nil
}
