package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"

	"tpar/server"
	"tpar/worker"
)

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	host := fs.String("H", "localhost", "host to listen on")
	port := fs.Int("p", 5757, "port to listen on")
	count := fs.Int("N", 0, "number of local workers to start alongside the dispatcher")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 0 {
		return fmt.Errorf("server: -N must be >= 0")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		return err
	}
	defer ln.Close()

	s := server.New()
	log.Printf("tpar: server %s listening on %s", s.ID, ln.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < *count; i++ {
		go func() {
			if err := worker.Run(ctx, ln.Addr().String(), worker.DefaultReconnectDelay); err != nil && ctx.Err() == nil {
				log.Printf("tpar: local worker exited: %v", err)
			}
		}()
	}

	return s.Serve(ln)
}
