package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tpar/worker"
)

// reconnectFlag implements flag.Value with an optional value: bare
// -r/--reconnect enables reconnecting with worker.DefaultReconnectDelay,
// while -r=15 (or -reconnect=15) overrides the delay to 15 seconds.
// IsBoolFlag lets the flag package accept the bare form; as with any
// boolean flag, a separate argument after a bare -r is not read as its
// value, so the delay must be joined with "=".
type reconnectFlag struct {
	enabled bool
	delay   time.Duration
}

func (f *reconnectFlag) String() string {
	if !f.enabled {
		return "false"
	}
	return f.delay.String()
}

func (f *reconnectFlag) IsBoolFlag() bool { return true }

func (f *reconnectFlag) Set(s string) error {
	if s == "" || s == "true" {
		f.enabled = true
		f.delay = worker.DefaultReconnectDelay
		return nil
	}
	if s == "false" {
		f.enabled = false
		return nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid reconnect seconds %q: %w", s, err)
	}
	f.enabled = true
	f.delay = time.Duration(secs) * time.Second
	return nil
}

func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	host, port := hostPortFlags(fs)
	count := fs.Int("N", 1, "number of workers to run")
	reconnect := &reconnectFlag{}
	fs.Var(reconnect, "r", "reconnect if the connection to the dispatcher drops, optionally with a delay in seconds")
	fs.Var(reconnect, "reconnect", "alias for -r")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 1 {
		return fmt.Errorf("worker: -N must be >= 1")
	}

	addr := fmt.Sprintf("%s:%d", *host, *port)
	delay := time.Duration(0)
	if reconnect.enabled {
		delay = reconnect.delay
	}

	ctx := context.Background()
	errs := make(chan error, *count)
	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- worker.Run(ctx, addr, delay)
		}()
	}
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
