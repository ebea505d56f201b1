package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"tpar/rpc"
	"tpar/server"
)

const dialTimeout = 5 * time.Second

// dialClient connects to a dispatcher at addr and completes the
// discovery handshake before handing back the ready connection.
func dialClient(addr string) (*rpc.Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w (is the server running?)", addr, err)
	}
	conn := rpc.New(nc)
	go conn.Serve()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	var hello server.HelloReply
	if err := conn.Call(ctx, "hello", server.HelloRequest{ClientKind: "client"}, &hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	return conn, nil
}
