// Package rpc implements a typed RPC primitive on top of package
// codec's framed connection: a caller handle that blocks until a
// correlated reply arrives, and a server-side matcher that delivers
// calls to a handler either synchronously or via an explicit reply
// function the handler may invoke later from another goroutine.
//
// It also carries unsolicited Push messages in both directions, which
// is how an out-of-band terminate signal reaches a worker whose
// connection is otherwise idle while it runs a job's child process.
//
// The call/reply shape generalizes a one-shot dial-per-call pattern
// (one request, one reply) into calls multiplexed, by a fresh
// correlation id, over one long-lived framed connection.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/xid"

	"tpar/codec"
)

// Frame tags distinguish the three message shapes multiplexed over a
// connection: a call awaiting a reply, the reply itself, and a push that
// expects none.
const (
	tagCall  codec.Tag = 1
	tagReply codec.Tag = 2
	tagPush  codec.Tag = 3
)

type callEnvelope struct {
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

type replyEnvelope struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type pushEnvelope struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

// SyncHandler answers a call synchronously: its return value becomes
// the reply.
type SyncHandler func(payload json.RawMessage) (interface{}, error)

// Reply is the one-shot function a deferred handler calls to send its
// answer; calling it more than once after the first call is a no-op.
type Reply func(result interface{}, err error)

// AsyncHandler receives the reply function explicitly and may call it
// from any goroutine, at any later time. Useful for a call like
// request-job whose reply may not be ready for a long time (the queue
// may be empty).
type AsyncHandler func(payload json.RawMessage, reply Reply)

// PushHandler receives an unsolicited message with no reply expected.
type PushHandler func(payload json.RawMessage)

// Conn is one framed, bidirectional, multiplexed RPC connection. A single
// reader goroutine demultiplexes incoming frames to pending calls,
// registered handlers, or push handlers; callers and handlers may write
// concurrently, serialized by writeMu.
type Conn struct {
	nc net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan replyEnvelope

	handlersMu    sync.Mutex
	syncHandlers  map[string]SyncHandler
	asyncHandlers map[string]AsyncHandler
	pushHandlers  map[string]PushHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps an established net.Conn. The caller must call Serve to start
// the reader goroutine before any Call, Handle or Push takes effect.
func New(nc net.Conn) *Conn {
	return &Conn{
		nc:            nc,
		pending:       make(map[string]chan replyEnvelope),
		syncHandlers:  make(map[string]SyncHandler),
		asyncHandlers: make(map[string]AsyncHandler),
		pushHandlers:  make(map[string]PushHandler),
		closed:        make(chan struct{}),
	}
}

// HandleSync registers a synchronous handler for method.
func (c *Conn) HandleSync(method string, h SyncHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.syncHandlers[method] = h
}

// HandleAsync registers a deferred-reply handler for method.
func (c *Conn) HandleAsync(method string, h AsyncHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.asyncHandlers[method] = h
}

// OnPush registers a handler for unsolicited pushes of the given method.
func (c *Conn) OnPush(method string, h PushHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.pushHandlers[method] = h
}

// Closed reports whether the connection's reader loop has exited; a
// caller blocked on Call observes this if the peer dies before
// replying.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Serve runs the reader loop until the connection is closed or a
// frame/decode error occurs, which is fatal for this connection: it
// returns that error and the connection is dropped.
func (c *Conn) Serve() error {
	defer c.shutdown()
	for {
		msg, err := codec.ReadFrame(c.nc)
		if err != nil {
			return err
		}
		switch msg.Tag {
		case tagCall:
			var env callEnvelope
			if err := codec.Unmarshal(msg, &env); err != nil {
				return err
			}
			c.dispatchCall(env)
		case tagReply:
			var env replyEnvelope
			if err := codec.Unmarshal(msg, &env); err != nil {
				return err
			}
			c.dispatchReply(env)
		case tagPush:
			var env pushEnvelope
			if err := codec.Unmarshal(msg, &env); err != nil {
				return err
			}
			c.dispatchPush(env)
		default:
			return fmt.Errorf("rpc: unknown frame tag %v", msg.Tag)
		}
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
}

func (c *Conn) dispatchCall(env callEnvelope) {
	c.handlersMu.Lock()
	sh, hasSync := c.syncHandlers[env.Method]
	ah, hasAsync := c.asyncHandlers[env.Method]
	c.handlersMu.Unlock()

	reply := func(result interface{}, err error) {
		out := replyEnvelope{ID: env.ID, OK: err == nil}
		if err != nil {
			out.Error = err.Error()
		} else if result != nil {
			body, merr := json.Marshal(result)
			if merr != nil {
				out.OK = false
				out.Error = merr.Error()
			} else {
				out.Payload = body
			}
		}
		_ = c.writeFrame(tagReply, out)
	}

	switch {
	case hasAsync:
		ah(env.Payload, once(reply))
	case hasSync:
		go func() {
			result, err := sh(env.Payload)
			reply(result, err)
		}()
	default:
		reply(nil, fmt.Errorf("rpc: no handler for method %q", env.Method))
	}
}

// once wraps reply so a handler that calls it more than once (by
// mistake) doesn't send a second frame; only the first call is ever
// delivered.
func once(reply Reply) Reply {
	var done sync.Once
	return func(result interface{}, err error) {
		done.Do(func() { reply(result, err) })
	}
}

func (c *Conn) dispatchReply(env replyEnvelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- env
		close(ch)
	}
}

func (c *Conn) dispatchPush(env pushEnvelope) {
	c.handlersMu.Lock()
	h, ok := c.pushHandlers[env.Method]
	c.handlersMu.Unlock()
	if ok {
		h(env.Payload)
	}
}

func (c *Conn) writeFrame(tag codec.Tag, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return codec.WriteFrame(c.nc, tag, v)
}

// Call sends method(req) and blocks until the correlated reply arrives,
// ctx is cancelled, or the connection closes. reply is decoded into out
// (which may be nil if the caller doesn't care about the result shape).
func (c *Conn) Call(ctx context.Context, method string, req interface{}, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}
	id := xid.New().String()
	ch := make(chan replyEnvelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeFrame(tagCall, callEnvelope{ID: id, Method: method, Payload: body}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return err
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return io.ErrClosedPipe
		}
		if !env.OK {
			return fmt.Errorf("rpc: %s", env.Error)
		}
		if out != nil && len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, out); err != nil {
				return fmt.Errorf("rpc: decode reply: %w", err)
			}
		}
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push sends an unsolicited, reply-less message.
func (c *Conn) Push(method string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rpc: marshal push: %w", err)
	}
	return c.writeFrame(tagPush, pushEnvelope{Method: method, Payload: body})
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
