package server

import (
	"encoding/json"
	"log"
	"sync"

	"tpar/job"
	"tpar/procrunner"
	"tpar/rpc"
	"tpar/subpub"
)

// remoteStream bridges a worker pushing chunks for one job's output and
// a subpub.SubPub fanning those chunks out to every client that has
// subscribed. feed is what the worker's publish-output push sends on,
// in the order the pushes arrive; the producer closure handed to
// subpub.FromProducer is the only reader of feed, so it relays chunks
// into subpub in that same order. stopped lets finish end the stream
// without ever closing feed out from under a concurrent sender — only
// the producer closure's own select ever treats feed as exhausted.
type remoteStream struct {
	sp      *subpub.SubPub[procrunner.Chunk]
	feed    chan procrunner.Chunk
	feedErr chan error
	stopped chan struct{}
	once    sync.Once
}

func (rs *remoteStream) finish(err error) {
	rs.once.Do(func() {
		rs.feedErr <- err
		close(rs.stopped)
	})
}

// sendChunk hands one chunk to the stream's single producer goroutine,
// preserving the order pushes arrived in since it is always called from
// the owning connection's reader goroutine, one push at a time. It
// gives up silently once the stream has been told to stop.
func (rs *remoteStream) sendChunk(c procrunner.Chunk) {
	select {
	case rs.feed <- c:
	case <-rs.stopped:
	}
}

// createStream registers a fresh remoteStream for id, to be fed by
// whichever worker picks up the job and published via the publish-
// output/publish-end pushes on that worker's connection.
func (s *Server) createStream(id job.ID) *remoteStream {
	rs := &remoteStream{
		feed:    make(chan procrunner.Chunk),
		feedErr: make(chan error, 1),
		stopped: make(chan struct{}),
	}
	rs.sp, _ = subpub.FromProducer(func(out chan<- procrunner.Chunk) error {
		for {
			select {
			case c := <-rs.feed:
				out <- c
			case <-rs.stopped:
				return <-rs.feedErr
			}
		}
	})
	s.streamsMu.Lock()
	s.streams[id] = rs
	s.streamsMu.Unlock()
	return rs
}

func (s *Server) finishStream(id job.ID, err error) {
	s.streamsMu.Lock()
	rs, ok := s.streams[id]
	s.streamsMu.Unlock()
	if !ok {
		return
	}
	rs.finish(err)
}

// handlePublishOutput relays one line of a job's output from the
// worker running it into the job's remote stream, if it has one, in the
// order the pushes arrive on this connection: it runs synchronously on
// the connection's own reader goroutine, so sendChunk's blocking send
// can never reorder against a later push on the same connection.
func (s *Server) handlePublishOutput(payload json.RawMessage) {
	var msg PublishChunkPush
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("server: bad publish-output push: %v", err)
		return
	}
	s.streamsMu.Lock()
	rs, ok := s.streams[msg.JobID]
	s.streamsMu.Unlock()
	if !ok {
		return
	}
	rs.sendChunk(msg.Chunk)
}

// handlePublishEnd finalizes a job's remote stream once its worker has
// no more output to send.
func (s *Server) handlePublishEnd(payload json.RawMessage) {
	var msg PublishEndPush
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("server: bad publish-end push: %v", err)
		return
	}
	var err error
	if msg.Failed {
		err = errString(msg.FailMsg)
	}
	s.finishStream(msg.JobID, err)
}

type errString string

func (e errString) Error() string { return string(e) }

// dispatchSubscribe joins conn to the named job's output stream. Every
// item subsequently broadcast on the stream, and the single terminal
// Done/Failed item that ends it, is forwarded to conn as a "stream-
// item" push tagged with the job id so one connection can subscribe to
// several jobs at once.
func (s *Server) dispatchSubscribe(conn *rpc.Conn, payload json.RawMessage) (interface{}, error) {
	var req SubscribeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	s.streamsMu.Lock()
	rs, ok := s.streams[req.JobID]
	s.streamsMu.Unlock()
	if !ok {
		return SubscribeReply{Subscribed: false}, nil
	}
	ch, ok := rs.sp.Subscribe()
	if !ok {
		return SubscribeReply{Subscribed: false, Terminated: true}, nil
	}
	go forwardStream(conn, req.JobID, rs.sp, ch)
	return SubscribeReply{Subscribed: true}, nil
}

// forwardStream relays a job's output stream to a subscribing
// connection until the stream ends or the connection can no longer take
// pushes, whichever comes first. On the latter it unsubscribes so the
// fan-out loop, which now delivers every element (including the
// terminator) by blocking send rather than dropping a slow reader, never
// has to wait on a connection that has stopped reading for good.
func forwardStream(conn *rpc.Conn, id job.ID, sp *subpub.SubPub[procrunner.Chunk], ch <-chan subpub.Item[procrunner.Chunk]) {
	for item := range ch {
		push := StreamItemPush{JobID: id}
		switch {
		case item.IsMore:
			c := item.More
			push.Chunk = &c
		case item.Done:
			push.Done = true
		case item.Failed:
			push.Failed = true
			push.FailMsg = item.FailMsg
		}
		if err := conn.Push("stream-item", push); err != nil {
			sp.Unsubscribe(ch)
			return
		}
	}
}
