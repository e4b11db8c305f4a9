// Package stager holds the plugin's staging queue: signature requests
// that a daemon RPC handler deposited, waiting for a device's HSM stream
// to pick them up and resolve them. A single mutex guards the pending
// map; fan-out to subscribed HSM streams happens over per-subscriber
// channels rather than a single shared broadcast channel, since the
// standard library has no broadcast-channel primitive.
package stager

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Request is a staged HSM request awaiting a signature from a device.
type Request struct {
	ID  uint32
	Raw []byte
}

// Response is the signed reply a device stream sends back for a Request.
type Response struct {
	ID  uint32
	Raw []byte
}

// stickyPrefix marks a request as a type-5 ("sticky"/reconnect-class)
// request, per the wire tag convention used by IsStuck.
var stickyPrefix = []byte{0, 5}

type pending struct {
	request Request
	respond chan Response
}

// Stage is the plugin's pending-HSM-request queue. It is shared by every
// daemon-facing RPC handler (producers, via Send) and every device HSM
// stream (consumers, via Subscribe).
type Stage struct {
	mu             sync.Mutex
	table          map[uint32]*pending
	subscribers    map[uuid.UUID]chan Request
	hsmConnections atomic.Int64
}

// New returns an empty staging queue.
func New() *Stage {
	return &Stage{
		table:       make(map[uint32]*pending),
		subscribers: make(map[uuid.UUID]chan Request),
	}
}

// Send stages req and fans it out to every currently-subscribed stream,
// returning a channel that receives exactly one Response once some stream
// resolves it.
func (s *Stage) Send(req Request) <-chan Response {
	s.mu.Lock()
	p := &pending{request: req, respond: make(chan Response, 1)}
	s.table[req.ID] = p

	for _, ch := range s.subscribers {
		select {
		case ch <- req:
		default:
			// A slow subscriber does not block staging and does not get
			// this request on its channel. The request stays pending until
			// resolved, so the backlog of a later Subscribe (as made when
			// the signer reattaches) includes it.
		}
	}
	s.mu.Unlock()

	return p.respond
}

// Respond resolves the staged request identified by id. A response for an
// id with no matching entry is logged by the caller as a duplicate
// resolution, not treated as an error — two HSM streams can race to
// resolve the same backlog entry after a reconnect.
func (s *Stage) Respond(resp Response) (found bool) {
	s.mu.Lock()
	p, ok := s.table[resp.ID]
	if ok {
		delete(s.table, resp.ID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	p.respond <- resp
	return true
}

// IsStuck reports whether any currently-pending request is a type-5
// ("sticky") request — an operational signal that the staging queue has
// requests that only resolve on a specific long-lived connection.
func (s *Stage) IsStuck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.table {
		if bytes.HasPrefix(p.request.Raw, stickyPrefix) {
			return true
		}
	}
	return false
}

// HsmConnections reports how many device HSM streams currently hold a
// subscription.
func (s *Stage) HsmConnections() int64 {
	return s.hsmConnections.Load()
}

// Stream is a live view of the staging queue from one device HSM
// connection's perspective: a backlog of everything pending at
// subscribe-time, followed by anything newly staged afterward.
type Stream struct {
	stage   *Stage
	id      uuid.UUID
	backlog []Request
	ch      chan Request
	closed  bool
}

// Subscribe attaches a new stream to the stage, snapshotting the current
// backlog and incrementing the connection count.
func (s *Stage) Subscribe() *Stream {
	s.mu.Lock()
	backlog := make([]Request, 0, len(s.table))
	for _, p := range s.table {
		backlog = append(backlog, p.request)
	}
	id := uuid.New()
	ch := make(chan Request, 64)
	s.subscribers[id] = ch
	s.mu.Unlock()

	s.hsmConnections.Add(1)
	return &Stream{stage: s, id: id, backlog: backlog, ch: ch}
}

// Next blocks until a request is available, draining the backlog first,
// or until ctx is done.
func (st *Stream) Next(ctx context.Context) (Request, bool) {
	if len(st.backlog) > 0 {
		req := st.backlog[0]
		st.backlog = st.backlog[1:]
		return req, true
	}
	select {
	case req, ok := <-st.ch:
		return req, ok
	case <-ctx.Done():
		return Request{}, false
	}
}

// Close detaches the stream from the stage and decrements the connection
// count. Safe to call more than once.
func (st *Stream) Close() {
	if st.closed {
		return
	}
	st.closed = true

	st.stage.mu.Lock()
	delete(st.stage.subscribers, st.id)
	st.stage.mu.Unlock()

	st.stage.hsmConnections.Add(-1)
}
