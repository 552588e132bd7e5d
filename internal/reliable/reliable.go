// Package reliable implements the single reliability mechanism used by both
// roles (spec.md §4.2): at-most-once delivery of a frame, gated on an
// application-level ACK, with a bounded retry schedule.
//
// The rendezvous design generalizes creachadair/chirp's Peer, which keys its
// outbound-call rendezvous by a monotonically increasing integer ID
// (peer.go: ocall map[uint32]pending). Over UDP, the caller and callee do
// not share a connection-scoped ID space the way chirp's stream peers do,
// so Rendezvous keys pending waits by an arbitrary string instead — the
// client always uses a single fixed key (spec.md §3's "at most one
// outstanding ACK ... per logical destination channel"), while the server
// keys by destination address and frame type (plus the group name for
// group_msg fan-outs) so that concurrent broadcasts and group fan-outs do
// not collide (spec.md §9's suggested "add a sequence to metadata and key
// the rendezvous by it", specialized here to destination+type instead of a
// sequence number; a second send under a key that is still in flight gets
// ErrBusy).
package reliable

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/neverchanje/chatapp/internal/wire"
)

// AckTimeout is the time reliable-send waits for a matching reply before
// retransmitting (spec.md §4.2).
const AckTimeout = 500 * time.Millisecond

// MaxAttempts bounds the number of transmissions of a single reliable-send,
// including the first (spec.md §4.2: "Up to 5 total attempts").
const MaxAttempts = 5

// ErrBusy is returned when a reliable-send is requested on a key that
// already has one in flight (spec.md §4.2: "rejected with busy").
var ErrBusy = errors.New("reliable: a send is already in flight for this key")

// ErrTimedOut is returned when all MaxAttempts transmissions elapsed
// without a matching reply (spec.md §4.2: "timed_out").
var ErrTimedOut = errors.New("reliable: timed out waiting for ack")

// Match reports whether an inbound frame, from addr, satisfies the
// ack_predicate of an in-flight reliable-send.
type Match func(f *wire.Frame, addr *net.UDPAddr) bool

// Inbound is a frame/address pair handed from the listener to a waiting
// reliable-send.
type Inbound struct {
	Frame *wire.Frame
	Addr  *net.UDPAddr
}

type waiter struct {
	match Match
	ch    chan *Inbound
}

// Rendezvous is the single-slot-per-key ACK rendezvous shared between a
// role's listener goroutine and the goroutine(s) performing reliable-sends.
// The listener calls Offer for every inbound frame; Send registers and
// releases the waiting slot for its key.
type Rendezvous struct {
	mu      sync.Mutex
	waiting map[string]*waiter
}

// NewRendezvous constructs an empty Rendezvous.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{waiting: make(map[string]*waiter)}
}

// register reserves key for an in-flight reliable-send, returning the
// channel candidate frames will be delivered on.
func (r *Rendezvous) register(key string, match Match) (chan *Inbound, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.waiting[key]; busy {
		return nil, ErrBusy
	}
	ch := make(chan *Inbound, 1)
	r.waiting[key] = &waiter{match: match, ch: ch}
	return ch, nil
}

// release clears the pending-ACK slot for key. It is always called on every
// exit path of Send (ACK, timeout, error) per spec.md §5's resource
// discipline.
func (r *Rendezvous) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, key)
}

// Offer is invoked by the listener loop for every inbound frame. If the
// frame satisfies a currently-awaited predicate, Offer delivers it to the
// waiting reliable-send and reports true, meaning the caller must NOT also
// dispatch the frame to a handler. Delivery never blocks: the channel is
// buffered and each key has exactly one waiter.
func (r *Rendezvous) Offer(f *wire.Frame, addr *net.UDPAddr) bool {
	r.mu.Lock()
	var matched *waiter
	var matchedKey string
	for key, w := range r.waiting {
		if w.match(f, addr) {
			matched, matchedKey = w, key
			break
		}
	}
	if matched != nil {
		delete(r.waiting, matchedKey)
	}
	r.mu.Unlock()

	if matched == nil {
		return false
	}
	matched.ch <- &Inbound{Frame: f, Addr: addr}
	return true
}

// Sender is anything that can address a frame to a UDP peer, implemented by
// *wire.Socket.
type Sender interface {
	SendTo(dest *net.UDPAddr, f *wire.Frame) error
}

// Send transmits frame to dest and waits for a reply matching match,
// retransmitting on a fixed schedule per spec.md §4.2. key scopes the
// pending-ACK slot: the client always passes the same fixed key (one
// reliable-send in flight at a time); the server scopes by destination and
// frame type to allow concurrent sends to distinct clients.
//
// Send returns ErrBusy immediately if key already has a reliable-send in
// flight, ErrTimedOut if MaxAttempts transmissions elapsed with no match,
// or ctx.Err() if ctx ends first. On success it returns the matching
// Inbound frame.
func Send(ctx context.Context, sock Sender, rv *Rendezvous, key string, dest *net.UDPAddr, frame *wire.Frame, match Match) (*Inbound, error) {
	ch, err := rv.register(key, match)
	if err != nil {
		return nil, err
	}
	defer rv.release(key)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := sock.SendTo(dest, frame); err != nil {
			return nil, fmt.Errorf("reliable: send attempt %d: %w", attempt, err)
		}

		select {
		case in := <-ch:
			return in, nil
		case <-time.After(AckTimeout):
			// Retransmit: the next loop iteration resends the identical
			// datagram. Receivers must tolerate duplicate requests.
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, ErrTimedOut
}
