// Package listener implements the shared per-role datagram receive loop
// described by spec.md §4.5: block on receive, decode, and either hand the
// frame to a waiting reliable-send or dispatch it to a handler, exiting
// cleanly when told to stop.
//
// This generalizes the teacher's Hub.listen (udpchat/hub.go), which read a
// datagram and spawned `go handler.Handle(recv)` per request with no
// shutdown path at all, to a stoppable loop shared by both client and
// server and coordinated by a taskgroup.Group the way creachadair/chirp's
// Peer.Start runs its receive loop under a *taskgroup.Group (peer.go).
package listener

import (
	"errors"
	"net"

	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"

	"github.com/neverchanje/chatapp/internal/reliable"
	"github.com/neverchanje/chatapp/internal/wire"
)

// Handler processes a frame that was not claimed by a pending reliable-send.
type Handler func(f *wire.Frame, addr *net.UDPAddr)

// Loop reads frames from sock until stop reports true or the socket closes.
// Every inbound frame is first offered to rv; frames rv claims (because a
// reliable-send is awaiting them) are not also passed to handle. Malformed
// datagrams are logged and dropped (spec.md §4.1/§7).
//
// Loop runs synchronously; callers that want it to run in the background
// should invoke it via a *taskgroup.Group so shutdown can Wait for it to
// actually exit (spec.md §5's resource discipline).
func Loop(sock *wire.Socket, rv *reliable.Rendezvous, stop func() bool, handle Handler, tasks *taskgroup.Group, log *zap.Logger) {
	for {
		if stop() {
			return
		}

		f, addr, err := sock.Recv()
		if err != nil {
			if err == wire.ErrTimeout {
				continue
			}
			var decodeErr *wire.DecodeError
			if errors.As(err, &decodeErr) {
				log.Info("dropping malformed datagram", zap.Error(decodeErr))
				continue
			}
			// Closed socket (shutdown in progress) or a transient read
			// error; either way the loop is done.
			return
		}

		if rv.Offer(f, addr) {
			continue
		}

		tasks.Go(func() error {
			handle(f, addr)
			return nil
		})
	}
}
