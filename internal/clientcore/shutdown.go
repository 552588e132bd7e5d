package clientcore

import (
	"context"
	"errors"
	"net"

	"github.com/neverchanje/chatapp/internal/logging"
	"github.com/neverchanje/chatapp/internal/reliable"
	"github.com/neverchanje/chatapp/internal/wire"
)

// notifiedLeave implements spec.md §4.6 path 1: reliable-send dereg for
// this client's own name, print the resulting status line, then stop.
// Only the first call does anything; a repeat (e.g. a signal arriving
// while the dereg round-trip is still outstanding) is absorbed silently
// per spec.md §4.6's "second interrupt" rule, since both shutdown paths
// share the same sync.Once.
func (c *Client) notifiedLeave(ctx context.Context) {
	c.once.Do(func() {
		frame, err := wire.New(wire.TypeDereg, wire.Metadata{Name: c.name}, wire.DeregPayload{Name: c.name})
		if err != nil {
			c.haltListener()
			return
		}
		match := func(f *wire.Frame, addr *net.UDPAddr) bool { return f.Type == wire.TypeDeregAck }

		_, err = c.reliableSend(ctx, c.serverAddr, frame, match)
		switch {
		case err == nil:
			logging.Status(c.log, "", "You are Offline. Bye.")
		case errors.Is(err, reliable.ErrTimedOut):
			logging.Status(c.log, "", "Server not responding")
			logging.Status(c.log, "", "Exiting")
		}
		c.haltListener()
	})
}

// silentLeave implements spec.md §4.6 path 2: stop and close without
// sending anything. The server learns of the departure only once it next
// tries to deliver to this client and times out (spec.md §4.2/§4.3).
func (c *Client) silentLeave() {
	c.once.Do(c.haltListener)
}

// SilentLeave is silentLeave exported for an interrupt-signal handler
// (spec.md §4.6 path 2): it shares the same sync.Once as notifiedLeave, so
// a signal arriving mid-dereg-round-trip is absorbed rather than re-entering
// shutdown (spec.md §7's "second interrupt" rule).
func (c *Client) SilentLeave() {
	c.silentLeave()
}

func (c *Client) haltListener() {
	c.stop.Store(true)
	c.sock.Close()
	close(c.stopCh)
}
