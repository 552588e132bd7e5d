package clientcore

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/neverchanje/chatapp/internal/logging"
	"github.com/neverchanje/chatapp/internal/wire"
)

// handleInbound dispatches a frame the listener loop did not claim for a
// pending reliable-send: the three server/peer-initiated push types
// (spec.md §4.4). Unknown types are dropped and logged.
func (c *Client) handleInbound(f *wire.Frame, addr *net.UDPAddr) {
	switch f.Type {
	case wire.TypeMsg:
		c.handleMsg(f, addr)
	case wire.TypeGroupMsg:
		c.handleGroupMsg(f, addr)
	case wire.TypeTable:
		c.handleTable(f, addr)
	default:
		c.log.Info("dropping frame of unknown type", zap.String("type", string(f.Type)))
	}
}

// handleMsg implements spec.md §4.4's "Inbound direct message handling":
// ack immediately, then either print inline (free mode) or buffer to the
// offline inbox (in_group mode).
func (c *Client) handleMsg(f *wire.Frame, addr *net.UDPAddr) {
	var p wire.MsgPayload
	if err := f.Decode(&p); err != nil {
		return
	}
	ack, err := wire.New(wire.TypeMsgAck, wire.Metadata{Name: c.name}, nil)
	if err == nil {
		_ = c.sock.SendTo(addr, ack)
	}

	from := f.Metadata.Name
	c.mu.Lock()
	inGroup := c.mode == modeInGroup
	if inGroup {
		c.inbox = append(c.inbox, fmt.Sprintf(">>> %s: %s", from, p.Text))
	}
	c.mu.Unlock()

	if !inGroup {
		logging.Status(c.log, "", "%s: %s", from, p.Text)
	}
}

// handleGroupMsg implements spec.md §4.4's "Inbound group message
// handling": print and ack if the client is currently in that group;
// otherwise ack only (defensive drop).
func (c *Client) handleGroupMsg(f *wire.Frame, addr *net.UDPAddr) {
	var p wire.GroupMsgPayload
	if err := f.Decode(&p); err != nil {
		return
	}

	c.mu.Lock()
	inThisGroup := c.mode == modeInGroup && c.group == p.Group
	c.mu.Unlock()

	ack, err := wire.New(wire.TypeGroupMsgAck, wire.Metadata{Name: c.name}, wire.GroupMsgAckPayload{Group: p.Group})
	if err == nil {
		_ = c.sock.SendTo(addr, ack)
	}

	if inThisGroup {
		logging.Line(c.log, "Group_Message %s: %s", p.From, p.Text)
	}
}

// handleTable implements spec.md §4.4's "Inbound table broadcast": the
// local mirror is overwritten wholesale, never merged (spec.md §3).
func (c *Client) handleTable(f *wire.Frame, addr *net.UDPAddr) {
	var p wire.TablePayload
	if err := f.Decode(&p); err != nil {
		return
	}

	mirror := make(map[string]wire.Record, len(p.Records))
	for _, r := range p.Records {
		mirror[r.Name] = r
	}

	c.mu.Lock()
	c.mirror = mirror
	c.mu.Unlock()

	logging.Status(c.log, c.promptGroup(), "Client table updated.")

	ack, err := wire.New(wire.TypeTableAck, wire.Metadata{Name: c.name}, nil)
	if err == nil {
		_ = c.sock.SendTo(addr, ack)
	}
}
