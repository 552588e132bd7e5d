package clientcore

import (
	"context"
	"net"

	"github.com/neverchanje/chatapp/internal/logging"
	"github.com/neverchanje/chatapp/internal/wire"
)

// cmdSend implements `send <name> <text...>` (spec.md §4.4).
func (c *Client) cmdSend(ctx context.Context, name, text string) {
	c.mu.Lock()
	rec, ok := c.mirror[name]
	c.mu.Unlock()
	if !ok {
		logging.Status(c.log, "", "Unknown peer %s", name)
		return
	}
	dest := &net.UDPAddr{IP: net.ParseIP(rec.IP), Port: rec.Port}

	frame, err := wire.New(wire.TypeMsg, wire.Metadata{Name: c.name}, wire.MsgPayload{Text: text})
	if err != nil {
		return
	}
	match := func(f *wire.Frame, addr *net.UDPAddr) bool {
		return f.Type == wire.TypeMsgAck && addr.IP.Equal(dest.IP) && addr.Port == dest.Port
	}

	_, err = c.reliableSend(ctx, dest, frame, match)
	if err != nil {
		logging.Status(c.log, "", "No ACK from %s, message not delivered", name)
		// Best-effort: ask the server to de-register the unresponsive peer
		// (spec.md §4.2). A single fire-and-forget datagram is sufficient;
		// the server treats dereg as idempotent, so a drop costs nothing
		// beyond a slower eviction via the next broadcast timeout.
		deregFrame, derr := wire.New(wire.TypeDereg, wire.Metadata{Name: c.name}, wire.DeregPayload{Name: name})
		if derr == nil {
			_ = c.sock.SendTo(c.serverAddr, deregFrame)
		}
		return
	}
	logging.Status(c.log, "", "Message received by %s", name)
}

// cmdDereg implements `dereg <name>`: only self-deregistration is allowed
// (spec.md §4.4); it is the entry point to the notified-leave shutdown path
// (spec.md §4.6).
func (c *Client) cmdDereg(ctx context.Context, name string) bool {
	if name != c.name {
		logging.Status(c.log, "", "You can only deregister yourself.")
		return false
	}
	c.notifiedLeave(ctx)
	return true
}

// cmdCreateGroup returns true if the client is now shutting down (server
// unresponsive, spec.md §7).
func (c *Client) cmdCreateGroup(ctx context.Context, group string) bool {
	frame, err := wire.New(wire.TypeCreateGroup, wire.Metadata{Name: c.name}, wire.CreateGroupPayload{Group: group})
	if err != nil {
		return false
	}
	match := func(f *wire.Frame, addr *net.UDPAddr) bool { return f.Type == wire.TypeCreateGroupReply }
	in, ok := c.serverRequest(ctx, frame, match)
	if !ok {
		return true
	}
	var reply wire.ReplyPayload
	if err := in.Frame.Decode(&reply); err != nil {
		return false
	}
	if reply.OK {
		logging.Status(c.log, "", "Group %s created by Server.", group)
	} else {
		logging.Status(c.log, "", "Group %s already exists.", group)
	}
	return false
}

func (c *Client) cmdListGroups(ctx context.Context) bool {
	frame, err := wire.New(wire.TypeListGroups, wire.Metadata{Name: c.name}, nil)
	if err != nil {
		return false
	}
	match := func(f *wire.Frame, addr *net.UDPAddr) bool { return f.Type == wire.TypeListGroupsReply }
	in, ok := c.serverRequest(ctx, frame, match)
	if !ok {
		return true
	}
	var reply wire.ListGroupsReplyPayload
	if err := in.Frame.Decode(&reply); err != nil {
		return false
	}
	logging.Status(c.log, "", "Groups: %s", joinOrNone(reply.Groups))
	return false
}

func (c *Client) cmdJoinGroup(ctx context.Context, group string) bool {
	frame, err := wire.New(wire.TypeJoinGroup, wire.Metadata{Name: c.name}, wire.JoinGroupPayload{Group: group})
	if err != nil {
		return false
	}
	match := func(f *wire.Frame, addr *net.UDPAddr) bool { return f.Type == wire.TypeJoinGroupReply }
	in, ok := c.serverRequest(ctx, frame, match)
	if !ok {
		return true
	}
	var reply wire.JoinGroupReplyPayload
	if err := in.Frame.Decode(&reply); err != nil {
		return false
	}
	if !reply.OK {
		logging.Status(c.log, "", "Group %s does not exist.", group)
		return false
	}
	c.mu.Lock()
	c.mode = modeInGroup
	c.group = group
	c.mu.Unlock()
	logging.Status(c.log, group, "Entered group %s successfully!", group)
	return false
}

func (c *Client) cmdSendGroup(ctx context.Context, group, text string) bool {
	frame, err := wire.New(wire.TypeSendGroup, wire.Metadata{Name: c.name}, wire.SendGroupPayload{Group: group, Text: text})
	if err != nil {
		return false
	}
	match := func(f *wire.Frame, addr *net.UDPAddr) bool { return f.Type == wire.TypeSendGroupReply }
	_, ok := c.serverRequest(ctx, frame, match)
	if !ok {
		return true
	}
	logging.Status(c.log, group, "Message received by Server.")
	return false
}

func (c *Client) cmdListMembers(ctx context.Context, group string) bool {
	frame, err := wire.New(wire.TypeListMembers, wire.Metadata{Name: c.name}, wire.ListMembersPayload{Group: group})
	if err != nil {
		return false
	}
	match := func(f *wire.Frame, addr *net.UDPAddr) bool { return f.Type == wire.TypeListMembersReply }
	in, ok := c.serverRequest(ctx, frame, match)
	if !ok {
		return true
	}
	var reply wire.ListMembersReplyPayload
	if err := in.Frame.Decode(&reply); err != nil {
		return false
	}
	logging.Status(c.log, group, "Members in the group %s:", group)
	for _, m := range reply.Members {
		logging.Line(c.log, "%s", m)
	}
	return false
}

// cmdLeaveGroup implements `leave_group`, returning the client to free mode
// and draining the offline inbox accumulated while in_group (spec.md §4.4,
// §3).
func (c *Client) cmdLeaveGroup(ctx context.Context, group string) bool {
	frame, err := wire.New(wire.TypeLeaveGroup, wire.Metadata{Name: c.name}, wire.LeaveGroupPayload{Group: group})
	if err != nil {
		return false
	}
	match := func(f *wire.Frame, addr *net.UDPAddr) bool { return f.Type == wire.TypeLeaveGroupReply }
	_, ok := c.serverRequest(ctx, frame, match)
	if !ok {
		return true
	}

	c.mu.Lock()
	c.mode = modeFree
	c.group = ""
	drained := c.inbox
	c.inbox = nil
	c.mu.Unlock()

	logging.Status(c.log, "", "Leave group chat %s", group)
	for _, line := range drained {
		logging.Line(c.log, "%s", line)
	}
	return false
}

func joinOrNone(groups []string) string {
	if len(groups) == 0 {
		return "(none)"
	}
	out := groups[0]
	for _, g := range groups[1:] {
		out += ", " + g
	}
	return out
}
