package wire

// RegisterAckPayload is the register_ack payload (spec.md §4.1).
type RegisterAckPayload struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// DeregPayload is the dereg request payload.
type DeregPayload struct {
	Name string `json:"name"`
}

// Record is one row of the registration table, as carried in a table
// broadcast. Status is a string ("online"/"offline") rather than the Go
// type directly so the wire format stays self-describing for any decoder.
type Record struct {
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	Status string `json:"status"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// TablePayload is the full registration table snapshot (table broadcast).
type TablePayload struct {
	Records []Record `json:"records"`
}

// MsgPayload is a direct unicast message payload.
type MsgPayload struct {
	Text string `json:"text"`
}

// CreateGroupPayload requests creation of a group.
type CreateGroupPayload struct {
	Group string `json:"group"`
}

// ReplyPayload is a generic ok/message reply, used by create_group_reply,
// leave_group_reply, and send_group_reply.
type ReplyPayload struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ListGroupsReplyPayload carries every known group name in insertion order.
type ListGroupsReplyPayload struct {
	Groups []string `json:"groups"`
}

// JoinGroupPayload requests membership in a group.
type JoinGroupPayload struct {
	Group string `json:"group"`
}

// JoinGroupReplyPayload is the reply to join_group.
type JoinGroupReplyPayload struct {
	Group   string `json:"group"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// LeaveGroupPayload requests departure from a group.
type LeaveGroupPayload struct {
	Group string `json:"group"`
}

// ListMembersPayload requests the roster of a group.
type ListMembersPayload struct {
	Group string `json:"group"`
}

// ListMembersReplyPayload carries a group's member roster in insertion
// order.
type ListMembersReplyPayload struct {
	Group   string   `json:"group"`
	Members []string `json:"members"`
}

// SendGroupPayload requests a group-wide fan-out.
type SendGroupPayload struct {
	Group string `json:"group"`
	Text  string `json:"text"`
}

// GroupMsgPayload is a fan-out delivery of a group message.
type GroupMsgPayload struct {
	Group string `json:"group"`
	From  string `json:"from"`
	Text  string `json:"text"`
}

// GroupMsgAckPayload acknowledges a group_msg delivery.
type GroupMsgAckPayload struct {
	Group string `json:"group"`
}
