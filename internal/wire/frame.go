// Package wire implements the self-describing datagram frame used by every
// exchange between clients and the directory server: a type tag, a
// type-specific payload, and metadata identifying the sender.
//
// Encoding is JSON. The teacher's own sibling packages in the retrieval pack
// disagree on a wire format (creachadair/chirp hand-rolls a fixed binary
// header; Sh1chi-Shichat tags a single Message struct with `json:"..."`);
// nothing in the pack imports a third-party codec for datagram framing, so
// this package follows the stdlib-JSON idiom and keeps the payload as a
// typed sub-message per frame Type, matching Sh1chi-Shichat's one-struct
// wire message shape generalized to per-type payloads.
package wire

import (
	"encoding/json"
	"fmt"
)

// Type identifies the structure of a Frame's Payload.
type Type string

// Frame types, matching spec.md §4.1 exactly.
const (
	TypeRegister    Type = "register"
	TypeRegisterAck Type = "register_ack"

	TypeDereg    Type = "dereg"
	TypeDeregAck Type = "dereg_ack"

	TypeTable    Type = "table"
	TypeTableAck Type = "table_ack"

	TypeMsg    Type = "msg"
	TypeMsgAck Type = "msg_ack"

	TypeCreateGroup      Type = "create_group"
	TypeCreateGroupReply Type = "create_group_reply"

	TypeListGroups      Type = "list_groups"
	TypeListGroupsReply Type = "list_groups_reply"

	TypeJoinGroup      Type = "join_group"
	TypeJoinGroupReply Type = "join_group_reply"

	TypeLeaveGroup      Type = "leave_group"
	TypeLeaveGroupReply Type = "leave_group_reply"

	TypeListMembers      Type = "list_members"
	TypeListMembersReply Type = "list_members_reply"

	TypeSendGroup      Type = "send_group"
	TypeSendGroupReply Type = "send_group_reply"

	TypeGroupMsg    Type = "group_msg"
	TypeGroupMsgAck Type = "group_msg_ack"
)

// Metadata carries the sender's startup identity. Handlers trust
// Metadata.Name to key tables; there is no cryptographic identity.
type Metadata struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Frame is the parsed form of a single datagram. One frame occupies exactly
// one datagram; frames never span multiple reads and are never batched.
type Frame struct {
	Type     Type            `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Metadata Metadata        `json:"metadata"`
}

// New builds a Frame, encoding payload (which may be nil for payload-less
// types such as dereg_ack or list_groups).
func New(t Type, meta Metadata, payload any) (*Frame, error) {
	f := &Frame{Type: t, Metadata: meta}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding %s payload: %w", t, err)
		}
		f.Payload = raw
	}
	return f, nil
}

// Decode unmarshals f.Payload into v. It is a no-op returning nil if the
// frame carries no payload.
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("wire: decoding %s payload: %w", f.Type, err)
	}
	return nil
}

// Encode serializes f to its wire representation (one datagram payload).
func Encode(f *Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding frame: %w", err)
	}
	return b, nil
}

// DecodeFrame parses a single datagram into a Frame.
func DecodeFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("wire: decoding frame: %w", err)
	}
	return &f, nil
}

// String renders f for logs, matching the terse Packet.String idiom used by
// creachadair/chirp's packet.go.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame(%s, from=%s, %d payload bytes)", f.Type, f.Metadata.Name, len(f.Payload))
}
