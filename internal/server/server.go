// Package server implements the directory server core: registration,
// groups, and table-broadcast discipline (spec.md §4.3), built over the
// shared wire/reliable/listener packages.
//
// The overall shape — a long-lived process bound to one UDP socket,
// dispatching each inbound datagram to a per-request handler goroutine —
// is grounded on the teacher's Hub (udpchat/hub.go: NewHub/startServer/
// listen/RequestHandler.Handle), generalized from Hub's single chat-history
// append to the full registration/group state machine, and its raw
// `go handler.Handle(recv)` per-datagram dispatch replaced by a
// taskgroup.Group-managed listener loop (internal/listener) so shutdown can
// wait for in-flight handlers to finish.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/neverchanje/chatapp/internal/directory"
	"github.com/neverchanje/chatapp/internal/listener"
	"github.com/neverchanje/chatapp/internal/metrics"
	"github.com/neverchanje/chatapp/internal/reliable"
	"github.com/neverchanje/chatapp/internal/wire"
)

// Server is the directory server: registration table, group registry, and
// the listener loop that serves them.
type Server struct {
	sock *wire.Socket
	dir  *directory.Directory
	rv   *reliable.Rendezvous
	met  *metrics.Server
	log  *zap.Logger

	// broadcastCh serializes every "table changed" event onto a single
	// broadcastLoop goroutine (see its doc comment): handlers never call
	// broadcastTable directly.
	broadcastCh chan struct{}

	tasks  *taskgroup.Group
	stop   atomic.Bool
	stopCh chan struct{}
}

// New constructs a Server bound to the given port on all interfaces.
func New(port int, log *zap.Logger) (*Server, error) {
	sock, err := wire.Listen("0.0.0.0", port)
	if err != nil {
		return nil, err
	}
	return &Server{
		sock:        sock,
		dir:         directory.New(),
		rv:          reliable.NewRendezvous(),
		met:         metrics.NewServer(),
		log:         log,
		broadcastCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}, nil
}

// Metrics exposes the server's Prometheus metric set, e.g. for mounting at
// "/metrics".
func (s *Server) Metrics() *metrics.Server { return s.met }

// Run starts the listener loop and the broadcast loop, and blocks until Stop
// is called. It is the server-side analogue of the teacher's Hub.RunLoop
// (udpchat/hub.go).
func (s *Server) Run(ctx context.Context) {
	s.tasks = taskgroup.New(nil)
	s.tasks.Go(func() error {
		listener.Loop(s.sock, s.rv, s.stop.Load, func(f *wire.Frame, addr *net.UDPAddr) {
			s.dispatch(ctx, f, addr)
		}, s.tasks, s.log)
		return nil
	})
	s.tasks.Go(func() error {
		s.broadcastLoop(ctx)
		return nil
	})
	s.tasks.Wait()
}

// Stop idempotently terminates the listener and broadcast loops, blocks
// until in-flight handlers have drained, and then closes the socket exactly
// once (spec.md §5).
func (s *Server) Stop() {
	first := s.stop.CompareAndSwap(false, true)
	if first {
		close(s.stopCh)
	}
	if s.tasks != nil {
		s.tasks.Wait()
	}
	if first {
		s.sock.Close()
	}
}

// broadcastLoop is the single goroutine that ever runs broadcastTable,
// serializing every "table changed" event (new registration, dereg, or a
// fan-out eviction) into one-at-a-time broadcast cycles. Handlers in
// dispatch run concurrently, one per inbound frame (internal/listener's
// tasks.Go), so without this serialization two ordinary, non-adversarial
// triggers (e.g. two registrations moments apart) would each reliable-send
// a table frame to the same online client at once; the second Send would
// see the first's rendezvous key still claimed and return ErrBusy, which
// looks identical to a timeout at the call site and would evict a
// perfectly healthy client. Routing every trigger through requestBroadcast
// and this loop removes the race instead of trying to special-case it.
func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-s.broadcastCh:
			s.broadcastTable(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// requestBroadcast asks broadcastLoop to run a broadcast cycle. It never
// blocks: if a broadcast is already pending, this trigger coalesces into it
// (broadcastTable always reads a fresh Snapshot, so the pending cycle will
// reflect this change too).
func (s *Server) requestBroadcast() {
	select {
	case s.broadcastCh <- struct{}{}:
	default:
	}
}

// dispatch routes one inbound frame (not claimed by a reliable-send
// rendezvous) to its handler, per spec.md §4.1/§4.3. Unknown types are
// dropped and logged.
func (s *Server) dispatch(ctx context.Context, f *wire.Frame, addr *net.UDPAddr) {
	switch f.Type {
	case wire.TypeRegister:
		s.handleRegister(f, addr)
	case wire.TypeDereg:
		s.handleDereg(f, addr)
	case wire.TypeCreateGroup:
		s.handleCreateGroup(f, addr)
	case wire.TypeListGroups:
		s.handleListGroups(f, addr)
	case wire.TypeJoinGroup:
		s.handleJoinGroup(f, addr)
	case wire.TypeLeaveGroup:
		s.handleLeaveGroup(f, addr)
	case wire.TypeListMembers:
		s.handleListMembers(f, addr)
	case wire.TypeSendGroup:
		s.handleSendGroup(ctx, f, addr)
	default:
		s.met.FramesDropped.Inc()
		s.log.Info("dropping frame of unknown type", zap.String("type", string(f.Type)), zap.Stringer("from", addr))
	}
}

func (s *Server) reply(addr *net.UDPAddr, t wire.Type, payload any) {
	f, err := wire.New(t, wire.Metadata{Name: ""}, payload)
	if err != nil {
		s.log.Error("encoding reply", zap.Error(err))
		return
	}
	if err := s.sock.SendTo(addr, f); err != nil {
		s.log.Warn("sending reply", zap.Error(err), zap.Stringer("to", addr))
	}
}

func (s *Server) handleRegister(f *wire.Frame, addr *net.UDPAddr) {
	name := f.Metadata.Name
	result := s.dir.Register(name, addr.IP.String(), addr.Port, time.Now())
	if result.OK {
		s.met.Registrations.Inc()
	} else {
		s.met.RegistrationsNo.Inc()
	}
	s.reply(addr, wire.TypeRegisterAck, wire.RegisterAckPayload{OK: result.OK, Reason: result.Reason})
	if result.Changed {
		s.requestBroadcast()
	}
}

func (s *Server) handleDereg(f *wire.Frame, addr *net.UDPAddr) {
	var p wire.DeregPayload
	if err := f.Decode(&p); err != nil {
		s.log.Warn("decoding dereg", zap.Error(err))
		return
	}
	changed, _ := s.dir.Deregister(p.Name)
	s.met.Deregistrations.Inc()
	s.reply(addr, wire.TypeDeregAck, nil)
	if changed {
		s.requestBroadcast()
	}
}

func (s *Server) handleCreateGroup(f *wire.Frame, addr *net.UDPAddr) {
	var p wire.CreateGroupPayload
	if err := f.Decode(&p); err != nil {
		s.log.Warn("decoding create_group", zap.Error(err))
		return
	}
	if s.dir.CreateGroup(p.Group) {
		s.reply(addr, wire.TypeCreateGroupReply, wire.ReplyPayload{OK: true, Message: "created"})
	} else {
		s.reply(addr, wire.TypeCreateGroupReply, wire.ReplyPayload{OK: false, Message: "already exists"})
	}
}

func (s *Server) handleListGroups(f *wire.Frame, addr *net.UDPAddr) {
	groups := s.dir.ListGroups()
	s.reply(addr, wire.TypeListGroupsReply, wire.ListGroupsReplyPayload{Groups: groups})
}

func (s *Server) handleJoinGroup(f *wire.Frame, addr *net.UDPAddr) {
	var p wire.JoinGroupPayload
	if err := f.Decode(&p); err != nil {
		s.log.Warn("decoding join_group", zap.Error(err))
		return
	}
	if s.dir.JoinGroup(p.Group, f.Metadata.Name) {
		s.reply(addr, wire.TypeJoinGroupReply, wire.JoinGroupReplyPayload{Group: p.Group, OK: true, Message: "entered"})
	} else {
		s.reply(addr, wire.TypeJoinGroupReply, wire.JoinGroupReplyPayload{Group: p.Group, OK: false, Message: "does not exist"})
	}
}

func (s *Server) handleLeaveGroup(f *wire.Frame, addr *net.UDPAddr) {
	var p wire.LeaveGroupPayload
	if err := f.Decode(&p); err != nil {
		s.log.Warn("decoding leave_group", zap.Error(err))
		return
	}
	s.dir.LeaveGroup(p.Group, f.Metadata.Name)
	s.reply(addr, wire.TypeLeaveGroupReply, wire.ReplyPayload{OK: true, Message: "left"})
}

func (s *Server) handleListMembers(f *wire.Frame, addr *net.UDPAddr) {
	var p wire.ListMembersPayload
	if err := f.Decode(&p); err != nil {
		s.log.Warn("decoding list_members", zap.Error(err))
		return
	}
	members, _ := s.dir.ListMembers(p.Group)
	s.reply(addr, wire.TypeListMembersReply, wire.ListMembersReplyPayload{Group: p.Group, Members: members})
}

// handleSendGroup implements spec.md §4.3's send_group fan-out: every
// current member other than the sender gets a reliable-sent group_msg;
// members that time out are evicted from the group and, if still listed
// online, downgraded and broadcast.
func (s *Server) handleSendGroup(ctx context.Context, f *wire.Frame, addr *net.UDPAddr) {
	var p wire.SendGroupPayload
	if err := f.Decode(&p); err != nil {
		s.log.Warn("decoding send_group", zap.Error(err))
		return
	}
	sender := f.Metadata.Name
	members := s.dir.MembersExcept(p.Group, sender)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var fanoutErr error
	for _, member := range members {
		member := member
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.met.GroupFanouts.Inc()
			frame, err := wire.New(wire.TypeGroupMsg, wire.Metadata{Name: sender}, wire.GroupMsgPayload{
				Group: p.Group, From: sender, Text: p.Text,
			})
			if err != nil {
				return
			}
			key := fmt.Sprintf("group:%s|%s|%s", p.Group, member.Name, member.Addr())
			match := func(rf *wire.Frame, from *net.UDPAddr) bool {
				if rf.Type != wire.TypeGroupMsgAck || !from.IP.Equal(member.Addr().IP) || from.Port != member.Port {
					return false
				}
				var ap wire.GroupMsgAckPayload
				return rf.Decode(&ap) == nil && ap.Group == p.Group
			}
			_, err = reliable.Send(ctx, s.sock, s.rv, key, member.Addr(), frame, match)
			if err != nil {
				if errors.Is(err, reliable.ErrBusy) {
					// Another send_group fan-out already has this exact
					// (group, member) key in flight (e.g. two overlapping
					// send_group calls to the same group); not evidence the
					// member is unresponsive, so skip without evicting.
					return
				}
				s.met.GroupEvicts.Inc()
				s.met.SendTimeouts.Inc()
				s.dir.RemoveMemberFromGroup(p.Group, member.Name)
				if s.dir.MarkOfflineIfOnline(member.Name) {
					s.requestBroadcast()
				}
				mu.Lock()
				fanoutErr = multierr.Append(fanoutErr, fmt.Errorf("group_msg to %s: %w", member.Name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if fanoutErr != nil {
		s.log.Info("send_group fan-out had timeouts", zap.Error(fanoutErr), zap.String("group", p.Group))
	}

	s.reply(addr, wire.TypeSendGroupReply, wire.ReplyPayload{OK: true, Message: "received by Server"})
}

// broadcastTable implements spec.md §4.3's broadcast discipline and §9's
// convergence requirement: it repeats fan-out cycles, evicting clients that
// fail to ACK, until a cycle produces no further change, bounded by the
// number of online clients.
func (s *Server) broadcastTable(ctx context.Context) {
	s.met.Broadcasts.Inc()
	for {
		all, online := s.dir.Snapshot()
		if len(online) == 0 {
			return
		}
		payload := tablePayload(all)
		frame, err := wire.New(wire.TypeTable, wire.Metadata{Name: ""}, payload)
		if err != nil {
			s.log.Error("encoding table broadcast", zap.Error(err))
			return
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		var evicted []string
		for _, rec := range online {
			rec := rec
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := fmt.Sprintf("table:%s|%s", rec.Name, rec.Addr())
				match := func(rf *wire.Frame, from *net.UDPAddr) bool {
					return rf.Type == wire.TypeTableAck && from.IP.Equal(rec.Addr().IP) && from.Port == rec.Port
				}
				_, err := reliable.Send(ctx, s.sock, s.rv, key, rec.Addr(), frame, match)
				if err != nil {
					if errors.Is(err, reliable.ErrBusy) {
						// broadcastLoop serializes every broadcastTable call,
						// so this should be unreachable; if it ever does
						// happen, a busy key is not evidence of an
						// unresponsive client, so don't evict on it.
						s.log.Warn("table broadcast key unexpectedly busy", zap.String("client", rec.Name))
						return
					}
					mu.Lock()
					evicted = append(evicted, rec.Name)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(evicted) == 0 {
			return
		}
		s.met.BroadcastEvicts.Add(float64(len(evicted)))
		s.met.SendTimeouts.Add(float64(len(evicted)))

		changed := false
		for _, name := range evicted {
			if s.dir.MarkOfflineIfOnline(name) {
				changed = true
			}
		}
		if !changed {
			return
		}
		// Loop again: the online set shrank, so this terminates within
		// len(online) cycles.
	}
}

func tablePayload(records []directory.Record) wire.TablePayload {
	out := make([]wire.Record, 0, len(records))
	for _, r := range records {
		status := wire.StatusOffline
		if r.Status == directory.Online {
			status = wire.StatusOnline
		}
		out = append(out, wire.Record{Name: r.Name, IP: r.IP, Port: r.Port, Status: status})
	}
	return wire.TablePayload{Records: out}
}
