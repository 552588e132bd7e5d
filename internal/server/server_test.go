package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/neverchanje/chatapp/internal/directory"
	"github.com/neverchanje/chatapp/internal/wire"
)

// fakeClient is a raw UDP endpoint standing in for a full clientcore.Client,
// used to drive the server's handlers directly with hand-built frames.
type fakeClient struct {
	t    *testing.T
	sock *wire.Socket
	name string
}

func newFakeClient(t *testing.T, name string) *fakeClient {
	t.Helper()
	sock, err := wire.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	return &fakeClient{t: t, sock: sock, name: name}
}

func (f *fakeClient) send(dest *net.UDPAddr, typ wire.Type, payload any) {
	f.t.Helper()
	frame, err := wire.New(typ, wire.Metadata{Name: f.name, IP: "127.0.0.1", Port: f.sock.LocalAddr().Port}, payload)
	if err != nil {
		f.t.Fatalf("New: %v", err)
	}
	if err := f.sock.SendTo(dest, frame); err != nil {
		f.t.Fatalf("SendTo: %v", err)
	}
}

func (f *fakeClient) recv(timeout time.Duration) *wire.Frame {
	f.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame, _, err := f.sock.Recv()
		if err == wire.ErrTimeout {
			continue
		}
		if err != nil {
			f.t.Fatalf("Recv: %v", err)
		}
		return frame
	}
	f.t.Fatal("timed out waiting for a frame")
	return nil
}

// recvType waits for the next frame of type want, discarding any other
// frame (e.g. an interleaved table broadcast) in between.
func (f *fakeClient) recvType(timeout time.Duration, want wire.Type) *wire.Frame {
	f.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame, _, err := f.sock.Recv()
		if err == wire.ErrTimeout {
			continue
		}
		if err != nil {
			f.t.Fatalf("Recv: %v", err)
		}
		if frame.Type == want {
			return frame
		}
	}
	f.t.Fatalf("timed out waiting for a %s frame", want)
	return nil
}

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	srv, err := New(0, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	return srv, func() {
		cancel()
		srv.Stop()
		<-done
	}
}

func TestRegisterAndTableBroadcast(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	c1 := newFakeClient(t, "c1")
	c1.send(srv.sock.LocalAddr(), wire.TypeRegister, nil)

	ack := c1.recv(2 * time.Second)
	if ack.Type != wire.TypeRegisterAck {
		t.Fatalf("first reply type = %s, want register_ack", ack.Type)
	}
	var regAck wire.RegisterAckPayload
	if err := ack.Decode(&regAck); err != nil || !regAck.OK {
		t.Fatalf("register_ack = %+v, err=%v, want ok=true", regAck, err)
	}

	table := c1.recv(2 * time.Second)
	if table.Type != wire.TypeTable {
		t.Fatalf("second frame type = %s, want table", table.Type)
	}
}

func TestDuplicateRegisterIsRejected(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	c1 := newFakeClient(t, "c1")
	c1.send(srv.sock.LocalAddr(), wire.TypeRegister, nil)
	c1.recv(2 * time.Second) // register_ack
	c1.recv(2 * time.Second) // table

	c2 := newFakeClient(t, "c1") // same name, different endpoint
	c2.send(srv.sock.LocalAddr(), wire.TypeRegister, nil)
	ack := c2.recv(2 * time.Second)

	var regAck wire.RegisterAckPayload
	if err := ack.Decode(&regAck); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if regAck.OK {
		t.Fatal("duplicate name register should be rejected")
	}
}

func TestCreateAndJoinGroup(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	c1 := newFakeClient(t, "c1")
	c1.send(srv.sock.LocalAddr(), wire.TypeRegister, nil)
	c1.recv(2 * time.Second)
	c1.recv(2 * time.Second)

	c1.send(srv.sock.LocalAddr(), wire.TypeCreateGroup, wire.CreateGroupPayload{Group: "g"})
	reply := c1.recv(2 * time.Second)
	var createReply wire.ReplyPayload
	if err := reply.Decode(&createReply); err != nil || !createReply.OK {
		t.Fatalf("create_group_reply = %+v, err=%v", createReply, err)
	}

	c1.send(srv.sock.LocalAddr(), wire.TypeJoinGroup, wire.JoinGroupPayload{Group: "g"})
	joinReply := c1.recv(2 * time.Second)
	var jr wire.JoinGroupReplyPayload
	if err := joinReply.Decode(&jr); err != nil || !jr.OK {
		t.Fatalf("join_group_reply = %+v, err=%v", jr, err)
	}
}

// TestConcurrentRegistrationsDoNotEvictHealthyClient reproduces the
// scenario that used to make broadcastTable treat an internal rendezvous
// race as an unresponsive client: two ordinary registrations arriving close
// together each trigger a table broadcast, and a perfectly healthy,
// promptly-acking client must not be evicted as a side effect of those two
// triggers overlapping.
func TestConcurrentRegistrationsDoNotEvictHealthyClient(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	c1 := newFakeClient(t, "c1")
	c1.send(srv.sock.LocalAddr(), wire.TypeRegister, nil)
	ack := c1.recv(2 * time.Second)
	var regAck wire.RegisterAckPayload
	if err := ack.Decode(&regAck); err != nil || !regAck.OK {
		t.Fatalf("register_ack = %+v, err=%v, want ok=true", regAck, err)
	}

	// From here on, c1 is the sole reader of its socket: it acknowledges
	// every table broadcast it receives, including the one triggered by its
	// own registration above, standing in for a perfectly healthy client.
	stopAck := make(chan struct{})
	ackDone := make(chan struct{})
	go func() {
		defer close(ackDone)
		for {
			select {
			case <-stopAck:
				return
			default:
			}
			frame, _, err := c1.sock.Recv()
			if err == wire.ErrTimeout {
				continue
			}
			if err != nil {
				return
			}
			if frame.Type != wire.TypeTable {
				continue
			}
			ackFrame, err := wire.New(wire.TypeTableAck, wire.Metadata{Name: "c1"}, nil)
			if err != nil {
				continue
			}
			_ = c1.sock.SendTo(srv.sock.LocalAddr(), ackFrame)
		}
	}()

	var wg sync.WaitGroup
	for _, name := range []string{"c2", "c3"} {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newFakeClient(t, name)
			c.send(srv.sock.LocalAddr(), wire.TypeRegister, nil)
			ack := c.recv(2 * time.Second)
			var regAck wire.RegisterAckPayload
			if err := ack.Decode(&regAck); err != nil || !regAck.OK {
				t.Errorf("register_ack for %s = %+v, err=%v", name, regAck, err)
			}
		}()
	}
	wg.Wait()

	// Give the broadcast loop time to run every cycle the two concurrent
	// registrations triggered before checking the outcome.
	time.Sleep(time.Second)
	close(stopAck)
	<-ackDone

	rec, ok := srv.dir.Lookup("c1")
	if !ok || rec.Status != directory.Online {
		t.Fatalf("c1 = %+v, ok=%v, want a healthy, promptly-acking client to remain online", rec, ok)
	}
}

// TestSendGroupEvictsUnresponsiveMember drives a genuinely unresponsive
// group member through handleSendGroup's fan-out: the victim never
// acknowledges anything, so its reliable-send must time out, and it must be
// removed from the group and marked offline as a result.
func TestSendGroupEvictsUnresponsiveMember(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	sender := newFakeClient(t, "sender")
	sender.send(srv.sock.LocalAddr(), wire.TypeRegister, nil)
	sender.recvType(2*time.Second, wire.TypeRegisterAck)

	victim := newFakeClient(t, "victim")
	victim.send(srv.sock.LocalAddr(), wire.TypeRegister, nil)
	victim.recvType(2*time.Second, wire.TypeRegisterAck)

	sender.send(srv.sock.LocalAddr(), wire.TypeCreateGroup, wire.CreateGroupPayload{Group: "g"})
	sender.recvType(2*time.Second, wire.TypeCreateGroupReply)

	sender.send(srv.sock.LocalAddr(), wire.TypeJoinGroup, wire.JoinGroupPayload{Group: "g"})
	sender.recvType(2*time.Second, wire.TypeJoinGroupReply)

	victim.send(srv.sock.LocalAddr(), wire.TypeJoinGroup, wire.JoinGroupPayload{Group: "g"})
	victim.recvType(2*time.Second, wire.TypeJoinGroupReply)

	// The victim never acknowledges anything from here on.
	sender.send(srv.sock.LocalAddr(), wire.TypeSendGroup, wire.SendGroupPayload{Group: "g", Text: "hi"})
	reply := sender.recvType(4*time.Second, wire.TypeSendGroupReply)
	var sr wire.ReplyPayload
	if err := reply.Decode(&sr); err != nil || !sr.OK {
		t.Fatalf("send_group_reply = %+v, err=%v", sr, err)
	}

	members, _ := srv.dir.ListMembers("g")
	for _, m := range members {
		if m == "victim" {
			t.Fatalf("victim still listed as a group member after a fan-out timeout: %v", members)
		}
	}
	rec, ok := srv.dir.Lookup("victim")
	if !ok || rec.Status != directory.Offline {
		t.Fatalf("victim = %+v, ok=%v, want offline after an unacknowledged group_msg", rec, ok)
	}
}
