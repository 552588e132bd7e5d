// Package clientcore implements the client side of the protocol: startup
// registration, the free/in_group mode state machine, command dispatch, the
// offline inbox, and the two shutdown paths (spec.md §4.4, §4.6).
//
// The REPL shape — a goroutine blocked on bufio-reading stdin, feeding
// parsed commands to a dispatcher, alongside an independent receive loop —
// is grounded on the teacher's Client.checkInput/RunLoop
// (udpchat/client/client.go), generalized from its single quitListener
// channel to the shared stop-flag/taskgroup discipline used by
// internal/listener so both roles shut down the same way.
package clientcore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"

	"github.com/neverchanje/chatapp/internal/listener"
	"github.com/neverchanje/chatapp/internal/logging"
	"github.com/neverchanje/chatapp/internal/metrics"
	"github.com/neverchanje/chatapp/internal/reliable"
	"github.com/neverchanje/chatapp/internal/wire"
)

// rendezvousKey is the client's single pending-ACK slot (spec.md §3, §4.2):
// a client never has more than one reliable-send in flight.
const rendezvousKey = "client"

// mode is the client's tagged-variant state (spec.md §9: "Mode as a tagged
// variant ... rather than a boolean plus optional name").
type mode int

const (
	modeFree mode = iota
	modeInGroup
)

// Client holds the client-side state described in spec.md §4.4.
type Client struct {
	name       string
	serverAddr *net.UDPAddr
	sock       *wire.Socket
	rv         *reliable.Rendezvous
	met        *metrics.Client
	log        *zap.Logger

	tasks  *taskgroup.Group
	stop   atomic.Bool
	once   sync.Once
	stopCh chan struct{}

	mu     sync.Mutex
	mirror map[string]wire.Record
	mode   mode
	group  string
	inbox  []string
}

// New binds the client's own UDP endpoint and prepares its in-memory state.
// It does not yet register or start the listener; call Run for that.
func New(name, serverIP string, serverPort, clientPort int, log *zap.Logger) (*Client, error) {
	sock, err := wire.Listen("0.0.0.0", clientPort)
	if err != nil {
		return nil, err
	}
	return &Client{
		name:       name,
		serverAddr: &net.UDPAddr{IP: net.ParseIP(serverIP), Port: serverPort},
		sock:       sock,
		rv:         reliable.NewRendezvous(),
		met:        metrics.NewClient(),
		log:        log,
		mirror:     make(map[string]wire.Record),
		stopCh:     make(chan struct{}),
	}, nil
}

// Run starts the listener, registers with the server, and — on success —
// drives the terminal command loop until shutdown. It returns nil on a
// clean shutdown (either path of spec.md §4.6) and an error if startup
// registration itself failed.
func (c *Client) Run(ctx context.Context) error {
	c.tasks = taskgroup.New(nil)
	c.tasks.Go(func() error {
		listener.Loop(c.sock, c.rv, c.stop.Load, c.handleInbound, c.tasks, c.log)
		return nil
	})

	if err := c.register(ctx); err != nil {
		c.stop.Store(true)
		c.sock.Close()
		c.tasks.Wait()
		return err
	}

	c.repl(ctx)
	c.tasks.Wait()
	return nil
}

func (c *Client) localPort() int { return c.sock.LocalAddr().Port }

// register performs spec.md §4.3's register handshake and prints the
// resulting status line.
func (c *Client) register(ctx context.Context) error {
	frame, err := wire.New(wire.TypeRegister, wire.Metadata{Name: c.name, IP: "0.0.0.0", Port: c.localPort()}, nil)
	if err != nil {
		return err
	}
	match := func(f *wire.Frame, addr *net.UDPAddr) bool { return f.Type == wire.TypeRegisterAck }

	in, err := c.reliableSend(ctx, c.serverAddr, frame, match)
	if err != nil {
		if errors.Is(err, reliable.ErrTimedOut) {
			logging.Status(c.log, "", "Server not responding")
			logging.Status(c.log, "", "Exiting")
		}
		return err
	}

	var ack wire.RegisterAckPayload
	if err := in.Frame.Decode(&ack); err != nil {
		return err
	}
	if !ack.OK {
		logging.Status(c.log, "", "`%s` already exists!", c.name)
		return fmt.Errorf("clientcore: name %q already exists", c.name)
	}

	logging.Status(c.log, "", "Welcome, You are registered.")
	return nil
}

// repl is the terminal input loop, mirroring the teacher's
// Client.checkInput (udpchat/client/client.go), generalized to the full
// command grammar and mode machine of spec.md §4.4.
//
// bufio.Scanner.Scan blocks on os.Stdin with no way to cancel it directly,
// so the read happens on its own goroutine feeding a channel; repl then
// selects between a new line and c.stopCh, the latter closed once by
// haltListener (spec.md §4.6) so an interrupt unblocks the loop immediately
// instead of waiting for the next keystroke.
func (c *Client) repl(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		fmt.Print(c.prompt())
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if c.dispatch(ctx, line) {
				return // shutdown requested
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == modeInGroup {
		return fmt.Sprintf(">>> (%s) ", c.group)
	}
	return ">>> "
}

func (c *Client) currentMode() (mode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, c.group
}

// dispatch parses and runs a single command line, returning true if the
// client is now shutting down.
func (c *Client) dispatch(ctx context.Context, line string) bool {
	cmd, rest := splitFirst(line)
	m, group := c.currentMode()

	switch cmd {
	case "send":
		if m != modeFree {
			c.invalid(cmd)
			return false
		}
		name, text := splitFirst(rest)
		if name == "" || text == "" {
			c.invalid(cmd)
			return false
		}
		c.cmdSend(ctx, name, text)
		return false

	case "dereg":
		if m != modeFree {
			c.invalid(cmd)
			return false
		}
		return c.cmdDereg(ctx, strings.TrimSpace(rest))

	case "create_group":
		if m != modeFree {
			c.invalid(cmd)
			return false
		}
		return c.cmdCreateGroup(ctx, strings.TrimSpace(rest))

	case "list_groups":
		if m != modeFree {
			c.invalid(cmd)
			return false
		}
		return c.cmdListGroups(ctx)

	case "join_group":
		if m != modeFree {
			c.invalid(cmd)
			return false
		}
		return c.cmdJoinGroup(ctx, strings.TrimSpace(rest))

	case "send_group":
		if m != modeInGroup {
			c.invalid(cmd)
			return false
		}
		return c.cmdSendGroup(ctx, group, rest)

	case "list_members":
		if m != modeInGroup {
			c.invalid(cmd)
			return false
		}
		return c.cmdListMembers(ctx, group)

	case "leave_group":
		if m != modeInGroup {
			c.invalid(cmd)
			return false
		}
		return c.cmdLeaveGroup(ctx, group)

	default:
		c.invalid(cmd)
		return false
	}
}

func (c *Client) invalid(cmd string) {
	logging.Status(c.log, c.promptGroup(), "Invalid command: %s", cmd)
}

func (c *Client) promptGroup() string {
	m, group := c.currentMode()
	if m == modeInGroup {
		return group
	}
	return ""
}

func splitFirst(s string) (head, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

// reliableSend wraps reliable.Send with the client's single rendezvous slot
// and metrics bookkeeping.
func (c *Client) reliableSend(ctx context.Context, dest *net.UDPAddr, frame *wire.Frame, match reliable.Match) (*reliable.Inbound, error) {
	c.met.Sends.Inc()
	in, err := reliable.Send(ctx, c.sock, c.rv, rendezvousKey, dest, frame, match)
	if err != nil {
		if errors.Is(err, reliable.ErrTimedOut) {
			c.met.SendTimeouts.Inc()
		}
		return nil, err
	}
	c.met.Acks.Inc()
	return in, nil
}

// serverRequest performs a reliable-send to the server and applies spec.md
// §7's blanket "server unresponsive" policy on timeout: print the two
// status lines and begin a silent shutdown. It reports ok=false whenever
// the caller should stop (timeout, or ctx cancellation).
func (c *Client) serverRequest(ctx context.Context, frame *wire.Frame, match reliable.Match) (*reliable.Inbound, bool) {
	in, err := c.reliableSend(ctx, c.serverAddr, frame, match)
	if err != nil {
		if errors.Is(err, reliable.ErrTimedOut) {
			logging.Status(c.log, c.promptGroup(), "Server not responding")
			logging.Status(c.log, c.promptGroup(), "Exiting")
			c.silentLeave()
		}
		return nil, false
	}
	return in, true
}
