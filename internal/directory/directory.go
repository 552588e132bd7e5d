// Package directory implements the server's authoritative state: the
// registration table and the group registry (spec.md §3). A single mutex
// serializes every mutation, generalizing the teacher's Hub, which
// protected its (much simpler) chat history with one sync.Mutex
// (udpchat/hub.go: `mu sync.Mutex`).
package directory

import (
	"net"
	"sync"
	"time"
)

// Status is a client endpoint's liveness as last observed by the server.
type Status int

const (
	Online Status = iota
	Offline
)

func (s Status) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Record is one row of the registration table (spec.md §3).
type Record struct {
	Name   string
	IP     string
	Port   int
	Status Status

	// registeredAt supports the bounded idempotent-retransmit window
	// described in DESIGN.md (resolution of the spec.md §9 Open Question):
	// a register for a name/ip/port identical to the current online record
	// is only treated as a harmless retransmission of the same
	// reliable-send session if it arrives within registerRetryWindow of the
	// last successful registration; anything later (in particular, a
	// restarted client reusing a name after a silent leave) is rejected per
	// invariant I3.
	registeredAt time.Time
}

// Addr returns the record's UDP endpoint.
func (r Record) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(r.IP), Port: r.Port}
}

// registerRetryWindow bounds how long after a successful registration a
// byte-identical register request is still treated as the client's own
// reliable-send retry rather than an independent, and therefore rejected,
// re-registration attempt. It is pinned to the reliable-send envelope
// (reliable.MaxAttempts * reliable.AckTimeout) so it always covers the
// full retry schedule of a single register call with margin for listener
// slack, without this package importing the reliable package back.
const registerRetryWindow = 3 * time.Second

// RegisterResult reports the outcome of a register attempt. Changed is true
// only for a brand-new insert, never for an idempotent retransmit of an
// already-online tuple — callers use it to decide whether the registration
// table actually changed content and therefore whether a broadcast is due
// (spec.md §4.3's broadcast discipline: "exactly when the registration
// table changes in content").
type RegisterResult struct {
	OK      bool
	Changed bool
	Reason  string // set when !OK, e.g. "exists"
}

// Group holds a group's members in insertion order (spec.md §3 "ordered
// set").
type Group struct {
	Members []string
}

// Directory is the server's mutex-protected authoritative state.
type Directory struct {
	mu         sync.Mutex
	table      map[string]*Record
	groupOrder []string
	groups     map[string]*Group
}

// New constructs an empty Directory.
func New() *Directory {
	return &Directory{
		table:  make(map[string]*Record),
		groups: make(map[string]*Group),
	}
}

func (d *Directory) lock()   { d.mu.Lock() }
func (d *Directory) unlock() { d.mu.Unlock() }

// Register applies spec.md §4.3's register handler and §3's I1/I3
// invariants. now is threaded in (rather than read via time.Now()) so the
// idempotent-retransmit window is deterministically testable.
func (d *Directory) Register(name, ip string, port int, now time.Time) RegisterResult {
	d.lock()
	defer d.unlock()

	existing, ok := d.table[name]
	if !ok {
		d.table[name] = &Record{Name: name, IP: ip, Port: port, Status: Online, registeredAt: now}
		return RegisterResult{OK: true, Changed: true}
	}

	sameTuple := existing.IP == ip && existing.Port == port
	withinWindow := now.Sub(existing.registeredAt) <= registerRetryWindow
	if existing.Status == Online && sameTuple && withinWindow {
		// A retransmission of the same reliable-send session: reply success
		// without any state change (spec.md §4.3 Idempotence, testable
		// property #6). Changed stays false: the table's content is
		// identical, so no broadcast is due for this request.
		return RegisterResult{OK: true}
	}

	// I3: any record with this name, online or offline, blocks reuse.
	return RegisterResult{OK: false, Reason: "exists"}
}

// Deregister applies spec.md §4.3's dereg handler. It reports whether the
// table actually changed (for broadcast discipline) and whether the name
// was known at all.
func (d *Directory) Deregister(name string) (changed, known bool) {
	d.lock()
	defer d.unlock()

	rec, ok := d.table[name]
	if !ok {
		return false, false
	}
	wasOnline := rec.Status == Online
	rec.Status = Offline
	d.removeMemberLocked(name)
	return wasOnline, true
}

// MarkOfflineIfOnline downgrades name to offline (server-initiated eviction
// after a reliable-send timeout, spec.md §4.2/§4.3) and removes it from
// every group (I3's voluntary-dereg behavior applies equally to eviction
// per G3). It reports whether the table changed.
func (d *Directory) MarkOfflineIfOnline(name string) (changed bool) {
	d.lock()
	defer d.unlock()

	rec, ok := d.table[name]
	if !ok || rec.Status != Online {
		return false
	}
	rec.Status = Offline
	d.removeMemberLocked(name)
	return true
}

// removeMemberLocked implements G3: removing a member from the registration
// table also removes it from every group. Callers must hold the lock.
func (d *Directory) removeMemberLocked(name string) {
	for _, g := range d.groups {
		g.Members = removeString(g.Members, name)
	}
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot returns the full table and the list of currently-online records,
// used by the server's broadcast discipline (spec.md §4.3). The lock is
// released before the caller performs any outbound I/O, per spec.md §5's
// concurrency rule.
func (d *Directory) Snapshot() (all []Record, online []Record) {
	d.lock()
	defer d.unlock()

	all = make([]Record, 0, len(d.table))
	for _, r := range d.table {
		all = append(all, *r)
		if r.Status == Online {
			online = append(online, *r)
		}
	}
	return all, online
}

// CreateGroup applies spec.md §4.3's create_group handler.
func (d *Directory) CreateGroup(name string) (created bool) {
	d.lock()
	defer d.unlock()

	if _, exists := d.groups[name]; exists {
		return false
	}
	d.groups[name] = &Group{}
	d.groupOrder = append(d.groupOrder, name)
	return true
}

// ListGroups returns group names in insertion order.
func (d *Directory) ListGroups() []string {
	d.lock()
	defer d.unlock()

	out := make([]string, len(d.groupOrder))
	copy(out, d.groupOrder)
	return out
}

// JoinGroup applies spec.md §4.3's join_group handler: idempotent,
// reporting whether the group exists.
func (d *Directory) JoinGroup(group, member string) (exists bool) {
	d.lock()
	defer d.unlock()

	g, ok := d.groups[group]
	if !ok {
		return false
	}
	for _, m := range g.Members {
		if m == member {
			return true // already a member: no-op (idempotent)
		}
	}
	g.Members = append(g.Members, member)
	return true
}

// LeaveGroup removes member from group, a no-op if either is absent.
func (d *Directory) LeaveGroup(group, member string) {
	d.lock()
	defer d.unlock()

	g, ok := d.groups[group]
	if !ok {
		return
	}
	g.Members = removeString(g.Members, member)
}

// ListMembers returns a group's roster in insertion order, and whether the
// group exists at all.
func (d *Directory) ListMembers(group string) (members []string, exists bool) {
	d.lock()
	defer d.unlock()

	g, ok := d.groups[group]
	if !ok {
		return nil, false
	}
	out := make([]string, len(g.Members))
	copy(out, g.Members)
	return out, true
}

// MembersExcept returns a group's members other than exclude, along with
// their current Record, for the send_group fan-out (spec.md §4.3). Members
// whose Record is no longer in the table (should not happen given G2, but
// defensive) are skipped.
func (d *Directory) MembersExcept(group, exclude string) []Record {
	d.lock()
	defer d.unlock()

	g, ok := d.groups[group]
	if !ok {
		return nil
	}
	var out []Record
	for _, m := range g.Members {
		if m == exclude {
			continue
		}
		if rec, ok := d.table[m]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// RemoveMemberFromGroup removes a single member from a single group (used
// when a group_msg fan-out to that member times out).
func (d *Directory) RemoveMemberFromGroup(group, member string) {
	d.lock()
	defer d.unlock()

	if g, ok := d.groups[group]; ok {
		g.Members = removeString(g.Members, member)
	}
}

// Lookup returns the record for name, if any.
func (d *Directory) Lookup(name string) (Record, bool) {
	d.lock()
	defer d.unlock()

	rec, ok := d.table[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
