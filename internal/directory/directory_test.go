package directory

import (
	"testing"
	"time"
)

func TestRegisterNewName(t *testing.T) {
	d := New()
	now := time.Now()

	result := d.Register("c1", "127.0.0.1", 5555, now)
	if !result.OK {
		t.Fatalf("Register = %+v, want OK", result)
	}

	rec, ok := d.Lookup("c1")
	if !ok || rec.Status != Online {
		t.Fatalf("Lookup = %+v, %v, want online record", rec, ok)
	}
}

func TestRegisterDuplicateNameRejected(t *testing.T) {
	d := New()
	now := time.Now()

	d.Register("c1", "127.0.0.1", 5555, now)
	result := d.Register("c1", "10.0.0.1", 6000, now)

	if result.OK {
		t.Fatal("second register with distinct tuple should be rejected")
	}
	if result.Reason != "exists" {
		t.Errorf("Reason = %q, want %q", result.Reason, "exists")
	}
}

func TestRegisterRetransmitWithinWindowIsIdempotent(t *testing.T) {
	d := New()
	now := time.Now()

	d.Register("c1", "127.0.0.1", 5555, now)
	result := d.Register("c1", "127.0.0.1", 5555, now.Add(1*time.Second))

	if !result.OK {
		t.Fatalf("retransmitted identical register should succeed, got %+v", result)
	}
}

func TestRegisterAfterDeregIsRejectedEvenWithSameTuple(t *testing.T) {
	// spec.md §9's Open Question resolution: a name retains its record
	// (status=offline) after deregistration, blocking reuse regardless of
	// whether the tuple matches.
	d := New()
	now := time.Now()

	d.Register("c1", "127.0.0.1", 5555, now)
	changed, known := d.Deregister("c1")
	if !changed || !known {
		t.Fatalf("Deregister = (%v, %v), want (true, true)", changed, known)
	}

	result := d.Register("c1", "127.0.0.1", 5555, now.Add(2*time.Second))
	if result.OK {
		t.Fatal("re-registration after dereg with the same tuple must be rejected")
	}
}

func TestRegisterAfterRetryWindowElapsedIsRejected(t *testing.T) {
	d := New()
	now := time.Now()

	d.Register("c1", "127.0.0.1", 5555, now)
	result := d.Register("c1", "127.0.0.1", 5555, now.Add(registerRetryWindow+time.Second))

	if result.OK {
		t.Fatal("register arriving after the retry window should be rejected, not treated as a retransmit")
	}
}

func TestDeregisterRemovesFromGroups(t *testing.T) {
	d := New()
	now := time.Now()
	d.Register("c1", "127.0.0.1", 5555, now)
	d.CreateGroup("g")
	d.JoinGroup("g", "c1")

	d.Deregister("c1")

	members, _ := d.ListMembers("g")
	if len(members) != 0 {
		t.Errorf("members = %v, want empty after dereg (G3)", members)
	}
}

func TestCreateGroupIsConditional(t *testing.T) {
	d := New()
	if !d.CreateGroup("g") {
		t.Fatal("first create_group should succeed")
	}
	if d.CreateGroup("g") {
		t.Fatal("second create_group with same name should report already-exists")
	}
}

func TestJoinGroupIsIdempotent(t *testing.T) {
	d := New()
	now := time.Now()
	d.Register("c1", "127.0.0.1", 5555, now)
	d.CreateGroup("g")

	d.JoinGroup("g", "c1")
	d.JoinGroup("g", "c1")

	members, _ := d.ListMembers("g")
	if len(members) != 1 {
		t.Errorf("members = %v, want exactly one c1", members)
	}
}

func TestJoinGroupReportsMissingGroup(t *testing.T) {
	d := New()
	if exists := d.JoinGroup("nope", "c1"); exists {
		t.Error("JoinGroup on a nonexistent group should report exists=false")
	}
}

func TestMarkOfflineIfOnlineRemovesFromGroups(t *testing.T) {
	d := New()
	now := time.Now()
	d.Register("c1", "127.0.0.1", 5555, now)
	d.CreateGroup("g")
	d.JoinGroup("g", "c1")

	if !d.MarkOfflineIfOnline("c1") {
		t.Fatal("MarkOfflineIfOnline should report a change for an online record")
	}
	if d.MarkOfflineIfOnline("c1") {
		t.Fatal("MarkOfflineIfOnline should be a no-op on an already-offline record")
	}

	members, _ := d.ListMembers("g")
	if len(members) != 0 {
		t.Errorf("members = %v, want empty after eviction", members)
	}
}

func TestSnapshotSplitsOnlineFromAll(t *testing.T) {
	d := New()
	now := time.Now()
	d.Register("c1", "127.0.0.1", 5555, now)
	d.Register("c2", "127.0.0.1", 6000, now)
	d.Deregister("c2")

	all, online := d.Snapshot()
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if len(online) != 1 || online[0].Name != "c1" {
		t.Fatalf("online = %+v, want only c1", online)
	}
}
