package api

import (
	"testing"
	"time"

	"github.com/agc-sim/agcsim/vm"
)

func TestSessionManagerCreateGetDestroy(t *testing.T) {
	sm := NewSessionManager(NewBroadcaster())

	session, err := sm.CreateSession(SessionCreateRequest{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID == "" {
		t.Fatal("empty session ID")
	}
	if sm.Count() != 1 {
		t.Errorf("Count() = %d, want 1", sm.Count())
	}

	got, err := sm.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != session {
		t.Error("GetSession returned a different session instance")
	}

	if err := sm.DestroySession(session.ID); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
	if _, err := sm.GetSession(session.ID); err != ErrSessionNotFound {
		t.Errorf("GetSession after destroy = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManagerGetMissingSession(t *testing.T) {
	sm := NewSessionManager(NewBroadcaster())
	if _, err := sm.GetSession("nonexistent"); err != ErrSessionNotFound {
		t.Errorf("GetSession = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManagerDestroyMissingSession(t *testing.T) {
	sm := NewSessionManager(NewBroadcaster())
	if err := sm.DestroySession("nonexistent"); err != ErrSessionNotFound {
		t.Errorf("DestroySession = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManagerListSessions(t *testing.T) {
	sm := NewSessionManager(NewBroadcaster())
	s1, _ := sm.CreateSession(SessionCreateRequest{})
	s2, _ := sm.CreateSession(SessionCreateRequest{})

	ids := sm.ListSessions()
	if len(ids) != 2 {
		t.Fatalf("ListSessions returned %d ids, want 2", len(ids))
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[s1.ID] || !seen[s2.ID] {
		t.Error("ListSessions missing a created session ID")
	}
}

func TestCreateSessionRejectsBadROMPath(t *testing.T) {
	sm := NewSessionManager(NewBroadcaster())
	_, err := sm.CreateSession(SessionCreateRequest{ROMPath: "/no/such/rope.bin"})
	if err == nil {
		t.Fatal("expected error for a missing rom path")
	}
	if sm.Count() != 0 {
		t.Errorf("Count() = %d after failed create, want 0", sm.Count())
	}
}

func TestStateName(t *testing.T) {
	cases := []struct {
		state vm.ExecutionState
		want  string
	}{
		{vm.StateRunning, "running"},
		{vm.StateHalted, "halted"},
		{vm.StateError, "error"},
		{vm.StateStandby, "standby"},
		{vm.ExecutionState(99), "unknown"},
	}
	for _, c := range cases {
		if got := stateName(c.state); got != c.want {
			t.Errorf("stateName(%v) = %q, want %q", c.state, got, c.want)
		}
	}
}

func TestSessionStopHaltsVM(t *testing.T) {
	sm := NewSessionManager(NewBroadcaster())
	session, _ := sm.CreateSession(SessionCreateRequest{})
	session.VM.SetState(vm.StateRunning)

	session.Stop()

	if session.VM.GetState() != vm.StateHalted {
		t.Errorf("state after Stop = %v, want StateHalted", session.VM.GetState())
	}
}

func TestSessionRunAsyncStopsOnHalt(t *testing.T) {
	sm := NewSessionManager(NewBroadcaster())
	session, _ := sm.CreateSession(SessionCreateRequest{})
	session.VM.SetState(vm.StateHalted)

	session.RunAsync(nil)

	deadline := time.Now().Add(time.Second)
	for session.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if session.IsRunning() {
		t.Fatal("RunAsync still running on an already-halted VM")
	}
}

func TestSessionRunAsyncIgnoresConcurrentStart(t *testing.T) {
	sm := NewSessionManager(NewBroadcaster())
	session, _ := sm.CreateSession(SessionCreateRequest{})
	session.VM.SetState(vm.StateRunning)
	session.VM.CycleLimit = 1_000_000

	session.RunAsync(nil)
	// Starting again while already running must be a no-op, not a second
	// concurrent execution loop.
	session.RunAsync(nil)

	session.Stop()
	deadline := time.Now().Add(time.Second)
	for session.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if session.IsRunning() {
		t.Fatal("session still running after Stop")
	}
}
