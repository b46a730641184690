package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/agc-sim/agcsim/debugger"
	"github.com/agc-sim/agcsim/loader"
	"github.com/agc-sim/agcsim/vm"
)

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyExists is returned when trying to create a session with an existing ID.
	ErrSessionAlreadyExists = errors.New("session already exists")
)

// Session represents an active emulator session: a VM plus the debugger
// harness wrapped around it, addressable over the HTTP/WebSocket API.
type Session struct {
	ID         string
	VM         *vm.VM
	Debugger   *debugger.Debugger
	Output     *EventWriter
	CreatedAt  time.Time
	runMu      sync.Mutex
	running    bool
}

// SessionManager manages multiple emulator sessions.
type SessionManager struct {
	sessions    map[string]*Session
	broadcaster *Broadcaster
	mu          sync.RWMutex
}

// NewSessionManager creates a new session manager.
func NewSessionManager(broadcaster *Broadcaster) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		broadcaster: broadcaster,
	}
}

// CreateSession creates a new session with a unique ID, optionally loading a
// rope or core-dump image supplied in the request.
func (sm *SessionManager) CreateSession(opts SessionCreateRequest) (*Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	machine := vm.NewVM()

	var outputWriter *EventWriter
	if sm.broadcaster != nil {
		outputWriter = NewEventWriter(sm.broadcaster, sessionID, "dsky")
		machine.OutputWriter = outputWriter
	}

	if opts.ROMPath != "" {
		if err := loader.LoadROM(machine, opts.ROMPath); err != nil {
			return nil, err
		}
	}
	if opts.CoreDumpPath != "" {
		if err := loader.LoadCoreDump(machine, opts.CoreDumpPath, loader.CoreDumpOptions{ErasableOnly: opts.ErasableOnly}); err != nil {
			return nil, err
		}
	}

	session := &Session{
		ID:        sessionID,
		VM:        machine,
		Debugger:  debugger.NewDebugger(machine),
		Output:    outputWriter,
		CreatedAt: time.Now(),
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sessions[sessionID]; exists {
		return nil, ErrSessionAlreadyExists
	}

	sm.sessions[sessionID] = session
	return session, nil
}

// GetSession retrieves a session by ID.
func (sm *SessionManager) GetSession(sessionID string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// DestroySession removes a session by ID.
func (sm *SessionManager) DestroySession(sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}

	delete(sm.sessions, sessionID)
	return nil
}

// ListSessions returns a list of all session IDs.
func (sm *SessionManager) ListSessions() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.sessions)
}

// alarmSnapshot reads the channel-77 alarm bits and standby latch off an
// AlarmState, for comparison against the previous tick so RunAsync only
// broadcasts on a transition rather than every step.
func alarmSnapshot(a *vm.AlarmState) AlarmSnapshot {
	return AlarmSnapshot{
		NightWatchman: a.Ch77&vm.Ch77NightWatchman != 0,
		RuptLock:      a.Ch77&vm.Ch77RuptLock != 0,
		TCTrap:        a.Ch77&vm.Ch77TCTrap != 0,
		ParityFail:    a.Ch77&vm.Ch77ParityFail != 0,
		Standby:       a.InStandby(),
	}
}

// stateName renders a vm.ExecutionState as a stable API string.
func stateName(s vm.ExecutionState) string {
	switch s {
	case vm.StateRunning:
		return "running"
	case vm.StateHalted:
		return "halted"
	case vm.StateError:
		return "error"
	case vm.StateStandby:
		return "standby"
	default:
		return "unknown"
	}
}

// RunAsync starts the VM running in a background goroutine, broadcasting a
// state event when it stops. Returns immediately if already running.
func (s *Session) RunAsync(broadcaster *Broadcaster) {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return
	}
	s.running = true
	s.runMu.Unlock()

	go func() {
		defer func() {
			s.runMu.Lock()
			s.running = false
			s.runMu.Unlock()
			if broadcaster != nil {
				broadcaster.BroadcastState(s.ID, map[string]interface{}{
					"status": stateName(s.VM.GetState()),
					"z":      s.VM.CPU.Z,
					"cycles": s.VM.CPU.Cycles,
				})
			}
		}()

		var lastAlarms AlarmSnapshot
		var lastVector uint16

		for s.VM.GetState() == vm.StateRunning || s.VM.GetState() == vm.StateStandby {
			if err := s.VM.Step(); err != nil {
				if broadcaster != nil {
					broadcaster.BroadcastExecutionEvent(s.ID, "error", map[string]interface{}{"message": err.Error()})
				}
				return
			}
			if shouldBreak, reason := s.Debugger.ShouldBreak(); shouldBreak {
				s.VM.SetState(vm.StateHalted)
				if broadcaster != nil {
					broadcaster.BroadcastExecutionEvent(s.ID, "breakpoint_hit", map[string]interface{}{"message": reason, "z": s.VM.CPU.Z})
				}
				return
			}
			if broadcaster != nil {
				if alarms := alarmSnapshot(s.VM.Alarms); alarms != lastAlarms {
					broadcaster.BroadcastAlarm(s.ID, alarms)
					lastAlarms = alarms
				}
				if v := s.VM.LastInterruptVector; v != 0 && v != lastVector {
					broadcaster.BroadcastInterrupt(s.ID, vm.InterruptName(v), s.VM.CPU.Z)
					lastVector = v
				}
			}
		}
	}()
}

// Stop halts a running session.
func (s *Session) Stop() {
	s.VM.SetState(vm.StateHalted)
}

// IsRunning reports whether the session's background execution loop is active.
func (s *Session) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// generateSessionID generates a unique session ID.
func generateSessionID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
