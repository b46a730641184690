package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/agc-sim/agcsim/debugger"
	"github.com/agc-sim/agcsim/loader"
	"github.com/agc-sim/agcsim/vm"
)

// handleCreateSession handles POST /api/v1/session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := s.sessions.CreateSession(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create session: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, SessionCreateResponse{
		SessionID: session.ID,
		CreatedAt: session.CreatedAt,
	})
}

// handleListSessions handles GET /api/v1/session
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.ListSessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": ids,
		"count":    len(ids),
	})
}

// handleGetSessionStatus handles GET /api/v1/session/{id}
func (s *Server) handleGetSessionStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	resp := SessionStatusResponse{
		SessionID: sessionID,
		State:     stateName(session.VM.GetState()),
		Z:         session.VM.CPU.Z,
		Cycles:    session.VM.CPU.Cycles,
	}
	if session.VM.LastError != nil {
		resp.Error = session.VM.LastError.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDestroySession handles DELETE /api/v1/session/{id}
func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.sessions.DestroySession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Session destroyed"})
}

// handleLoadProgram handles POST /api/v1/session/{id}/load
func (s *Server) handleLoadProgram(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req LoadRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ROMPath != "" {
		if err := loader.LoadROM(session.VM, req.ROMPath); err != nil {
			writeJSON(w, http.StatusOK, LoadResponse{Success: false, Error: err.Error()})
			return
		}
	}
	if req.CoreDumpPath != "" {
		opts := loader.CoreDumpOptions{ErasableOnly: req.ErasableOnly}
		if err := loader.LoadCoreDump(session.VM, req.CoreDumpPath, opts); err != nil {
			writeJSON(w, http.StatusOK, LoadResponse{Success: false, Error: err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, LoadResponse{Success: true})
}

// handleRun handles POST /api/v1/session/{id}/run
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	session.VM.SetState(vm.StateRunning)
	session.RunAsync(s.broadcaster)

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Execution started"})
}

// handleStop handles POST /api/v1/session/{id}/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	session.Stop()
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Execution stopped"})
}

// handleStep handles POST /api/v1/session/{id}/step
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := session.VM.Step(); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleStepOver handles POST /api/v1/session/{id}/step-over
func (s *Server) handleStepOver(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	session.Debugger.SetStepOver()
	session.RunAsync(s.broadcaster)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleStepOut handles POST /api/v1/session/{id}/step-out
func (s *Server) handleStepOut(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	session.Debugger.SetStepOut()
	session.RunAsync(s.broadcaster)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleReset handles POST /api/v1/session/{id}/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	session.VM.Reset()
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Session reset"})
}

// handleGetRegisters handles GET /api/v1/session/{id}/registers
func (s *Server) handleGetRegisters(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	cpu := session.VM.CPU
	writeJSON(w, http.StatusOK, RegistersResponse{
		A:      cpu.A,
		L:      cpu.L,
		Q:      cpu.Q,
		Z:      cpu.Z,
		EB:     cpu.EB,
		FB:     cpu.FB,
		BB:     cpu.BB,
		Cycles: cpu.Cycles,
		State:  stateName(session.VM.GetState()),
	})
}

// handleGetAlarms handles GET /api/v1/session/{id}/alarms
func (s *Server) handleGetAlarms(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	ch77 := session.VM.Channels.Read(vm.ChAlarmBox)
	writeJSON(w, http.StatusOK, AlarmsResponse{
		NightWatchman: ch77&vm.Ch77NightWatchman != 0,
		RuptLock:      ch77&vm.Ch77RuptLock != 0,
		TCTrap:        ch77&vm.Ch77TCTrap != 0,
		ParityFail:    ch77&vm.Ch77ParityFail != 0,
		Standby:       session.VM.Alarms.InStandby(),
	})
}

// monitoredChannels lists the I/O channels exposed over the telemetry API.
var monitoredChannels = []int{05, 06, 010, 011, 012, 013, 014, 030, 031, 032, 033, 034, 035, vm.ChAlarmBox}

// handleGetChannels handles GET /api/v1/session/{id}/channels
func (s *Server) handleGetChannels(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	channels := make(map[string]uint16, len(monitoredChannels))
	for _, ch := range monitoredChannels {
		channels[fmt.Sprintf("%02o", ch)] = session.VM.Channels.Read(ch)
	}

	writeJSON(w, http.StatusOK, ChannelsResponse{Channels: channels})
}

// handleWriteChannel handles POST /api/v1/session/{id}/channel
func (s *Server) handleWriteChannel(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req ChannelWriteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session.VM.Channels.Write(req.Channel, req.Value)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleGetMemory handles GET /api/v1/session/{id}/memory?bank=0&address=0&count=16
func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	bank, err1 := vm.SafeUint32ToUint16(uint32(parseUintParam(r, "bank", uint64(session.VM.CPU.EB))))
	address, err2 := vm.SafeUint32ToUint16(uint32(parseUintParam(r, "address", 0)))
	count := parseUintParam(r, "count", 16)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "bank and address must fit in an AGC word")
		return
	}

	words := make([]uint16, 0, count)
	for i := uint64(0); i < count; i++ {
		offset, err := vm.SafeUint32ToUint16(uint32(uint64(address) + i))
		if err != nil {
			break
		}
		words = append(words, session.VM.Memory.ReadErasable(offset, bank))
	}

	writeJSON(w, http.StatusOK, MemoryResponse{
		Bank:    bank,
		Address: address,
		Words:   words,
	})
}

func parseUintParam(r *http.Request, name string, def uint64) uint64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return def
	}
	return parsed
}

// handleBreakpoint handles POST /api/v1/session/{id}/breakpoint
func (s *Server) handleBreakpoint(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req BreakpointRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	bp := session.Debugger.Breakpoints.AddBreakpoint(req.Address, req.Temporary, req.Condition)
	writeJSON(w, http.StatusCreated, toBreakpointInfo(bp))
}

// handleListBreakpoints handles GET /api/v1/session/{id}/breakpoints
func (s *Server) handleListBreakpoints(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	bps := session.Debugger.Breakpoints.GetAllBreakpoints()
	infos := make([]BreakpointInfo, len(bps))
	for i, bp := range bps {
		infos[i] = toBreakpointInfo(bp)
	}

	writeJSON(w, http.StatusOK, BreakpointsResponse{Breakpoints: infos})
}

func toBreakpointInfo(bp *debugger.Breakpoint) BreakpointInfo {
	return BreakpointInfo{
		ID:        bp.ID,
		Address:   bp.Address,
		Enabled:   bp.Enabled,
		Temporary: bp.Temporary,
		Condition: bp.Condition,
		HitCount:  bp.HitCount,
	}
}

// handleDeleteBreakpoint handles DELETE /api/v1/session/{id}/breakpoint/{bpID}
func (s *Server) handleDeleteBreakpoint(w http.ResponseWriter, r *http.Request, sessionID string, bpID int) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := session.Debugger.Breakpoints.DeleteBreakpoint(bpID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleWatchpoint handles POST /api/v1/session/{id}/watchpoint
func (s *Server) handleWatchpoint(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req WatchpointRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wpType := debugger.WatchWrite
	switch req.Type {
	case "read":
		wpType = debugger.WatchRead
	case "access":
		wpType = debugger.WatchReadWrite
	}

	wp := session.Debugger.Watchpoints.AddWatchpoint(wpType, req.Expression, req.Address, req.IsRegister, req.Register)
	if err := session.Debugger.Watchpoints.InitializeWatchpoint(wp.ID, session.VM); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toWatchpointInfo(wp))
}

// handleListWatchpoints handles GET /api/v1/session/{id}/watchpoints
func (s *Server) handleListWatchpoints(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	wps := session.Debugger.Watchpoints.GetAllWatchpoints()
	infos := make([]WatchpointInfo, len(wps))
	for i, wp := range wps {
		infos[i] = toWatchpointInfo(wp)
	}

	writeJSON(w, http.StatusOK, WatchpointsResponse{Watchpoints: infos})
}

func toWatchpointInfo(wp *debugger.Watchpoint) WatchpointInfo {
	typeStr := "write"
	switch wp.Type {
	case debugger.WatchRead:
		typeStr = "read"
	case debugger.WatchReadWrite:
		typeStr = "access"
	}
	return WatchpointInfo{
		ID:         wp.ID,
		Type:       typeStr,
		Expression: wp.Expression,
		Enabled:    wp.Enabled,
		HitCount:   wp.HitCount,
		LastValue:  wp.LastValue,
	}
}

// handleDeleteWatchpoint handles DELETE /api/v1/session/{id}/watchpoint/{wpID}
func (s *Server) handleDeleteWatchpoint(w http.ResponseWriter, r *http.Request, sessionID string, wpID int) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := session.Debugger.Watchpoints.DeleteWatchpoint(wpID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleEvaluateExpression handles POST /api/v1/session/{id}/evaluate
func (s *Server) handleEvaluateExpression(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req EvaluateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	value, err := session.Debugger.Evaluator.EvaluateExpression(req.Expression, session.VM, session.Debugger.Symbols)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{Value: value})
}

// handleGetConsoleOutput handles GET /api/v1/session/{id}/console
func (s *Server) handleGetConsoleOutput(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	output := ""
	if session.Output != nil {
		output = session.Output.GetBufferAndClear()
	}

	writeJSON(w, http.StatusOK, OutputEvent{Stream: "dsky", Content: output})
}
