package vm

import (
	"io"
	"testing"
)

func TestStepExecutesTCJump(t *testing.T) {
	vm := NewVM()
	vm.State = StateRunning
	vm.CPU.Z = 04000
	vm.Memory.Fixed[02][0] = 05123 // TC 05123

	if err := vm.Step(); err != nil {
		t.Fatalf("Step returned error: %v", err)
	}
	if vm.CPU.Z != 05123 {
		t.Errorf("Z after TC = %o, want %o", vm.CPU.Z, 05123)
	}
	if vm.CPU.Q != 04001 {
		t.Errorf("Q after TC = %o, want %o (return address)", vm.CPU.Q, 04001)
	}
	if vm.CPU.Cycles != 1 {
		t.Errorf("Cycles after one TC = %d, want 1", vm.CPU.Cycles)
	}
}

func TestStepExecutesCALoad(t *testing.T) {
	vm := NewVM()
	vm.State = StateRunning
	vm.CPU.Z = 04000
	vm.Memory.WriteErasable(0100, 0, 0177)
	vm.Memory.Fixed[02][0] = (030 << 9) | 0100 // CA 0100

	if err := vm.Step(); err != nil {
		t.Fatalf("Step returned error: %v", err)
	}
	if vm.CPU.A != 0177 {
		t.Errorf("A after CA = %o, want %o", vm.CPU.A, 0177)
	}
}

func TestStepHaltsOnCycleLimit(t *testing.T) {
	vm := NewVM()
	vm.State = StateRunning
	vm.CycleLimit = 1
	vm.CPU.Cycles = 1
	vm.CPU.Z = 04000
	vm.Memory.Fixed[02][0] = 0 // NOOP-ish TC to self would self-trap; value irrelevant, limit hits first

	err := vm.Step()
	if err == nil {
		t.Fatal("expected error when cycle limit already reached")
	}
	if vm.State != StateError {
		t.Errorf("State after cycle-limit Step = %v, want StateError", vm.State)
	}
}

func TestStepInStandbyOnlyTicksCounters(t *testing.T) {
	vm := NewVM()
	vm.State = StateStandby
	z := vm.CPU.Z

	if err := vm.Step(); err != nil {
		t.Fatalf("Step in standby returned error: %v", err)
	}
	if vm.CPU.Z != z {
		t.Errorf("Z advanced during standby: %o -> %o", z, vm.CPU.Z)
	}
}

func TestStepOnErrorStateReturnsWrappedError(t *testing.T) {
	vm := NewVM()
	vm.State = StateError
	vm.LastError = io.ErrUnexpectedEOF

	err := vm.Step()
	if err == nil {
		t.Fatal("expected error when VM already in error state")
	}
}

func TestStepTripsTCTrapOnConsecutiveSelfTC(t *testing.T) {
	vm := NewVM()
	vm.State = StateRunning
	vm.CPU.Z = 04000
	vm.Memory.Fixed[02][0] = 04000 // TC 04000, self-addressed
	vm.Memory.Fixed[02][1] = 04001 // next word after Z increments: TC to itself again

	if err := vm.Step(); err != nil {
		t.Fatalf("first step: %v", err)
	}
	// After the jump, Z == 04000 again, and the same self-addressed TC
	// executes a second consecutive time: GOJAM via TC Trap.
	if err := vm.Step(); err != nil {
		t.Fatalf("second step: %v", err)
	}
	if vm.Alarms.Tripped() {
		t.Fatal("TC Trap should have been cleared by GOJAM's recovery")
	}
	if vm.LastGojamReason != "tc trap" {
		t.Errorf("LastGojamReason = %q, want %q", vm.LastGojamReason, "tc trap")
	}
}

func TestRunStopsOnHalt(t *testing.T) {
	vm := NewVM()
	vm.State = StateHalted
	if err := vm.Run(); err != nil {
		t.Fatalf("Run on an already-halted VM returned error: %v", err)
	}
}

func TestResetPreservesFixedMemory(t *testing.T) {
	vm := NewVM()
	vm.Memory.Fixed[02][0] = 012345
	vm.CPU.A = 0777
	vm.Memory.WriteErasable(0, 0, 0111)

	vm.Reset()

	if vm.Memory.Fixed[02][0] != 012345 {
		t.Error("Reset cleared fixed (rope) memory")
	}
	if vm.CPU.A != 0 {
		t.Errorf("CPU.A after Reset = %o, want 0", vm.CPU.A)
	}
	if vm.Memory.ReadErasable(0, 0) != 0 {
		t.Error("Reset did not clear erasable memory")
	}
	if vm.State != StateHalted {
		t.Errorf("State after Reset = %v, want StateHalted", vm.State)
	}
}

func TestStepWiresDiagnosticSubsystems(t *testing.T) {
	vm := NewVM()
	vm.State = StateRunning
	vm.CPU.Z = 04000
	vm.Memory.Fixed[02][0] = (030 << 9) | 0100 // CA 0100
	vm.Memory.WriteErasable(0100, 0, 0222)

	vm.CodeCoverage = NewCodeCoverage(io.Discard)
	vm.CodeCoverage.Start()
	vm.RegisterTrace = NewRegisterTrace(io.Discard)
	vm.RegisterTrace.Start()
	vm.MemoryTrace = NewMemoryTrace(io.Discard)
	vm.MemoryTrace.Start()
	vm.AlarmTrace = NewFlagTrace(io.Discard)

	if err := vm.Step(); err != nil {
		t.Fatalf("Step returned error: %v", err)
	}

	if len(vm.CodeCoverage.GetExecutedAddresses()) == 0 {
		t.Error("CodeCoverage recorded nothing")
	}
	if len(vm.MemoryTrace.GetEntries()) == 0 {
		t.Error("MemoryTrace recorded nothing")
	}
	foundA := false
	for _, e := range vm.RegisterTrace.GetEntries() {
		if e.Register == "A" {
			foundA = true
		}
	}
	if !foundA {
		t.Error("RegisterTrace did not record the A register write from CA")
	}
}
