package debugger_test

import (
	"strings"
	"testing"

	"github.com/agc-sim/agcsim/debugger"
	"github.com/agc-sim/agcsim/vm"
)

// TestNewDebugger tests debugger creation
func TestNewDebugger(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	if dbg == nil {
		t.Fatal("NewDebugger returned nil")
	}

	if dbg.VM != machine {
		t.Error("VM not set correctly")
	}

	if dbg.Breakpoints == nil {
		t.Error("Breakpoints not initialized")
	}

	if dbg.Watchpoints == nil {
		t.Error("Watchpoints not initialized")
	}

	if dbg.History == nil {
		t.Error("History not initialized")
	}

	if dbg.Evaluator == nil {
		t.Error("Evaluator not initialized")
	}
}

// TestLoadSymbols tests symbol loading
func TestLoadSymbols(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	symbols := map[string]uint32{
		"main":    04000,
		"p00":     04010,
		"bankcall": 06000,
	}

	dbg.LoadSymbols(symbols)

	if len(dbg.Symbols) != 3 {
		t.Errorf("Expected 3 symbols, got %d", len(dbg.Symbols))
	}

	if dbg.Symbols["main"] != 04000 {
		t.Errorf("Expected main at 04000, got %05o", dbg.Symbols["main"])
	}
}

// TestResolveAddress tests address resolution
func TestResolveAddress(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	dbg.LoadSymbols(map[string]uint32{
		"main": 04000,
		"loop": 06000,
	})

	tests := []struct {
		name    string
		input   string
		want    uint32
		wantErr bool
	}{
		{"Symbol", "main", 04000, false},
		{"Hex address", "0x1000", 0x1000, false},
		{"Decimal address", "4096", 4096, false},
		{"Invalid symbol", "nonexistent", 0, true},
		{"Invalid hex", "0xGGGG", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dbg.ResolveAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ResolveAddress() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ResolveAddress() = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

// TestExecuteCommand tests command execution
func TestExecuteCommand(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	tests := []struct {
		name      string
		command   string
		wantErr   bool
		checkFunc func(*testing.T, *debugger.Debugger)
	}{
		{
			name:    "Help command",
			command: "help",
			wantErr: false,
			checkFunc: func(t *testing.T, d *debugger.Debugger) {
				output := d.GetOutput()
				if !strings.Contains(output, "AGC Debugger Commands") {
					t.Error("Help output not found")
				}
			},
		},
		{
			name:    "Reset command",
			command: "reset",
			wantErr: false,
			checkFunc: func(t *testing.T, d *debugger.Debugger) {
				if d.VM.CPU.Z != 04000 {
					t.Error("VM not reset")
				}
			},
		},
		{
			name:    "Invalid command",
			command: "invalidcmd",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dbg.ExecuteCommand(tt.command)
			if (err != nil) != tt.wantErr {
				t.Errorf("ExecuteCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.checkFunc != nil {
				tt.checkFunc(t, dbg)
			}
		})
	}
}

// TestBreakpointCommands tests breakpoint commands
func TestBreakpointCommands(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	// Set breakpoint
	err := dbg.ExecuteCommand("break 04000")
	if err != nil {
		t.Fatalf("Failed to set breakpoint: %v", err)
	}

	output := dbg.GetOutput()
	if !strings.Contains(output, "Breakpoint") {
		t.Error("Breakpoint not confirmed in output")
	}

	// Check breakpoint was created
	bp := dbg.Breakpoints.GetBreakpoint(04000)
	if bp == nil {
		t.Fatal("Breakpoint not created")
	}

	if !bp.Enabled {
		t.Error("Breakpoint not enabled")
	}

	// Disable breakpoint
	err = dbg.ExecuteCommand("disable 1")
	if err != nil {
		t.Fatalf("Failed to disable breakpoint: %v", err)
	}

	if bp.Enabled {
		t.Error("Breakpoint still enabled after disable")
	}

	// Enable breakpoint
	err = dbg.ExecuteCommand("enable 1")
	if err != nil {
		t.Fatalf("Failed to enable breakpoint: %v", err)
	}

	if !bp.Enabled {
		t.Error("Breakpoint not enabled after enable")
	}

	// Delete breakpoint
	err = dbg.ExecuteCommand("delete 1")
	if err != nil {
		t.Fatalf("Failed to delete breakpoint: %v", err)
	}

	bp = dbg.Breakpoints.GetBreakpoint(04000)
	if bp != nil {
		t.Error("Breakpoint not deleted")
	}
}

// TestTemporaryBreakpoint tests temporary breakpoints
func TestTemporaryBreakpoint(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	// Set temporary breakpoint
	err := dbg.ExecuteCommand("tbreak 06000")
	if err != nil {
		t.Fatalf("Failed to set temporary breakpoint: %v", err)
	}

	bp := dbg.Breakpoints.GetBreakpoint(06000)
	if bp == nil {
		t.Fatal("Temporary breakpoint not created")
	}

	if !bp.Temporary {
		t.Error("Breakpoint not marked as temporary")
	}

	// Set Z to breakpoint address
	machine.CPU.Z = 06000

	// Check if should break (this will delete the temporary breakpoint)
	shouldBreak, reason := dbg.ShouldBreak()
	if !shouldBreak {
		t.Error("Should break at temporary breakpoint")
	}

	if !strings.Contains(reason, "breakpoint") {
		t.Errorf("Wrong break reason: %s", reason)
	}

	// Verify breakpoint was deleted
	bp = dbg.Breakpoints.GetBreakpoint(06000)
	if bp != nil {
		t.Error("Temporary breakpoint not deleted after hit")
	}
}

// TestInfoRegisters tests the info registers command
func TestInfoRegisters(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	machine.CPU.A = 012345
	machine.CPU.L = 067777
	machine.CPU.Z = 04000

	err := dbg.ExecuteCommand("info registers")
	if err != nil {
		t.Fatalf("Failed to execute info registers: %v", err)
	}

	output := dbg.GetOutput()

	if !strings.Contains(output, "A") {
		t.Error("Output missing A register")
	}

	if !strings.Contains(output, "12345") {
		t.Error("Output missing A register value")
	}

	if !strings.Contains(output, "Z") {
		t.Error("Output missing Z register")
	}
}

// TestInfoBreakpoints tests the info breakpoints command
func TestInfoBreakpoints(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	// Add breakpoints
	dbg.Breakpoints.AddBreakpoint(04000, false, "")
	dbg.Breakpoints.AddBreakpoint(06000, false, "a == 5")

	err := dbg.ExecuteCommand("info breakpoints")
	if err != nil {
		t.Fatalf("Failed to execute info breakpoints: %v", err)
	}

	output := dbg.GetOutput()

	if !strings.Contains(output, "04000") {
		t.Error("Output missing first breakpoint")
	}

	if !strings.Contains(output, "06000") {
		t.Error("Output missing second breakpoint")
	}

	if !strings.Contains(output, "a == 5") {
		t.Error("Output missing condition")
	}
}

// TestPrintCommand tests the print command
func TestPrintCommand(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	machine.CPU.L = 42

	err := dbg.ExecuteCommand("print l")
	if err != nil {
		t.Fatalf("Failed to execute print: %v", err)
	}

	output := dbg.GetOutput()

	if !strings.Contains(output, "42") {
		t.Errorf("Output missing value 42: %s", output)
	}
}

// TestExamineMemory tests the examine memory command
func TestExamineMemory(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	testAddr := uint16(0300)
	machine.Memory.WriteErasable(testAddr, machine.CPU.EB, 012345)

	err := dbg.ExecuteCommand("x 0300")
	if err != nil {
		t.Fatalf("Failed to execute examine: %v", err)
	}

	output := dbg.GetOutput()

	if !strings.Contains(output, "12345") {
		t.Errorf("Output missing memory value: %s", output)
	}
}

// TestSetRegister tests the set register command
func TestSetRegister(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	err := dbg.ExecuteCommand("set q = 0100")
	if err != nil {
		t.Fatalf("Failed to set register: %v", err)
	}

	if machine.CPU.Q != 0100 {
		t.Errorf("Register not set correctly: got %05o, want 0100", machine.CPU.Q)
	}
}

// TestStepMode tests stepping modes
func TestStepMode(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	// Test step command
	err := dbg.ExecuteCommand("step")
	if err != nil {
		t.Fatalf("Failed to execute step: %v", err)
	}

	if dbg.StepMode != debugger.StepSingle {
		t.Error("Step mode not set to debugger.StepSingle")
	}

	if !dbg.Running {
		t.Error("Running flag not set")
	}

	// Check that ShouldBreak returns true for single step
	shouldBreak, reason := dbg.ShouldBreak()
	if !shouldBreak {
		t.Error("Should break after single step")
	}

	if !strings.Contains(reason, "single step") {
		t.Errorf("Wrong break reason: %s", reason)
	}

	// Verify step mode was cleared
	if dbg.StepMode != debugger.StepNone {
		t.Error("Step mode not cleared after break")
	}
}

// TestCommandHistory tests command history functionality
func TestCommandHistory(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	// Execute some commands
	cmds := []string{"break 04000", "step", "continue"}
	for _, cmd := range cmds {
		dbg.ExecuteCommand(cmd)
	}

	// Check history
	history := dbg.History.GetAll()
	if len(history) != len(cmds) {
		t.Errorf("Expected %d commands in history, got %d", len(cmds), len(history))
	}

	// Check last command
	last := dbg.History.GetLast()
	if last != cmds[len(cmds)-1] {
		t.Errorf("Last command = %s, want %s", last, cmds[len(cmds)-1])
	}
}

// TestShouldBreak tests breakpoint detection
func TestShouldBreak(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	// Set breakpoint
	dbg.Breakpoints.AddBreakpoint(04000, false, "")

	// Z not at breakpoint
	machine.CPU.Z = 06000
	shouldBreak, _ := dbg.ShouldBreak()
	if shouldBreak {
		t.Error("Should not break when Z not at breakpoint")
	}

	// Z at breakpoint
	machine.CPU.Z = 04000
	shouldBreak, reason := dbg.ShouldBreak()
	if !shouldBreak {
		t.Error("Should break when Z at breakpoint")
	}

	if !strings.Contains(reason, "breakpoint") {
		t.Errorf("Wrong break reason: %s", reason)
	}

	// Check hit count
	bp := dbg.Breakpoints.GetBreakpoint(04000)
	if bp.HitCount != 1 {
		t.Errorf("Hit count = %d, want 1", bp.HitCount)
	}
}

// TestConditionalBreakpoint tests breakpoints with conditions
func TestConditionalBreakpoint(t *testing.T) {
	machine := vm.NewVM()
	dbg := debugger.NewDebugger(machine)

	// Set conditional breakpoint
	dbg.Breakpoints.AddBreakpoint(04000, false, "a")
	machine.CPU.Z = 04000

	// Condition false (a == 0)
	machine.CPU.A = 0
	shouldBreak, _ := dbg.ShouldBreak()
	if shouldBreak {
		t.Error("Should not break when condition is false")
	}

	// Condition true (a != 0)
	machine.CPU.A = 5
	shouldBreak, reason := dbg.ShouldBreak()
	if !shouldBreak {
		t.Error("Should break when condition is true")
	}

	if !strings.Contains(reason, "breakpoint") {
		t.Errorf("Wrong break reason: %s", reason)
	}
}
