package vm

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// TraceEntry represents a single instruction-cycle trace entry.
type TraceEntry struct {
	Sequence        uint64            // MCT count at time of execution
	Address         uint16            // Z when the entry is recorded, after the instruction executed
	Word            uint16            // left 0 by RecordInstruction; the word appears in Disassembly
	Disassembly     string            // octal rendering of the word
	RegisterChanges map[string]uint16 // register changes (name -> new value)
	Duration        time.Duration     // wall-clock time since trace start
}

// ExecutionTrace manages execution tracing for the DSKY/debugger front ends.
type ExecutionTrace struct {
	Enabled       bool
	Writer        io.Writer
	FilterRegs    map[string]bool // registers to track (empty = all)
	IncludeTiming bool
	MaxEntries    int

	entries      []TraceEntry
	startTime    time.Time
	lastSnapshot map[string]uint16
}

// NewExecutionTrace creates a new execution trace.
func NewExecutionTrace(writer io.Writer) *ExecutionTrace {
	return &ExecutionTrace{
		Enabled:       true,
		Writer:        writer,
		FilterRegs:    make(map[string]bool),
		IncludeTiming: true,
		MaxEntries:    100000,
		entries:       make([]TraceEntry, 0, 1000),
		lastSnapshot:  make(map[string]uint16),
	}
}

// SetFilterRegisters sets which registers to track. Pass nil or an empty
// slice to track all of them.
func (t *ExecutionTrace) SetFilterRegisters(regs []string) {
	t.FilterRegs = make(map[string]bool)
	for _, reg := range regs {
		t.FilterRegs[strings.ToUpper(reg)] = true
	}
}

// Start starts the trace.
func (t *ExecutionTrace) Start() {
	t.startTime = time.Now()
	t.entries = t.entries[:0]
	t.lastSnapshot = make(map[string]uint16)
}

// RecordInstruction records one instruction cycle's register deltas.
func (t *ExecutionTrace) RecordInstruction(vm *VM, disasm string) {
	if !t.Enabled || vm == nil {
		return
	}
	if t.MaxEntries > 0 && len(t.entries) >= t.MaxEntries {
		return
	}

	entry := TraceEntry{
		Sequence:        vm.CPU.Cycles,
		Address:         vm.CPU.Z,
		Word:            0,
		Disassembly:     disasm,
		RegisterChanges: make(map[string]uint16),
	}
	if t.IncludeTiming {
		entry.Duration = time.Since(t.startTime)
	}

	currentRegs := map[string]uint16{
		"A":  vm.CPU.A,
		"L":  vm.CPU.L,
		"Q":  vm.CPU.Q,
		"Z":  vm.CPU.Z,
		"EB": vm.CPU.EB,
		"FB": vm.CPU.FB,
		"BB": vm.CPU.BB,
	}

	for name, value := range currentRegs {
		if len(t.FilterRegs) > 0 && !t.FilterRegs[name] {
			continue
		}
		if oldValue, exists := t.lastSnapshot[name]; !exists || oldValue != value {
			entry.RegisterChanges[name] = value
			t.lastSnapshot[name] = value
		}
	}

	t.entries = append(t.entries, entry)
}

// Flush writes all trace entries to the writer.
func (t *ExecutionTrace) Flush() error {
	if t.Writer == nil {
		return nil
	}
	for _, entry := range t.entries {
		if err := t.writeEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (t *ExecutionTrace) writeEntry(entry TraceEntry) error {
	line := fmt.Sprintf("[%06d] %05o: %-20s", entry.Sequence, entry.Address, entry.Disassembly)

	if len(entry.RegisterChanges) > 0 {
		changes := make([]string, 0, len(entry.RegisterChanges))
		for name, value := range entry.RegisterChanges {
			changes = append(changes, fmt.Sprintf("%s=%05o", name, value))
		}
		line += " | " + strings.Join(changes, " ")
	} else {
		line += " | (no changes)"
	}

	if t.IncludeTiming {
		line += fmt.Sprintf(" | %v", entry.Duration)
	}
	line += "\n"

	_, err := t.Writer.Write([]byte(line))
	return err
}

// GetEntries returns all trace entries.
func (t *ExecutionTrace) GetEntries() []TraceEntry {
	return t.entries
}

// Clear clears all trace entries.
func (t *ExecutionTrace) Clear() {
	t.entries = t.entries[:0]
	t.lastSnapshot = make(map[string]uint16)
}

// MemoryAccessEntry represents a single erasable-memory or channel access.
type MemoryAccessEntry struct {
	Sequence  uint64
	Address   uint16
	Z         uint16
	Type      string // "READ" or "WRITE"
	Value     uint16
	Timestamp time.Duration
}

// MemoryTrace manages memory access tracing.
type MemoryTrace struct {
	Enabled    bool
	Writer     io.Writer
	MaxEntries int

	entries   []MemoryAccessEntry
	startTime time.Time
}

// NewMemoryTrace creates a new memory trace.
func NewMemoryTrace(writer io.Writer) *MemoryTrace {
	return &MemoryTrace{
		Enabled:    true,
		Writer:     writer,
		MaxEntries: 100000,
		entries:    make([]MemoryAccessEntry, 0, 1000),
	}
}

// Start starts the memory trace.
func (t *MemoryTrace) Start() {
	t.startTime = time.Now()
	t.entries = t.entries[:0]
}

// RecordRead records a memory read.
func (t *MemoryTrace) RecordRead(sequence uint64, z, address uint16, value uint16) {
	if !t.Enabled || (t.MaxEntries > 0 && len(t.entries) >= t.MaxEntries) {
		return
	}
	t.entries = append(t.entries, MemoryAccessEntry{
		Sequence: sequence, Address: address, Z: z, Type: "READ", Value: value,
		Timestamp: time.Since(t.startTime),
	})
}

// RecordWrite records a memory write.
func (t *MemoryTrace) RecordWrite(sequence uint64, z, address uint16, value uint16) {
	if !t.Enabled || (t.MaxEntries > 0 && len(t.entries) >= t.MaxEntries) {
		return
	}
	t.entries = append(t.entries, MemoryAccessEntry{
		Sequence: sequence, Address: address, Z: z, Type: "WRITE", Value: value,
		Timestamp: time.Since(t.startTime),
	})
}

// Flush writes all memory trace entries to the writer.
func (t *MemoryTrace) Flush() error {
	if t.Writer == nil {
		return nil
	}
	for _, entry := range t.entries {
		if err := t.writeEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (t *MemoryTrace) writeEntry(entry MemoryAccessEntry) error {
	arrow := "<-"
	if entry.Type == "WRITE" {
		arrow = "->"
	}
	line := fmt.Sprintf("[%06d] [%-5s] %05o %s [%05o] = %05o\n",
		entry.Sequence, entry.Type, entry.Z, arrow, entry.Address, entry.Value)
	_, err := t.Writer.Write([]byte(line))
	return err
}

// GetEntries returns all memory trace entries.
func (t *MemoryTrace) GetEntries() []MemoryAccessEntry {
	return t.entries
}

// Clear clears all memory trace entries.
func (t *MemoryTrace) Clear() {
	t.entries = t.entries[:0]
}

// OpenTraceFile opens a trace file for writing.
func OpenTraceFile(filename string) (*os.File, error) {
	return os.Create(filename)
}
