package vm

import (
	"fmt"
	"io"
	"os"
)

// ExecutionMode controls how Run drives Step.
type ExecutionMode int

const (
	ModeRun  ExecutionMode = iota // run until halt, alarm-without-recovery, or cycle limit
	ModeStep                      // single-step, for the DSKY front end / debugger
)

// Instruction is a decoded single-syllable Block II order code.
type Instruction struct {
	Address uint16 // Z at fetch time
	Word    uint16 // raw 15-bit instruction word
	Opcode  Opcode
	Operand uint16 // address field, width depends on Opcode (9, 10 or 12 bits)
	ExtraOp bool   // fetched while CPU.ExtraCode was set (extracode instruction)
}

// Opcode names the Block II order codes this engine implements.
type Opcode int

const (
	OpUnknown Opcode = iota
	OpTC
	OpCCS
	OpTCF
	OpDAS
	OpLXCH
	OpINCR
	OpADS
	OpCA
	OpCS
	OpINDEX
	OpDXCH
	OpTS
	OpXCH
	OpAD
	OpMASK
	// extracodes (reached via a leading EXTEND instruction)
	OpREAD
	OpWRITE
	OpRAND
	OpWAND
	OpROR
	OpWOR
	OpRXOR
	OpEDRUPT
	OpDV
	OpMP
	OpSU
	OpQXCH
	OpAUG
	OpDIM
	OpDCA
	OpDCS
	OpMSU
	OpBZF
	OpBZMF
	OpRESUME
	OpNOOP
)

var opcodeNames = map[Opcode]string{
	OpTC: "TC", OpCCS: "CCS", OpTCF: "TCF", OpDAS: "DAS", OpLXCH: "LXCH",
	OpINCR: "INCR", OpADS: "ADS", OpCA: "CA", OpCS: "CS", OpINDEX: "INDEX",
	OpDXCH: "DXCH", OpTS: "TS", OpXCH: "XCH", OpAD: "AD", OpMASK: "MASK",
	OpREAD: "READ", OpWRITE: "WRITE", OpRAND: "RAND", OpWAND: "WAND",
	OpROR: "ROR", OpWOR: "WOR", OpRXOR: "RXOR", OpEDRUPT: "EDRUPT",
	OpDV: "DV", OpMP: "MP", OpSU: "SU", OpQXCH: "QXCH", OpAUG: "AUG",
	OpDIM: "DIM", OpDCA: "DCA", OpDCS: "DCS", OpMSU: "MSU", OpBZF: "BZF",
	OpBZMF: "BZMF", OpRESUME: "RESUME", OpNOOP: "NOOP",
}

// String renders an Opcode as its Block II mnemonic, for disassembly and
// performance-statistics breakdowns.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "???"
}

// VM is the complete AGC emulator: register file, address space, channel
// file, timing subsystem, and the bookkeeping the front ends read.
type VM struct {
	CPU      *CPU
	Memory   *Memory
	Channels *Channels
	Counters *Counters
	Alarms   *AlarmState

	State ExecutionState
	Mode  ExecutionMode

	MaxCycles  uint64
	CycleLimit uint64

	LastError       error
	LastGojamReason string

	InstructionLog []uint16 // history of executed Z values

	OutputWriter io.Writer

	ExecutionTrace *ExecutionTrace
	MemoryTrace    *MemoryTrace
	CodeCoverage   *CodeCoverage
	RegisterTrace  *RegisterTrace
	Statistics     *PerformanceStatistics
	AlarmTrace     *FlagTrace // repurposed: records alarm/state transitions instead of CPSR flags

	pendingIndex int32 // INDEX delta applied to the next instruction's address field

	// substituteInstruction/substituteWord implement RESUME's deferred
	// re-entry: the next fetch uses substituteWord (the BRUPT register)
	// instead of reading memory at Z, since the interrupted word may have
	// been an INDEX-substituted instruction no longer present in memory.
	substituteInstruction bool
	substituteWord        uint16

	// Pending requests for the interrupt vectors this emulator does not
	// drive internally off the scaler: DSKY keypresses, uplink words, the
	// rendezvous radar and the hand controllers. Set via RequestKeyrupt1,
	// RequestKeyrupt2, RequestUprupt, RequestDownrupt, RequestRadarupt and
	// RequestHandrupt, consumed by arbitration in priority order.
	pendingKeyrupt1, pendingKeyrupt2 bool
	pendingUprupt, pendingDownrupt   bool
	pendingRadarupt, pendingHandrupt bool

	// LastInterruptVector is the fixed-fixed entry address most recently
	// latched by enterInterrupt, 0 before any interrupt has ever fired.
	// Telemetry consumers pair it with InterruptName to report which vector
	// serviced without having to duplicate the priority arbitration.
	LastInterruptVector uint16
}

// NewVM creates a VM in its post-GOJAM state.
func NewVM() *VM {
	vm := &VM{
		CPU:          NewCPU(),
		Memory:       NewMemory(),
		Channels:     NewChannels(),
		Counters:     NewCounters(),
		Alarms:       NewAlarmState(),
		State:        StateHalted,
		Mode:         ModeRun,
		MaxCycles:    DefaultMaxCycles,
		OutputWriter: os.Stdout,
	}
	vm.CPU.Reset()
	return vm
}

// Reset performs a GOJAM-equivalent reset without touching loaded rope
// contents.
func (vm *VM) Reset() {
	vm.CPU.Reset()
	vm.Memory.Reset()
	vm.Counters.Reset()
	vm.Alarms.Clear()
	vm.Channels.Reset()
	vm.State = StateHalted
	vm.InstructionLog = vm.InstructionLog[:0]
	vm.LastError = nil
	vm.pendingIndex = 0
	vm.substituteInstruction = false
	vm.substituteWord = 0
	vm.pendingKeyrupt1, vm.pendingKeyrupt2 = false, false
	vm.pendingUprupt, vm.pendingDownrupt = false, false
	vm.pendingRadarupt, vm.pendingHandrupt = false, false
}

// currentAddress reports whether a 12-bit address field falls in erasable
// memory (below 02000) rather than fixed memory.
func (vm *VM) currentAddress(field uint16) (erasable bool) {
	return field < 02000
}

// fetchWord reads the word at the current Z, honoring the bank-bits.
func (vm *VM) fetchWord() (uint16, bool, error) {
	z := vm.CPU.Z
	if z < 02000 {
		return vm.Memory.ReadErasable(z, vm.CPU.EB), true, nil
	}
	word, storedParity := vm.Memory.ReadFixed(z, vm.CPU.FB, vm.Memory.Superbank)
	if vm.Alarms.ParityCheckEnabled() && oddParity(word) != storedParity {
		vm.Alarms.ParityFail()
	}
	return word, true, nil
}

// oddParity computes the parity bit the rope weaver would have set for a
// 15-bit word: 1 if the word has an even number of set bits, so that word
// plus parity bit always carries an odd total.
func oddParity(word uint16) bool {
	bits := 0
	for w := word & wordMask15; w != 0; w &= w - 1 {
		bits++
	}
	return bits%2 == 0
}

// PeekWord reads the word stored at a given Z without side effects (no
// parity-alarm check, no fetch logging), for use by the debugger's
// disassembly listing and step-over detection.
func (vm *VM) PeekWord(z uint16) (uint16, bool, error) {
	if z < 02000 {
		return vm.Memory.ReadErasable(z, vm.CPU.EB), true, nil
	}
	word, parity := vm.Memory.ReadFixed(z, vm.CPU.FB, vm.Memory.Superbank)
	return word, parity, nil
}

// snapshotNamedRegisters captures the register file in RegisterNames order
// for before/after diffing by the register-access tracer.
func (vm *VM) snapshotNamedRegisters() map[string]uint16 {
	snap := make(map[string]uint16, len(registerNames))
	for i, name := range registerNames {
		snap[name] = vm.CPU.GetRegister(i)
	}
	return snap
}

// readOperand resolves a 12-bit address field to a word value, applying
// editing-register transforms for the special erasable addresses (CYR, SR,
// CYL, EDOP, ZERO) per the Block II read-time side effects.
func (vm *VM) readOperand(addr uint16) uint16 {
	if addr >= 02000 {
		word, _ := vm.Memory.ReadFixed(addr, vm.CPU.FB, vm.Memory.Superbank)
		return SignExtend(word)
	}
	raw := vm.Memory.ReadErasable(addr, vm.CPU.EB)
	if vm.MemoryTrace != nil {
		vm.MemoryTrace.RecordRead(vm.CPU.Cycles, vm.CPU.Z, addr, raw)
	}
	switch addr & 07777 {
	case RegZERO:
		return 0
	case RegCYR:
		return cycleRight(raw)
	case RegSR:
		return shiftRight(raw)
	case RegCYL:
		return cycleLeft(raw)
	case RegEDOP:
		return raw &^ 1
	default:
		return SignExtend(raw)
	}
}

// writeOperand writes a word value to a 12-bit address field, applying the
// same editing-register transforms at write time as the hardware does.
func (vm *VM) writeOperand(addr uint16, value uint16) {
	if addr >= 02000 {
		return // fixed memory is read-only from the program's perspective
	}
	word := SpToDecent(value)
	if vm.MemoryTrace != nil {
		vm.MemoryTrace.RecordWrite(vm.CPU.Cycles, vm.CPU.Z, addr, word)
	}
	switch addr & 07777 {
	case RegZERO:
		return
	case RegCYR:
		vm.Memory.WriteErasable(addr, vm.CPU.EB, cycleRight(word))
	case RegSR:
		vm.Memory.WriteErasable(addr, vm.CPU.EB, shiftRight(word))
	case RegCYL:
		vm.Memory.WriteErasable(addr, vm.CPU.EB, cycleLeft(word))
	case RegEDOP:
		vm.Memory.WriteErasable(addr, vm.CPU.EB, word&^1)
	default:
		vm.Memory.WriteErasable(addr, vm.CPU.EB, word)
	}
}

const ChannelErasableBase = 0 // channels are addressed separately via IO instructions, not erasable-mapped in this model

func cycleRight(w uint16) uint16 {
	bit0 := w & 1
	return (w>>1)&wordMask14 | bit0<<14
}

func cycleLeft(w uint16) uint16 {
	top := (w >> 14) & 1
	return (w<<1)&wordMask14 | top
}

func shiftRight(w uint16) uint16 {
	return (w >> 1) & wordMask14
}

// Step fetches and decodes one instruction, then either vectors to the
// highest-priority pending interrupt (if one is eligible to be taken ahead
// of this instruction) or executes it, then runs the counter/timing tick
// and the alarm watchdogs.
func (vm *VM) Step() error {
	if vm.State == StateError {
		return fmt.Errorf("VM is in error state: %w", vm.LastError)
	}
	if vm.State == StateStandby {
		time6Enabled := vm.Channels.Read(ChIMUDrive)&040000 != 0
		vm.Counters.Tick(1, time6Enabled, vm.applyCDUPulse)
		return nil
	}
	if vm.CycleLimit > 0 && vm.CPU.Cycles >= vm.CycleLimit {
		vm.State = StateError
		vm.LastError = fmt.Errorf("cycle limit exceeded (%d cycles)", vm.CycleLimit)
		return vm.LastError
	}

	z := vm.CPU.Z
	vm.InstructionLog = append(vm.InstructionLog, z)

	var word uint16
	var err error
	if vm.substituteInstruction {
		word = vm.substituteWord
		vm.substituteInstruction = false
	} else {
		word, _, err = vm.fetchWord()
		if err != nil {
			vm.State = StateError
			vm.LastError = fmt.Errorf("fetch failed at Z=%05o: %w", z, err)
			return vm.LastError
		}
	}
	vm.CPU.IncrementZ()

	if vm.pendingIndex != 0 {
		word = applyIndex(word, vm.pendingIndex)
		vm.pendingIndex = 0
	}

	inst := vm.decode(word, z)
	inst.ExtraOp = vm.CPU.ExtraCode
	vm.CPU.ExtraCode = false
	wasSelfTC := inst.Opcode == OpTC && !inst.ExtraOp && inst.Operand == z

	var regsBefore map[string]uint16
	if vm.RegisterTrace != nil && vm.RegisterTrace.Enabled {
		regsBefore = vm.snapshotNamedRegisters()
	}
	ebBefore, fbBefore, bbBefore := vm.CPU.EB, vm.CPU.FB, vm.CPU.BB

	var mct uint64
	enteredInterrupt := false
	if vm.interruptEligible(inst) {
		if vector, ok := vm.nextInterrupt(); ok {
			if tripped := vm.Alarms.RuptLockEnter(); tripped {
				return vm.GOJAM("rupt lock")
			}
			vm.enterInterrupt(vector, vm.CPU.Z, word)
			vm.LastInterruptVector = vector
			enteredInterrupt = true
			mct = 2 // extra_delay: interrupt entry costs two MCTs beyond the fetch
		}
	}
	if mct == 0 {
		mct, err = vm.execute(inst)
		if err != nil {
			if vm.State != StateHalted {
				vm.State = StateError
				vm.LastError = fmt.Errorf("execute failed at Z=%05o: %w", z, err)
			}
			return err
		}
	}

	vm.CPU.IncrementCycles(mct)
	time6Enabled := vm.Channels.Read(ChIMUDrive)&040000 != 0
	vm.Counters.Tick(mct, time6Enabled, vm.applyCDUPulse)
	vm.Memory.Superbank = vm.Channels.SuperbankRequested()
	vm.Alarms.Standby(vm.Channels.StandbyRequested())

	if tripped := vm.Alarms.NightWatchmanTick(vm.CPU.Z, mct); tripped {
		return vm.GOJAM("night watchman")
	}
	if tripped := vm.Alarms.TCTrapTick(wasSelfTC); tripped {
		return vm.GOJAM("tc trap")
	}

	if vm.ExecutionTrace != nil {
		vm.ExecutionTrace.RecordInstruction(vm, fmt.Sprintf("%05o", word))
	}
	if vm.CodeCoverage != nil {
		bank, offset := vm.Memory.ResolveBank(z, vm.CPU.EB, vm.CPU.FB, vm.Memory.Superbank)
		vm.CodeCoverage.RecordExecution(bank, uint32(offset), vm.CPU.Cycles)
	}
	if vm.RegisterTrace != nil && vm.RegisterTrace.Enabled {
		after := vm.snapshotNamedRegisters()
		for _, name := range registerNames {
			if before, newVal := regsBefore[name], after[name]; before != newVal {
				vm.RegisterTrace.RecordWrite(vm.CPU.Cycles, uint32(z), name, uint32(before), uint32(newVal))
			}
		}
	}
	if vm.AlarmTrace != nil {
		vm.AlarmTrace.RecordAlarms(vm.CPU.Cycles, z, fmt.Sprintf("%05o", word), vm.Alarms)
	}
	if vm.Statistics != nil {
		vm.Statistics.RecordInstruction(inst.Opcode.String(), uint32(z), mct)
		if inst.ExtraOp {
			vm.Statistics.RecordExtracode()
		}
		if vm.CPU.EB != ebBefore || vm.CPU.FB != fbBefore || vm.CPU.BB != bbBefore {
			vm.Statistics.RecordBankSwitch()
		}
		if inst.Opcode == OpTC {
			vm.Statistics.RecordFunctionCall(uint32(inst.Operand), "")
		}
		if enteredInterrupt || inst.Opcode == OpEDRUPT {
			vm.Statistics.RecordInterrupt(InterruptName(vm.LastInterruptVector))
		}
	}
	return nil
}

// applyIndex adds a signed INDEX delta to the 12-bit address/QC field of an
// instruction word, per the Block II indexing hardware: the delta is added
// to the entire low 12 bits, which can deliberately perturb the quarter-code
// bits of a group 2/3 instruction as well as its address field.
func applyIndex(word uint16, delta int32) uint16 {
	opGroup := word & (7 << 12)
	field := int32(word&Mask12) + delta
	return opGroup | uint16(field&Mask12)
}

// Run executes instructions until halt, alarm-without-GOJAM-recovery, or the
// cycle ceiling is hit.
func (vm *VM) Run() error {
	if vm.State == StateHalted {
		return nil
	}
	vm.State = StateRunning
	for vm.State == StateRunning || vm.State == StateStandby {
		if err := vm.Step(); err != nil {
			return err
		}
		if vm.CPU.Cycles > vm.MaxCycles {
			vm.State = StateHalted
			return fmt.Errorf("maximum cycles exceeded")
		}
	}
	return nil
}

// cduRegisterForAxis maps a CDU FIFO axis index to its erasable register.
func cduRegisterForAxis(axis int) uint16 {
	switch axis {
	case 1:
		return RegCDUY
	case 2:
		return RegCDUZ
	default:
		return RegCDUX
	}
}

// applyCDUPulse applies one drained CDU FIFO pulse to the corresponding
// coupling-data-unit register, the way the real hardware's counter-increment
// logic steps a CDU register in response to a resolver pulse train.
func (vm *VM) applyCDUPulse(axis int, delta int16) {
	reg := cduRegisterForAxis(axis)
	cur := SignExtend(vm.Memory.ReadErasable(reg, 0))
	var step uint16
	if delta < 0 {
		step = NegSP(1)
	} else {
		step = 1
	}
	vm.Memory.WriteErasable(reg, 0, SpToDecent(AddSP16(cur, step)))
}

// SimulateCDUPulse queues a simulated gimbal/optics pulse train on a CDU
// axis (0=X, 1=Y, 2=Z), for the front end to drive IMU/optics motion into
// the running program the way the real resolvers would. fast selects the
// faster 13-MCT drain rate optics channels use over the IMU CDU's 213-MCT
// rate.
func (vm *VM) SimulateCDUPulse(axis int, pulses int8, fast bool) {
	vm.Counters.QueueCDUPulse(axis, pulses, fast)
}

// GetState/SetState support the debugger and API front ends.
func (vm *VM) GetState() ExecutionState { return vm.State }
func (vm *VM) SetState(s ExecutionState) { vm.State = s }

// DumpState renders a one-line register summary for logging and the DSKY
// telemetry feed.
func (vm *VM) DumpState() string {
	return fmt.Sprintf(
		"Z=%05o A=%05o L=%05o Q=%05o EB=%o FB=%02o Cycles=%d State=%v",
		vm.CPU.Z, vm.CPU.A, vm.CPU.L, vm.CPU.Q, vm.CPU.EB>>8, vm.CPU.FB, vm.CPU.Cycles, vm.State,
	)
}
