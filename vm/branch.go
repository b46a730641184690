package vm

import "fmt"

// extPseudoOpcode computes the Block II engine's order-code selector: the
// top six bits of the masked 15-bit instruction word (bits 14-9), with bit
// 6 (0100) folded in when the word was fetched while CPU.ExtraCode was set.
// This one value, not a separate group/quarter-code split, is what the real
// decode switch is keyed on.
func extPseudoOpcode(word uint16, extraCode bool) uint16 {
	code := (word & wordMask15) >> 9
	if extraCode {
		code |= 0100
	}
	return code
}

// decode classifies a fetched word into its Opcode and operand field. The
// operand field width (9, 10 or 12 bits) depends on the opcode: narrow
// orders (CCS, DAS, LXCH, INCR, ADS, INDEX, DXCH, TS, XCH and their
// extracode counterparts) only ever address erasable memory and so only
// need a 10-bit field; the channel extracodes need 9 bits; the wide orders
// (TC, TCF, CA, CS, AD, MASK, DCA, DCS, BZF, BZMF, MP, and the
// INDEX/RESUME extracode) need the full 12-bit address.
func (vm *VM) decode(word uint16, z uint16) *Instruction {
	inst := &Instruction{Address: z, Word: word}
	code := extPseudoOpcode(word, vm.CPU.ExtraCode)
	inst.Opcode, inst.Operand = opcodeForPseudoCode(code, word)
	return inst
}

func opcodeForPseudoCode(code, word uint16) (Opcode, uint16) {
	addr9 := word & Mask9
	addr10 := word & Mask10
	addr12 := word & Mask12

	switch {
	case code <= 007:
		return OpTC, addr12
	case code <= 011:
		return OpCCS, addr10
	case code <= 017:
		return OpTCF, addr12
	case code <= 021:
		return OpDAS, addr10
	case code <= 023:
		return OpLXCH, addr10
	case code <= 025:
		return OpINCR, addr10
	case code <= 027:
		return OpADS, addr10
	case code <= 037:
		return OpCA, addr12
	case code <= 047:
		return OpCS, addr12
	case code <= 051:
		return OpINDEX, addr10
	case code <= 053:
		return OpDXCH, addr10
	case code <= 055:
		return OpTS, addr10
	case code <= 057:
		return OpXCH, addr10
	case code <= 067:
		return OpAD, addr12
	case code <= 077:
		return OpMASK, addr12
	case code == 0100:
		return OpREAD, addr9
	case code == 0101:
		return OpWRITE, addr9
	case code == 0102:
		return OpRAND, addr9
	case code == 0103:
		return OpWAND, addr9
	case code == 0104:
		return OpROR, addr9
	case code == 0105:
		return OpWOR, addr9
	case code == 0106:
		return OpRXOR, addr9
	case code == 0107:
		return OpEDRUPT, addr9
	case code <= 0111:
		return OpDV, addr10
	case code <= 0117:
		return OpBZF, addr12
	case code <= 0121:
		return OpMSU, addr10
	case code <= 0123:
		return OpQXCH, addr10
	case code <= 0125:
		return OpAUG, addr10
	case code <= 0127:
		return OpDIM, addr10
	case code <= 0137:
		return OpDCA, addr12
	case code <= 0147:
		return OpDCS, addr12
	case code <= 0157:
		// INDEX with a 12-bit address, except the single encoding whose
		// address field is 036: that one is RESUME, the interrupt return.
		if addr12 == 036 {
			return OpRESUME, addr12
		}
		return OpINDEX, addr12
	case code <= 0161:
		return OpSU, addr10
	case code <= 0167:
		return OpBZMF, addr12
	default: // 0170-0177
		return OpMP, addr12
	}
}

// execute dispatches a decoded instruction, returning the MCT cost of
// executing it. mct counts follow the real machine's single/double/triple
// precision timing: most single-syllable orders take 1, multi-precision
// orders (DAS, DCA, DCS) take 2, and the long-division/multiply extracodes
// (DV, MP) take 3.
func (vm *VM) execute(inst *Instruction) (uint64, error) {
	switch inst.Opcode {
	case OpTC:
		return vm.execTC(inst)
	case OpCCS:
		return vm.execCCS(inst)
	case OpTCF:
		vm.CPU.Z = inst.Operand & Mask12
		return 1, nil
	case OpCA:
		vm.CPU.A = SignExtend(vm.readOperand(inst.Operand))
		return 1, nil
	case OpCS:
		vm.CPU.A = NegSP(SignExtend(vm.readOperand(inst.Operand)))
		return 1, nil
	case OpINDEX:
		vm.pendingIndex = int32(int16(SignExtend(vm.readOperand(inst.Operand))))
		return 1, nil
	case OpDXCH:
		return vm.execDXCH(inst)
	case OpTS:
		return vm.execTS(inst)
	case OpXCH:
		old := vm.readOperand(inst.Operand)
		vm.writeOperand(inst.Operand, vm.CPU.A)
		vm.CPU.A = SignExtend(old)
		return 1, nil
	case OpAD:
		vm.CPU.A = AddSP16(vm.CPU.A, SignExtend(vm.readOperand(inst.Operand)))
		return 1, nil
	case OpMASK:
		vm.CPU.A &= SignExtend(vm.readOperand(inst.Operand))
		return 1, nil
	case OpDAS:
		return vm.execDAS(inst)
	case OpLXCH:
		old := vm.readOperand(inst.Operand)
		vm.writeOperand(inst.Operand, vm.CPU.L)
		vm.CPU.L = SignExtend(old)
		return 1, nil
	case OpINCR:
		v := AddSP16(SignExtend(vm.readOperand(inst.Operand)), 1)
		vm.writeOperand(inst.Operand, v)
		return 1, nil
	case OpADS:
		sum := AddSP16(SignExtend(vm.readOperand(inst.Operand)), vm.CPU.A)
		vm.writeOperand(inst.Operand, sum)
		vm.CPU.A = sum
		return 1, nil
	case OpDV:
		return vm.execDV(inst)
	case OpMP:
		return vm.execMP(inst)
	case OpSU:
		vm.CPU.A = AddSP16(vm.CPU.A, NegSP(SignExtend(vm.readOperand(inst.Operand))))
		return 1, nil
	case OpMSU:
		return vm.execMSU(inst)
	case OpBZF:
		if vm.CPU.A == 0 {
			vm.CPU.Z = inst.Operand & Mask12
		}
		return 1, nil
	case OpBZMF:
		if vm.CPU.A&signBit16 != 0 {
			vm.CPU.Z = inst.Operand & Mask12
		}
		return 1, nil
	case OpQXCH:
		old := vm.readOperand(inst.Operand)
		vm.writeOperand(inst.Operand, vm.CPU.Q)
		vm.CPU.Q = SignExtend(old)
		return 1, nil
	case OpAUG:
		v := vm.readOperand(inst.Operand)
		if ValueOverflowed(v) || v&signBit16 == 0 {
			v = AddSP16(v, 1)
		} else {
			v = AddSP16(v, NegSP(1))
		}
		vm.writeOperand(inst.Operand, v)
		return 1, nil
	case OpDIM:
		v := vm.readOperand(inst.Operand)
		switch {
		case v == 0:
		case v&signBit16 == 0:
			v = AddSP16(v, NegSP(1))
		default:
			v = AddSP16(v, 1)
		}
		vm.writeOperand(inst.Operand, v)
		return 1, nil
	case OpDCA:
		return vm.execDCA(inst)
	case OpDCS:
		return vm.execDCS(inst)
	case OpREAD:
		vm.CPU.A = SignExtend(vm.Channels.Read(int(inst.Operand) & 0177))
		return 1, nil
	case OpWRITE:
		ch := int(inst.Operand) & 0177
		vm.Channels.Write(ch, SpToDecent(vm.CPU.A))
		if ch == ChDownlink1 || ch == ChDownlink2 {
			vm.RequestDownrupt()
		}
		return 1, nil
	case OpRAND:
		vm.CPU.A = SignExtend(vm.Channels.Read(int(inst.Operand)&0177) & OverflowCorrected(vm.CPU.A))
		return 1, nil
	case OpWAND:
		vm.Channels.AndWith(int(inst.Operand)&0177, SpToDecent(vm.CPU.A))
		return 1, nil
	case OpROR:
		vm.CPU.A = SignExtend(vm.Channels.Read(int(inst.Operand)&0177) | OverflowCorrected(vm.CPU.A))
		return 1, nil
	case OpWOR:
		vm.Channels.OrWith(int(inst.Operand)&0177, SpToDecent(vm.CPU.A))
		return 1, nil
	case OpRXOR:
		vm.Channels.XorWith(int(inst.Operand)&0177, SpToDecent(vm.CPU.A))
		return 1, nil
	case OpEDRUPT:
		return vm.execEDRUPT(inst)
	case OpRESUME:
		return vm.execRESUME(inst)
	case OpNOOP:
		return 1, nil
	default:
		return 0, fmt.Errorf("unimplemented opcode %v at Z=%05o", inst.Opcode, inst.Address)
	}
}

// execTC implements TC: transfer control, saving the return address in Q.
// Three operand values are not addresses at all, but the three interrupt-
// control pseudo-ops Block II software encodes as "TC" to a fixed small
// constant: TC 3 is RELINT (allow interrupts), TC 4 is INHINT (inhibit
// them), and TC 6 is EXTEND, which arms CPU.ExtraCode so the following
// fetch decodes as an extracode instead of jumping anywhere.
func (vm *VM) execTC(inst *Instruction) (uint64, error) {
	switch inst.Operand {
	case 06:
		vm.CPU.ExtraCode = true
		return 1, nil
	case 03:
		vm.CPU.Inhint = false
		return 1, nil
	case 04:
		vm.CPU.Inhint = true
		return 1, nil
	}
	if inst.Operand != RegQ {
		vm.CPU.Q = (inst.Address + 1) & Mask12
	}
	vm.CPU.Z = inst.Operand & Mask12
	return 1, nil
}

// execCCS implements CCS: count, compare and skip. The operand is fetched
// and its diminished absolute value (|x|-1, or the value itself at ±0) is
// left in A, while the next instruction is skipped zero, one, two or three
// words depending on the operand's sign and zeroness, mirroring the real
// order's four-way branch.
func (vm *VM) execCCS(inst *Instruction) (uint64, error) {
	raw := SignExtend(vm.readOperand(inst.Operand))
	switch {
	case raw == 0:
		vm.CPU.A = 0
		vm.CPU.IncrementZ()
	case raw&signBit16 == 0:
		vm.CPU.A = AddSP16(raw, NegSP(1))
	case raw == NegSP(0):
		vm.CPU.A = NegSP(0)
		vm.CPU.IncrementZ()
		vm.CPU.IncrementZ()
		vm.CPU.IncrementZ()
	default:
		vm.CPU.A = AddSP16(AbsSP(raw), NegSP(1))
		vm.CPU.IncrementZ()
		vm.CPU.IncrementZ()
	}
	return 2, nil
}

// execTS implements TS: transfer to storage, with overflow trapped by
// skipping the next instruction (oveflow-on-write is how Block II software
// detects an overflowed accumulator after a sequence of additions).
func (vm *VM) execTS(inst *Instruction) (uint64, error) {
	vm.writeOperand(inst.Operand, vm.CPU.A)
	if ValueOverflowed(vm.CPU.A) {
		vm.CPU.IncrementZ()
		if vm.CPU.A&signBit16 != 0 {
			vm.CPU.A = NegSP(1)
		} else {
			vm.CPU.A = 1
		}
	}
	return 1, nil
}

// execDXCH implements DXCH: double-precision exchange of A:L with the
// operand address and its successor.
func (vm *VM) execDXCH(inst *Instruction) (uint64, error) {
	lo := inst.Operand
	hi := (inst.Operand + 1) & Mask10
	oldHigh := vm.readOperand(hi)
	oldLow := vm.readOperand(lo)
	vm.writeOperand(hi, vm.CPU.A)
	vm.writeOperand(lo, vm.CPU.L)
	vm.CPU.A = SignExtend(oldHigh)
	vm.CPU.L = SignExtend(oldLow)
	return 2, nil
}

// execDAS implements DAS: double-precision add to storage. A:L is added
// into the operand address pair, with carry from the low word propagated
// into the high word addition.
func (vm *VM) execDAS(inst *Instruction) (uint64, error) {
	lo := inst.Operand &^ 1
	hi := lo + 1

	sumLow := AddSP16(vm.CPU.L, SignExtend(vm.readOperand(lo)))
	carry := uint16(0)
	if ValueOverflowed(sumLow) {
		if sumLow&signBit16 != 0 {
			carry = NegSP(1)
		} else {
			carry = 1
		}
		sumLow = OverflowCorrected(sumLow)
		sumLow = SignExtend(sumLow)
	}
	sumHigh := AddSP16(vm.CPU.A, SignExtend(vm.readOperand(hi)))
	sumHigh = AddSP16(sumHigh, carry)

	vm.writeOperand(lo, sumLow)
	vm.writeOperand(hi, sumHigh)
	vm.CPU.A = 0
	vm.CPU.L = 0
	return 2, nil
}

// execDCA/execDCS implement double-precision clear-and-add/subtract into
// A:L from an operand pair.
func (vm *VM) execDCA(inst *Instruction) (uint64, error) {
	lo := inst.Operand &^ 1
	hi := lo + 1
	vm.CPU.A = SignExtend(vm.readOperand(hi))
	vm.CPU.L = SignExtend(vm.readOperand(lo))
	return 2, nil
}

func (vm *VM) execDCS(inst *Instruction) (uint64, error) {
	lo := inst.Operand &^ 1
	hi := lo + 1
	vm.CPU.A = NegSP(SignExtend(vm.readOperand(hi)))
	vm.CPU.L = NegSP(SignExtend(vm.readOperand(lo)))
	return 2, nil
}

// execDV implements DV: divide the double-precision dividend A:L by the
// operand, leaving the quotient in A and the remainder in L.
func (vm *VM) execDV(inst *Instruction) (uint64, error) {
	divisor := SignExtend(vm.readOperand(inst.Operand))
	q, r := SimulateDV(vm.CPU.A, vm.CPU.L, divisor)
	vm.CPU.A = q
	vm.CPU.L = r
	return 3, nil
}

// execMSU implements MSU: modular subtract, used by the rope's angle and
// phase-counter arithmetic. It behaves like SU except that a result of -0
// is corrected to +0, so a counter held exactly at zero never flips sign
// purely from the one's-complement subtraction.
func (vm *VM) execMSU(inst *Instruction) (uint64, error) {
	result := AddSP16(vm.CPU.A, NegSP(SignExtend(vm.readOperand(inst.Operand))))
	if result == NegSP(0) {
		result = 0
	}
	vm.CPU.A = result
	return 1, nil
}

// execMP implements MP: multiply A by the operand, leaving the
// double-precision product in A:L. Either factor being ±0 is special-cased:
// the hardware multiplier does not run its normal shift-and-add sequence in
// that case, it just forces the product to zero with a sign computed from
// the operands' signs rather than from a numeric product of zero magnitude.
func (vm *VM) execMP(inst *Instruction) (uint64, error) {
	operand := SignExtend(vm.readOperand(inst.Operand))
	a := SpToDecent(vm.CPU.A)
	b := SpToDecent(operand)

	negZero := NegSP(0) & wordMask15
	aZero := a == 0 || a == negZero
	bZero := b == 0 || b == negZero

	if aZero || bZero {
		negative := (a&signBit15 != 0) != (b&signBit15 != 0)
		zero := uint16(0)
		if negative {
			zero = NegSP(0)
		}
		vm.CPU.A = zero
		vm.CPU.L = zero
		return 3, nil
	}

	av := int32(int16(OverflowCorrected(vm.CPU.A)))
	bv := int32(int16(OverflowCorrected(operand)))
	product := av * bv

	neg := product < 0
	if neg {
		product = -product
	}
	high := uint16(product>>14) & wordMask14
	low := uint16(product) & wordMask14
	if neg {
		high = wordMask14 - high
		low = wordMask14 - low
	}
	vm.CPU.A = SignExtend(high)
	vm.CPU.L = SignExtend(low)
	return 3, nil
}

// enterInterrupt performs the hardware's interrupt-entry latch: the return
// address and the (possibly indexed) instruction word that would otherwise
// have executed are saved to the ZRUPT/BRUPT erasable registers, the
// in-service flag is set, and Z is forced to the vector address. Nothing
// about the interrupted instruction is undone; it simply never executes.
func (vm *VM) enterInterrupt(vectorAddr, returnZ, instWord uint16) {
	vm.Memory.WriteErasable(RegZRUPT, 0, returnZ)
	vm.Memory.WriteErasable(RegBRUPT, 0, instWord)
	vm.CPU.ExtraCode = false
	vm.pendingIndex = 0
	vm.CPU.InISR = true
	vm.CPU.Z = vectorAddr & Mask12
}

// execEDRUPT implements EDRUPT: a software-triggered interrupt exit used by
// the rope's idle loop and restart code. It forces the interrupt-entry
// sequence unconditionally: if some interrupt is already pending it is
// taken immediately regardless of the normal eligibility gate, and if
// nothing is pending it still latches ZRUPT/BRUPT and vectors to address 0.
func (vm *VM) execEDRUPT(inst *Instruction) (uint64, error) {
	vector, ok := vm.nextInterrupt()
	if !ok {
		vector = 0
	} else if tripped := vm.Alarms.RuptLockEnter(); tripped {
		vm.GOJAM("rupt lock")
		return 1, nil
	}
	vm.enterInterrupt(vector, vm.CPU.Z, inst.Word)
	vm.LastInterruptVector = vector
	return 1, nil
}

// execRESUME implements RESUME: return from an interrupt service routine.
// Z is set to ZRUPT-1 (so the normal post-fetch increment lands exactly on
// the interrupted instruction's address), the in-service flag is cleared,
// and the next fetch is arranged to substitute the saved BRUPT word instead
// of reading memory, since BRUPT holds the instruction that was displaced
// by the interrupt (it may have been an INDEX-substituted word that no
// longer matches what's stored at that address).
func (vm *VM) execRESUME(inst *Instruction) (uint64, error) {
	zrupt := vm.Memory.ReadErasable(RegZRUPT, 0)
	brupt := vm.Memory.ReadErasable(RegBRUPT, 0)
	vm.CPU.Z = (zrupt - 1) & Mask12
	vm.CPU.InISR = false
	vm.substituteInstruction = true
	vm.substituteWord = brupt
	vm.Alarms.RuptLockExit()
	return 1, nil
}

// interruptEligible reports whether an interrupt may be taken before the
// given freshly-decoded instruction executes: not already servicing one,
// not inhibited, not itself an extracode (EXTEND must be followed
// immediately by its extracode), the accumulator not overflowed, and not
// one of TC's three interrupt-control pseudo-ops (RELINT/INHINT/EXTEND),
// which must run atomically with whatever follows them.
func (vm *VM) interruptEligible(inst *Instruction) bool {
	if vm.CPU.InISR || vm.CPU.Inhint || inst.ExtraOp {
		return false
	}
	if ValueOverflowed(vm.CPU.A) {
		return false
	}
	if inst.Opcode == OpTC {
		switch inst.Operand {
		case 03, 04, 06:
			return false
		}
	}
	return true
}

// interruptPriority lists the ten interrupt vectors in arbitration order,
// lowest priority value (IntXXX constant) served first.
var interruptPriority = []int{
	IntT6RUPT, IntT5RUPT, IntT3RUPT, IntT4RUPT,
	IntKEYRUPT1, IntKEYRUPT2, IntUPRUPT, IntDOWNRUPT, IntRADARUPT, IntHANDRUPT,
}

// nextInterrupt consumes and returns the fixed-fixed vector address of the
// highest-priority pending interrupt request, or reports none pending.
func (vm *VM) nextInterrupt() (uint16, bool) {
	for _, id := range interruptPriority {
		if vm.consumeInterruptRequest(id) {
			return interruptVectors[id], true
		}
	}
	return 0, false
}

// consumeInterruptRequest reports and clears a single interrupt type's
// pending request. The timer interrupts are driven by the counter/scaler
// subsystem; KEYRUPT1/2, UPRUPT, RADARUPT and HANDRUPT correspond to
// hardware this emulator does not itself simulate (DSKY keypresses, an
// uplink receiver, a rendezvous radar, the hand controllers) and so are
// raised only when the debugger/front end calls the matching RequestXxx
// method; DOWNRUPT is raised automatically on a WRITE to the downlink
// channels.
func (vm *VM) consumeInterruptRequest(id int) bool {
	switch id {
	case IntT6RUPT:
		return vm.Counters.ConsumeT6Overflow()
	case IntT5RUPT:
		return vm.Counters.ConsumeT5Overflow()
	case IntT3RUPT:
		return vm.Counters.ConsumeT3Overflow()
	case IntT4RUPT:
		return vm.Counters.ConsumeT4Overflow()
	case IntKEYRUPT1:
		return consumeFlag(&vm.pendingKeyrupt1)
	case IntKEYRUPT2:
		return consumeFlag(&vm.pendingKeyrupt2)
	case IntUPRUPT:
		return consumeFlag(&vm.pendingUprupt)
	case IntDOWNRUPT:
		return consumeFlag(&vm.pendingDownrupt)
	case IntRADARUPT:
		return consumeFlag(&vm.pendingRadarupt)
	case IntHANDRUPT:
		return consumeFlag(&vm.pendingHandrupt)
	default:
		return false
	}
}

// RequestKeyrupt1/2, RequestUprupt, RequestDownrupt, RequestRadarupt and
// RequestHandrupt latch a pending interrupt request for the next eligible
// Step to service. The front end calls these to simulate a DSKY keypress
// (KEYRUPT1 for the main keyboard, KEYRUPT2 for the AGS-shared keyboard),
// an uplinked word's arrival (UPRUPT), a rendezvous radar data-ready pulse
// (RADARUPT) or a hand-controller motion (HANDRUPT).
func (vm *VM) RequestKeyrupt1() { vm.pendingKeyrupt1 = true }
func (vm *VM) RequestKeyrupt2() { vm.pendingKeyrupt2 = true }
func (vm *VM) RequestUprupt()   { vm.pendingUprupt = true }
func (vm *VM) RequestDownrupt() { vm.pendingDownrupt = true }
func (vm *VM) RequestRadarupt() { vm.pendingRadarupt = true }
func (vm *VM) RequestHandrupt() { vm.pendingHandrupt = true }
