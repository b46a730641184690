package vm

// CPU holds the Block II register file that lives outside erasable memory:
// the accumulator, the editing/addressing registers, and the bank-control
// latches that select which 256-word erasable bank and which 1024-word fixed
// bank the unswitched address range currently maps to.
//
// Words are one's-complement, stored here as plain uint16 with bit 15 unused
// (the hardware is a 15-bit machine; bit 15 is kept zero except where a
// register is explicitly sign-extended to 16 bits for arithmetic, namely
// A, L and Q).
type CPU struct {
	A uint16 // accumulator
	L uint16 // lower product / remainder register
	Q uint16 // return address register

	Z uint16 // program counter: 12-bit address within the addressed bank

	EB uint16 // erasable bank select, bits 8-10 of the EB register
	FB uint16 // fixed bank select: the fixed-switched bank number (0-037)
	BB uint16 // packed bank-bits register: (FB << 2) | (EB >> 8)

	Cycles uint64 // MCT count since reset, drives the scaler

	ExtraCode bool // true for the instruction cycle following EXTEND
	Inhint    bool // interrupts inhibited (set by INHINT, cleared by RELINT)
	InISR     bool // an interrupt service routine is currently running (RESUME clears it)
}

// Bank-bits packing: BB = (FB << 2) | EB-high-bits, per the Block II
// erasable/fixed addressing scheme. SuperbankBit folds FB=30..33 into the
// otherwise-unused upper fixed banks when the superbank latch is set.
const (
	SuperbankBit = 1 << 15
)

// NewCPU creates and initializes a new register file, equivalent to the
// state produced by GOJAM.
func NewCPU() *CPU {
	return &CPU{}
}

// Reset clears the register file to its GOJAM state: Z is forced to the
// fixed-fixed start address, banks are forced to bank 2, interrupts are
// inhibited.
func (c *CPU) Reset() {
	c.A = 0
	c.L = 0
	c.Q = 0
	c.Z = 04000 // GOJAM entry point, start of fixed-fixed bank 2
	c.EB = 0
	c.FB = 02
	c.BB = 0
	c.Cycles = 0
	c.ExtraCode = false
	c.Inhint = true
	c.InISR = false
}

// registerNames lists the CPU's named registers in the fixed index order
// GetRegister/SetRegister use, for debugger commands that address a
// register generically by number ("info registers", watchpoints).
var registerNames = []string{"A", "L", "Q", "Z", "EB", "FB", "BB"}

// GetRegister returns the value of register i in registerNames order, or 0
// if i is out of range.
func (c *CPU) GetRegister(i int) uint16 {
	switch i {
	case 0:
		return c.A
	case 1:
		return c.L
	case 2:
		return c.Q
	case 3:
		return c.Z
	case 4:
		return c.EB
	case 5:
		return c.FB
	case 6:
		return c.BB
	default:
		return 0
	}
}

// SetRegister sets register i in registerNames order. Out-of-range indices
// are ignored.
func (c *CPU) SetRegister(i int, value uint16) {
	switch i {
	case 0:
		c.A = value
	case 1:
		c.L = value
	case 2:
		c.Q = value
	case 3:
		c.Z = value
	case 4:
		c.EB = value
	case 5:
		c.FB = value
	case 6:
		c.BB = value
	}
}

// RegisterNames returns the ordered register name list GetRegister/SetRegister index into.
func RegisterNames() []string { return registerNames }

// PackBB recomputes BB from EB and FB, mirroring the hardware's combined
// bank-bits register.
func (c *CPU) PackBB() uint16 {
	c.BB = (c.FB << 2) | (c.EB >> 8)
	return c.BB
}

// UnpackBB sets EB and FB from a value written to the BB register.
func (c *CPU) UnpackBB(value uint16) {
	c.FB = (value >> 2) & 037
	c.EB = (value & 3) << 8
	c.BB = value
}

// IncrementCycles advances the MCT counter.
func (c *CPU) IncrementCycles(mct uint64) {
	c.Cycles += mct
}

// IncrementZ advances the program counter by one instruction word, wrapping
// within the 12-bit address field (bank boundaries are never crossed by
// simple increment: control returns to fixed-fixed territory instead).
func (c *CPU) IncrementZ() {
	c.Z = (c.Z + 1) & Mask12
}
