package vm

// Block II timing and memory geometry constants, consolidated from the
// separate per-concern constant files the original interpreter kept.
const (
	ErasableBanks    = 8
	ErasableBankSize = 0400 // 256 words per erasable bank
	FixedBanks       = 044  // 36 fixed banks, numbered octal 00-043
	FixedBankSize    = 02000
	MaxCoreAddress   = 07777

	AGCPerSecond = 85450 // MCT/s, the real machine's clock rate

	ScalerOverflow = 80
	ScalerDivider  = 3

	WarningFilterIncrement = 15000
	WarningFilterDecrement = 15
	WarningFilterMax       = 140000
	WarningFilterThreshold = 20000

	CoarseSmooth = 8
	GyroBurst    = 800
	GyroBurst2   = 1024

	MaxCDUFifoEntries = 128
	NumCDUFifos       = 3

	DSKYFlashPeriod = 4

	NumInterruptTypes = 10
)

// Register-file addresses within erasable bank 0.
const (
	RegA    = 000
	RegL    = 001
	RegQ    = 002
	RegEB   = 003
	RegFB   = 004
	RegZ    = 005
	RegBB   = 006
	RegZERO = 007

	RegARUPT  = 010
	RegLRUPT  = 011
	RegQRUPT  = 012
	RegZRUPT  = 013
	RegBBRUPT = 014
	RegBRUPT  = 015

	RegCYR  = 016
	RegSR   = 017
	RegCYL  = 020
	RegEDOP = 021

	RegTIME2 = 022
	RegTIME1 = 023
	RegTIME3 = 024
	RegTIME4 = 025
	RegTIME5 = 026
	RegTIME6 = 027

	RegCDUX = 030
	RegCDUY = 031
	RegCDUZ = 032
	RegOPTY = 033
	RegOPTX = 034

	RegPIPAX = 035
	RegPIPAY = 036
	RegPIPAZ = 037

	RegINLINK  = 043
	RegRNRAD   = 044
	RegGYROCTR = 045
	RegCDUXCMD = 046
	RegCDUYCMD = 047
	RegCDUZCMD = 050

	RegNEWJOB = 067
)

// Channel numbers with hard-coded side effects in the IE/CT subsystems.
const (
	ChSuperbank  = 007
	ChLampLatch  = 010
	ChDSKYLamps1 = 011
	ChIMUDrive   = 013
	ChIMUDrive2  = 014
	ChKeyboard1  = 015
	ChKeyboard2  = 016
	ChInput30    = 030
	ChInput31    = 031
	ChInput32    = 032
	ChInput33    = 033
	ChDownlink1  = 034
	ChDownlink2  = 035
	ChAlarmBox   = 077
	ChDSKYAgg    = 0163
	ChUplink     = 0173
	ChOptY       = 0171
	ChOptX       = 0172
	ChIMUCDUX    = 0174
	ChIMUCDUY    = 0175
	ChIMUCDUZ    = 0176
	ChGyroPulse  = 0177
	ChRHCX       = 0166
	ChRHCY       = 0167
	ChRHCZ       = 0170
)

// Channel 77 alarm bits.
const (
	Ch77NightWatchman = 1 << 0
	Ch77RuptLock      = 1 << 1
	Ch77TCTrap        = 1 << 2
	Ch77ParityFail    = 1 << 3
)

// Interrupt vector indices, in priority order (lowest index wins arbitration).
const (
	IntT6RUPT = iota + 1
	IntT5RUPT
	IntT3RUPT
	IntT4RUPT
	IntKEYRUPT1
	IntKEYRUPT2
	IntUPRUPT
	IntDOWNRUPT
	IntRADARUPT
	IntHANDRUPT
)

// Masks used while decoding an instruction word.
const (
	Mask9     = 000777
	Mask10    = 001777
	Mask12    = 007777
	Mask16Bit = 0177777
)

// interruptVectors gives the fixed-fixed entry address for each interrupt
// type, in the same order as the IntXXX priority constants. All ten vectors
// live in bank 02, four words apart, per the Block II interrupt hardware.
var interruptVectors = map[int]uint16{
	IntT6RUPT:   04000,
	IntT5RUPT:   04004,
	IntT3RUPT:   04010,
	IntT4RUPT:   04014,
	IntKEYRUPT1: 04020,
	IntKEYRUPT2: 04024,
	IntUPRUPT:   04030,
	IntDOWNRUPT: 04034,
	IntRADARUPT: 04040,
	IntHANDRUPT: 04044,
}

// interruptNames gives the mnemonic for each fixed-fixed vector address, for
// diagnostics and telemetry that want to report which interrupt fired rather
// than its raw entry address.
var interruptNames = map[uint16]string{
	04000: "T6RUPT",
	04004: "T5RUPT",
	04010: "T3RUPT",
	04014: "T4RUPT",
	04020: "KEYRUPT1",
	04024: "KEYRUPT2",
	04030: "UPRUPT",
	04034: "DOWNRUPT",
	04040: "RADARUPT",
	04044: "HANDRUPT",
}

// InterruptName returns the mnemonic for a fixed-fixed interrupt vector
// address, or "" if vectorAddr does not name one of the ten vectors.
func InterruptName(vectorAddr uint16) string {
	return interruptNames[vectorAddr]
}

// ExecutionState mirrors the VM's run/halt/alarm condition.
type ExecutionState int

const (
	StateRunning ExecutionState = iota
	StateHalted
	StateError
	StateStandby
)

const DefaultMaxCycles = 100_000_000

const DefaultLogCapacity = 1000
