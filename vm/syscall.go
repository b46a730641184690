package vm

import "fmt"

// Error Handling Philosophy:
//
// This module uses two different error handling strategies depending on severity,
// carried over from the engine's general split between integrity failures and
// expected operation failures:
//
//  1. VM Integrity Errors (return Go errors, halt execution):
//     - a malformed rope image, an out-of-range bank select written by a bug
//       in the loader itself, or anything that means the emulator's own state
//       is inconsistent rather than the guest program's.
//     - Returns: fmt.Errorf("...") which halts Step() and sets StateError.
//
//  2. Expected Operation Failures (recorded as alarms, execution continues):
//     - Night Watchman, Rupt Lock, TC Trap, parity failures, and bus-counter
//       overruns are all conditions Block II software is written to expect
//       and recover from via GOJAM. They never become Go errors.
//     - Returns: an alarm bit set in channel 77 and a GOJAM-style reset.
//
// This distinction keeps guest-visible alarms (the kind the rope's own
// recovery code handles) separate from genuine emulator bugs.

// AlarmState tracks the hardware alarm conditions and the watchdog counters
// that detect them.
type AlarmState struct {
	Ch77 uint16 // channel 77 alarm bits, latched until GOJAM clears them

	nightWatchmanCounter uint64 // MCTs since Z last visited both watched regions
	nightWatchmanLastZ   uint16
	sawLowHalf           bool
	sawHighHalf          bool

	ruptLockDepth int // interrupt nesting depth; reaching 2 trips Rupt Lock

	tcTrapCounter int // consecutive TC-to-self-address instructions

	standby bool

	checkParity bool // enabled by the loader when a rope image carries parity data
}

// Alarm-detection thresholds, taken from the real machine's watchdog design:
// Night Watchman trips if neither the low (00000-01777-ish fixed) nor the
// high half of fixed-fixed memory is visited within roughly 12,000 MCTs.
const (
	nightWatchmanPeriod = 12000
	tcTrapLimit         = 2
)

// NewAlarmState returns a clear alarm state, as after GOJAM.
func NewAlarmState() *AlarmState {
	return &AlarmState{}
}

// NightWatchmanTick observes one executed instruction's address and resets
// or trips the Night Watchman timer.
func (a *AlarmState) NightWatchmanTick(z uint16, mct uint64) bool {
	if z < 04000 {
		a.sawLowHalf = true
	} else {
		a.sawHighHalf = true
	}
	if a.sawLowHalf && a.sawHighHalf {
		a.nightWatchmanCounter = 0
		a.sawLowHalf, a.sawHighHalf = false, false
		return false
	}
	a.nightWatchmanCounter += mct
	if a.nightWatchmanCounter >= nightWatchmanPeriod {
		a.Ch77 |= Ch77NightWatchman
		return true
	}
	return false
}

// RuptLockEnter/RuptLockExit track interrupt nesting; a second interrupt
// taken before the first RESUME executes is the hardware's Rupt Lock fault.
func (a *AlarmState) RuptLockEnter() bool {
	a.ruptLockDepth++
	if a.ruptLockDepth > 1 {
		a.Ch77 |= Ch77RuptLock
		return true
	}
	return false
}

// RuptLockExit clears one level of interrupt nesting, called on RESUME.
func (a *AlarmState) RuptLockExit() {
	if a.ruptLockDepth > 0 {
		a.ruptLockDepth--
	}
}

// TCTrapTick detects a TC instruction whose target is its own address,
// trapping after tcTrapLimit consecutive occurrences.
func (a *AlarmState) TCTrapTick(isSelfTC bool) bool {
	if !isSelfTC {
		a.tcTrapCounter = 0
		return false
	}
	a.tcTrapCounter++
	if a.tcTrapCounter >= tcTrapLimit {
		a.Ch77 |= Ch77TCTrap
		return true
	}
	return false
}

// ParityFail latches the parity-fail alarm bit when a fixed-memory word's
// stored parity disagrees with its recomputed parity.
func (a *AlarmState) ParityFail() {
	a.Ch77 |= Ch77ParityFail
}

// SetParityCheck enables or disables runtime parity checking, set by the
// loader once it has inspected whether a rope image carries parity data.
func (a *AlarmState) SetParityCheck(on bool) {
	a.checkParity = on
}

// ParityCheckEnabled reports whether fetchWord should verify parity.
func (a *AlarmState) ParityCheckEnabled() bool {
	return a.checkParity
}

// Tripped reports whether any alarm bit is currently latched.
func (a *AlarmState) Tripped() bool {
	return a.Ch77 != 0
}

// Clear resets all alarm bits and watchdog counters, as GOJAM does.
func (a *AlarmState) Clear() {
	a.Ch77 = 0
	a.nightWatchmanCounter = 0
	a.sawLowHalf, a.sawHighHalf = false, false
	a.ruptLockDepth = 0
	a.tcTrapCounter = 0
}

// GOJAM performs the hardware reset sequence: registers, bank selects and
// interrupt-inhibit are restored to their power-up state, alarm bits are
// latched into channel 77 for software to inspect, then cleared, and
// execution resumes at the fixed-fixed restart vector.
func (vm *VM) GOJAM(reason string) error {
	if vm.Alarms == nil {
		return fmt.Errorf("GOJAM invoked with no alarm state initialized")
	}
	vm.Alarms.standby = false
	latched := vm.Alarms.Ch77
	vm.CPU.Reset()
	vm.Counters.Reset()
	vm.Channels.Write(ChAlarmBox, latched)
	vm.Alarms.Clear()
	vm.LastGojamReason = reason
	vm.State = StateRunning
	if vm.Statistics != nil {
		vm.Statistics.RecordAlarm(reason)
	}
	return nil
}

// Standby records whether the AGC's low-power standby mode (channel 13 bit
// 11) is requested, as reported by InStandby. It only sets this flag; it
// does not change the VM's execution state, so instruction execution
// continues.
func (a *AlarmState) Standby(on bool) {
	a.standby = on
}

// InStandby reports whether the machine is currently in standby.
func (a *AlarmState) InStandby() bool {
	return a.standby
}
