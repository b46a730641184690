package vm

import "testing"

func TestNightWatchmanResetsOnBothHalvesVisited(t *testing.T) {
	a := NewAlarmState()

	if tripped := a.NightWatchmanTick(02000, 5000); tripped {
		t.Fatal("tripped after only low half visited")
	}
	if tripped := a.NightWatchmanTick(04000, 5000); tripped {
		t.Fatal("tripped after visiting both halves within the period")
	}
	if a.Tripped() {
		t.Error("Ch77 latched after a clean low/high visit")
	}
}

func TestNightWatchmanTripsAfterPeriodWithoutBothHalves(t *testing.T) {
	a := NewAlarmState()

	// Stay in the low half only, accumulating MCTs past the watch period.
	tripped := false
	for total := uint64(0); total < nightWatchmanPeriod+1000; total += 4000 {
		if a.NightWatchmanTick(01000, 4000) {
			tripped = true
			break
		}
	}
	if !tripped {
		t.Fatal("Night Watchman never tripped while stuck in one half")
	}
	if a.Ch77&Ch77NightWatchman == 0 {
		t.Error("Ch77NightWatchman bit not set after trip")
	}
	if !a.Tripped() {
		t.Error("Tripped() false after Night Watchman trip")
	}
}

func TestRuptLockNesting(t *testing.T) {
	a := NewAlarmState()

	if a.RuptLockEnter() {
		t.Fatal("first RuptLockEnter tripped Rupt Lock")
	}
	if !a.RuptLockEnter() {
		t.Fatal("second nested RuptLockEnter did not trip Rupt Lock")
	}
	if a.Ch77&Ch77RuptLock == 0 {
		t.Error("Ch77RuptLock bit not set")
	}

	a.RuptLockExit()
	a.RuptLockExit()
	// depth floors at zero, exits beyond that are harmless
	a.RuptLockExit()
}

func TestTCTrapTripsAfterConsecutiveSelfAddressedTC(t *testing.T) {
	a := NewAlarmState()

	if a.TCTrapTick(true) {
		t.Fatal("tripped on first self-addressed TC")
	}
	if !a.TCTrapTick(true) {
		t.Fatal("did not trip on second consecutive self-addressed TC")
	}
	if a.Ch77&Ch77TCTrap == 0 {
		t.Error("Ch77TCTrap bit not set")
	}
}

func TestTCTrapResetsOnNonSelfTC(t *testing.T) {
	a := NewAlarmState()

	a.TCTrapTick(true)
	if a.TCTrapTick(false) {
		t.Fatal("a non-self-addressed TC tripped the trap")
	}
	if a.TCTrapTick(true) {
		t.Fatal("counter did not reset after the intervening non-self TC")
	}
}

func TestParityFail(t *testing.T) {
	a := NewAlarmState()
	a.ParityFail()
	if a.Ch77&Ch77ParityFail == 0 {
		t.Error("Ch77ParityFail bit not set after ParityFail")
	}
}

func TestParityCheckEnable(t *testing.T) {
	a := NewAlarmState()
	if a.ParityCheckEnabled() {
		t.Fatal("parity check enabled by default")
	}
	a.SetParityCheck(true)
	if !a.ParityCheckEnabled() {
		t.Error("ParityCheckEnabled false after SetParityCheck(true)")
	}
}

func TestAlarmStateClear(t *testing.T) {
	a := NewAlarmState()
	a.ParityFail()
	a.RuptLockEnter()
	a.RuptLockEnter()
	a.TCTrapTick(true)
	a.TCTrapTick(true)

	a.Clear()

	if a.Tripped() {
		t.Error("Tripped() true after Clear")
	}
	if a.RuptLockEnter() {
		t.Error("Rupt Lock depth not reset by Clear")
	}
}

func TestGOJAMLatchesAlarmsAndResets(t *testing.T) {
	vm := NewVM()
	vm.CPU.A = 012345
	vm.CPU.Z = 05000
	vm.Alarms.ParityFail()
	vm.Alarms.RuptLockEnter()
	vm.Alarms.RuptLockEnter() // trips Rupt Lock too
	latched := vm.Alarms.Ch77

	if err := vm.GOJAM("test alarm"); err != nil {
		t.Fatalf("GOJAM returned error: %v", err)
	}

	if vm.CPU.Z != 04000 {
		t.Errorf("CPU.Z after GOJAM = %o, want 04000", vm.CPU.Z)
	}
	if vm.CPU.A != 0 {
		t.Errorf("CPU.A after GOJAM = %o, want 0", vm.CPU.A)
	}
	if vm.Alarms.Tripped() {
		t.Error("alarm state still tripped after GOJAM")
	}
	if got := vm.Channels.Read(ChAlarmBox); got != latched {
		t.Errorf("channel 77 after GOJAM = %o, want latched value %o", got, latched)
	}
	if vm.LastGojamReason != "test alarm" {
		t.Errorf("LastGojamReason = %q, want %q", vm.LastGojamReason, "test alarm")
	}
	if vm.State != StateRunning {
		t.Errorf("State after GOJAM = %v, want StateRunning", vm.State)
	}
}

func TestGOJAMWithoutAlarmStateReturnsError(t *testing.T) {
	vm := NewVM()
	vm.Alarms = nil
	if err := vm.GOJAM("no alarms"); err == nil {
		t.Fatal("expected error when Alarms is nil")
	}
}

func TestStandby(t *testing.T) {
	a := NewAlarmState()
	if a.InStandby() {
		t.Fatal("InStandby true by default")
	}
	a.Standby(true)
	if !a.InStandby() {
		t.Error("InStandby false after Standby(true)")
	}
	a.Standby(false)
	if a.InStandby() {
		t.Error("InStandby true after Standby(false)")
	}
}
