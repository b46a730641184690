package vm

import "testing"

func TestCPUReset(t *testing.T) {
	c := NewCPU()
	c.A = 0123
	c.L = 0456
	c.Q = 0700
	c.Z = 05000
	c.EB = 0300
	c.FB = 013
	c.Cycles = 999
	c.ExtraCode = true
	c.Inhint = false

	c.Reset()

	if c.A != 0 || c.L != 0 || c.Q != 0 {
		t.Errorf("A/L/Q not cleared: A=%o L=%o Q=%o", c.A, c.L, c.Q)
	}
	if c.Z != 04000 {
		t.Errorf("Z after Reset = %o, want 04000", c.Z)
	}
	if c.EB != 0 {
		t.Errorf("EB after Reset = %o, want 0", c.EB)
	}
	if c.FB != 02 {
		t.Errorf("FB after Reset = %o, want 02", c.FB)
	}
	if c.Cycles != 0 {
		t.Errorf("Cycles after Reset = %d, want 0", c.Cycles)
	}
	if c.ExtraCode {
		t.Error("ExtraCode not cleared by Reset")
	}
	if !c.Inhint {
		t.Error("Inhint not set by Reset")
	}
}

func TestCPUGetSetRegister(t *testing.T) {
	c := NewCPU()
	values := []uint16{0111, 0222, 0333, 0444, 0055, 0066, 0077}
	for i, v := range values {
		c.SetRegister(i, v)
	}
	for i, v := range values {
		if got := c.GetRegister(i); got != v {
			t.Errorf("GetRegister(%d) = %o, want %o", i, got, v)
		}
	}
	if got := c.GetRegister(100); got != 0 {
		t.Errorf("GetRegister(100) = %o, want 0", got)
	}
	// out-of-range SetRegister is a silent no-op
	c.SetRegister(100, 0777)
}

func TestRegisterNamesOrderMatchesIndices(t *testing.T) {
	names := RegisterNames()
	want := []string{"A", "L", "Q", "Z", "EB", "FB", "BB"}
	if len(names) != len(want) {
		t.Fatalf("RegisterNames() has %d entries, want %d", len(names), len(want))
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("RegisterNames()[%d] = %q, want %q", i, names[i], n)
		}
	}
}

func TestPackBB(t *testing.T) {
	c := NewCPU()
	c.FB = 013
	c.EB = 0200 // EB >> 8 = 0

	got := c.PackBB()
	want := (c.FB << 2) | (c.EB >> 8)
	if got != want {
		t.Errorf("PackBB() = %o, want %o", got, want)
	}
	if c.BB != want {
		t.Errorf("BB field not updated by PackBB: got %o, want %o", c.BB, want)
	}
}

func TestUnpackBB(t *testing.T) {
	c := NewCPU()
	c.UnpackBB(0123)

	if c.FB != (uint16(0123)>>2)&037 {
		t.Errorf("FB after UnpackBB = %o, want %o", c.FB, (uint16(0123)>>2)&037)
	}
	if c.EB != (uint16(0123)&3)<<8 {
		t.Errorf("EB after UnpackBB = %o, want %o", c.EB, (uint16(0123)&3)<<8)
	}
	if c.BB != 0123 {
		t.Errorf("BB after UnpackBB = %o, want %o", c.BB, 0123)
	}
}

func TestIncrementZWraps(t *testing.T) {
	c := NewCPU()
	c.Z = Mask12
	c.IncrementZ()
	if c.Z != 0 {
		t.Errorf("IncrementZ did not wrap: Z = %o, want 0", c.Z)
	}
}

func TestIncrementCycles(t *testing.T) {
	c := NewCPU()
	c.IncrementCycles(7)
	c.IncrementCycles(3)
	if c.Cycles != 10 {
		t.Errorf("Cycles = %d, want 10", c.Cycles)
	}
}
