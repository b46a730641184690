package vm

// RegisterSnapshot captures the Block II register file for change detection
// between steps, used by the debugger's step/watch commands.
type RegisterSnapshot struct {
	A, L, Q    uint16
	Z          uint16
	EB, FB, BB uint16
}

// Capture captures the current state of the CPU.
func (s *RegisterSnapshot) Capture(cpu *CPU) {
	s.A = cpu.A
	s.L = cpu.L
	s.Q = cpu.Q
	s.Z = cpu.Z
	s.EB = cpu.EB
	s.FB = cpu.FB
	s.BB = cpu.BB
}

// ChangedRegisters returns the names of registers that differ between this
// snapshot and another.
func (s *RegisterSnapshot) ChangedRegisters(other *RegisterSnapshot) []string {
	var changed []string
	if s.A != other.A {
		changed = append(changed, "A")
	}
	if s.L != other.L {
		changed = append(changed, "L")
	}
	if s.Q != other.Q {
		changed = append(changed, "Q")
	}
	if s.Z != other.Z {
		changed = append(changed, "Z")
	}
	if s.EB != other.EB {
		changed = append(changed, "EB")
	}
	if s.FB != other.FB {
		changed = append(changed, "FB")
	}
	if s.BB != other.BB {
		changed = append(changed, "BB")
	}
	return changed
}

// BankChanged returns true if the addressing context (EB/FB/BB) changed.
func (s *RegisterSnapshot) BankChanged(other *RegisterSnapshot) bool {
	return s.EB != other.EB || s.FB != other.FB || s.BB != other.BB
}

// GetRegister returns the value of a named register from the snapshot.
func (s *RegisterSnapshot) GetRegister(name string) uint16 {
	switch name {
	case "A":
		return s.A
	case "L":
		return s.L
	case "Q":
		return s.Q
	case "Z":
		return s.Z
	case "EB":
		return s.EB
	case "FB":
		return s.FB
	case "BB":
		return s.BB
	default:
		return 0
	}
}
