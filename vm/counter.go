package vm

// Counters holds the scaler-driven timing registers (TIME1-TIME6) and the
// CDU pulse FIFOs that the real hardware increments out-of-band with
// instruction execution, driven off a fixed-frequency scaler rather than
// the program counter.
//
// The scaler itself runs every MCT. Every ScalerDivider MCTs it produces a
// SCALER1 pulse, which increments TIME1/TIME2 (the free-running clock).
// Every ScalerOverflow SCALER1 pulses (so every ScalerDivider*ScalerOverflow
// MCTs) it produces a SCALER2 pulse, which drives the TIME3/TIME4/TIME5
// interval timers that fire T3RUPT/T4RUPT/T5RUPT on overflow. TIME4 and
// TIME5 are phase-offset from TIME3 within that period (TIME5 by half a
// period, TIME4 by three-quarters) so the three interrupts, used by the
// downlink, rendezvous-radar and servo/autopilot schedulers respectively,
// never all land on the same instruction cycle.
type Counters struct {
	Time1, Time2        uint16
	Time3, Time4, Time5 uint16
	Time6               uint16

	scaler uint64 // free-running MCT count since reset, mod scalerPeriod

	t3Armed, t4Armed, t5Armed                bool
	t3Overflowed, t4Overflowed, t5Overflowed bool

	time6Sub       uint32 // MCTs accumulated toward the next TIME6 DINC
	t6Overflowed   bool

	cdu [NumCDUFifos]cduAxis
}

// scalerPeriod is the MCT span of one full SCALER1/SCALER2 chain: every
// ScalerDivider MCTs ticks SCALER1, every ScalerOverflow of those ticks
// SCALER2.
const scalerPeriod = ScalerDivider * ScalerOverflow

// Phase offsets (in MCTs within a scalerPeriod window) of TIME5 and TIME4
// relative to TIME3, expressed as fractions of the period to mirror the
// real machine's half- and three-quarter-period stagger.
const (
	time5PhaseOffset = scalerPeriod / 2
	time4PhaseOffset = scalerPeriod * 3 / 4
)

// time6Period is the MCT interval between TIME6 DINC pulses, approximating
// the waitlist timer's 1/1600s tick at the machine's nominal MCT rate.
const time6Period = AGCPerSecond / 1600

// cduAxis tracks one CDU pulse FIFO: a coalesced signed pulse count awaiting
// drain (same-sign arrivals accumulate, an opposite-sign arrival replaces
// the pending count rather than fighting it pulse-by-pulse) and the
// countdown, in MCTs, until the next pulse may be drained.
type cduAxis struct {
	pending   int32
	interval  uint16
	countdown uint16
}

// NewCounters returns a zeroed counter bank, armed for T3/T4/T5.
func NewCounters() *Counters {
	return &Counters{
		t3Armed: true,
		t4Armed: true,
		t5Armed: true,
	}
}

// Tick advances the scaler by mct MCTs, applying the TIME1/TIME2 chain, the
// phase-offset TIME3/TIME4/TIME5 interval timers, the TIME6 waitlist DINC
// (only while time6Enabled, mirroring the channel 13 bit 15 gate), and
// draining any due CDU pulses through applyCDU(axis, delta).
func (c *Counters) Tick(mct uint64, time6Enabled bool, applyCDU func(axis int, delta int16)) {
	for i := uint64(0); i < mct; i++ {
		c.scaler = (c.scaler + 1) % scalerPeriod
		cur := c.scaler

		switch cur {
		case 0:
			c.pulseScaler2(0)
		case time5PhaseOffset:
			c.pulseScaler2(time5PhaseOffset)
		case time4PhaseOffset:
			c.pulseScaler2(time4PhaseOffset)
		}

		if c.scaler%ScalerDivider == 0 {
			c.Time1++
			if c.Time1 == 0 {
				c.Time2++
			}
		}

		if time6Enabled {
			c.time6Sub++
			if c.time6Sub >= time6Period {
				c.time6Sub = 0
				c.dincTime6()
			}
		}
	}

	for axis := range c.cdu {
		c.drainCDU(axis, mct, applyCDU)
	}
}

// pulseScaler2 applies one phase's SCALER2 pulse: phase 0 drives TIME3,
// time5PhaseOffset drives TIME5, time4PhaseOffset drives TIME4.
func (c *Counters) pulseScaler2(phase uint64) {
	switch phase {
	case 0:
		if c.t3Armed {
			c.Time3++
			if c.Time3 == 0 {
				c.t3Overflowed = true
			}
		}
	case time5PhaseOffset:
		if c.t5Armed {
			c.Time5++
			if c.Time5 == 0 {
				c.t5Overflowed = true
			}
		}
	case time4PhaseOffset:
		if c.t4Armed {
			c.Time4++
			if c.Time4 == 0 {
				c.t4Overflowed = true
			}
		}
	}
}

// dincTime6 applies one DINC pulse to TIME6: the register counts down
// toward zero from either sign, firing T6RUPT the instant it lands exactly
// on zero, then holding there until software reloads it.
func (c *Counters) dincTime6() {
	if c.Time6 == 0 {
		return
	}
	if c.Time6&signBit16 == 0 {
		c.Time6 = AddSP16(c.Time6, NegSP(1))
	} else {
		c.Time6 = AddSP16(c.Time6, 1)
	}
	if c.Time6 == 0 {
		c.t6Overflowed = true
	}
}

// ConsumeT3/T4/T5/T6Overflow report and clear a pending interval-timer
// overflow, called by interrupt arbitration.
func (c *Counters) ConsumeT3Overflow() bool { return consumeFlag(&c.t3Overflowed) }
func (c *Counters) ConsumeT4Overflow() bool { return consumeFlag(&c.t4Overflowed) }
func (c *Counters) ConsumeT5Overflow() bool { return consumeFlag(&c.t5Overflowed) }
func (c *Counters) ConsumeT6Overflow() bool { return consumeFlag(&c.t6Overflowed) }

func consumeFlag(f *bool) bool {
	v := *f
	*f = false
	return v
}

// QueueCDUPulse enqueues a signed pulse count (PCDU positive, MCDU
// negative) for the given CDU axis FIFO (0=X, 1=Y, 2=Z). fast selects the
// 13-MCT drain interval the optics/gimbal-rate pulse trains use; the
// default is the 213-MCT interval the IMU CDU drive uses. A same-sign
// arrival coalesces into the pending count (capped at MaxCDUFifoEntries); a
// sign reversal replaces the pending count outright, matching how a new
// torquing command supersedes a stale one before the FIFO has drained it.
func (c *Counters) QueueCDUPulse(axis int, pulses int8, fast bool) {
	if axis < 0 || axis >= NumCDUFifos || pulses == 0 {
		return
	}
	interval := uint16(213)
	if fast {
		interval = 13
	}
	a := &c.cdu[axis]
	delta := int32(pulses)
	switch {
	case a.pending == 0:
		a.pending = delta
		a.interval = interval
		a.countdown = interval
	case (a.pending > 0) == (delta > 0):
		a.pending += delta
		if a.pending > MaxCDUFifoEntries {
			a.pending = MaxCDUFifoEntries
		} else if a.pending < -MaxCDUFifoEntries {
			a.pending = -MaxCDUFifoEntries
		}
	default:
		a.pending = delta
		a.interval = interval
		a.countdown = interval
	}
}

// drainCDU advances one axis's countdown by mct MCTs, invoking applyCDU
// once per whole interval elapsed while a pulse remains pending (round-robin
// across axes falls out naturally since each axis is serviced in turn with
// its own independent countdown).
func (c *Counters) drainCDU(axis int, mct uint64, applyCDU func(axis int, delta int16)) {
	a := &c.cdu[axis]
	if a.pending == 0 {
		return
	}
	remaining := mct
	for remaining > 0 && a.pending != 0 {
		if uint64(a.countdown) > remaining {
			a.countdown -= uint16(remaining)
			return
		}
		remaining -= uint64(a.countdown)
		a.countdown = a.interval

		step := int16(1)
		if a.pending < 0 {
			step = -1
			a.pending++
		} else {
			a.pending--
		}
		if applyCDU != nil {
			applyCDU(axis, step)
		}
	}
}

// Reset clears all timers and FIFOs, as on GOJAM.
func (c *Counters) Reset() {
	c.Time1, c.Time2 = 0, 0
	c.Time3, c.Time4, c.Time5, c.Time6 = 0, 0, 0, 0
	c.scaler = 0
	c.time6Sub = 0
	c.t3Overflowed, c.t4Overflowed, c.t5Overflowed, c.t6Overflowed = false, false, false, false
	for i := range c.cdu {
		c.cdu[i] = cduAxis{}
	}
}
