package dm

import (
	"fmt"

	"rvdbg/internal/log"
)

// RunMode mirrors the target's run state as observed by the back end.
// PAUSE_REQUESTED is transient: set the instant a '^C' has been translated
// into haltreq, cleared the instant allhalted is observed.
type RunMode int

const (
	Paused RunMode = iota
	PauseRequested
	Step
	Continue
)

func (m RunMode) String() string {
	switch m {
	case Paused:
		return "paused"
	case PauseRequested:
		return "pause-requested"
	case Step:
		return "step"
	case Continue:
		return "continue"
	default:
		return fmt.Sprintf("run-mode(%d)", int(m))
	}
}

// StopReasonKind is the tri-state get-stop-reason result (source
// ambiguity (d): the original's 0/-1/-2 encodes halted/error/running).
type StopReasonKind int

const (
	Running StopReasonKind = iota
	Halted
	TimedOut
)

// StopReason is the result of GetStopReason: Kind Halted carries the
// dcsr.cause that produced the halt.
type StopReason struct {
	Kind  StopReasonKind
	Cause DCSRCause
}

// RunMode reports the back end's current run-state.
func (b *Backend) RunMode() RunMode { return b.runMode }

// ContinueTarget clears dcsr.step if set, resumes the hart, and moves the
// back end into the CONTINUE run-state.
func (b *Backend) ContinueTarget(xlen uint8) error {
	if !b.initialized {
		return nil
	}
	if err := b.clearStep(xlen); err != nil {
		return err
	}
	if err := b.dmiWrite(AddrDMControl, uint32(MakeDMControl(false, true, false, false, false, 0, 0, false, false, false, true))); err != nil {
		return err
	}
	b.runMode = Continue
	b.haltPollIters = 0
	return nil
}

// StepTarget sets dcsr.step if clear, resumes the hart for a single
// instruction, and waits for the hart to report halted again.
func (b *Backend) StepTarget(xlen uint8) error {
	if !b.initialized {
		return nil
	}
	if err := b.setStep(xlen); err != nil {
		return err
	}
	if err := b.dmiWrite(AddrDMControl, uint32(MakeDMControl(false, true, false, false, false, 0, 0, false, false, false, true))); err != nil {
		return err
	}
	if err := b.pollUntil("step dmstatus.allhalted", func() (bool, error) {
		v, err := b.dmiRead(AddrDMStatus)
		if err != nil {
			return false, err
		}
		return DMStatus(v).AllHalted(), nil
	}); err != nil {
		return err
	}
	b.runMode = Paused
	return nil
}

// StopTarget asserts haltreq and waits for the hart to halt.
func (b *Backend) StopTarget() error {
	if !b.initialized {
		return nil
	}
	if err := b.dmiWrite(AddrDMControl, uint32(MakeDMControl(true, false, false, false, false, 0, 0, false, false, false, true))); err != nil {
		return err
	}
	if err := b.pollUntil("stop dmstatus.allhalted", func() (bool, error) {
		v, err := b.dmiRead(AddrDMStatus)
		if err != nil {
			return false, err
		}
		return DMStatus(v).AllHalted(), nil
	}); err != nil {
		return err
	}
	b.runMode = Paused
	return nil
}

// RequestPause asserts haltreq without waiting for the hart to observe it,
// the '^C' path: it moves the back end to PAUSE_REQUESTED, and the caller
// (session layer) keeps polling GetStopReason until it reports Halted.
func (b *Backend) RequestPause() error {
	if !b.initialized {
		return nil
	}
	if err := b.dmiWrite(AddrDMControl, uint32(MakeDMControl(true, false, false, false, false, 0, 0, false, false, false, true))); err != nil {
		return err
	}
	b.runMode = PauseRequested
	return nil
}

// GetStopReason reads dmstatus.allhalted once (no sleep, not the full poll
// budget); the caller is expected to
// call this repeatedly from an outer loop bounded by CPU_TIMEOUT. Per
// spec.md §9(b), once haltPollIters exceeds the budget GetStopReason itself
// forces a stop rather than leaving that to the caller — there is exactly
// one CPU_TIMEOUT budget (PollBudget.MaxIters) and one path that acts on
// it, so haltPollIters never latches past the budget.
func (b *Backend) GetStopReason() (StopReason, error) {
	if !b.initialized {
		return StopReason{Kind: Running}, nil
	}

	v, err := b.dmiRead(AddrDMStatus)
	if err != nil {
		return StopReason{}, err
	}

	if !DMStatus(v).AllHalted() {
		b.haltPollIters++
		if b.haltPollIters <= b.PollBudget.MaxIters {
			return StopReason{Kind: Running}, nil
		}

		log.ModDM.WarnZ("CPU_TIMEOUT exceeded, forcing stop").End()
		b.haltPollIters = 0
		if err := b.StopTarget(); err != nil {
			return StopReason{}, err
		}
	}

	b.haltPollIters = 0
	b.runMode = Paused

	csrVal, err := b.CSRRead(b.xlenHint(), CSRAddrDCSR)
	if err != nil {
		return StopReason{}, err
	}
	return StopReason{Kind: Halted, Cause: DCSR(csrVal).Cause()}, nil
}

func (b *Backend) clearStep(xlen uint8) error {
	v, err := b.CSRRead(xlen, CSRAddrDCSR)
	if err != nil {
		return err
	}
	if !DCSR(v).Step() {
		return nil
	}
	return b.CSRWrite(xlen, CSRAddrDCSR, uint64(DCSR(v).WithStep(false)))
}

func (b *Backend) setStep(xlen uint8) error {
	v, err := b.CSRRead(xlen, CSRAddrDCSR)
	if err != nil {
		return err
	}
	if DCSR(v).Step() {
		return nil
	}
	return b.CSRWrite(xlen, CSRAddrDCSR, uint64(DCSR(v).WithStep(true)))
}

// xlenHint returns the xlen last used to configure the back end, falling
// back to 64 when unset; GetStopReason needs an xlen to read dcsr through
// the Abstract-Command path but the RSP front end does not pass one in
// (the underlying register read is xlen-agnostic for a 32-bit CSR value).
func (b *Backend) xlenHint() uint8 {
	if b.xlen != 0 {
		return b.xlen
	}
	return 64
}

// SetXLen records the session's xlen so back-end primitives that need one
// internally (GetStopReason's dcsr read) use the right Access-Register size.
func (b *Backend) SetXLen(xlen uint8) { b.xlen = xlen }
