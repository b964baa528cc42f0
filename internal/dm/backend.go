package dm

import (
	"time"

	"rvdbg/internal/log"
)

// PollBudget bounds a busy-poll loop: spec.md calls these numbers "part of
// the contract, not implementation hints" (1µs sleep, ~1s deadline).
type PollBudget struct {
	Sleep      time.Duration
	MaxIters   int
}

// DefaultPollBudget is the 1µs/1e6-iteration (~1s) busy-poll contract.
var DefaultPollBudget = PollBudget{Sleep: time.Microsecond, MaxIters: 1_000_000}

// Backend drives a v0.13 RISC-V Debug Module over a Transport, implementing
// the Abstract-Command and System-Bus primitives spec.md §4.3 describes.
// It has no thread of its own: every method runs to completion (or to its
// polling deadline) on the caller's goroutine, matching spec.md §5's "no
// asynchronous cancels inside back-end primitives".
type Backend struct {
	Transport Transport

	initialized bool
	verbosity   int
	xlen        uint8

	runMode       RunMode
	haltPollIters int

	// PollBudget and PostResumeDelay are part of the design contract
	// (spec.md §4.3/§5); they default to DefaultPollBudget/10µs but are
	// configurable for testing.
	PollBudget      PollBudget
	PostResumeDelay time.Duration

	sleep func(time.Duration) // overridable in tests
}

// NewBackend returns an uninitialized Backend. Call Init before issuing
// commands; until then every primitive is a no-op returning success, so
// the front end can be smoke-tested without hardware (spec.md §4.3).
func NewBackend(t Transport) *Backend {
	return &Backend{
		Transport:       t,
		PollBudget:      DefaultPollBudget,
		PostResumeDelay: 10 * time.Microsecond,
		sleep:           time.Sleep,
	}
}

// Init marks the back end ready to issue commands.
func (b *Backend) Init() error {
	b.initialized = true
	log.ModDM.InfoZ("back end initialized").End()
	return nil
}

// Final runs the back end's shutdown actions. It is a no-op beyond
// marking the back end uninitialized; the debug module itself is left
// as-is so a later session can reattach.
func (b *Backend) Final() error {
	b.initialized = false
	return nil
}

// Verbosity sets the logging verbosity and mirrors it into the
// non-standard DM verbosity scalar at address 0x60, tolerating DMs that
// ignore it.
func (b *Backend) Verbosity(n int) error {
	b.verbosity = n
	log.SetVerbosity(n)
	if !b.initialized {
		return nil
	}
	return b.Transport.DMIWrite(AddrVerbosity, uint32(n))
}

func (b *Backend) dmiWrite(addr uint16, val uint32) error {
	return b.Transport.DMIWrite(addr, val)
}

func (b *Backend) dmiRead(addr uint16) (uint32, error) {
	return b.Transport.DMIRead(addr)
}

// pollUntil repeatedly calls cond until it returns true or the poll
// budget is exhausted. cond returns (done, error); an error aborts the
// poll immediately.
func (b *Backend) pollUntil(what string, cond func() (bool, error)) error {
	for i := 0; i < b.PollBudget.MaxIters; i++ {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		b.sleep(b.PollBudget.Sleep)
	}
	return errTimeout(what)
}

// DMReset clears dmactive, waits for abstractcs.busy to clear, then
// verifies the Debug Module reports v0.13.
func (b *Backend) DMReset() error {
	if !b.initialized {
		return nil
	}
	log.ModDM.DebugZ("dm_reset").End()

	if err := b.dmiWrite(AddrDMControl, 0); err != nil {
		return err
	}
	if err := b.pollUntil("dm_reset abstractcs.busy", func() (bool, error) {
		v, err := b.dmiRead(AddrAbstractCS)
		if err != nil {
			return false, err
		}
		return !AbstractCS(v).Busy(), nil
	}); err != nil {
		return err
	}

	status, err := b.dmiRead(AddrDMStatus)
	if err != nil {
		return err
	}
	ver := DMStatus(status).Version()
	if ver != 2 {
		return &Error{Kind: ErrKindBadVersion, Msg: versionMsg(ver)}
	}

	// Re-assert dmactive; every subsequent command expects it set
	// (spec.md §3 invariant 2), except during this explicit reset pulse.
	return b.dmiWrite(AddrDMControl, uint32(MakeDMControl(false, false, false, false, false, 0, 0, false, false, false, true)))
}

func versionMsg(ver uint8) string {
	switch ver {
	case 0:
		return "no debug module present (version=0)"
	case 1:
		return "debug module reports v0.11, unsupported (version=1)"
	default:
		return "unrecognized debug module version"
	}
}

// NDMReset resets everything except the Debug Module.
func (b *Backend) NDMReset(haltreq bool) error {
	if !b.initialized {
		return nil
	}
	log.ModDM.DebugZ("ndm_reset").Bool("haltreq", haltreq).End()

	if err := b.dmiWrite(AddrDMControl, uint32(MakeDMControl(haltreq, false, false, false, false, 0, 0, false, false, true, true))); err != nil {
		return err
	}
	if err := b.dmiWrite(AddrDMControl, uint32(MakeDMControl(haltreq, false, false, false, false, 0, 0, false, false, false, true))); err != nil {
		return err
	}
	return b.pollUntil("ndm_reset dmstatus.anyunavail", func() (bool, error) {
		v, err := b.dmiRead(AddrDMStatus)
		if err != nil {
			return false, err
		}
		return !DMStatus(v).AnyUnavail(), nil
	})
}

// HartReset resets the hart.
func (b *Backend) HartReset(haltreq bool) error {
	if !b.initialized {
		return nil
	}
	log.ModDM.DebugZ("hart_reset").Bool("haltreq", haltreq).End()

	if err := b.dmiWrite(AddrDMControl, uint32(MakeDMControl(haltreq, false, true, false, false, 0, 0, false, false, false, true))); err != nil {
		return err
	}
	return b.pollUntil("hart_reset dmstatus.anyhavereset", func() (bool, error) {
		v, err := b.dmiRead(AddrDMStatus)
		if err != nil {
			return false, err
		}
		return !DMStatus(v).AnyHaveReset(), nil
	})
}
