// Package rsp implements the GDB Remote Serial Protocol front end: framing,
// packet reassembly, handler dispatch, and the run-state coordination that
// turns a resumed target into a deferred stop-reason response.
package rsp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"rvdbg/internal/dm"
	"rvdbg/internal/log"
)

// Stream is the bidirectional byte stream to the debugger (spec.md §6's
// command_stream): a file descriptor, TCP connection, or PTY.
type Stream interface {
	io.Reader
	io.Writer
}

// deadlineSetter is implemented by net.Conn and lets Run poll the stop
// channel on a short cadence without a second reader goroutine, mirroring
// spec.md §5's "select on {command_stream, stop_stream} with 1ms timeout".
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

const pollInterval = time.Millisecond

// Session binds the command stream, stop stream, back end and xlen of one
// debugger connection. run_mode itself lives on the Backend (spec.md §9's
// re-architecture note), as does the CPU_TIMEOUT poll counter; Session
// additionally owns the waiting-for-stop-reason flag, which is front-end,
// not back-end, state.
type Session struct {
	Command Stream
	Stop    <-chan struct{}
	Backend *dm.Backend
	XLen    uint8

	// OnRunModeChange, if set, is called after every run-mode transition
	// (internal/statusws subscribes here to push dashboard snapshots).
	OnRunModeChange func(dm.RunMode)

	// ElfLoad, if set, backs the `elf_load <path>` monitor command;
	// cmd/rvdbg wires this to internal/elf.Loader.Load bound to Backend.
	ElfLoad func(path string) error

	PostResumeDelay time.Duration

	reasm                *Reassembler
	waitingForStopReason bool
}

// NewSession wires a Session ready to Run. postResumeDelay comes from
// internal/config (spec.md §4.3/§5's polling budgets, "part of the
// contract, not implementation hints"). The CPU_TIMEOUT budget itself
// lives entirely on Backend.PollBudget: dm.Backend.GetStopReason is the
// sole owner of forcing a stop when it is exceeded (spec.md §9(b)), so
// Session does not keep a second, independent timeout counter.
func NewSession(command Stream, stop <-chan struct{}, backend *dm.Backend, xlen uint8, postResumeDelay time.Duration) *Session {
	return &Session{
		Command:         command,
		Stop:            stop,
		Backend:         backend,
		XLen:            xlen,
		PostResumeDelay: postResumeDelay,
		reasm:           NewReassembler(),
	}
}

// Run drives the session to completion: it returns when the stop stream
// fires, the command stream errors, or an unrecoverable protocol error
// occurs. It never reorders responses and is the sole reader/writer of
// Command and the sole caller of Backend primitives (spec.md §5).
func (s *Session) Run() error {
	log.ModRSP.InfoZ("session started").Int("xlen", int(s.XLen)).End()
	buf := make([]byte, 4096)
	deadliner, _ := s.Command.(deadlineSetter)

	for {
		select {
		case <-s.Stop:
			log.ModRSP.InfoZ("session stopped").End()
			return nil
		default:
		}

		if deadliner != nil {
			_ = deadliner.SetReadDeadline(time.Now().Add(pollInterval))
		}

		n, err := s.Command.Read(buf)
		if err != nil {
			if isTimeout(err) {
				if err := s.pollDeferredStopReason(); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				log.ModRSP.InfoZ("command stream closed").End()
				return nil
			}
			log.ModRSP.ErrorZ("command stream read failed").Error("err", err).End()
			return fmt.Errorf("rsp: transport read: %w", err)
		}

		if n > 0 {
			if err := s.reasm.Feed(buf[:n]); err != nil {
				log.ModRSP.ErrorZ("reassembler overflow").Error("err", err).End()
				return fmt.Errorf("rsp: reassembler: %w", err)
			}
		}

		if err := s.drainPackets(); err != nil {
			return err
		}
		if err := s.pollDeferredStopReason(); err != nil {
			return err
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// drainPackets processes every complete frame currently buffered,
// preserving request/response ordering even when a single Read delivers
// several packets back to back.
func (s *Session) drainPackets() error {
	for {
		result, err := s.reasm.Next()
		if err != nil {
			// Malformed frame: nak and keep scanning (debugger retransmits).
			log.ModRSP.WarnZ("frame error").Error("err", err).End()
			if _, werr := s.Command.Write([]byte{'-'}); werr != nil {
				return fmt.Errorf("rsp: transport write: %w", werr)
			}
			continue
		}

		switch result.Kind {
		case NeedMore:
			return nil
		case Garbage:
			log.ModRSP.WarnZ("discarded garbage prefix").Int("bytes", result.GarbageLen).End()
			continue
		case ChecksumMismatch:
			if _, err := s.Command.Write([]byte{'-'}); err != nil {
				return fmt.Errorf("rsp: transport write: %w", err)
			}
			continue
		case ControlC:
			s.handleControlC()
			continue
		case Packet:
			if _, err := s.Command.Write([]byte{'+'}); err != nil {
				return fmt.Errorf("rsp: transport write: %w", err)
			}
			if err := s.dispatch(result.Payload); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

// pollDeferredStopReason implements spec.md §4.2's run-state coordination:
// after any resuming handler, the outer loop polls get_stop_reason until
// it reports halted, then emits exactly one T%02x and clears the flag.
func (s *Session) pollDeferredStopReason() error {
	if !s.waitingForStopReason {
		return nil
	}

	reason, err := s.Backend.GetStopReason()
	if err != nil {
		return fmt.Errorf("rsp: get-stop-reason: %w", err)
	}

	switch reason.Kind {
	case dm.Running:
		// Backend.GetStopReason owns the CPU_TIMEOUT budget and forces a
		// stop itself once it is exceeded (spec.md §9(b)); nothing to do
		// here but keep waiting for the next poll.
		return nil
	case dm.TimedOut:
		// Defensive fallback: GetStopReason is not expected to return this
		// under normal operation (it forces its own stop), but if it ever
		// does, force a stop and report it the same way an observed halt
		// would be reported, rather than flooding the client with errors.
		log.ModRSP.WarnZ("get-stop-reason reported timeout, forcing stop").End()
		if err := s.Backend.StopTarget(); err != nil {
			return fmt.Errorf("rsp: forced stop: %w", err)
		}
		s.setRunMode(dm.Paused)
		return s.sendStopReason(dm.DCSRCauseHaltReq)
	case dm.Halted:
		s.setRunMode(dm.Paused)
		return s.sendStopReason(reason.Cause)
	}
	return nil
}

func (s *Session) sendStopReason(cause dm.DCSRCause) error {
	s.waitingForStopReason = false
	payload := []byte(fmt.Sprintf("T%02x", uint8(cause)))
	return s.sendPacket(payload)
}

func (s *Session) handleControlC() {
	log.ModRSP.DebugZ("^C received, requesting halt").End()
	if err := s.Backend.RequestPause(); err != nil {
		log.ModRSP.ErrorZ("^C halt request failed").Error("err", err).End()
		return
	}
	s.setRunMode(dm.PauseRequested)
	s.waitingForStopReason = true
}

func (s *Session) setRunMode(mode dm.RunMode) {
	if s.OnRunModeChange != nil {
		s.OnRunModeChange(mode)
	}
}

func (s *Session) sendPacket(payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return fmt.Errorf("rsp: encode response: %w", err)
	}
	if _, err := s.Command.Write(frame); err != nil {
		return fmt.Errorf("rsp: transport write: %w", err)
	}
	return nil
}
