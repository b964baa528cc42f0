package rsp

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"rvdbg/internal/dm"
	"rvdbg/internal/log"
)

// maxMemLen is the §4.2 "sizing and truncation" clamp for `m`: length is
// bounded so the hex-encoded response fits the wire payload bound.
func maxMemLen() int {
	return (PayloadMax - 1) / 2
}

// dispatch decodes payload[0] and invokes the matching handler, keyed
// exactly as spec.md §4.2's handler table.
func (s *Session) dispatch(payload []byte) error {
	if len(payload) == 0 {
		return s.sendEmpty()
	}

	log.ModRSP.DebugZ("dispatch").String("cmd", string(payload[:1])).End()

	switch payload[0] {
	case '?':
		return s.handleStopReasonQuery()
	case 'c':
		return s.handleContinue(payload[1:])
	case 'D':
		return s.handleDetach()
	case 'g':
		return s.handleReadAllRegs()
	case 'G':
		return s.handleWriteAllRegs(payload[1:])
	case 'm':
		return s.handleReadMem(payload[1:])
	case 'M':
		return s.handleWriteMem(payload[1:])
	case 'p':
		return s.handleReadOneReg(payload[1:])
	case 'P':
		return s.handleWriteOneReg(payload[1:])
	case 'q':
		return s.handleQuery(payload[1:])
	case 's':
		return s.handleStep(payload[1:])
	case 'X':
		return s.handleWriteMemBinary(payload[1:])
	default:
		return s.sendEmpty()
	}
}

func (s *Session) handleStopReasonQuery() error {
	reason, err := s.Backend.GetStopReason()
	if err != nil {
		return s.sendError(errnoDM)
	}
	switch reason.Kind {
	case dm.Halted:
		return s.sendStopReason(reason.Cause)
	case dm.TimedOut:
		// Defensive fallback mirroring pollDeferredStopReason: force a
		// stop and report the real reason rather than an error code.
		log.ModRSP.WarnZ("get-stop-reason reported timeout, forcing stop").End()
		if err := s.Backend.StopTarget(); err != nil {
			return s.sendError(errnoDM)
		}
		s.setRunMode(dm.Paused)
		return s.sendStopReason(dm.DCSRCauseHaltReq)
	default: // Running: defer, the outer loop will emit T%02x later.
		s.waitingForStopReason = true
		return nil
	}
}

// parseOptionalAddr parses the optional hex address suffix of `c`/`s`.
func parseOptionalAddr(rest []byte) (addr uint64, has bool, err error) {
	if len(rest) == 0 {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(string(rest), 16, 64)
	if err != nil {
		return 0, false, fmt.Errorf("rsp: malformed address %q: %w", rest, err)
	}
	return v, true, nil
}

func (s *Session) handleContinue(rest []byte) error {
	addr, has, err := parseOptionalAddr(rest)
	if err != nil {
		return s.sendError(errnoParse)
	}
	if has {
		if err := s.Backend.PCWrite(s.XLen, addr); err != nil {
			return s.sendError(errnoDM)
		}
	}
	if err := s.Backend.ContinueTarget(s.XLen); err != nil {
		return s.sendError(errnoDM)
	}
	s.setRunMode(dm.Continue)
	s.sleepPostResume()
	s.waitingForStopReason = true
	return nil
}

func (s *Session) handleStep(rest []byte) error {
	addr, has, err := parseOptionalAddr(rest)
	if err != nil {
		return s.sendError(errnoParse)
	}
	if has {
		if err := s.Backend.PCWrite(s.XLen, addr); err != nil {
			return s.sendError(errnoDM)
		}
	}
	s.setRunMode(dm.Step)
	if err := s.Backend.StepTarget(s.XLen); err != nil {
		return s.sendError(errnoDM)
	}
	s.waitingForStopReason = true
	return nil
}

func (s *Session) handleDetach() error {
	if err := s.Backend.Final(); err != nil {
		return s.sendError(errnoDM)
	}
	return s.sendOK()
}

// numGPRs and the "32 GPRs then PC" layout of `g`/`G` (spec.md §4.2's
// table; FPRs are TODO per source ambiguity (e), so the payload carries
// exactly 33 xlen-wide values).
const numGPRs = 32

func (s *Session) handleReadAllRegs() error {
	var out bytes.Buffer
	for r := 0; r < numGPRs; r++ {
		v, err := s.Backend.GPRRead(s.XLen, uint8(r))
		if err != nil {
			return s.sendError(errnoDM)
		}
		hex, err := ValToHex(v, int(s.XLen))
		if err != nil {
			return s.sendError(errnoDM)
		}
		out.Write(hex)
	}
	pc, err := s.Backend.PCRead(s.XLen)
	if err != nil {
		return s.sendError(errnoDM)
	}
	hex, err := ValToHex(pc, int(s.XLen))
	if err != nil {
		return s.sendError(errnoDM)
	}
	out.Write(hex)
	return s.sendPacket(out.Bytes())
}

func (s *Session) handleWriteAllRegs(hexPayload []byte) error {
	digitsPerReg := int(s.XLen) / 4
	want := digitsPerReg * (numGPRs + 1)
	if len(hexPayload) != want {
		return s.sendError(errnoParse)
	}
	for r := 0; r < numGPRs; r++ {
		chunk := hexPayload[r*digitsPerReg : (r+1)*digitsPerReg]
		v, err := HexToVal(chunk, int(s.XLen))
		if err != nil {
			return s.sendError(errnoParse)
		}
		if err := s.Backend.GPRWrite(s.XLen, uint8(r), v); err != nil {
			return s.sendError(errnoDM)
		}
	}
	pcChunk := hexPayload[numGPRs*digitsPerReg:]
	pc, err := HexToVal(pcChunk, int(s.XLen))
	if err != nil {
		return s.sendError(errnoParse)
	}
	if err := s.Backend.PCWrite(s.XLen, pc); err != nil {
		return s.sendError(errnoDM)
	}
	return s.sendOK()
}

func parseAddrLen(rest []byte) (addr uint64, length int, err error) {
	parts := bytes.SplitN(rest, []byte{','}, 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rsp: malformed addr,len %q", rest)
	}
	a, err := strconv.ParseUint(string(parts[0]), 16, 64)
	if err != nil {
		return 0, 0, err
	}
	l, err := strconv.ParseUint(string(parts[1]), 16, 32)
	if err != nil {
		return 0, 0, err
	}
	return a, int(l), nil
}

func (s *Session) handleReadMem(rest []byte) error {
	addr, length, err := parseAddrLen(rest)
	if err != nil {
		return s.sendError(errnoParse)
	}
	if length > maxMemLen() {
		length = maxMemLen()
	}
	data, err := s.Backend.MemRead(addr, length)
	if err != nil {
		return s.sendError(errnoDM)
	}
	return s.sendPacket(Bin2Hex(data))
}

func (s *Session) handleWriteMem(rest []byte) error {
	parts := bytes.SplitN(rest, []byte{':'}, 2)
	if len(parts) != 2 {
		return s.sendError(errnoParse)
	}
	addr, length, err := parseAddrLen(parts[0])
	if err != nil {
		return s.sendError(errnoParse)
	}
	if length > maxMemLen() {
		return s.sendError(errnoParse)
	}
	data, err := Hex2Bin(parts[1])
	if err != nil {
		return s.sendError(errnoParse)
	}
	if len(data) != length {
		return s.sendError(errnoParse)
	}
	log.ModRSP.DebugZ("M write").Hex64("addr", addr).Blob("data", data).End()
	if err := s.Backend.MemWrite(addr, data); err != nil {
		return s.sendError(errnoDM)
	}
	return s.sendOK()
}

func (s *Session) handleWriteMemBinary(rest []byte) error {
	parts := bytes.SplitN(rest, []byte{':'}, 2)
	if len(parts) != 2 {
		return s.sendError(errnoParse)
	}
	addr, length, err := parseAddrLen(parts[0])
	if err != nil {
		return s.sendError(errnoParse)
	}
	data := parts[1]
	if len(data) != length {
		return s.sendError(errnoParse)
	}
	log.ModRSP.DebugZ("X write").Hex64("addr", addr).Blob("data", data).End()
	if err := s.Backend.MemWrite(addr, data); err != nil {
		return s.sendError(errnoDM)
	}
	return s.sendOK()
}

func regWidthBits(r Reg, xlen uint8) int {
	if r.Kind == RegPriv {
		return 8
	}
	return int(xlen)
}

func (s *Session) readReg(r Reg) (uint64, error) {
	switch r.Kind {
	case RegGPR:
		return s.Backend.GPRRead(s.XLen, uint8(r.Index))
	case RegPC:
		return s.Backend.PCRead(s.XLen)
	case RegFPR:
		return s.Backend.FPRRead(s.XLen, uint8(r.Index))
	case RegCSR:
		return s.Backend.CSRRead(s.XLen, r.Index)
	case RegPriv:
		return s.Backend.PRIVRead(s.XLen)
	}
	return 0, fmt.Errorf("rsp: unreachable regkind %d", r.Kind)
}

func (s *Session) writeReg(r Reg, v uint64) error {
	switch r.Kind {
	case RegGPR:
		return s.Backend.GPRWrite(s.XLen, uint8(r.Index), v)
	case RegPC:
		return s.Backend.PCWrite(s.XLen, v)
	case RegFPR:
		return s.Backend.FPRWrite(s.XLen, uint8(r.Index), v)
	case RegCSR:
		return s.Backend.CSRWrite(s.XLen, r.Index, v)
	case RegPriv:
		return s.Backend.PRIVWrite(s.XLen, v)
	}
	return fmt.Errorf("rsp: unreachable regkind %d", r.Kind)
}

func (s *Session) handleReadOneReg(rest []byte) error {
	n, err := strconv.ParseUint(string(rest), 16, 32)
	if err != nil {
		return s.sendError(errnoParse)
	}
	reg, err := ResolveRegnum(uint32(n))
	if err != nil {
		return s.sendError(errnoBadRegno)
	}
	v, err := s.readReg(reg)
	if err != nil {
		return s.sendError(errnoDM)
	}
	hex, err := ValToHex(v, regWidthBits(reg, s.XLen))
	if err != nil {
		return s.sendError(errnoDM)
	}
	return s.sendPacket(hex)
}

func (s *Session) handleWriteOneReg(rest []byte) error {
	parts := bytes.SplitN(rest, []byte{'='}, 2)
	if len(parts) != 2 {
		return s.sendError(errnoParse)
	}
	n, err := strconv.ParseUint(string(parts[0]), 16, 32)
	if err != nil {
		return s.sendError(errnoParse)
	}
	reg, err := ResolveRegnum(uint32(n))
	if err != nil {
		return s.sendError(errnoBadRegno)
	}
	v, err := HexToVal(parts[1], regWidthBits(reg, s.XLen))
	if err != nil {
		return s.sendError(errnoParse)
	}
	if err := s.writeReg(reg, v); err != nil {
		return s.sendError(errnoDM)
	}
	return s.sendOK()
}

func (s *Session) handleQuery(rest []byte) error {
	switch {
	case bytes.Equal(rest, []byte("Attached")):
		return s.sendPacket([]byte("1"))
	case bytes.HasPrefix(rest, []byte("Supported")):
		return s.sendPacket([]byte(fmt.Sprintf("PacketSize=%x", PayloadMax)))
	case bytes.HasPrefix(rest, []byte("Rcmd,")):
		return s.handleMonitor(rest[len("Rcmd,"):])
	default:
		// qXfer and any other unrecognized q sub-command: unsupported.
		return s.sendEmpty()
	}
}

func (s *Session) sleepPostResume() {
	if s.PostResumeDelay <= 0 {
		return
	}
	time.Sleep(s.PostResumeDelay)
}
