package rsp

import (
	"fmt"
	"strconv"
	"strings"

	"rvdbg/internal/log"
)

const monitorHelp = `rvdbg monitor commands:
  help                  this message
  verbosity <n>         set DM verbosity scalar (0x60)
  xlen <32|64>          switch the session's register width
  reset_dm              dm_reset
  reset_ndm             ndm_reset(haltreq=1)
  reset_hart            hart_reset(haltreq=1)
  elf_load <path>       load an ELF image into target memory
`

// handleMonitor implements qRcmd,<hex> (spec.md §4.2's monitor commands).
func (s *Session) handleMonitor(hexTokens []byte) error {
	raw, err := Hex2Bin(hexTokens)
	if err != nil {
		return s.sendError(errnoParse)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return s.sendError(errnoParse)
	}

	switch fields[0] {
	case "help":
		return s.sendOPacket(monitorHelp)
	case "verbosity":
		return s.monitorVerbosity(fields)
	case "xlen":
		return s.monitorXLen(fields)
	case "reset_dm":
		if err := s.Backend.DMReset(); err != nil {
			log.ModRSP.WarnZ("reset_dm failed").Error("err", err).End()
			return s.sendError(errnoDM)
		}
		return s.sendOK()
	case "reset_ndm":
		if err := s.Backend.NDMReset(true); err != nil {
			log.ModRSP.WarnZ("reset_ndm failed").Error("err", err).End()
			return s.sendError(errnoDM)
		}
		return s.sendOK()
	case "reset_hart":
		if err := s.Backend.HartReset(true); err != nil {
			log.ModRSP.WarnZ("reset_hart failed").Error("err", err).End()
			return s.sendError(errnoDM)
		}
		return s.sendOK()
	case "elf_load":
		return s.monitorElfLoad(fields)
	default:
		return s.sendEmpty()
	}
}

func (s *Session) monitorVerbosity(fields []string) error {
	if len(fields) != 2 {
		return s.sendError(errnoParse)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return s.sendError(errnoParse)
	}
	if err := s.Backend.Verbosity(n); err != nil {
		return s.sendError(errnoDM)
	}
	return s.sendOK()
}

func (s *Session) monitorXLen(fields []string) error {
	if len(fields) != 2 {
		return s.sendError(errnoParse)
	}
	switch fields[1] {
	case "32":
		s.XLen = 32
	case "64":
		s.XLen = 64
	default:
		return s.sendError(errnoParse)
	}
	s.Backend.SetXLen(s.XLen)
	return s.sendOK()
}

func (s *Session) monitorElfLoad(fields []string) error {
	if len(fields) != 2 || s.ElfLoad == nil {
		return s.sendError(errnoParse)
	}
	if err := s.ElfLoad(fields[1]); err != nil {
		log.ModRSP.WarnZ("elf_load failed").String("path", fields[1]).Error("err", err).End()
		return s.sendError(errnoDM)
	}
	return s.sendOK()
}

// sendOPacket replies with GDB's console-output convention: `O` followed
// by the hex encoding of the ASCII text.
func (s *Session) sendOPacket(text string) error {
	return s.sendPacket([]byte(fmt.Sprintf("O%s", Bin2Hex([]byte(text)))))
}
