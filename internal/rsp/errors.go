package rsp

import "fmt"

// RSP error codes (spec.md §7). Kept as small stable numbers rather than
// string-matched errors so the dispatcher never has to inspect an error's
// text to pick a response.
const (
	errnoParse    = 0x01 // (c) command parse error
	errnoDM       = 0x02 // (d) DMI/back-end error: cmderr/sberror/busy timeout
	errnoBadRegno = 0x03 // unrecognized p/P regnum
)

func (s *Session) sendOK() error {
	return s.sendPacket([]byte("OK"))
}

func (s *Session) sendError(errno uint8) error {
	return s.sendPacket([]byte(fmt.Sprintf("E%02x", errno)))
}

// sendEmpty replies with the "unsupported request" convention (spec.md
// §7(e)): an empty packet, `$#00`.
func (s *Session) sendEmpty() error {
	return s.sendPacket(nil)
}
