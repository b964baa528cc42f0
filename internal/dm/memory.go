package dm

import "rvdbg/internal/log"

func (b *Backend) sbWaitIdle() (SBCS, error) {
	var sbcs SBCS
	err := b.pollUntil("sbcs.busy", func() (bool, error) {
		v, err := b.dmiRead(AddrSBCS)
		if err != nil {
			return false, err
		}
		sbcs = SBCS(v)
		return !sbcs.Busy(), nil
	})
	return sbcs, err
}

// sbSetup waits for the system bus to go idle, then programs sbcs for a
// run of 32-bit accesses, clearing any latched sberror/sbbusyerror (W1C)
// from a previous run. Every System-Bus phase begins here (spec.md §3
// invariant 4).
func (b *Backend) sbSetup(readOnAddr, autoIncrement, readOnData bool) error {
	if _, err := b.sbWaitIdle(); err != nil {
		return err
	}
	return b.dmiWrite(AddrSBCS, MakeSBCS(readOnAddr, SBAccess32, autoIncrement, readOnData, true, true))
}

// sbSetAddress programs the bus address. The high half goes first: with
// sbreadonaddr set, the write to sbaddress0 triggers the first bus read,
// so sbaddress1 must already hold the right value by then.
func (b *Backend) sbSetAddress(addr uint64) error {
	if b.xlenHint() == 64 || addr>>32 != 0 {
		if err := b.dmiWrite(AddrSBAddress1, uint32(addr>>32)); err != nil {
			return err
		}
	}
	return b.dmiWrite(AddrSBAddress0, uint32(addr))
}

// sbCheckError waits for the bus to go idle and surfaces any latched
// sberror/sbbusyerror, clearing it (W1C) so the next access starts clean.
func (b *Backend) sbCheckError() error {
	sbcs, err := b.sbWaitIdle()
	if err != nil {
		return err
	}
	if se := sbcs.Error(); se != SBErrorNone || sbcs.BusyError() {
		log.ModDM.ErrorZ("system bus access failed").
			String("sberror", se.String()).Bool("sbbusyerror", sbcs.BusyError()).End()
		if err := b.dmiWrite(AddrSBCS, MakeSBCS(false, SBAccess32, false, false, true, true)); err != nil {
			return err
		}
		return errSBError(se)
	}
	return nil
}

// sbReadWord performs a single-shot 32-bit read at an aligned address,
// used for the read half of an edge read-modify-write.
func (b *Backend) sbReadWord(addr uint64) (uint32, error) {
	if err := b.sbSetup(true, false, false); err != nil {
		return 0, err
	}
	if err := b.sbSetAddress(addr); err != nil {
		return 0, err
	}
	if _, err := b.sbWaitIdle(); err != nil {
		return 0, err
	}
	v, err := b.dmiRead(AddrSBData0)
	if err != nil {
		return 0, err
	}
	if err := b.sbCheckError(); err != nil {
		return 0, err
	}
	return v, nil
}

// sbWriteWord performs a single-shot 32-bit write at an aligned address.
func (b *Backend) sbWriteWord(addr uint64, val uint32) error {
	if err := b.sbSetup(false, false, false); err != nil {
		return err
	}
	if err := b.sbSetAddress(addr); err != nil {
		return err
	}
	if err := b.dmiWrite(AddrSBData0, val); err != nil {
		return err
	}
	return b.sbCheckError()
}

func wordBytes(w uint32) [4]byte {
	return [4]byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)}
}

func bytesWord(p [4]byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

// MemRead reads length bytes starting at addr via the System Bus. The
// whole covering word range is streamed with sbreadonaddr+sbreadondata+
// sbautoincrement: writing sbaddress0 triggers the first bus read, and
// each sbdata0 read triggers the next; partial words at the edges are
// trimmed to the requested byte range.
func (b *Backend) MemRead(addr uint64, length int) ([]byte, error) {
	if !b.initialized || length == 0 {
		return nil, nil
	}

	addr4 := addr &^ 3
	lim := addr + uint64(length)
	lim4 := (lim + 3) &^ 3

	if err := b.sbSetup(true, true, true); err != nil {
		return nil, err
	}
	if err := b.sbSetAddress(addr4); err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	for cur := addr4; cur < lim4; cur += 4 {
		if _, err := b.sbWaitIdle(); err != nil {
			return nil, err
		}
		word, err := b.dmiRead(AddrSBData0)
		if err != nil {
			return nil, err
		}
		wbuf := wordBytes(word)
		lo, hi := 0, 4
		if cur < addr {
			lo = int(addr - cur)
		}
		if cur+4 > lim {
			hi = int(lim - cur)
		}
		out = append(out, wbuf[lo:hi]...)
	}

	if err := b.sbCheckError(); err != nil {
		return nil, err
	}
	return out, nil
}

// MemWrite writes data to addr via the System Bus. Partial words at either
// end of the range are handled with a read-modify-write so bytes outside
// the requested range are left untouched; the aligned middle is streamed
// as whole 32-bit words with sbautoincrement.
func (b *Backend) MemWrite(addr uint64, data []byte) error {
	if !b.initialized || len(data) == 0 {
		return nil
	}

	cur := addr
	remaining := data

	if cur&3 != 0 {
		a4 := cur &^ 3
		word, err := b.sbReadWord(a4)
		if err != nil {
			return err
		}
		wbuf := wordBytes(word)
		skip := int(cur - a4)
		n := 4 - skip
		if n > len(remaining) {
			n = len(remaining)
		}
		copy(wbuf[skip:skip+n], remaining[:n])
		if err := b.sbWriteWord(a4, bytesWord(wbuf)); err != nil {
			return err
		}
		cur += uint64(n)
		remaining = remaining[n:]
	}

	if len(remaining) >= 4 {
		if err := b.sbSetup(false, true, false); err != nil {
			return err
		}
		if err := b.sbSetAddress(cur); err != nil {
			return err
		}
		for len(remaining) >= 4 {
			if _, err := b.sbWaitIdle(); err != nil {
				return err
			}
			var wbuf [4]byte
			copy(wbuf[:], remaining[:4])
			if err := b.dmiWrite(AddrSBData0, bytesWord(wbuf)); err != nil {
				return err
			}
			cur += 4
			remaining = remaining[4:]
		}
		if err := b.sbCheckError(); err != nil {
			return err
		}
	}

	if len(remaining) > 0 {
		word, err := b.sbReadWord(cur)
		if err != nil {
			return err
		}
		wbuf := wordBytes(word)
		copy(wbuf[:len(remaining)], remaining)
		if err := b.sbWriteWord(cur, bytesWord(wbuf)); err != nil {
			return err
		}
	}

	return nil
}
