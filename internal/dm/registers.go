package dm

import "rvdbg/internal/log"

// regRW is the shared Abstract-Command helper behind every GPR/FPR/CSR/PC
// read and write (spec.md §4.3).
func (b *Backend) regRW(xlen uint8, dmRegno uint32, write bool, value uint64) (uint64, error) {
	if !b.initialized {
		return 0, nil
	}

	size := AccessSizeLower32
	if xlen == 64 {
		size = AccessSizeLower64
	}

	if write {
		if err := b.dmiWrite(AddrData(0), uint32(value)); err != nil {
			return 0, err
		}
		if xlen == 64 {
			if err := b.dmiWrite(AddrData(1), uint32(value>>32)); err != nil {
				return 0, err
			}
		}
	}

	cmd := MakeAccessRegisterCommand(size, false, false, true, write, dmRegno)
	if err := b.dmiWrite(AddrCommand, cmd); err != nil {
		return 0, err
	}

	var acs AbstractCS
	if err := b.pollUntil("abstractcs.busy", func() (bool, error) {
		v, err := b.dmiRead(AddrAbstractCS)
		if err != nil {
			return false, err
		}
		acs = AbstractCS(v)
		return !acs.Busy(), nil
	}); err != nil {
		return 0, err
	}

	if ce := acs.CmdErr(); ce != CmdErrNone {
		log.ModDM.ErrorZ("abstract command failed").
			Hex32("regno", dmRegno).Bool("write", write).String("cmderr", ce.String()).End()
		if err := b.dmiWrite(AddrAbstractCS, uint32(AbstractCSClearCmdErr)); err != nil {
			return 0, err
		}
		return 0, errCmdErr(ce)
	}

	if write {
		// Source ambiguity (a): reg_write returns status_ok in both
		// branches of the original's cmderr check; treated here as
		// "propagate cmderr", already done above.
		return 0, nil
	}

	lo, err := b.dmiRead(AddrData(0))
	if err != nil {
		return 0, err
	}
	val := uint64(lo)
	if xlen == 64 {
		hi, err := b.dmiRead(AddrData(1))
		if err != nil {
			return 0, err
		}
		val |= uint64(hi) << 32
	}
	return val, nil
}

// GPRRead reads GPR regnum (0..31). GPR 0 is hardwired zero by the ISA;
// the Debug Module still round-trips whatever the hart reports for it.
func (b *Backend) GPRRead(xlen uint8, regnum uint8) (uint64, error) {
	return b.regRW(xlen, RegnoGPRBase+uint32(regnum), false, 0)
}

// GPRWrite writes GPR regnum.
func (b *Backend) GPRWrite(xlen uint8, regnum uint8, val uint64) error {
	_, err := b.regRW(xlen, RegnoGPRBase+uint32(regnum), true, val)
	return err
}

// FPRRead reads FPR regnum.
func (b *Backend) FPRRead(xlen uint8, regnum uint8) (uint64, error) {
	return b.regRW(xlen, RegnoFPRBase+uint32(regnum), false, 0)
}

// FPRWrite writes FPR regnum.
func (b *Backend) FPRWrite(xlen uint8, regnum uint8, val uint64) error {
	_, err := b.regRW(xlen, RegnoFPRBase+uint32(regnum), true, val)
	return err
}

// CSRRead reads the CSR at the given 12-bit CSR address.
func (b *Backend) CSRRead(xlen uint8, csrAddr uint16) (uint64, error) {
	return b.regRW(xlen, uint32(csrAddr), false, 0)
}

// CSRWrite writes the CSR at the given 12-bit CSR address.
func (b *Backend) CSRWrite(xlen uint8, csrAddr uint16, val uint64) error {
	_, err := b.regRW(xlen, uint32(csrAddr), true, val)
	return err
}

// PCRead reads the program counter via the 'dpc' debug CSR.
func (b *Backend) PCRead(xlen uint8) (uint64, error) {
	return b.CSRRead(xlen, CSRAddrDPC)
}

// PCWrite writes the program counter via the 'dpc' debug CSR.
func (b *Backend) PCWrite(xlen uint8, val uint64) error {
	return b.CSRWrite(xlen, CSRAddrDPC, val)
}

// PRIVRead reads the virtual PRIV pseudo-register (dcsr.prv, bits [1:0]).
func (b *Backend) PRIVRead(xlen uint8) (uint64, error) {
	v, err := b.CSRRead(xlen, CSRAddrDCSR)
	if err != nil {
		return 0, err
	}
	return v & 0x3, nil
}

// PRIVWrite writes the virtual PRIV pseudo-register.
func (b *Backend) PRIVWrite(xlen uint8, val uint64) error {
	dcsr, err := b.CSRRead(xlen, CSRAddrDCSR)
	if err != nil {
		return err
	}
	dcsr = (dcsr &^ 0x3) | (val & 0x3)
	return b.CSRWrite(xlen, CSRAddrDCSR, dcsr)
}
