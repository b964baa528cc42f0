// Package dm implements the RISC-V v0.13 External Debug Support Debug
// Module register codec and the Abstract-Command/System-Bus back-end
// primitives built on top of it.
package dm

import "fmt"

// Address map (spec.md §3, fixed by the v0.13 Debug Module).
const (
	AddrDMControl    uint16 = 0x10
	AddrDMStatus     uint16 = 0x11
	AddrHartInfo     uint16 = 0x12
	AddrHaltSum      uint16 = 0x13
	AddrAbstractCS   uint16 = 0x16
	AddrCommand      uint16 = 0x17
	AddrAbstractAuto uint16 = 0x18
	AddrData0        uint16 = 0x04
	AddrData1        uint16 = 0x05
	AddrProgBuf0     uint16 = 0x20
	AddrSBCS         uint16 = 0x38
	AddrSBAddress0   uint16 = 0x39
	AddrSBAddress1   uint16 = 0x3A
	AddrSBAddress2   uint16 = 0x3B
	AddrSBData0      uint16 = 0x3C
	AddrSBData1      uint16 = 0x3D
	AddrSBData2      uint16 = 0x3E
	AddrSBData3      uint16 = 0x3F
	AddrVerbosity    uint16 = 0x60 // non-standard

	CSRAddrDCSR      uint16 = 0x7B0
	CSRAddrDPC       uint16 = 0x7B1
	CSRAddrDScratch0 uint16 = 0x7B2
	CSRAddrDScratch1 uint16 = 0x7B3 // canonical; a source constant aliased this to dscratch0
)

// AddrData returns the data register address for index i (0 or 1, the
// only indices this core uses: xlen==64 needs data0/data1 to stage a
// 64-bit value).
func AddrData(i int) uint16 {
	return AddrData0 + uint16(i)
}

// DMControl packs/unpacks the 'dmcontrol' register.
type DMControl uint32

const (
	dmcHaltReq         = 1 << 31
	dmcResumeReq       = 1 << 30
	dmcHartReset       = 1 << 29
	dmcAckHaveReset    = 1 << 28
	dmcHasel           = 1 << 26
	dmcHartSelLoShift  = 16
	dmcHartSelLoMask   = 0x3FF << dmcHartSelLoShift
	dmcHartSelHiShift  = 6
	dmcHartSelHiMask   = 0x3FF << dmcHartSelHiShift
	dmcSetResetHaltReq = 1 << 3
	dmcClrResetHaltReq = 1 << 2
	dmcNdmReset        = 1 << 1
	dmcDMActive        = 1 << 0
)

func MakeDMControl(haltreq, resumereq, hartreset, ackhavereset, hasel bool, hartsello, hartselhi uint16, setresethaltreq, clrresethaltreq, ndmreset, dmactive bool) DMControl {
	var v uint32
	setBit32(&v, dmcHaltReq, haltreq)
	setBit32(&v, dmcResumeReq, resumereq)
	setBit32(&v, dmcHartReset, hartreset)
	setBit32(&v, dmcAckHaveReset, ackhavereset)
	setBit32(&v, dmcHasel, hasel)
	v |= (uint32(hartsello) << dmcHartSelLoShift) & dmcHartSelLoMask
	v |= (uint32(hartselhi) << dmcHartSelHiShift) & dmcHartSelHiMask
	setBit32(&v, dmcSetResetHaltReq, setresethaltreq)
	setBit32(&v, dmcClrResetHaltReq, clrresethaltreq)
	setBit32(&v, dmcNdmReset, ndmreset)
	setBit32(&v, dmcDMActive, dmactive)
	return DMControl(v)
}

func (v DMControl) HaltReq() bool      { return v&dmcHaltReq != 0 }
func (v DMControl) ResumeReq() bool    { return v&dmcResumeReq != 0 }
func (v DMControl) HartReset() bool    { return v&dmcHartReset != 0 }
func (v DMControl) AckHaveReset() bool { return v&dmcAckHaveReset != 0 }
func (v DMControl) NdmReset() bool     { return v&dmcNdmReset != 0 }
func (v DMControl) DMActive() bool     { return v&dmcDMActive != 0 }

func (v DMControl) String() string {
	return fmt.Sprintf("dmcontrol{haltreq=%v,resumereq=%v,hartreset=%v,ndmreset=%v,dmactive=%v}",
		v.HaltReq(), v.ResumeReq(), v.HartReset(), v.NdmReset(), v.DMActive())
}

// DMStatus unpacks the (read-only) 'dmstatus' register.
type DMStatus uint32

const (
	dmsAnyHaveReset = 1 << 18
	dmsAnyUnavail   = 1 << 12
	dmsAllHalted    = 1 << 9
	dmsVersionMask  = 0xF
)

func (v DMStatus) AllHalted() bool   { return v&dmsAllHalted != 0 }
func (v DMStatus) AnyUnavail() bool  { return v&dmsAnyUnavail != 0 }
func (v DMStatus) AnyHaveReset() bool { return v&dmsAnyHaveReset != 0 }
func (v DMStatus) Version() uint8    { return uint8(v & dmsVersionMask) }

func (v DMStatus) String() string {
	return fmt.Sprintf("dmstatus{allhalted=%v,anyunavail=%v,anyhavereset=%v,version=%d}",
		v.AllHalted(), v.AnyUnavail(), v.AnyHaveReset(), v.Version())
}

// CmdErr is the abstractcs.cmderr enumeration.
type CmdErr uint8

const (
	CmdErrNone        CmdErr = 0
	CmdErrBusy        CmdErr = 1
	CmdErrNotSupported CmdErr = 2
	CmdErrException   CmdErr = 3
	CmdErrHaltResume  CmdErr = 4
	CmdErrBus         CmdErr = 5
	CmdErrOther       CmdErr = 7
)

func (e CmdErr) String() string {
	switch e {
	case CmdErrNone:
		return "none"
	case CmdErrBusy:
		return "busy"
	case CmdErrNotSupported:
		return "not-supported"
	case CmdErrException:
		return "exception"
	case CmdErrHaltResume:
		return "halt-resume"
	case CmdErrBus:
		return "bus"
	case CmdErrOther:
		return "other"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(e))
	}
}

// AbstractCS unpacks the 'abstractcs' register.
type AbstractCS uint32

const (
	acsProgBufSizeShift = 24
	acsProgBufSizeMask  = 0x1F << acsProgBufSizeShift
	acsBusy             = 1 << 12
	acsCmdErrShift      = 8
	acsCmdErrMask       = 0x7 << acsCmdErrShift
	acsDataCountMask    = 0x1F
)

func (v AbstractCS) Busy() bool     { return v&acsBusy != 0 }
func (v AbstractCS) CmdErr() CmdErr { return CmdErr((v & acsCmdErrMask) >> acsCmdErrShift) }
func (v AbstractCS) DataCount() uint8 { return uint8(v & acsDataCountMask) }

func (v AbstractCS) String() string {
	return fmt.Sprintf("abstractcs{busy=%v,cmderr=%s,datacount=%d}", v.Busy(), v.CmdErr(), v.DataCount())
}

// AbstractCSClearCmdErr is the write-1-to-clear value for cmderr.
const AbstractCSClearCmdErr AbstractCS = AbstractCS(CmdErrOther) << acsCmdErrShift

// Access-Register 'command' sizes.
const (
	AccessSizeLower32 = 2
	AccessSizeLower64 = 3
)

// Regno offsets for the Access-Register 'command.regno' field.
const (
	RegnoGPRBase uint32 = 0x1000
	RegnoFPRBase uint32 = 0x1020
)

// MakeAccessRegisterCommand packs an Access-Register form 'command' word.
func MakeAccessRegisterCommand(size int, postincrement, postexec, transfer, write bool, regno uint32) uint32 {
	var v uint32
	v |= uint32(size&0x7) << 20
	setBit32(&v, 1<<19, postincrement)
	setBit32(&v, 1<<18, postexec)
	setBit32(&v, 1<<17, transfer)
	setBit32(&v, 1<<16, write)
	v |= regno & 0xFFFF
	return v
}

// SBError is the sbcs.sberror enumeration.
type SBError uint8

const (
	SBErrorNone            SBError = 0
	SBErrorTimeout         SBError = 1
	SBErrorBadAddr         SBError = 2
	SBErrorAlignment       SBError = 3
	SBErrorUnsupportedSize SBError = 4
	SBErrorOther           SBError = 7
)

func (e SBError) String() string {
	switch e {
	case SBErrorNone:
		return "none"
	case SBErrorTimeout:
		return "timeout"
	case SBErrorBadAddr:
		return "bad-addr"
	case SBErrorAlignment:
		return "alignment"
	case SBErrorUnsupportedSize:
		return "unsupported-size"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(e))
	}
}

// SBAccess is the sbcs.sbaccess field encoding (access width selector).
type SBAccess uint8

const (
	SBAccess8   SBAccess = 0
	SBAccess16  SBAccess = 1
	SBAccess32  SBAccess = 2
	SBAccess64  SBAccess = 3
	SBAccess128 SBAccess = 4
)

// SBCS unpacks/packs the 'sbcs' register.
type SBCS uint32

const (
	sbcsSBBusyError     = 1 << 22
	sbcsSBBusy          = 1 << 21
	sbcsSBReadOnAddr    = 1 << 20
	sbcsSBAccessShift   = 17
	sbcsSBAccessMask    = 0x7 << sbcsSBAccessShift
	sbcsSBAutoIncrement = 1 << 16
	sbcsSBReadOnData    = 1 << 15
	sbcsSBErrorShift    = 12
	sbcsSBErrorMask     = 0x7 << sbcsSBErrorShift
)

func (v SBCS) Busy() bool      { return v&sbcsSBBusy != 0 }
func (v SBCS) BusyError() bool { return v&sbcsSBBusyError != 0 }
func (v SBCS) Error() SBError  { return SBError((v & sbcsSBErrorMask) >> sbcsSBErrorShift) }

func (v SBCS) String() string {
	return fmt.Sprintf("sbcs{busy=%v,busyerror=%v,error=%s}", v.Busy(), v.BusyError(), v.Error())
}

// MakeSBCS packs the fields of 'sbcs' this core writes. Unwritten fields
// (sbversion, sbasize, the supported-size flags) are read-only to
// software and are left zero; real hardware ignores writes to them.
func MakeSBCS(readOnAddr bool, access SBAccess, autoIncrement, readOnData bool, clearError, clearBusyError bool) uint32 {
	var v uint32
	setBit32(&v, sbcsSBReadOnAddr, readOnAddr)
	v |= (uint32(access) << sbcsSBAccessShift) & sbcsSBAccessMask
	setBit32(&v, sbcsSBAutoIncrement, autoIncrement)
	setBit32(&v, sbcsSBReadOnData, readOnData)
	if clearError {
		v |= uint32(SBErrorOther) << sbcsSBErrorShift
	}
	setBit32(&v, sbcsSBBusyError, clearBusyError)
	return v
}

// DCSRCause is the dcsr.cause enumeration (why the hart is halted).
type DCSRCause uint8

const (
	DCSRCauseEBreak  DCSRCause = 1
	DCSRCauseTrigger DCSRCause = 2
	DCSRCauseHaltReq DCSRCause = 3
	DCSRCauseStep    DCSRCause = 4
)

func (c DCSRCause) String() string {
	switch c {
	case DCSRCauseEBreak:
		return "ebreak"
	case DCSRCauseTrigger:
		return "trigger"
	case DCSRCauseHaltReq:
		return "haltreq"
	case DCSRCauseStep:
		return "step"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(c))
	}
}

// DCSR unpacks/packs the 'dcsr' register.
type DCSR uint32

const (
	dcsrCauseShift = 6
	dcsrCauseMask  = 0x7 << dcsrCauseShift
	dcsrStep       = 1 << 2
)

func (v DCSR) Cause() DCSRCause { return DCSRCause((v & dcsrCauseMask) >> dcsrCauseShift) }
func (v DCSR) Step() bool       { return v&dcsrStep != 0 }

func (v DCSR) WithStep(step bool) DCSR {
	var u uint32 = uint32(v)
	setBit32(&u, dcsrStep, step)
	return DCSR(u)
}

func (v DCSR) String() string {
	return fmt.Sprintf("dcsr{cause=%s,step=%v}", v.Cause(), v.Step())
}

func setBit32(v *uint32, mask uint32, set bool) {
	if set {
		*v |= mask
	} else {
		*v &^= mask
	}
}
