package rsp

import (
	"bytes"
	"testing"
	"time"

	"rvdbg/internal/dm"
)

// fakeTransport is a minimal in-memory dm.Transport: an Access-Register
// "register file" keyed by regno, a System Bus backed by a byte map, and
// an always-v0.13, always-halted dmstatus.
type fakeTransport struct {
	regs      map[uint16]uint32
	abs       map[uint16]uint32
	mem       map[uint64]byte
	sbAutoInc bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		regs: map[uint16]uint32{dmAddrDMStatus: 0x2 | (1 << 9)}, // version=2, allhalted=1
		abs:  map[uint16]uint32{},
		mem:  map[uint64]byte{},
	}
}

const (
	dmAddrDMStatus   = 0x11
	dmAddrCommand    = 0x17
	dmAddrAbstractCS = 0x16
	dmAddrData0      = 0x04
	dmAddrData1      = 0x05
	dmAddrSBAddress0 = 0x39
	dmAddrSBAddress1 = 0x3A
	dmAddrSBData0    = 0x3C
	dmAddrSBCS       = 0x38

	sbcsAutoIncrementBit = 1 << 16
)

func (f *fakeTransport) sbAddr() uint64 {
	return uint64(f.regs[dmAddrSBAddress0]) | uint64(f.regs[dmAddrSBAddress1])<<32
}

func (f *fakeTransport) sbAdvance() {
	if !f.sbAutoInc {
		return
	}
	next := f.sbAddr() + 4
	f.regs[dmAddrSBAddress0] = uint32(next)
	f.regs[dmAddrSBAddress1] = uint32(next >> 32)
}

func (f *fakeTransport) DMIRead(addr uint16) (uint32, error) {
	switch addr {
	case dmAddrAbstractCS:
		return 0, nil // never busy, never erroring
	case dmAddrSBCS:
		return 0, nil
	case dmAddrSBData0:
		a := f.sbAddr()
		word := uint32(f.mem[a]) | uint32(f.mem[a+1])<<8 | uint32(f.mem[a+2])<<16 | uint32(f.mem[a+3])<<24
		f.sbAdvance()
		return word, nil
	}
	return f.regs[addr], nil
}

func (f *fakeTransport) DMIWrite(addr uint16, val uint32) error {
	switch addr {
	case dmAddrCommand:
		regno := uint16(val & 0xFFFF)
		write := val&(1<<16) != 0
		if write {
			f.abs[regno] = f.regs[dmAddrData0]
			f.abs[regno+1] = f.regs[dmAddrData1]
		} else {
			f.regs[dmAddrData0] = f.abs[regno]
			f.regs[dmAddrData1] = f.abs[regno+1]
		}
		return nil
	case dmAddrSBCS:
		f.sbAutoInc = val&sbcsAutoIncrementBit != 0
		return nil
	case dmAddrSBData0:
		a := f.sbAddr()
		f.mem[a] = byte(val)
		f.mem[a+1] = byte(val >> 8)
		f.mem[a+2] = byte(val >> 16)
		f.mem[a+3] = byte(val >> 24)
		f.sbAdvance()
		return nil
	}
	f.regs[addr] = val
	return nil
}

// testStream feeds a scripted byte sequence to Session.Run and records
// every byte the session writes back.
type testStream struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func (t *testStream) Read(p []byte) (int, error)  { return t.in.Read(p) }
func (t *testStream) Write(p []byte) (int, error) { return t.out.Write(p) }

func newSessionFixture(t *testing.T, xlen uint8) (*Session, *testStream) {
	t.Helper()
	transport := newFakeTransport()
	backend := dm.NewBackend(transport)
	if err := backend.Init(); err != nil {
		t.Fatalf("backend.Init: %v", err)
	}
	stream := &testStream{in: bytes.NewReader(nil)}
	sess := NewSession(stream, make(chan struct{}), backend, xlen, 0)
	return sess, stream
}

func TestReadGPR64(t *testing.T) {
	transport := newFakeTransport()
	backend := dm.NewBackend(transport)
	backend.Init()
	if err := backend.GPRWrite(64, 2, 0x00000000DEADBEEF); err != nil {
		t.Fatalf("seed GPRWrite: %v", err)
	}

	frame, err := EncodeFrame([]byte("p02"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	stream := &testStream{in: bytes.NewReader(frame)}
	sess := NewSession(stream, make(chan struct{}), backend, 64, 0)

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "+$efbeadde00000000#"
	if !bytes.Contains(stream.out.Bytes(), []byte(want)) {
		t.Fatalf("output %q does not contain %q", stream.out.Bytes(), want)
	}
}

func TestWritePC32(t *testing.T) {
	sess, stream := newSessionFixture(t, 32)
	frame, err := EncodeFrame([]byte("P20=78563412"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	stream.in = bytes.NewReader(frame)

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Contains(stream.out.Bytes(), []byte("+$OK#")) {
		t.Fatalf("output %q missing OK", stream.out.Bytes())
	}
	pc, err := sess.Backend.PCRead(32)
	if err != nil {
		t.Fatalf("PCRead: %v", err)
	}
	if pc != 0x12345678 {
		t.Fatalf("pc = %#x, want 0x12345678", pc)
	}
}

func TestChecksumRetry(t *testing.T) {
	sess, stream := newSessionFixture(t, 64)
	var script bytes.Buffer
	script.WriteString("$g#00") // bad checksum
	good, _ := EncodeFrame([]byte("p00"))
	script.Write(good)
	stream.in = bytes.NewReader(script.Bytes())

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := stream.out.Bytes()
	if out[0] != '-' {
		t.Fatalf("expected nak first, got %q", out)
	}
	if !bytes.Contains(out, []byte("+$")) {
		t.Fatalf("expected an ack+packet after retransmission, got %q", out)
	}
}

func TestEmptyPacketRoundTrip(t *testing.T) {
	sess, stream := newSessionFixture(t, 64)
	stream.in = bytes.NewReader([]byte("$#00"))
	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(stream.out.Bytes(), []byte("+$#00")) {
		t.Fatalf("got %q", stream.out.Bytes())
	}
}

// fakeConn implements the deadlineSetter optional interface so Run's
// poll-and-check-stop loop exercises the same path a real net.Conn would.
type fakeConn struct {
	deadline time.Time
}

func (c *fakeConn) SetReadDeadline(t time.Time) error { c.deadline = t; return nil }
func (c *fakeConn) Read(p []byte) (int, error) {
	time.Sleep(time.Until(c.deadline))
	return 0, timeoutErr{}
}
func (c *fakeConn) Write(p []byte) (int, error) { return len(p), nil }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFPRWriteThenReadViaPackets(t *testing.T) {
	sess, stream := newSessionFixture(t, 64)
	// Regnum 0x23 is FPR 2; value 0x123456789abcdef0 in little-endian hex.
	var script bytes.Buffer
	wr, err := EncodeFrame([]byte("P23=f0debc9a78563412"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	script.Write(wr)
	rd, err := EncodeFrame([]byte("p23"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	script.Write(rd)
	stream.in = bytes.NewReader(script.Bytes())

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := stream.out.Bytes()
	if !bytes.Contains(out, []byte("+$OK#")) {
		t.Fatalf("output %q missing OK for the write", out)
	}
	if !bytes.Contains(out, []byte("$f0debc9a78563412#")) {
		t.Fatalf("output %q missing the read-back FPR value", out)
	}
}

func TestPrivWriteThenReadViaPackets(t *testing.T) {
	sess, stream := newSessionFixture(t, 64)
	// Regnum 0x1041 is the virtual PRIV pseudo-register, 1 byte wide.
	var script bytes.Buffer
	wr, err := EncodeFrame([]byte("P1041=03"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	script.Write(wr)
	rd, err := EncodeFrame([]byte("p1041"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	script.Write(rd)
	stream.in = bytes.NewReader(script.Bytes())

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := stream.out.Bytes()
	if !bytes.Contains(out, []byte("+$OK#")) {
		t.Fatalf("output %q missing OK for the write", out)
	}
	if !bytes.Contains(out, []byte("$03#")) {
		t.Fatalf("output %q missing the read-back PRIV value", out)
	}
}

func TestWriteMemBinaryUnaligned(t *testing.T) {
	transport := newFakeTransport()
	for i, b := range []byte{0xAA, 0xBB, 0xCC, 0xDD} {
		transport.mem[0x80000000+uint64(i)] = b
	}
	backend := dm.NewBackend(transport)
	backend.Init()

	frame, err := EncodeFrame([]byte("X80000003,5:\x01\x02\x03\x04\x05"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	stream := &testStream{in: bytes.NewReader(frame)}
	sess := NewSession(stream, make(chan struct{}), backend, 64, 0)

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Contains(stream.out.Bytes(), []byte("+$OK#")) {
		t.Fatalf("output %q missing OK", stream.out.Bytes())
	}

	want := map[uint64]byte{
		0x80000000: 0xAA, 0x80000001: 0xBB, 0x80000002: 0xCC, // preserved
		0x80000003: 0x01,
		0x80000004: 0x02, 0x80000005: 0x03, 0x80000006: 0x04, 0x80000007: 0x05,
	}
	for addr, b := range want {
		if got := transport.mem[addr]; got != b {
			t.Fatalf("mem[%#x] = %#x, want %#x", addr, got, b)
		}
	}
}

func TestContinueInterruptSingleStopReason(t *testing.T) {
	transport := newFakeTransport()
	backend := dm.NewBackend(transport)
	backend.Init()
	// dcsr.cause = HALTREQ, what a ^C-induced halt reports.
	if err := backend.CSRWrite(64, 0x7B0, uint64(dm.DCSRCauseHaltReq)<<6); err != nil {
		t.Fatalf("seed dcsr: %v", err)
	}

	var script bytes.Buffer
	cont, _ := EncodeFrame([]byte("c"))
	script.Write(cont)
	script.WriteByte(0x03)
	stream := &testStream{in: bytes.NewReader(script.Bytes())}
	sess := NewSession(stream, make(chan struct{}), backend, 64, 0)

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := stream.out.Bytes()
	if n := bytes.Count(out, []byte("$T03#")); n != 1 {
		t.Fatalf("expected exactly one T03 stop-reason packet, got %d in %q", n, out)
	}
}

func TestMonitorXLenSwitch(t *testing.T) {
	sess, stream := newSessionFixture(t, 64)
	frame, err := EncodeFrame(append([]byte("qRcmd,"), Bin2Hex([]byte("xlen 32"))...))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	stream.in = bytes.NewReader(frame)

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Contains(stream.out.Bytes(), []byte("+$OK#")) {
		t.Fatalf("output %q missing OK", stream.out.Bytes())
	}
	if sess.XLen != 32 {
		t.Fatalf("XLen = %d, want 32", sess.XLen)
	}
}

func TestMonitorHelpIsOPacket(t *testing.T) {
	sess, stream := newSessionFixture(t, 64)
	frame, err := EncodeFrame(append([]byte("qRcmd,"), Bin2Hex([]byte("help"))...))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	stream.in = bytes.NewReader(frame)

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Contains(stream.out.Bytes(), []byte("+$O")) {
		t.Fatalf("output %q is not an O-packet reply", stream.out.Bytes())
	}
}

func TestReadAllRegsLength(t *testing.T) {
	sess, stream := newSessionFixture(t, 64)
	frame, err := EncodeFrame([]byte("g"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	stream.in = bytes.NewReader(frame)

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// "+$" + 33 regs * 16 hex digits + "#HH"
	want := 2 + 33*16 + 3
	if len(stream.out.Bytes()) != want {
		t.Fatalf("g response length = %d, want %d: %q", len(stream.out.Bytes()), want, stream.out.Bytes())
	}
}

func TestUnsupportedCommandGetsEmptyPacket(t *testing.T) {
	sess, stream := newSessionFixture(t, 64)
	frame, err := EncodeFrame([]byte("vCont?"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	stream.in = bytes.NewReader(frame)

	if err := sess.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(stream.out.Bytes(), []byte("+$#00")) {
		t.Fatalf("got %q, want ack plus empty packet", stream.out.Bytes())
	}
}

func TestSessionStopsOnStopStream(t *testing.T) {
	transport := newFakeTransport()
	backend := dm.NewBackend(transport)
	backend.Init()
	stop := make(chan struct{})
	sess := NewSession(&fakeConn{}, stop, backend, 64, 0)

	done := make(chan error, 1)
	go func() { done <- sess.Run() }()
	close(stop)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}
