package dmitransport

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// fakeBridge is a minimal server speaking the same wire protocol as TCP,
// backed by a map, so DMIRead/DMIWrite can be tested without real hardware.
func fakeBridge(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	regs := map[uint16]uint32{}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req [reqLen]byte
			if _, err := io.ReadFull(conn, req[:]); err != nil {
				return
			}
			addr := binary.BigEndian.Uint16(req[2:4])
			value := binary.BigEndian.Uint32(req[4:8])

			var resp [respLen]byte
			switch req[0] {
			case opWrite:
				regs[addr] = value
			case opRead:
				binary.BigEndian.PutUint32(resp[:], regs[addr])
			}
			if _, err := conn.Write(resp[:]); err != nil {
				return
			}
		}
	}()

	go func() {
		<-time.After(5 * time.Second)
		ln.Close()
	}()
	return ln.Addr().String()
}

func TestDMIWriteThenRead(t *testing.T) {
	addr := fakeBridge(t)
	tr, err := Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	if err := tr.DMIWrite(0x11, 0xdeadbeef); err != nil {
		t.Fatalf("DMIWrite: %v", err)
	}
	got, err := tr.DMIRead(0x11)
	if err != nil {
		t.Fatalf("DMIRead: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("DMIRead = 0x%x, want 0xdeadbeef", got)
	}
}

func TestDMIReadUnwrittenAddrIsZero(t *testing.T) {
	addr := fakeBridge(t)
	tr, err := Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	got, err := tr.DMIRead(0x42)
	if err != nil {
		t.Fatalf("DMIRead: %v", err)
	}
	if got != 0 {
		t.Fatalf("DMIRead(unwritten) = 0x%x, want 0", got)
	}
}
