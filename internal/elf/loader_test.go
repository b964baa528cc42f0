package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestXLenOf(t *testing.T) {
	cases := []struct {
		class   elf.Class
		want    uint8
		wantErr bool
	}{
		{elf.ELFCLASS32, 32, false},
		{elf.ELFCLASS64, 64, false},
		{elf.ELFCLASSNONE, 0, true},
	}
	for _, c := range cases {
		got, err := XLenOf(c.class)
		if c.wantErr {
			if err == nil {
				t.Errorf("XLenOf(%v): expected error, got nil", c.class)
			}
			continue
		}
		if err != nil {
			t.Errorf("XLenOf(%v): unexpected error %v", c.class, err)
		}
		if got != c.want {
			t.Errorf("XLenOf(%v) = %d, want %d", c.class, got, c.want)
		}
	}
}

func TestIsLoadableType(t *testing.T) {
	loadable := []elf.SectionType{elf.SHT_PROGBITS, elf.SHT_NOBITS, elf.SHT_INIT_ARRAY, elf.SHT_FINI_ARRAY}
	for _, ty := range loadable {
		if !isLoadableType(ty) {
			t.Errorf("isLoadableType(%v) = false, want true", ty)
		}
	}
	notLoadable := []elf.SectionType{elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_NULL, elf.SHT_RELA}
	for _, ty := range notLoadable {
		if isLoadableType(ty) {
			t.Errorf("isLoadableType(%v) = true, want false", ty)
		}
	}
}

type fakeMemWriter struct {
	writes map[uint64][]byte
}

func (f *fakeMemWriter) MemWrite(addr uint64, data []byte) error {
	if f.writes == nil {
		f.writes = map[uint64][]byte{}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes[addr] = cp
	return nil
}

func TestNewLoaderDefaultsSymbolTablePath(t *testing.T) {
	l := NewLoader(&fakeMemWriter{})
	if l.SymbolTablePath != "symbol_table.txt" {
		t.Fatalf("SymbolTablePath = %q, want %q", l.SymbolTablePath, "symbol_table.txt")
	}
}

// writeTestELF hand-assembles a minimal little-endian RISC-V ELF64 with
// three loadable sections (.text, .data, .bss separated by a gap so the
// min/max range merge is exercised) and a symbol table carrying the three
// well-known symbols the loader extracts.
//
// File layout:
//
//	off   0  ELF header
//	off  64  .text    4 bytes @ vaddr 0x1000
//	off  68  .data    4 bytes @ vaddr 0x1008
//	off  72  .symtab  4 x Sym64
//	off 168  .strtab
//	off 188  .shstrtab
//	off 232  section header table, 7 x Section64
func writeTestELF(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	le := binary.LittleEndian
	write := func(v any) {
		if err := binary.Write(&buf, le, v); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}

	write(elf.Header64{
		Ident: [16]byte{
			0x7f, 'E', 'L', 'F',
			byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT),
		},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   1,
		Entry:     0x1000,
		Shoff:     232,
		Ehsize:    64,
		Shentsize: 64,
		Shnum:     7,
		Shstrndx:  5,
	})

	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF}) // .text
	buf.Write([]byte{1, 2, 3, 4})             // .data

	stFunc := byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)
	stObject := byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_OBJECT)
	for _, sym := range []elf.Sym64{
		{},
		{Name: 1, Info: stFunc, Shndx: 1, Value: 0x1000},  // _start
		{Name: 8, Info: stFunc, Shndx: 1, Value: 0x1002},  // exit
		{Name: 13, Info: stObject, Shndx: 2, Value: 0x1008}, // tohost
	} {
		write(sym)
	}

	buf.WriteString("\x00_start\x00exit\x00tohost\x00")
	buf.WriteString("\x00.text\x00.data\x00.symtab\x00.strtab\x00.shstrtab\x00.bss\x00")

	for _, sh := range []elf.Section64{
		{},
		{Name: 1, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr: 0x1000, Off: 64, Size: 4, Addralign: 4},
		{Name: 7, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_WRITE | elf.SHF_ALLOC),
			Addr: 0x1008, Off: 68, Size: 4, Addralign: 1},
		{Name: 13, Type: uint32(elf.SHT_SYMTAB), Off: 72, Size: 96, Link: 4, Info: 1,
			Addralign: 8, Entsize: 24},
		{Name: 21, Type: uint32(elf.SHT_STRTAB), Off: 168, Size: 20, Addralign: 1},
		{Name: 29, Type: uint32(elf.SHT_STRTAB), Off: 188, Size: 44, Addralign: 1},
		{Name: 39, Type: uint32(elf.SHT_NOBITS), Flags: uint64(elf.SHF_WRITE | elf.SHF_ALLOC),
			Addr: 0x100C, Off: 232, Size: 2, Addralign: 1},
	} {
		write(sh)
	}

	path := filepath.Join(t.TempDir(), "image.elf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing test ELF: %v", err)
	}
	return path
}

func TestLoadImageRangeAndSymbols(t *testing.T) {
	path := writeTestELF(t)
	w := &fakeMemWriter{}
	l := NewLoader(w)
	l.SymbolTablePath = filepath.Join(t.TempDir(), "symbol_table.txt")

	res, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if res.XLen != 64 {
		t.Errorf("XLen = %d, want 64", res.XLen)
	}
	if res.Segments != 3 {
		t.Errorf("Segments = %d, want 3 (.text, .data, .bss)", res.Segments)
	}
	if res.MinAddr != 0x1000 || res.MaxAddr != 0x100D {
		t.Errorf("range = [%#x,%#x], want [0x1000,0x100d]", res.MinAddr, res.MaxAddr)
	}
	if !res.HasStart || res.Start != 0x1000 {
		t.Errorf("_start = %#x (has=%v), want 0x1000", res.Start, res.HasStart)
	}
	if !res.HasExit || res.Exit != 0x1002 {
		t.Errorf("exit = %#x (has=%v), want 0x1002", res.Exit, res.HasExit)
	}
	if !res.HasToHost || res.ToHost != 0x1008 {
		t.Errorf("tohost = %#x (has=%v), want 0x1008", res.ToHost, res.HasToHost)
	}

	// One contiguous write covering the whole range: section bytes in
	// place, the inter-section gap and the .bss tail zero-filled.
	wantImage := []byte{
		0xDE, 0xAD, 0xBE, 0xEF, // .text @ 0x1000
		0, 0, 0, 0, //             gap   @ 0x1004
		1, 2, 3, 4, //             .data @ 0x1008
		0, 0, //                   .bss  @ 0x100C
	}
	if diff := cmp.Diff(wantImage, w.writes[0x1000]); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}

	table, err := os.ReadFile(l.SymbolTablePath)
	if err != nil {
		t.Fatalf("reading symbol table: %v", err)
	}
	wantTable := "_start 0x1000\nexit 0x1002\ntohost 0x1008\n"
	if string(table) != wantTable {
		t.Errorf("symbol_table.txt = %q, want %q", table, wantTable)
	}
}

func TestLoadRejectsBigEndian(t *testing.T) {
	path := writeTestELF(t)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[5] = byte(elf.ELFDATA2MSB)
	bad := filepath.Join(t.TempDir(), "big-endian.elf")
	if err := os.WriteFile(bad, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(&fakeMemWriter{})
	if _, err := l.Load(bad); err == nil {
		t.Fatal("expected a big-endian ELF to be rejected")
	}
}
