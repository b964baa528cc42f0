// Package elf implements the optional ELF-load convenience path
// (spec.md §4.3 "ELF load"): parse a little-endian RISC-V ELF, assemble
// an in-memory image of its loadable sections, and push it into target
// memory through a dm.Backend.
package elf

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"

	"rvdbg/internal/log"
)

// MemWriter is the subset of dm.Backend the loader needs; declared here
// so this package does not import internal/dm, keeping the dependency
// direction out->in the way the teacher's ines package never imports emu.
type MemWriter interface {
	MemWrite(addr uint64, data []byte) error
}

// Loader parses ELF files and pushes their loadable image into target
// memory via a MemWriter, writing a diagnostic symbol_table.txt alongside.
type Loader struct {
	Backend        MemWriter
	SymbolTablePath string // defaults to "symbol_table.txt" if empty
}

// NewLoader returns a Loader bound to backend.
func NewLoader(backend MemWriter) *Loader {
	return &Loader{Backend: backend, SymbolTablePath: "symbol_table.txt"}
}

// loadableFlags mirrors spec.md §4.3's "flags containing any of
// WRITE/ALLOC/EXECINSTR" test.
const loadableFlags = elf.SHF_WRITE | elf.SHF_ALLOC | elf.SHF_EXECINSTR

func isLoadableType(t elf.SectionType) bool {
	switch t {
	case elf.SHT_PROGBITS, elf.SHT_NOBITS, elf.SHT_INIT_ARRAY, elf.SHT_FINI_ARRAY:
		return true
	}
	return false
}

// XLenOf maps an ELF class onto the session xlen (spec.md §4.3: "pick up
// target xlen from the ELF class").
func XLenOf(class elf.Class) (uint8, error) {
	switch class {
	case elf.ELFCLASS32:
		return 32, nil
	case elf.ELFCLASS64:
		return 64, nil
	default:
		return 0, fmt.Errorf("elf: unsupported ELF class %v", class)
	}
}

// Result reports what Load found, for callers that want xlen or the
// well-known symbols without re-parsing.
type Result struct {
	XLen              uint8
	MinAddr, MaxAddr  uint64
	Segments          int
	Start, Exit, ToHost uint64
	HasStart, HasExit, HasToHost bool
}

// Load parses path, writes its loadable image into the backend, and
// emits symbol_table.txt.
func (l *Loader) Load(path string) (*Result, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elf: open %s: %w", path, err)
	}
	defer f.Close()

	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("elf: %s is not little-endian (non-little-endian ELF is a non-goal)", path)
	}
	xlen, err := XLenOf(f.Class)
	if err != nil {
		return nil, fmt.Errorf("elf: %s: %w", path, err)
	}

	image := map[uint64]byte{}
	var minAddr, maxAddr uint64
	haveRange := false
	segments := 0

	for _, sec := range f.Sections {
		if sec.Flags&loadableFlags == 0 || !isLoadableType(sec.Type) {
			continue
		}
		if sec.Addr == 0 || sec.Size == 0 {
			continue
		}

		var data []byte
		if sec.Type == elf.SHT_NOBITS {
			data = make([]byte, sec.Size)
		} else {
			data, err = sec.Data()
			if err != nil {
				return nil, fmt.Errorf("elf: reading section %s: %w", sec.Name, err)
			}
		}

		for i, b := range data {
			image[sec.Addr+uint64(i)] = b
		}
		lo, hi := sec.Addr, sec.Addr+uint64(len(data))-1
		if !haveRange {
			minAddr, maxAddr, haveRange = lo, hi, true
		} else {
			if lo < minAddr {
				minAddr = lo
			}
			if hi > maxAddr {
				maxAddr = hi
			}
		}
		segments++
	}

	res := &Result{XLen: xlen, Segments: segments}
	if haveRange {
		res.MinAddr, res.MaxAddr = minAddr, maxAddr
	}

	if syms, err := f.Symbols(); err == nil {
		for _, sym := range syms {
			switch sym.Name {
			case "_start":
				res.Start, res.HasStart = sym.Value, true
			case "exit":
				res.Exit, res.HasExit = sym.Value, true
			case "tohost":
				res.ToHost, res.HasToHost = sym.Value, true
			}
		}
	}

	if haveRange {
		buf := make([]byte, maxAddr-minAddr+1)
		for addr, b := range image {
			buf[addr-minAddr] = b
		}
		if err := l.Backend.MemWrite(minAddr, buf); err != nil {
			return nil, fmt.Errorf("elf: writing image to target memory: %w", err)
		}
	}

	log.ModElf.InfoZ("elf loaded").
		String("path", path).
		Int("segments", segments).
		Hex64("min_addr", minAddr).
		Hex64("max_addr", maxAddr).
		End()

	if err := l.writeSymbolTable(res); err != nil {
		return res, err
	}
	return res, nil
}

func (l *Loader) writeSymbolTable(res *Result) error {
	path := l.SymbolTablePath
	if path == "" {
		path = "symbol_table.txt"
	}

	lines := make([]string, 0, 3)
	if res.HasStart {
		lines = append(lines, fmt.Sprintf("_start 0x%x", res.Start))
	}
	if res.HasExit {
		lines = append(lines, fmt.Sprintf("exit 0x%x", res.Exit))
	}
	if res.HasToHost {
		lines = append(lines, fmt.Sprintf("tohost 0x%x", res.ToHost))
	}
	sort.Strings(lines) // stable, deterministic ordering for diffable output

	var out []byte
	for _, ln := range lines {
		out = append(out, ln+"\n"...)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("elf: writing %s: %w", path, err)
	}
	return nil
}
