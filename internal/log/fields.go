package log

import (
	"encoding/hex"
	"fmt"
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

type fieldType int

const (
	fieldString fieldType = iota
	fieldHex8
	fieldHex16
	fieldHex32
	fieldHex64
	fieldInt
	fieldBool
	fieldError
	fieldBlob
)

// zfield is one entry in an EntryZ's field buffer.
type zfield struct {
	typ   fieldType
	key   string
	str   string
	num   uint64
	err   error
	blob  []byte
	boolv bool
}

func (f zfield) value() string {
	switch f.typ {
	case fieldString:
		return f.str
	case fieldHex8:
		return fmt.Sprintf("%02x", uint8(f.num))
	case fieldHex16:
		return fmt.Sprintf("%04x", uint16(f.num))
	case fieldHex32:
		return fmt.Sprintf("%08x", uint32(f.num))
	case fieldHex64:
		return fmt.Sprintf("%016x", f.num)
	case fieldInt:
		return fmt.Sprintf("%d", int64(f.num))
	case fieldBool:
		if f.boolv {
			return "true"
		}
		return "false"
	case fieldError:
		if f.err == nil {
			return "<nil>"
		}
		return f.err.Error()
	case fieldBlob:
		// At verbosity 0, large payloads (X/M packet bodies, memory
		// dumps) are truncated to keep logs readable; verbosity>=1
		// logs them in full, matching gdbstub_fe.c's behavior.
		const maxLogBlobBytes = 64
		b := f.blob
		truncated := false
		if Verbosity() == 0 && len(b) > maxLogBlobBytes {
			b = b[:maxLogBlobBytes]
			truncated = true
		}
		s := hex.EncodeToString(b)
		if truncated {
			s += fmt.Sprintf("...(%d more bytes, set verbosity>=1 to log in full)", len(f.blob)-maxLogBlobBytes)
		}
		return s
	}
	return ""
}

var verbosity int

// SetVerbosity controls how much detail Blob fields log.
func SetVerbosity(v int) { verbosity = v }

// Verbosity returns the current logging verbosity level.
func Verbosity() int { return verbosity }
