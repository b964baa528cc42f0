package log

import (
	"sync"

	"gopkg.in/Sirupsen/logrus.v0"
)

// EntryZ is the allocation-light chained form of a log entry: a call site
// writes mod.DebugZ("message").String("k", v).Hex32("addr", a).End() and
// nothing beyond the gate check and buffer writes happens when the module
// is disabled at that level, since logz returns nil and every chain method
// tolerates a nil receiver.
type EntryZ struct {
	mod  Module
	lvl  logrus.Level
	msg  string
	buf  [12]zfield
	n    int
}

var entryzPool = sync.Pool{New: func() any { return new(EntryZ) }}

func newEntryZ() *EntryZ {
	e := entryzPool.Get().(*EntryZ)
	e.n = 0
	return e
}

func (e *EntryZ) push(f zfield) *EntryZ {
	if e == nil {
		return nil
	}
	if e.n < len(e.buf) {
		e.buf[e.n] = f
		e.n++
	}
	return e
}

func (e *EntryZ) String(key, val string) *EntryZ {
	return e.push(zfield{typ: fieldString, key: key, str: val})
}

func (e *EntryZ) Hex8(key string, val uint8) *EntryZ {
	return e.push(zfield{typ: fieldHex8, key: key, num: uint64(val)})
}

func (e *EntryZ) Hex16(key string, val uint16) *EntryZ {
	return e.push(zfield{typ: fieldHex16, key: key, num: uint64(val)})
}

func (e *EntryZ) Hex32(key string, val uint32) *EntryZ {
	return e.push(zfield{typ: fieldHex32, key: key, num: uint64(val)})
}

func (e *EntryZ) Hex64(key string, val uint64) *EntryZ {
	return e.push(zfield{typ: fieldHex64, key: key, num: val})
}

func (e *EntryZ) Int(key string, val int) *EntryZ {
	return e.push(zfield{typ: fieldInt, key: key, num: uint64(val)})
}

func (e *EntryZ) Bool(key string, val bool) *EntryZ {
	return e.push(zfield{typ: fieldBool, key: key, boolv: val})
}

func (e *EntryZ) Error(key string, err error) *EntryZ {
	return e.push(zfield{typ: fieldError, key: key, err: err})
}

func (e *EntryZ) Blob(key string, b []byte) *EntryZ {
	return e.push(zfield{typ: fieldBlob, key: key, blob: b})
}

// End emits the entry, if the module/level gate was open when it was
// created, and releases the entry back to the pool.
func (e *EntryZ) End() {
	if e == nil {
		return
	}
	fields := make(logrus.Fields, e.n+1)
	fields["mod"] = modNames[e.mod]
	for _, f := range e.buf[:e.n] {
		fields[f.key] = f.value()
	}

	entry := logrus.StandardLogger().WithFields(fields)
	switch e.lvl {
	case logrus.DebugLevel:
		entry.Debug(e.msg)
	case logrus.InfoLevel:
		entry.Info(e.msg)
	case logrus.WarnLevel:
		entry.Warn(e.msg)
	case logrus.ErrorLevel:
		entry.Error(e.msg)
	case logrus.FatalLevel:
		entry.Fatal(e.msg)
	default:
		entry.Print(e.msg)
	}
	entryzPool.Put(e)
}
