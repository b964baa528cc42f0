// Package log provides per-module structured logging for rvdbg, layered
// over logrus. Each subsystem logs through its own Module, which can be
// selectively enabled at Debug/Info level without touching call sites.
package log

import (
	"gopkg.in/Sirupsen/logrus.v0"
)

type ModuleMask uint64
type Module uint

const (
	ModuleMaskAll ModuleMask = 0xFFFFFFFFFFFFFFFF
)

// Predefined modules. Session/back-end code logs through these; additional
// modules can be registered with NewModule.
const (
	ModSess Module = iota + 1
	ModRSP
	ModDM
	ModElf
	ModCLI
	ModStatus
	ModTransport

	endStandardMods
)

var modCount = endStandardMods

var modDebugMask ModuleMask = 0

var modNames = []string{
	"<error>", "sess", "rsp", "dm", "elf", "cli", "status", "transport",
}

// NewModule registers a new log module and returns its handle.
func NewModule(name string) Module {
	mod := modCount
	modCount++
	modNames = append(modNames, name)
	return mod
}

// ModuleByName resolves a module by its registered name.
func ModuleByName(name string) (Module, bool) {
	for idx, s := range modNames {
		if s == name {
			return Module(idx), true
		}
	}
	return Module(0xFFFFFFFF), false
}

// ModuleNames returns the names of all registered modules, in registration order.
func ModuleNames() []string {
	return modNames[1:]
}

// EnableDebugModules enables Debug/Info logging for the modules in mask.
func EnableDebugModules(mask ModuleMask) {
	modDebugMask |= mask
}

// DisableDebugModules disables Debug/Info logging for the modules in mask.
func DisableDebugModules(mask ModuleMask) {
	modDebugMask &^= mask
}

// Disable turns off all module-gated logging (Warn and above still log).
func Disable() {
	modDebugMask = 0
}

func (mod Module) Mask() ModuleMask {
	return 1 << ModuleMask(mod)
}

// Enabled reports whether a log line at level should be emitted for this
// module. Warn and above always log; Info/Debug require the module's bit
// to be set in the global debug mask.
func (mod Module) Enabled(level logrus.Level) bool {
	return level <= logrus.WarnLevel || modDebugMask&mod.Mask() != 0
}

// WithField starts a log entry for this module carrying one field.
func (mod Module) WithField(key string, value any) Entry {
	return Entry{mod: mod}.WithField(key, value)
}

// WithFields starts a log entry for this module carrying several fields.
func (mod Module) WithFields(fields Fields) Entry {
	return Entry{mod: mod}.WithFields(fields)
}

func (mod Module) Debugf(format string, args ...any) { Entry{mod: mod}.Debugf(format, args...) }
func (mod Module) Infof(format string, args ...any)  { Entry{mod: mod}.Infof(format, args...) }
func (mod Module) Warnf(format string, args ...any)  { Entry{mod: mod}.Warnf(format, args...) }
func (mod Module) Errorf(format string, args ...any) { Entry{mod: mod}.Errorf(format, args...) }
func (mod Module) Fatalf(format string, args ...any) { Entry{mod: mod}.Fatalf(format, args...) }

// Fast chained-field entries ("Z" family), gated before any field is built.

func (mod Module) logz(lvl logrus.Level, msg string) *EntryZ {
	if mod.Enabled(lvl) {
		e := newEntryZ()
		e.lvl = lvl
		e.msg = msg
		e.mod = mod
		return e
	}
	return nil
}

func (mod Module) DebugZ(msg string) *EntryZ { return mod.logz(logrus.DebugLevel, msg) }
func (mod Module) InfoZ(msg string) *EntryZ  { return mod.logz(logrus.InfoLevel, msg) }
func (mod Module) WarnZ(msg string) *EntryZ  { return mod.logz(logrus.WarnLevel, msg) }
func (mod Module) ErrorZ(msg string) *EntryZ { return mod.logz(logrus.ErrorLevel, msg) }
func (mod Module) FatalZ(msg string) *EntryZ { return mod.logz(logrus.FatalLevel, msg) }
