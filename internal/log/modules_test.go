package log

import (
	"testing"

	"gopkg.in/Sirupsen/logrus.v0"
)

func TestModuleByName(t *testing.T) {
	mod, ok := ModuleByName("rsp")
	if !ok || mod != ModRSP {
		t.Fatalf("ModuleByName(rsp) = %v, %v; want ModRSP, true", mod, ok)
	}

	if _, ok := ModuleByName("does-not-exist"); ok {
		t.Fatalf("ModuleByName(does-not-exist) = _, true; want false")
	}
}

func TestEnabledGating(t *testing.T) {
	DisableDebugModules(ModuleMaskAll)
	defer DisableDebugModules(ModuleMaskAll)

	if !ModDM.Enabled(logrus.WarnLevel) {
		t.Fatalf("Warn level should always be enabled")
	}
	if ModDM.Enabled(logrus.DebugLevel) {
		t.Fatalf("Debug level should be gated off by default")
	}

	EnableDebugModules(ModDM.Mask())
	if !ModDM.Enabled(logrus.DebugLevel) {
		t.Fatalf("Debug level should be enabled after EnableDebugModules")
	}
	if ModRSP.Enabled(logrus.DebugLevel) {
		t.Fatalf("enabling ModDM must not enable ModRSP")
	}
}

func TestNewModule(t *testing.T) {
	mod := NewModule("scratch-test-module")
	found, ok := ModuleByName("scratch-test-module")
	if !ok || found != mod {
		t.Fatalf("NewModule did not register a lookup-able module")
	}
}
