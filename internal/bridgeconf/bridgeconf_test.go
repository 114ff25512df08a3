package bridgeconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/usbbridge/hostbridge/internal/buslog"
	"github.com/usbbridge/hostbridge/internal/policy"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "usbbridge.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %s", err)
	}
	return path
}

func TestLoadRoundTripsRecognizedKeys(t *testing.T) {
	path := writeConf(t, `
[control]
socket = /tmp/test.sock

[events]
pump-interval-ms = 5
hotplug = disable

[logging]
console-log = debug,trace-usb
file-log = error
file-path = /tmp/test.log

[policy]
mode = allow
devices = 0951:*, 0781:5567

[quirks]
file = /tmp/test-quirks.conf
`)

	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}

	if conf.SocketPath != "/tmp/test.sock" {
		t.Errorf("SocketPath = %q", conf.SocketPath)
	}
	if conf.PumpIntervalMs != 5 {
		t.Errorf("PumpIntervalMs = %d, want 5", conf.PumpIntervalMs)
	}
	if conf.HotplugEnable {
		t.Error("HotplugEnable should be false")
	}
	if conf.LogConsole != (buslog.Debug | buslog.Info | buslog.Error | buslog.TraceUSB) {
		t.Errorf("LogConsole = %v", conf.LogConsole)
	}
	if conf.LogFile != buslog.Error {
		t.Errorf("LogFile = %v", conf.LogFile)
	}
	if conf.LogFilePath != "/tmp/test.log" {
		t.Errorf("LogFilePath = %q", conf.LogFilePath)
	}
	if conf.PolicyMode != policy.Allow {
		t.Error("PolicyMode should be Allow")
	}
	if len(conf.PolicyEntries) != 2 {
		t.Fatalf("PolicyEntries = %v, want 2 entries", conf.PolicyEntries)
	}
	if conf.QuirksFilePath != "/tmp/test-quirks.conf" {
		t.Errorf("QuirksFilePath = %q", conf.QuirksFilePath)
	}
}

func TestLoadIgnoresUnknownKeysAndSections(t *testing.T) {
	path := writeConf(t, `
[control]
socket = /tmp/test.sock
nonsense-key = whatever

[not-a-real-section]
foo = bar
`)

	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load should ignore unknown keys/sections, got: %s", err)
	}
	if conf.SocketPath != "/tmp/test.sock" {
		t.Errorf("SocketPath = %q", conf.SocketPath)
	}
}

func TestLoadRejectsBadPolicyMode(t *testing.T) {
	path := writeConf(t, "[policy]\nmode = sideways\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid policy mode")
	}
}

func TestDefaultFilterAllowsEverything(t *testing.T) {
	conf := Default()
	f := conf.Filter()
	if f == nil {
		t.Fatal("Filter() should never return nil")
	}
	if !f.IsAllowed(policy.Identity{Vendor: 0x0951, Product: 0x1666}) {
		t.Fatal("default filter should admit any identity")
	}
}
