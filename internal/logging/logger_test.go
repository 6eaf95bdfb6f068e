package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })
	return logs
}

func TestInitializeLevels(t *testing.T) {
	tests := []struct {
		level string
		env   string
		debug bool
		info  bool
	}{
		{"", "", false, false},
		{"debug", "", true, true},
		{"warn", "", false, false},
		{"", "info", false, true},
		{"bogus", "", false, true},
	}
	for _, tt := range tests {
		t.Setenv(LogLevelEnvVar, tt.env)
		if err := Initialize(tt.level); err != nil {
			t.Fatalf("Initialize(%q) error = %v", tt.level, err)
		}
		l := GetLogger()
		if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.debug {
			t.Errorf("Initialize(%q, env %q) debug enabled = %v, want %v", tt.level, tt.env, got, tt.debug)
		}
		if got := l.Core().Enabled(zapcore.InfoLevel); got != tt.info {
			t.Errorf("Initialize(%q, env %q) info enabled = %v, want %v", tt.level, tt.env, got, tt.info)
		}
	}
	SetLogger(nil)
}

func TestLogStorage(t *testing.T) {
	logs := observe(t)

	LogStorage("write", "/stt/lat", "-23.55", nil)
	LogStorage("delete", "/stt/lat", "", errors.New("flash busy"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].ContextMap()["value"] != "-23.55" {
		t.Errorf("success entry = %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["error"] != "flash busy" {
		t.Errorf("failure entry = %+v", entries[1])
	}
	if _, ok := entries[1].ContextMap()["value"]; ok {
		t.Error("failure entry has an empty value field")
	}
}

func TestLogStateTransition(t *testing.T) {
	logs := observe(t)
	LogStateTransition("controller", "idle", "connecting")

	got := logs.FilterMessage("State transition").All()
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	ctx := got[0].ContextMap()
	if ctx["from"] != "idle" || ctx["to"] != "connecting" || ctx["component"] != "controller" {
		t.Errorf("fields = %v", ctx)
	}
}

func TestGetLoggerDefaultsToNop(t *testing.T) {
	SetLogger(nil)
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("default logger is enabled, want silent")
	}
	Info("dropped")
	Sync()
}
