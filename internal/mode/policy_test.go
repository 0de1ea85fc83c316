package mode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want Mode
		ok   bool
	}{
		{"auto", Auto, true},
		{" AUTO ", Auto, true},
		{"force_online", ForceOnline, true},
		{"online", ForceOnline, true},
		{"force_offline", ForceOffline, true},
		{"offline", ForceOffline, true},
		{"turbo", "", false},
	}
	for _, tc := range cases {
		got, err := Parse(tc.raw)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("Parse(%q) = %q, %v; want %q", tc.raw, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("Parse(%q) expected error", tc.raw)
		}
	}
}

func TestAllowsSend(t *testing.T) {
	p := NewPolicy(t.TempDir())

	// auto follows connectivity
	if !p.AllowsSend(true) {
		t.Fatalf("auto online must allow send")
	}
	if p.AllowsSend(false) {
		t.Fatalf("auto offline must not allow send")
	}

	if err := p.Set(ForceOffline); err != nil {
		t.Fatalf("set: %v", err)
	}
	if p.AllowsSend(true) {
		t.Fatalf("force_offline must never allow send")
	}

	if err := p.Set(ForceOnline); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !p.AllowsSend(false) {
		t.Fatalf("force_online must attempt sends even when offline")
	}
	if !p.WantsReconnect(false) {
		t.Fatalf("force_online offline must want a reconnect")
	}
	if p.WantsReconnect(true) {
		t.Fatalf("no reconnect wanted while online")
	}
}

func TestToggleCycles(t *testing.T) {
	p := NewPolicy(t.TempDir())
	if p.Current() != Auto {
		t.Fatalf("default mode must be auto")
	}
	if got := p.Toggle(); got != ForceOnline {
		t.Fatalf("auto toggles to force_online, got %s", got)
	}
	if got := p.Toggle(); got != ForceOffline {
		t.Fatalf("force_online toggles to force_offline, got %s", got)
	}
	if got := p.Toggle(); got != Auto {
		t.Fatalf("force_offline toggles to auto, got %s", got)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	p := NewPolicy(dir)
	if err := p.Set(ForceOffline); err != nil {
		t.Fatalf("set: %v", err)
	}

	reloaded := NewPolicy(dir)
	if reloaded.Current() != ForceOffline {
		t.Fatalf("expected force_offline after reload, got %s", reloaded.Current())
	}
}

func TestCorruptModeFileDefaultsToAuto(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mode.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := NewPolicy(dir)
	if p.Current() != Auto {
		t.Fatalf("corrupt file must default to auto, got %s", p.Current())
	}
}

func TestSetRejectsUnknownMode(t *testing.T) {
	p := NewPolicy(t.TempDir())
	if err := p.Set(Mode("warp")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	if p.Current() != Auto {
		t.Fatalf("mode must be unchanged after rejected set")
	}
}
