// Package mode implements the tri-state connectivity policy gating network sends.
package mode

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/taptrack/internal/logfields"
)

// Mode is the connectivity policy selected by the operator.
type Mode string

const (
	// Auto uses connectivity opportunistically and degrades to queueing offline.
	Auto Mode = "auto"
	// ForceOnline actively retries connectivity and never silently queues
	// without first attempting a reconnect.
	ForceOnline Mode = "force_online"
	// ForceOffline never attempts a network send regardless of connectivity.
	ForceOffline Mode = "force_offline"
)

// Parse converts operator input into a Mode.
func Parse(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(Auto):
		return Auto, nil
	case string(ForceOnline), "online":
		return ForceOnline, nil
	case string(ForceOffline), "offline":
		return ForceOffline, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want auto|force_online|force_offline)", raw)
	}
}

// Policy holds the persisted mode. The device loop reads it on every
// transition; the admin surface may set it concurrently.
type Policy struct {
	mu   sync.RWMutex
	mode Mode
	path string
}

type persistedMode struct {
	Mode Mode `json:"mode"`
}

// NewPolicy loads the persisted mode from dataDir, defaulting to Auto.
func NewPolicy(dataDir string) *Policy {
	p := &Policy{
		mode: Auto,
		path: filepath.Join(dataDir, "mode.json"),
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read persisted mode, defaulting to auto", logfields.Error(err))
		}
		return p
	}
	var pm persistedMode
	if err := json.Unmarshal(data, &pm); err != nil {
		slog.Warn("Corrupt mode file, defaulting to auto", logfields.Error(err))
		return p
	}
	if m, err := Parse(string(pm.Mode)); err == nil {
		p.mode = m
	}
	return p
}

// Current returns the active mode.
func (p *Policy) Current() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// Set changes the mode and persists it. The caller is responsible for
// recomputing the online/offline classification immediately afterwards.
func (p *Policy) Set(m Mode) error {
	if _, err := Parse(string(m)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = m
	if err := p.persist(); err != nil {
		slog.Warn("Failed to persist mode", logfields.Mode(string(m)), logfields.Error(err))
	}
	slog.Info("Mode changed", logfields.Mode(string(m)))
	return nil
}

// Toggle cycles auto -> force_online -> force_offline -> auto, mirroring the
// device's physical mode button.
func (p *Policy) Toggle() Mode {
	p.mu.Lock()
	switch p.mode {
	case Auto:
		p.mode = ForceOnline
	case ForceOnline:
		p.mode = ForceOffline
	default:
		p.mode = Auto
	}
	next := p.mode
	if err := p.persist(); err != nil {
		slog.Warn("Failed to persist mode", logfields.Mode(string(next)), logfields.Error(err))
	}
	p.mu.Unlock()
	slog.Info("Mode toggled", logfields.Mode(string(next)))
	return next
}

// AllowsSend decides whether the engine may attempt a network send given the
// observed connectivity.
func (p *Policy) AllowsSend(online bool) bool {
	switch p.Current() {
	case ForceOffline:
		return false
	case ForceOnline:
		return true
	default:
		return online
	}
}

// WantsReconnect reports whether the policy demands a reconnect attempt when
// the link is down before conceding offline behavior.
func (p *Policy) WantsReconnect(online bool) bool {
	return p.Current() == ForceOnline && !online
}

func (p *Policy) persist() error {
	data, err := json.Marshal(persistedMode{Mode: p.mode})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	tempPath := p.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, p.path)
}
