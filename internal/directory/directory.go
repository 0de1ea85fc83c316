// Package directory holds the device's read-mostly copy of registered users.
package directory

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/taptrack/internal/logfields"
)

// User is one registered card holder.
type User struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

// Change is one directory feed event: an upsert when Name is set and
// Removed is false, a deletion when Removed is true.
type Change struct {
	UID     string
	Name    string
	Removed bool
}

// Directory is the persisted uid -> user map. The sync feed writes it; the
// tap path only reads. Lookup is on the per-tap hot path, so the map stays
// in memory and writes go through to disk.
type Directory struct {
	mu    sync.RWMutex
	users map[string]User
	path  string
}

// New loads the persisted directory from dataDir; a missing or corrupt file
// yields an empty directory so the device still boots.
func New(dataDir string) *Directory {
	d := &Directory{
		users: make(map[string]User),
		path:  filepath.Join(dataDir, "user_database.json"),
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read user directory", logfields.Error(err))
		}
		return d
	}
	var users map[string]User
	if err := json.Unmarshal(data, &users); err != nil {
		slog.Warn("Corrupt user directory file, starting empty", logfields.Error(err))
		return d
	}
	d.users = users
	slog.Info("Loaded user directory", slog.Int("users", len(users)))
	return d
}

// Lookup returns registration status and display name for a card uid.
func (d *Directory) Lookup(uid string) (registered bool, name string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[normalize(uid)]
	if !ok {
		return false, ""
	}
	return true, u.Name
}

// Apply applies one feed change and persists the directory.
func (d *Directory) Apply(c Change) {
	uid := normalize(c.UID)
	if uid == "" {
		return
	}

	d.mu.Lock()
	if c.Removed {
		delete(d.users, uid)
	} else {
		d.users[uid] = User{UID: uid, Name: c.Name}
	}
	d.persistLocked()
	d.mu.Unlock()

	if c.Removed {
		slog.Info("User removed from directory", logfields.UID(uid))
	} else {
		slog.Info("User registered in directory", logfields.UID(uid), slog.String("name", c.Name))
	}
}

// Replace swaps in a full snapshot (startup prefetch) and persists it.
func (d *Directory) Replace(users []User) {
	next := make(map[string]User, len(users))
	for _, u := range users {
		uid := normalize(u.UID)
		if uid == "" {
			continue
		}
		next[uid] = User{UID: uid, Name: u.Name}
	}

	d.mu.Lock()
	d.users = next
	d.persistLocked()
	d.mu.Unlock()
	slog.Info("User directory replaced", slog.Int("users", len(next)))
}

// Count returns the number of registered users.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Snapshot returns all users for the admin surface.
func (d *Directory) Snapshot() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	return out
}

func (d *Directory) persistLocked() {
	data, err := json.MarshalIndent(d.users, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal user directory", logfields.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		slog.Error("Failed to create directory path", logfields.Error(err))
		return
	}
	tempPath := d.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		slog.Error("Failed to write user directory", logfields.Error(err))
		return
	}
	if err := os.Rename(tempPath, d.path); err != nil {
		slog.Error("Failed to replace user directory", logfields.Error(err))
	}
}

// normalize upper-cases card uids; readers report hex uids in mixed case.
func normalize(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}
