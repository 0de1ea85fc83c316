package directory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupAndApply(t *testing.T) {
	d := New(t.TempDir())

	if registered, _ := d.Lookup("04AABB"); registered {
		t.Fatalf("empty directory must report unregistered")
	}

	d.Apply(Change{UID: "04aabb", Name: "Ada"})
	registered, name := d.Lookup("04AABB")
	if !registered || name != "Ada" {
		t.Fatalf("expected registered Ada, got %v %q", registered, name)
	}
	// Lookup is case-insensitive on uid.
	if registered, _ = d.Lookup("04aabb"); !registered {
		t.Fatalf("lookup must normalize uid case")
	}

	d.Apply(Change{UID: "04AABB", Removed: true})
	if registered, _ = d.Lookup("04AABB"); registered {
		t.Fatalf("removed user must be unregistered")
	}
}

func TestApplyIgnoresEmptyUID(t *testing.T) {
	d := New(t.TempDir())
	d.Apply(Change{UID: "  ", Name: "Ghost"})
	if d.Count() != 0 {
		t.Fatalf("blank uid must be ignored")
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	d := New(dir)
	d.Apply(Change{UID: "04AABB", Name: "Ada"})
	d.Apply(Change{UID: "04CCDD", Name: "Lin"})

	reloaded := New(dir)
	if reloaded.Count() != 2 {
		t.Fatalf("expected 2 users after reload, got %d", reloaded.Count())
	}
	registered, name := reloaded.Lookup("04CCDD")
	if !registered || name != "Lin" {
		t.Fatalf("reload lost user: %v %q", registered, name)
	}
}

func TestReplace(t *testing.T) {
	d := New(t.TempDir())
	d.Apply(Change{UID: "OLD001", Name: "Old"})

	d.Replace([]User{
		{UID: "04aabb", Name: "Ada"},
		{UID: "04CCDD", Name: "Lin"},
		{UID: "", Name: "Skipped"},
	})
	if d.Count() != 2 {
		t.Fatalf("expected snapshot of 2 users, got %d", d.Count())
	}
	if registered, _ := d.Lookup("OLD001"); registered {
		t.Fatalf("replace must drop users absent from the snapshot")
	}
	if registered, _ := d.Lookup("04AABB"); !registered {
		t.Fatalf("replace must normalize and keep snapshot users")
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "user_database.json"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d := New(dir)
	if d.Count() != 0 {
		t.Fatalf("corrupt file must start empty")
	}
}
