package coil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestCacheLoadReusesEntryUntilMtimeChanges(t *testing.T) {
	dir := t.TempDir()
	file := writeTempFile(t, dir, "a.coil", "v1")

	calls := 0
	parse := func(filename string) (*Struct, error) {
		calls++
		r := NewRoot()
		r.SetKey("v", NewInt(r.pos, int64(calls)))
		return r, nil
	}

	c := NewCache()
	r1, err := c.Load(file, parse)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r2, err := c.Load(file, parse)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r1 != r2 {
		t.Errorf("second Load with unchanged mtime should return the cached root")
	}
	if calls != 1 {
		t.Errorf("parse called %d times, want 1", calls)
	}
}

func TestCacheLoadReparsesOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	file := writeTempFile(t, dir, "a.coil", "v1")

	calls := 0
	parse := func(filename string) (*Struct, error) {
		calls++
		return NewRoot(), nil
	}

	c := NewCache()
	if _, err := c.Load(file, parse); err != nil {
		t.Fatalf("Load: %v", err)
	}

	future := stat(t, file).ModTime().Add(2 * time.Second)
	if err := os.Chtimes(file, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if _, err := c.Load(file, parse); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if calls != 2 {
		t.Errorf("parse called %d times after mtime change, want 2", calls)
	}
}

func stat(t *testing.T, file string) os.FileInfo {
	t.Helper()
	info, err := os.Stat(file)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	return info
}

func TestCacheReleaseDropsEntryAtZeroRefcount(t *testing.T) {
	dir := t.TempDir()
	file := writeTempFile(t, dir, "a.coil", "v1")

	c := NewCache()
	parse := func(filename string) (*Struct, error) { return NewRoot(), nil }
	if _, err := c.Load(file, parse); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.Release(file)
	if _, ok := c.entries[file]; ok {
		t.Errorf("entry should be gone after its single reference is released")
	}
}
