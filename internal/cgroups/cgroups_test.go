package cgroups

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVersionDetection(t *testing.T) {
	v := Version()
	if v != 1 && v != 2 {
		t.Errorf("Version() = %d, want 1 or 2", v)
	}
}

func TestJoinEmptyPathIsNoop(t *testing.T) {
	m := New()
	if err := m.Join("", 1234); err != nil {
		t.Errorf("Join with empty path should be a no-op, got %v", err)
	}
}

func TestJoinRejectsInvalidPID(t *testing.T) {
	m := New()
	dir := t.TempDir()

	for _, pid := range []int{0, -1} {
		if err := m.Join(dir, pid); err == nil {
			t.Errorf("Join(pid=%d) should fail", pid)
		}
	}
}

func TestJoinWritesProcs(t *testing.T) {
	m := New()
	dir := t.TempDir()

	if err := m.Join(dir, 4321); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "cgroup.procs"))
	if err != nil {
		t.Fatalf("reading cgroup.procs: %v", err)
	}
	if string(data) != "4321" {
		t.Errorf("cgroup.procs = %q, want %q", string(data), "4321")
	}
}

func TestApplyV2WritesMemoryFiles(t *testing.T) {
	m := &Manager{version: 2}
	dir := t.TempDir()

	limits := Limits{
		MemoryMaxBytes: 2 * 1024 * 1024 * 1024,
		MemoryLowBytes: 1 * 1024 * 1024 * 1024,
	}
	if err := m.Apply(dir, limits); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	tests := []struct {
		file string
		want string
	}{
		{"memory.max", "2147483648"},
		{"memory.low", "1073741824"},
	}
	for _, tt := range tests {
		data, err := os.ReadFile(filepath.Join(dir, tt.file))
		if err != nil {
			t.Fatalf("reading %s: %v", tt.file, err)
		}
		if string(data) != tt.want {
			t.Errorf("%s = %q, want %q", tt.file, string(data), tt.want)
		}
	}
}

func TestApplyV1WritesMemoryFiles(t *testing.T) {
	m := &Manager{version: 1}
	dir := t.TempDir()

	limits := Limits{
		MemoryMaxBytes: 1024 * 1024,
		MemoryLowBytes: 512 * 1024,
	}
	if err := m.Apply(dir, limits); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	tests := []struct {
		file string
		want string
	}{
		{"memory.limit_in_bytes", "1048576"},
		{"memory.soft_limit_in_bytes", "524288"},
	}
	for _, tt := range tests {
		data, err := os.ReadFile(filepath.Join(dir, tt.file))
		if err != nil {
			t.Fatalf("reading %s: %v", tt.file, err)
		}
		if string(data) != tt.want {
			t.Errorf("%s = %q, want %q", tt.file, string(data), tt.want)
		}
	}
}

func TestApplyZeroLimitsWritesNothing(t *testing.T) {
	m := &Manager{version: 2}
	dir := t.TempDir()

	if err := m.Apply(dir, Limits{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	for _, file := range []string{"memory.max", "memory.low"} {
		if _, err := os.Stat(filepath.Join(dir, file)); !os.IsNotExist(err) {
			t.Errorf("%s should not exist for zero limits", file)
		}
	}
}

func TestApplyEmptyPathIsNoop(t *testing.T) {
	m := New()
	if err := m.Apply("", Limits{MemoryMaxBytes: 1}); err != nil {
		t.Errorf("Apply with empty path should be a no-op, got %v", err)
	}
}

func TestApplyRejectsNegativeLimits(t *testing.T) {
	m := New()
	if err := m.Apply(t.TempDir(), Limits{MemoryMaxBytes: -1}); err == nil {
		t.Error("Apply with negative limit should fail")
	}
}

func TestDeleteEmptyPathIsNoop(t *testing.T) {
	m := New()
	if err := m.Delete(""); err != nil {
		t.Errorf("Delete with empty path should be a no-op, got %v", err)
	}
}
