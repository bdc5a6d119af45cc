package cgroups

// The supervised service must outlive supervisor faults. When a limit
// cannot be applied, report and degrade; never block the service from
// starting over an unwritable knob.

import (
	"fmt"
	"os"
	"path/filepath"
)

const cgroupRoot = "/sys/fs/cgroup"

// Limits holds the resource ceilings applied to a service cgroup.
type Limits struct {
	MemoryMaxBytes int64 // hard ceiling, 0 = no limit
	MemoryLowBytes int64 // reservation protected from reclaim, 0 = none
}

// Manager handles cgroup lifecycle only.
// Create. Apply. Join. Delete. Nothing else.
type Manager struct {
	version int
}

// New creates a cgroup manager for the detected cgroup version
func New() *Manager {
	return &Manager{
		version: Version(),
	}
}

// Version returns the detected cgroup version (1 or 2)
func Version() int {
	if _, err := os.Stat(filepath.Join(cgroupRoot, "cgroup.controllers")); err == nil {
		return 2
	}
	return 1
}

// Create creates a cgroup directory for a service.
// Returns the cgroup path, empty when permissions do not allow one.
func (m *Manager) Create(service string) (string, error) {
	if service == "" {
		service = fmt.Sprintf("unnamed-%d", os.Getpid())
	}

	name := fmt.Sprintf("platewatchd/%s", service)

	var path string
	if m.version == 2 {
		path = filepath.Join(cgroupRoot, name)
	} else {
		// v1: only the memory hierarchy matters here
		path = filepath.Join(cgroupRoot, "memory", name)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		if os.IsPermission(err) {
			return "", nil // not an error, just can't create
		}
		return "", err
	}

	return path, nil
}

// Apply writes the memory limits into the cgroup
func (m *Manager) Apply(cgroupPath string, limits Limits) error {
	if cgroupPath == "" {
		return nil // no cgroup, skip
	}
	if limits.MemoryMaxBytes < 0 || limits.MemoryLowBytes < 0 {
		return fmt.Errorf("invalid memory limits: max=%d low=%d", limits.MemoryMaxBytes, limits.MemoryLowBytes)
	}

	maxFile, lowFile := "memory.max", "memory.low"
	if m.version == 1 {
		maxFile, lowFile = "memory.limit_in_bytes", "memory.soft_limit_in_bytes"
	}

	if limits.MemoryMaxBytes > 0 {
		f := filepath.Join(cgroupPath, maxFile)
		if err := os.WriteFile(f, []byte(fmt.Sprintf("%d", limits.MemoryMaxBytes)), 0644); err != nil {
			return fmt.Errorf("write %s: %w", maxFile, err)
		}
	}

	if limits.MemoryLowBytes > 0 {
		f := filepath.Join(cgroupPath, lowFile)
		if err := os.WriteFile(f, []byte(fmt.Sprintf("%d", limits.MemoryLowBytes)), 0644); err != nil {
			return fmt.Errorf("write %s: %w", lowFile, err)
		}
	}

	return nil
}

// Join moves a PID into the cgroup
func (m *Manager) Join(cgroupPath string, pid int) error {
	if cgroupPath == "" {
		return nil // no cgroup, skip
	}

	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}

	procsFile := filepath.Join(cgroupPath, "cgroup.procs")
	return os.WriteFile(procsFile, []byte(fmt.Sprintf("%d", pid)), 0644)
}

// Delete removes the cgroup directory
func (m *Manager) Delete(cgroupPath string) error {
	if cgroupPath == "" {
		return nil
	}

	return os.Remove(cgroupPath)
}
