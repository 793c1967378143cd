//go:build linux

// Package sysfs reads and writes the kernel's CPU hotplug surface under
// /sys/devices/system/cpu. The root directory is configurable so tests can
// point it at a fake tree.
package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is the kernel's CPU device directory.
const DefaultRoot = "/sys/devices/system/cpu"

// DefaultMaxCPUs bounds the CPU index domain when the kernel does not
// report its own maximum.
const DefaultMaxCPUs = 4096

// CPUs accesses the per-CPU control files below a sysfs root.
type CPUs struct {
	root string
}

// New returns a CPUs over the given root, or over DefaultRoot when root is
// empty.
func New(root string) *CPUs {
	if root == "" {
		root = DefaultRoot
	}
	return &CPUs{root: root}
}

// Root returns the sysfs directory this instance reads and writes.
func (c *CPUs) Root() string { return c.root }

// OnlineList returns the textual CPU list of currently online CPUs.
func (c *CPUs) OnlineList() (string, error) {
	b, err := os.ReadFile(filepath.Join(c.root, "online"))
	if err != nil {
		return "", fmt.Errorf("reading online cpu list: %w", err)
	}
	return string(b), nil
}

// MaxIndex returns the highest CPU index the kernel can address, from the
// kernel_max file. The index domain is [0, MaxIndex].
func (c *CPUs) MaxIndex() (int, error) {
	b, err := os.ReadFile(filepath.Join(c.root, "kernel_max"))
	if err != nil {
		return 0, fmt.Errorf("reading kernel_max: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parsing kernel_max %q: %w", strings.TrimSpace(string(b)), err)
	}
	return n, nil
}

// SetOnline writes the hotplug toggle for one CPU: a single ASCII digit,
// '1' to bring it into service, '0' to take it out.
func (c *CPUs) SetOnline(cpu int, online bool) error {
	path := filepath.Join(c.root, fmt.Sprintf("cpu%d", cpu), "online")
	digit := []byte{'0'}
	if online {
		digit[0] = '1'
	}
	if err := os.WriteFile(path, digit, 0o644); err != nil {
		return fmt.Errorf("writing cpu%d online state: %w", cpu, err)
	}
	return nil
}
