//go:build linux

package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// bindCPU pins the calling OS thread's process to a single core by
// index, matching spec.md §4.6's "binds a dedicated CPU core (by
// index) if the OS permits." Only meaningful on Linux; other platforms
// use the no-op fallback in affinity_other.go.
func bindCPU(index int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(index)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", index, err)
	}
	return nil
}
