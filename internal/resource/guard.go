// Package resource reports memory and disk headroom for heavy operations.
package resource

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hyperjump/kiroku/internal/models"
)

// DefaultLowMemoryBytes is the available-memory threshold below which the
// preprocessing pipeline degrades resolution and quality.
const DefaultLowMemoryBytes = 512 << 20

// Guard answers headroom questions before heavy work begins. Callers degrade
// quality under memory pressure and fail outright only when disk headroom is
// insufficient.
type Guard struct {
	lowMemoryBytes uint64

	memFn  func() (uint64, error)
	diskFn func(path string) (uint64, error)
}

// NewGuard returns a Guard with the default low-memory threshold.
func NewGuard() *Guard {
	return &Guard{
		lowMemoryBytes: DefaultLowMemoryBytes,
		memFn:          availableMemory,
		diskFn:         freeDisk,
	}
}

func availableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory stats: %w", err)
	}
	return vm.Available, nil
}

func freeDisk(path string) (uint64, error) {
	du, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk stats: %w", err)
	}
	return du.Free, nil
}

// AvailableMemory returns the bytes of memory currently available.
func (g *Guard) AvailableMemory() (uint64, error) {
	return g.memFn()
}

// LowMemory reports whether available memory is below the threshold. Stat
// failures count as low memory so heavy work degrades rather than gambles.
func (g *Guard) LowMemory() bool {
	avail, err := g.memFn()
	if err != nil {
		return true
	}
	return avail < g.lowMemoryBytes
}

// FreeDisk returns the free bytes on the filesystem holding path.
func (g *Guard) FreeDisk(path string) (uint64, error) {
	return g.diskFn(path)
}

// CheckDiskHeadroom returns a DiskSpaceError when the filesystem holding
// path has fewer than needed bytes free.
func (g *Guard) CheckDiskHeadroom(path string, needed uint64) error {
	free, err := g.diskFn(path)
	if err != nil {
		return fmt.Errorf("failed to check disk headroom: %w", err)
	}
	if free < needed {
		return &models.DiskSpaceError{NeededBytes: needed, AvailableBytes: free}
	}
	return nil
}
