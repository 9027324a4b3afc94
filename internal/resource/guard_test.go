package resource

import (
	"errors"
	"testing"

	"github.com/hyperjump/kiroku/internal/models"
)

func stubGuard(memAvail uint64, memErr error, diskFree uint64, diskErr error) *Guard {
	return &Guard{
		lowMemoryBytes: DefaultLowMemoryBytes,
		memFn:          func() (uint64, error) { return memAvail, memErr },
		diskFn:         func(string) (uint64, error) { return diskFree, diskErr },
	}
}

func TestLowMemory(t *testing.T) {
	if stubGuard(1<<30, nil, 0, nil).LowMemory() {
		t.Error("1GiB available should not be low")
	}
	if !stubGuard(256<<20, nil, 0, nil).LowMemory() {
		t.Error("256MiB available should be low")
	}
	// Stat failures degrade rather than gamble.
	if !stubGuard(0, errors.New("no procfs"), 0, nil).LowMemory() {
		t.Error("stat failure should count as low memory")
	}
}

func TestCheckDiskHeadroom(t *testing.T) {
	g := stubGuard(0, nil, 100<<20, nil)
	if err := g.CheckDiskHeadroom("/data", 50<<20); err != nil {
		t.Errorf("expected headroom, got %v", err)
	}

	err := g.CheckDiskHeadroom("/data", 200<<20)
	var diskErr *models.DiskSpaceError
	if !errors.As(err, &diskErr) {
		t.Fatalf("expected DiskSpaceError, got %v", err)
	}
	if diskErr.NeededBytes != 200<<20 || diskErr.AvailableBytes != 100<<20 {
		t.Errorf("got %+v", diskErr)
	}

	if err := stubGuard(0, nil, 0, errors.New("statfs failed")).CheckDiskHeadroom("/data", 1); err == nil {
		t.Error("expected error when disk stats are unavailable")
	}
}
