package nodemanager

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// MinFreeBytesForBackup is the floor checked before a backup link or a
// mount attempt proceeds; below this, leaving the operation running
// risks filling the volume mid-transfer.
const MinFreeBytesForBackup = 512 << 20

// CheckDiskSpace reports an error if path's filesystem has fewer than
// MinFreeBytesForBackup free (spec.md's C10 dependency on a disk-space
// pre-check before mounting or starting a backup link).
func CheckDiskSpace(ctx context.Context, path string) error {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("nodemanager: disk usage for %q: %w", path, err)
	}
	if usage.Free < MinFreeBytesForBackup {
		return fmt.Errorf("nodemanager: only %d bytes free on %q, need at least %d", usage.Free, path, MinFreeBytesForBackup)
	}
	return nil
}
