//go:build windows

package workspace

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// maxRootDiskUsagePct is the maximum percentage of disk usage allowed
// on WORKSPACES_ROOT's filesystem before new workspaces are refused.
const maxRootDiskUsagePct = 80

// checkRootDiskSpace refuses to prepare a new workspace when root's
// filesystem is nearly full, rather than failing midway through a git
// worktree checkout.
func checkRootDiskSpace(root string) error {
	ptr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return nil
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return nil // root may not exist yet; caller creates it next
	}
	if totalBytes == 0 {
		return nil
	}

	usedPct := float64(totalBytes-freeBytesAvailable) / float64(totalBytes) * 100
	if usedPct > maxRootDiskUsagePct {
		return fmt.Errorf("insufficient disk space under %s: %.1f%% used (max %d%%)", root, usedPct, maxRootDiskUsagePct)
	}
	return nil
}
