//go:build unix

package workspace

import (
	"fmt"
	"syscall"
)

// maxRootDiskUsagePct is the maximum percentage of disk usage allowed
// on WORKSPACES_ROOT's filesystem before new workspaces are refused.
const maxRootDiskUsagePct = 80

// checkRootDiskSpace refuses to prepare a new workspace when root's
// filesystem is nearly full, rather than failing midway through a git
// worktree checkout.
func checkRootDiskSpace(root string) error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(root, &stat); err != nil {
		return nil // root may not exist yet; caller creates it next
	}

	totalBlocks := stat.Blocks
	availBlocks := stat.Bavail
	if totalBlocks == 0 {
		return nil
	}

	usedPct := float64(totalBlocks-availBlocks) / float64(totalBlocks) * 100
	if usedPct > maxRootDiskUsagePct {
		return fmt.Errorf("insufficient disk space under %s: %.1f%% used (max %d%%)", root, usedPct, maxRootDiskUsagePct)
	}
	return nil
}
