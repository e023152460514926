//go:build unix

package retention

import (
	"io/fs"
	"syscall"
	"time"
)

// statAtime extracts the access time from a unix Stat_t, falling back
// to the mtime already captured by info when the underlying syscall
// type isn't available.
func statAtime(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
}
