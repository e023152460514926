//go:build !unix

package retention

import (
	"io/fs"
	"time"
)

// statAtime has no portable access-time source outside unix; fall back
// to mtime, which still satisfies the "most recent touch" intent.
func statAtime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
