//go:build !linux

package filecopy

import "os"

// reflink is a stub on platforms without FICLONE support: it always signals
// ErrUnsupported so CopyWithMode falls back to a full copy.
func reflink(in *os.File, dst string, mode os.FileMode) (int64, error) {
	return 0, ErrUnsupported
}
