//go:build linux

package filecopy

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// reflink attempts a copy-on-write clone of in into dst via the FICLONE
// ioctl. It returns ErrUnsupported when the underlying filesystem cannot do
// this (tmpfs, a cross-device destination, an older kernel), which callers
// treat as "fall back to a full copy", not a user-visible error.
func reflink(in *os.File, dst string, mode os.FileMode) (int64, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return 0, fmt.Errorf("filecopy: create %q: %w", dst, err)
	}
	defer out.Close()

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		os.Remove(dst)
		if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EXDEV) {
			return 0, ErrUnsupported
		}
		return 0, fmt.Errorf("filecopy: reflink %q -> %q: %w", in.Name(), dst, err)
	}

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("filecopy: stat %q: %w", in.Name(), err)
	}
	return info.Size(), nil
}
