//go:build linux

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// linuxPathMax mirrors PATH_MAX from <linux/limits.h>.
const linuxPathMax = 4096

func usage(root string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return Usage{}, fmt.Errorf("storage: statfs: %w", err)
	}
	bsize := uint64(st.Bsize)
	u := Usage{
		TotalBytes:    st.Blocks * bsize,
		UsedBytes:     (st.Blocks - st.Bfree) * bsize,
		BlockSize:     bsize,
		PageSize:      uint64(os.Getpagesize()),
		MaxPathLength: linuxPathMax,
	}
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err == nil {
		u.MaxOpenFiles = lim.Cur
	}
	return u, nil
}
