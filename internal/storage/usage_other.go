//go:build !linux

package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// usage falls back to summing file sizes; the total is unknown.
func usage(root string) (Usage, error) {
	var used uint64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		used += uint64(info.Size())
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	return Usage{UsedBytes: used, PageSize: uint64(os.Getpagesize())}, nil
}
