package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage returns the bytes occupied by the database file and index
// directory at the given paths. Empty and missing paths count as zero.
func DiskUsage(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
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
			total += info.Size()
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
