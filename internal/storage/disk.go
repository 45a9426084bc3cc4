package storage

import (
	"io/fs"
	"os"
	"path/filepath"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// Usage is the on-disk footprint of each storage area in bytes, keyed by area name.
type Usage map[string]int64

// Total sums every area.
func (u Usage) Total() int64 {
	var total int64
	for _, n := range u {
		total += n
	}
	return total
}

// MeasureUsage sizes each named area. An area path may be a file or a
// directory (summed recursively); empty or missing paths count as zero.
func MeasureUsage(areas map[string]string) (Usage, error) {
	usage := make(Usage, len(areas))
	for name, path := range areas {
		n, err := pathSize(path)
		if err != nil {
			return nil, ragerr.Wrapf(err, ragerr.CodeStoreDatabaseFailure, "measure %s at %s", name, path)
		}
		usage[name] = n
	}
	return usage, nil
}

func pathSize(path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			// Removed between listing and stat, e.g. a preview of a deleted document.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
