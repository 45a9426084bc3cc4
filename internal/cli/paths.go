package cli

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// ExpandPaths resolves ingest arguments to absolute PDF file paths. An
// argument may be a file, a directory (walked recursively) or a doublestar
// glob such as "docs/**/*.pdf". Results are deduplicated and sorted.
func ExpandPaths(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	}

	for _, arg := range args {
		if hasMeta(arg) {
			matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if err != nil {
				return nil, ragerr.Wrapf(err, ragerr.CodeIngestFileInvalid, "bad pattern %q", arg)
			}
			for _, m := range matches {
				if isPDF(m) {
					add(m)
				}
			}
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, ragerr.Errorf(ragerr.CodeIngestDocumentNotFound, "no such file or directory: %s", arg)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPDF(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, ragerr.Wrapf(err, ragerr.CodeIngestFileInvalid, "walk %s", arg)
		}
	}
	sort.Strings(out)
	return out, nil
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
