package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spigell/resume-matcher/internal/domain"
)

// Discover walks dir and returns the absolute paths of the regular files accepted
// by supports, sorted. Hidden files and directories are skipped.
func Discover(dir string, supports func(path string) bool) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w: %w", domain.ErrInvalidInput, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", root, domain.ErrInvalidInput)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if supports != nil && !supports(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
