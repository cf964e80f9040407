// Package registry discovers measurement datasets on disk so the CLI can
// list what is available to fit.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hierfit/internal/common/fsutil"
	"hierfit/pkg/types"
)

// LoadDir scans a directory for *.csv files and builds a catalog from
// filenames. ID is the full filename (including extension); Path is the
// absolute file path.
func LoadDir(dir string) ([]types.DatasetInfo, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var sets []types.DatasetInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		sets = append(sets, types.DatasetInfo{
			ID:        name,
			Path:      filepath.Join(abs, name),
			SizeBytes: info.Size(),
		})
	}
	return sets, nil
}
