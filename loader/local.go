package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Noofbiz/taskprep/datasets"
)

// LocalSource reads datasets from directories of split files. A reference's
// Repo is a directory path, relative to Root when Root is set. When the
// reference has a config and the directory has a subdirectory of that name,
// the subdirectory is loaded; otherwise the config selects the entry of a
// per-config dataset_info.json.
type LocalSource struct {
	Root string
}

func (s LocalSource) Name() string {
	return "local"
}

func (s LocalSource) Open(ctx context.Context, ref Ref) (*datasets.Dataset, error) {
	dir := ref.Repo
	if s.Root != "" {
		dir = filepath.Join(s.Root, ref.Repo)
	}
	if !isDir(dir) {
		return nil, fmt.Errorf("%w: no directory %s", ErrNotFound, dir)
	}
	if ref.Config != "" {
		if sub := filepath.Join(dir, ref.Config); isDir(sub) {
			return datasets.LoadDir(ctx, sub, "")
		}
	}
	return datasets.LoadDir(ctx, dir, ref.Config)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
