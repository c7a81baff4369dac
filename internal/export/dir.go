package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// DirDestination writes JSONL batches as files under a local directory.
// Files are replaced atomically, so readers never see a partial batch.
type DirDestination struct {
	dir string
}

// NewDirDestination creates dir if needed and returns a destination for it.
func NewDirDestination(dir string) (*DirDestination, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &DirDestination{dir: dir}, nil
}

func (d *DirDestination) Name() string { return "dir" }

// Write stores data at dir/key. Slashes in key become subdirectories.
func (d *DirDestination) Write(_ context.Context, key string, data []byte) error {
	path := filepath.Join(d.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
