package mirrorsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DirSource opens screenshots stored under a root directory. Relative paths resolve against root;
// absolute paths must already lie inside it.
type DirSource struct {
	root string
}

// NewDirSource constructs a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: filepath.Clean(dir)}
}

// Open implements ScreenshotSource.
func (d *DirSource) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(d.root, path)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(d.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("screenshot path %q escapes %s", path, d.root)
	}
	return os.Open(full)
}
