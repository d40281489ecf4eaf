package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
	"github.com/spf13/afero"
)

// ErrOutsideWorkDir is returned for folders that do not live below the
// cleaner's root.
var ErrOutsideWorkDir = errors.New("folder is outside the work directory")

// Cleaner removes attempt directories created by a Runner.
type Cleaner struct {
	fs   afero.Fs
	root string
}

var _ workchain.FolderCleaner = (*Cleaner)(nil)

func NewCleaner(fs afero.Fs, root string) *Cleaner {
	return &Cleaner{fs: fs, root: filepath.Clean(root)}
}

func (c *Cleaner) Clean(ctx context.Context, folder domain.RemoteFolder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.RemoveAll(folder.Path)
}

// RemoveAll deletes path and everything below it. Removing a path that does
// not exist is not an error.
func (c *Cleaner) RemoveAll(path string) error {
	p := filepath.Clean(path)
	rel, err := filepath.Rel(c.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("clean %s: %w", path, ErrOutsideWorkDir)
	}
	if err := c.fs.RemoveAll(p); err != nil {
		return fmt.Errorf("clean %s: %w", path, err)
	}
	return nil
}
