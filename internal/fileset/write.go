package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// WriteTree materializes fs under root, creating parent directories as
// needed. Paths containing ".." are rejected before any file is written.
func WriteTree(fs *FileSet, root string) error {
	paths := fs.Paths()
	for _, p := range paths {
		if HasParentTraversal(p) {
			return fmt.Errorf("fileset: refusing to write path with parent traversal: %q", p)
		}
	}
	for _, p := range paths {
		content, _ := fs.Get(p)
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("fileset: creating parent dir for %q: %w", p, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("fileset: writing %q: %w", p, err)
		}
	}
	return nil
}

// CleanDir empties dir bottom-up, leaving dir itself in place. Used when
// clean_output_before_write is set, ahead of a WriteTree call.
func CleanDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	var paths []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fileset: walking %q: %w", dir, err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("fileset: removing %q: %w", p, err)
		}
	}
	return nil
}
