package testutils

import (
	"path"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// TestFileSystem provides a memory filesystem with the given
// files (path -> content).
func TestFileSystem(files map[string]string) (vfs.FileSystem, error) {
	fs := memoryfs.New()
	for p, content := range files {
		err := fs.MkdirAll(path.Dir(p), 0o700)
		if err != nil {
			return nil, err
		}
		err = vfs.WriteFile(fs, p, []byte(content), 0o600)
		if err != nil {
			return nil, err
		}
	}
	return fs, nil
}
