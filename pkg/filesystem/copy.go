package filesystem

import (
	"io/fs"

	"github.com/arthur-debert/safecopy/pkg/types"
)

// CopyFile copies the content of src to dest. A missing dest is
// created with the source's permission bits; an existing dest keeps
// its own.
func CopyFile(fsys types.FS, src, dest string) error {
	data, err := fsys.ReadFile(src)
	if err != nil {
		return err
	}
	perm := fs.FileMode(0644)
	if info, err := fsys.Stat(src); err == nil {
		perm = info.Mode().Perm()
	}
	return fsys.WriteFile(dest, data, perm)
}

// CopyPreserved copies content and metadata: permission bits and the
// modification time carry over from src.
func CopyPreserved(fsys types.FS, src, dest string) error {
	info, err := fsys.Stat(src)
	if err != nil {
		return err
	}
	data, err := fsys.ReadFile(src)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(dest, data, info.Mode().Perm()); err != nil {
		return err
	}
	if err := fsys.Chmod(dest, info.Mode().Perm()); err != nil {
		return err
	}
	return fsys.Chtimes(dest, info.ModTime(), info.ModTime())
}
