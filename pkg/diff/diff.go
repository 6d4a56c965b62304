// Package diff classifies one directory level of a source/destination
// pair into the three disjoint sets the sync engine acts on: entries
// present only in the source, files present in both whose content
// differs, and directories present in both that need a recursive pass.
// Entries identical on both sides are excluded. Classification is pure
// inspection; nothing is written.
package diff

import (
	"bytes"
	"io/fs"
	"path/filepath"

	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/types"
)

// Kind is the effective kind of an entry, with symlinks resolved to
// the kind of their target.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Entry is one named object under the directory being classified.
// Nothing is cached across passes; entries are re-derived on every
// comparison.
type Entry struct {
	Name       string
	Kind       Kind
	Symlink    bool
	LinkTarget string

	// Dangling marks a symlink whose target does not resolve. Such an
	// entry can never be read through; it is compared and copied as a
	// link regardless of the follow policy.
	Dangling bool
}

// Classification is the outcome of comparing one source directory
// level against one destination directory level.
type Classification struct {
	// NewOnly exists in the source but not the destination.
	NewOnly []Entry
	// Changed exists as a file in both and the bytes differ.
	Changed []Entry
	// CommonDirs exists as a directory in both; the next level needs
	// its own classification.
	CommonDirs []string
}

// Empty reports whether nothing at this level requires attention.
func (c Classification) Empty() bool {
	return len(c.NewOnly) == 0 && len(c.Changed) == 0 && len(c.CommonDirs) == 0
}

// Classify compares one directory level. Both paths must be readable
// directories. Files are compared by direct content comparison, never
// by hash; entries with matching content need no action regardless of
// metadata.
func Classify(fsys types.FS, srcDir, destDir string) (Classification, error) {
	srcEntries, err := fsys.ReadDir(srcDir)
	if err != nil {
		return Classification{}, errors.Wrapf(err, errors.ErrRead, "cannot read source directory %s", srcDir)
	}
	destEntries, err := fsys.ReadDir(destDir)
	if err != nil {
		return Classification{}, errors.Wrapf(err, errors.ErrRead, "cannot read destination directory %s", destDir)
	}

	destByName := make(map[string]fs.DirEntry, len(destEntries))
	for _, e := range destEntries {
		destByName[e.Name()] = e
	}

	var c Classification
	for _, srcEntry := range srcEntries {
		name := srcEntry.Name()
		entry, err := describe(fsys, srcDir, srcEntry)
		if err != nil {
			return Classification{}, err
		}

		destEntry, exists := destByName[name]
		if !exists {
			c.NewOnly = append(c.NewOnly, entry)
			continue
		}

		destIsDir := resolvedIsDir(fsys, destDir, destEntry)
		switch {
		case entry.Kind == KindDir && destIsDir:
			c.CommonDirs = append(c.CommonDirs, name)
		case entry.Kind == KindFile && !destIsDir:
			var same bool
			if entry.Symlink && entry.Dangling {
				same = sameLinkTarget(fsys, filepath.Join(destDir, name), destEntry, entry.LinkTarget)
			} else {
				same, err = sameContent(fsys, filepath.Join(srcDir, name), filepath.Join(destDir, name))
				if err != nil {
					return Classification{}, err
				}
			}
			if !same {
				c.Changed = append(c.Changed, entry)
			}
		default:
			// Kind mismatch (file on one side, directory on the
			// other) is left untouched, matching the comparison
			// semantics this engine inherits.
		}
	}

	return c, nil
}

func describe(fsys types.FS, dir string, e fs.DirEntry) (Entry, error) {
	entry := Entry{Name: e.Name()}
	path := filepath.Join(dir, e.Name())

	if e.Type()&fs.ModeSymlink != 0 {
		entry.Symlink = true
		target, err := fsys.Readlink(path)
		if err != nil {
			return Entry{}, errors.Wrapf(err, errors.ErrRead, "cannot read link %s", path)
		}
		entry.LinkTarget = target

		// A link is a directory or file entry according to what it
		// resolves to. A dangling link stays a file entry; the copy
		// policy recreates it rather than reading through it.
		info, err := fsys.Stat(path)
		switch {
		case err != nil:
			entry.Dangling = true
		case info.IsDir():
			entry.Kind = KindDir
		}
		return entry, nil
	}

	if e.IsDir() {
		entry.Kind = KindDir
	}
	return entry, nil
}

// sameLinkTarget reports whether the destination entry is a symlink
// pointing at target. Used for dangling source links, which cannot be
// compared by content.
func sameLinkTarget(fsys types.FS, destPath string, destEntry fs.DirEntry, target string) bool {
	if destEntry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	destTarget, err := fsys.Readlink(destPath)
	return err == nil && destTarget == target
}

func resolvedIsDir(fsys types.FS, dir string, e fs.DirEntry) bool {
	if e.Type()&fs.ModeSymlink == 0 {
		return e.IsDir()
	}
	info, err := fsys.Stat(filepath.Join(dir, e.Name()))
	return err == nil && info.IsDir()
}

func sameContent(fsys types.FS, srcPath, destPath string) (bool, error) {
	srcInfo, err := fsys.Stat(srcPath)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrRead, "cannot stat %s", srcPath)
	}
	destInfo, err := fsys.Stat(destPath)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrRead, "cannot stat %s", destPath)
	}
	if srcInfo.Size() != destInfo.Size() {
		return false, nil
	}

	srcData, err := fsys.ReadFile(srcPath)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrRead, "cannot read %s", srcPath)
	}
	destData, err := fsys.ReadFile(destPath)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrRead, "cannot read %s", destPath)
	}
	return bytes.Equal(srcData, destData), nil
}
