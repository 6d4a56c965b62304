// Package sync mirrors a source directory tree onto a destination
// tree. Each directory level is classified by pkg/diff, every entry
// needing attention is mapped to exactly one action, and the action is
// dispatched through a single policy table. Traversal uses an explicit
// worklist of directory pairs, so tree depth never stresses the call
// stack while keeping the pre-order classify, act, recurse sequencing.
package sync

import (
	"io/fs"
	"path/filepath"

	"github.com/arthur-debert/safecopy/pkg/attrs"
	"github.com/arthur-debert/safecopy/pkg/backup"
	"github.com/arthur-debert/safecopy/pkg/diff"
	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/filesystem"
	"github.com/arthur-debert/safecopy/pkg/logging"
	"github.com/arthur-debert/safecopy/pkg/types"
)

// Action is the single policy decision for one classified entry.
type Action int

const (
	// NewCopyAsLink recreates a source symlink at the destination.
	NewCopyAsLink Action = iota
	// NewCopyAsTree deep-copies a directory (or a followed directory
	// link) and applies ownership over the new subtree.
	NewCopyAsTree
	// NewCopyAsFile copies file content to a path that does not exist.
	NewCopyAsFile
	// OverwriteFile replaces a changed destination file, backing it up
	// first when backups are enabled.
	OverwriteFile
	// RecreateLink replaces a changed destination entry with a link
	// when the source is a link and following is disabled.
	RecreateLink
)

// policy maps each action to its application. One table instead of
// repeated symlink/follow/backup conditionals.
var policy = map[Action]func(e *Executor, srcPath, destPath string, entry diff.Entry) error{
	NewCopyAsLink: (*Executor).recreateLink,
	NewCopyAsTree: (*Executor).copyTree,
	NewCopyAsFile: (*Executor).copyNewFile,
	OverwriteFile: (*Executor).overwriteFile,
	RecreateLink:  (*Executor).replaceWithLink,
}

// Executor applies the copy/backup/ownership policy across a tree.
type Executor struct {
	fs          types.FS
	backups     *backup.Manager
	applier     *attrs.Applier
	owner       string
	group       string
	localFollow bool
	checkMode   bool

	// destRoot anchors backup path derivation for the current run.
	destRoot string
}

// Options configures an Executor.
type Options struct {
	Backups     *backup.Manager // nil disables backups
	Owner       string
	Group       string
	LocalFollow bool
	CheckMode   bool
}

// NewExecutor creates a sync Executor.
func NewExecutor(fsys types.FS, opts Options) *Executor {
	return &Executor{
		fs:          fsys,
		backups:     opts.Backups,
		applier:     attrs.NewApplier(fsys, opts.CheckMode),
		owner:       opts.Owner,
		group:       opts.Group,
		localFollow: opts.LocalFollow,
		checkMode:   opts.CheckMode,
	}
}

// SyncTree mirrors srcRoot onto destRoot and reports whether anything
// changed, or would change in check mode. The changed flag is OR'd
// across every level; no level's result is short-circuited away. After
// the content pass the whole destination subtree gets an ownership
// walk, content-identical entries included, because metadata drifts
// independently of content.
func (e *Executor) SyncTree(srcRoot, destRoot string) (bool, error) {
	logger := logging.GetLogger("sync").With().
		Str("src", srcRoot).
		Str("dest", destRoot).
		Bool("check_mode", e.checkMode).
		Logger()

	e.destRoot = destRoot
	changed := false

	pending := [][2]string{{srcRoot, destRoot}}
	for len(pending) > 0 {
		pair := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		srcDir, destDir := pair[0], pair[1]

		c, err := diff.Classify(e.fs, srcDir, destDir)
		if err != nil {
			return changed, err
		}

		levelChanged, err := e.applyLevel(srcDir, destDir, c)
		if err != nil {
			return changed, err
		}
		changed = changed || levelChanged

		for _, name := range c.CommonDirs {
			pending = append(pending, [2]string{
				filepath.Join(srcDir, name),
				filepath.Join(destDir, name),
			})
		}
	}

	ownerChanged, err := e.applier.ReconcileTree(destRoot, e.owner, e.group)
	if err != nil {
		return changed, err
	}
	changed = changed || ownerChanged

	logger.Debug().Bool("changed", changed).Msg("Tree sync finished")
	return changed, nil
}

// applyLevel acts on one level's classification.
func (e *Executor) applyLevel(srcDir, destDir string, c diff.Classification) (bool, error) {
	changed := len(c.NewOnly) > 0 || len(c.Changed) > 0

	if e.checkMode {
		return changed, nil
	}

	for _, entry := range c.NewOnly {
		if err := e.dispatch(e.classifyNew(entry), srcDir, destDir, entry); err != nil {
			return changed, err
		}
	}
	for _, entry := range c.Changed {
		if err := e.dispatch(e.classifyChanged(entry), srcDir, destDir, entry); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func (e *Executor) dispatch(action Action, srcDir, destDir string, entry diff.Entry) error {
	srcPath := filepath.Join(srcDir, entry.Name)
	destPath := filepath.Join(destDir, entry.Name)

	logger := logging.GetLogger("sync")
	logger.Trace().
		Str("entry", entry.Name).
		Int("action", int(action)).
		Msg("Applying entry action")

	return policy[action](e, srcPath, destPath, entry)
}

func (e *Executor) classifyNew(entry diff.Entry) Action {
	switch {
	// A dangling link has no content to dereference; it is always
	// recreated as a link.
	case entry.Symlink && (!e.localFollow || entry.Dangling):
		return NewCopyAsLink
	case entry.Kind == diff.KindDir:
		return NewCopyAsTree
	default:
		return NewCopyAsFile
	}
}

func (e *Executor) classifyChanged(entry diff.Entry) Action {
	if entry.Symlink && (!e.localFollow || entry.Dangling) {
		return RecreateLink
	}
	return OverwriteFile
}

func (e *Executor) recreateLink(_, destPath string, entry diff.Entry) error {
	if err := e.fs.Symlink(entry.LinkTarget, destPath); err != nil {
		return errors.Wrapf(err, errors.ErrCopy, "cannot create link %s", destPath)
	}
	return nil
}

func (e *Executor) copyNewFile(srcPath, destPath string, _ diff.Entry) error {
	if err := filesystem.CopyFile(e.fs, srcPath, destPath); err != nil {
		return errors.Wrapf(err, errors.ErrCopy, "failed to copy %s to %s", srcPath, destPath)
	}
	return e.reconcileOwnership(destPath)
}

func (e *Executor) overwriteFile(srcPath, destPath string, _ diff.Entry) error {
	if err := e.preserve(destPath); err != nil {
		return err
	}
	if err := filesystem.CopyFile(e.fs, srcPath, destPath); err != nil {
		return errors.Wrapf(err, errors.ErrCopy, "failed to copy %s to %s", srcPath, destPath)
	}
	return e.reconcileOwnership(destPath)
}

func (e *Executor) replaceWithLink(_, destPath string, entry diff.Entry) error {
	if err := e.preserve(destPath); err != nil {
		return err
	}
	if err := e.fs.Remove(destPath); err != nil {
		return errors.Wrapf(err, errors.ErrCopy, "cannot remove %s", destPath)
	}
	if err := e.fs.Symlink(entry.LinkTarget, destPath); err != nil {
		return errors.Wrapf(err, errors.ErrCopy, "cannot create link %s", destPath)
	}
	return nil
}

// copyTree deep-copies a directory. Links inside the tree are
// dereferenced or recreated per the follow policy, and the new subtree
// gets its ownership applied immediately.
func (e *Executor) copyTree(srcPath, destPath string, _ diff.Entry) error {
	srcInfo, err := e.fs.Stat(srcPath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrCopy, "cannot stat %s", srcPath)
	}
	if err := e.fs.MkdirAll(destPath, srcInfo.Mode().Perm()); err != nil {
		return errors.Wrapf(err, errors.ErrCopy, "cannot create directory %s", destPath)
	}

	pending := [][2]string{{srcPath, destPath}}
	for len(pending) > 0 {
		pair := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		srcDir, destDir := pair[0], pair[1]

		entries, err := e.fs.ReadDir(srcDir)
		if err != nil {
			return errors.Wrapf(err, errors.ErrCopy, "cannot read directory %s", srcDir)
		}
		for _, entry := range entries {
			from := filepath.Join(srcDir, entry.Name())
			to := filepath.Join(destDir, entry.Name())

			isLink := entry.Type()&fs.ModeSymlink != 0
			if isLink && !e.localFollow {
				target, err := e.fs.Readlink(from)
				if err != nil {
					return errors.Wrapf(err, errors.ErrCopy, "cannot read link %s", from)
				}
				if err := e.fs.Symlink(target, to); err != nil {
					return errors.Wrapf(err, errors.ErrCopy, "cannot create link %s", to)
				}
				continue
			}

			info, err := e.fs.Stat(from)
			if err != nil {
				// A dead link nested in the tree is carried over as a
				// link; anything else unreadable is fatal.
				if isLink {
					target, terr := e.fs.Readlink(from)
					if terr != nil {
						return errors.Wrapf(terr, errors.ErrCopy, "cannot read link %s", from)
					}
					if serr := e.fs.Symlink(target, to); serr != nil {
						return errors.Wrapf(serr, errors.ErrCopy, "cannot create link %s", to)
					}
					continue
				}
				return errors.Wrapf(err, errors.ErrCopy, "cannot stat %s", from)
			}
			if info.IsDir() {
				if err := e.fs.MkdirAll(to, info.Mode().Perm()); err != nil {
					return errors.Wrapf(err, errors.ErrCopy, "cannot create directory %s", to)
				}
				pending = append(pending, [2]string{from, to})
				continue
			}
			if err := filesystem.CopyPreserved(e.fs, from, to); err != nil {
				return errors.Wrapf(err, errors.ErrCopy, "failed to copy %s to %s", from, to)
			}
		}
	}

	_, err = e.applier.ReconcileTree(destPath, e.owner, e.group)
	return err
}

// preserve backs destPath up when backups are enabled. An overwrite is
// never allowed to proceed past a failed backup.
func (e *Executor) preserve(destPath string) error {
	if e.backups == nil {
		return nil
	}
	_, err := e.backups.Preserve(destPath, e.destRoot)
	return err
}

// reconcileOwnership reapplies owner and group to one freshly written
// file.
func (e *Executor) reconcileOwnership(destPath string) error {
	_, err := e.applier.Reconcile(destPath, attrs.Spec{Owner: e.owner, Group: e.group})
	return err
}
