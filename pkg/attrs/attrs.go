// Package attrs reconciles filesystem metadata: single-path
// owner/group/mode application and the recursive ownership walk used
// after tree copies. Every operation is idempotent, mutating only
// attributes whose recorded value differs from the desired one.
package attrs

import (
	"io/fs"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/logging"
	"github.com/arthur-debert/safecopy/pkg/mode"
	"github.com/arthur-debert/safecopy/pkg/types"
)

// Spec names the desired metadata for one path. Empty fields are left
// alone. Mode must already be resolved: numeric or symbolic, never the
// preserve sentinel.
type Spec struct {
	Owner string
	Group string
	Mode  string
}

// Applier applies ownership and permission changes. In check mode it
// performs the same comparisons with zero mutation.
type Applier struct {
	fs        types.FS
	checkMode bool
}

// NewApplier creates an Applier over the given filesystem.
func NewApplier(fsys types.FS, checkMode bool) *Applier {
	return &Applier{fs: fsys, checkMode: checkMode}
}

// Reconcile brings one path's owner, group and mode in line with spec,
// reporting whether anything differed.
func (a *Applier) Reconcile(path string, spec Spec) (bool, error) {
	changed := false

	info, err := a.fs.Lstat(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrAttr, "cannot stat %s", path)
	}

	if spec.Owner != "" {
		ownerChanged, err := a.setOwnerIfDifferent(path, info, spec.Owner)
		if err != nil {
			return changed, err
		}
		changed = changed || ownerChanged
	}

	if spec.Group != "" {
		groupChanged, err := a.setGroupIfDifferent(path, info, spec.Group)
		if err != nil {
			return changed, err
		}
		changed = changed || groupChanged
	}

	// Permission bits on a symlink itself are meaningless here.
	if spec.Mode != "" && info.Mode()&fs.ModeSymlink == 0 {
		desired, err := mode.Apply(spec.Mode, info.Mode(), info.IsDir())
		if err != nil {
			return changed, err
		}
		current := info.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
		if desired != current {
			if !a.checkMode {
				if err := a.fs.Chmod(path, desired); err != nil {
					return changed, errors.Wrapf(err, errors.ErrAttr, "cannot chmod %s", path)
				}
			}
			changed = true
		}
	}

	return changed, nil
}

// ReconcileTree walks the tree rooted at root, directories and files
// both, applying owner and group wherever the recorded id differs.
// Metadata drifts independently of content, so the walk never skips
// entries that were content-identical during the sync.
func (a *Applier) ReconcileTree(root, owner, group string) (bool, error) {
	if owner == "" && group == "" {
		return false, nil
	}

	logger := logging.GetLogger("attrs")
	changed := false

	stack := []string{root}
	for len(stack) > 0 {
		path := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		info, err := a.fs.Lstat(path)
		if err != nil {
			return changed, errors.Wrapf(err, errors.ErrAttr, "cannot stat %s", path)
		}

		if owner != "" {
			ownerChanged, err := a.setOwnerIfDifferent(path, info, owner)
			if err != nil {
				return changed, err
			}
			changed = changed || ownerChanged
		}
		if group != "" {
			groupChanged, err := a.setGroupIfDifferent(path, info, group)
			if err != nil {
				return changed, err
			}
			changed = changed || groupChanged
		}

		if info.IsDir() {
			entries, err := a.fs.ReadDir(path)
			if err != nil {
				return changed, errors.Wrapf(err, errors.ErrAttr, "cannot read directory %s", path)
			}
			for _, entry := range entries {
				stack = append(stack, filepath.Join(path, entry.Name()))
			}
		}
	}

	logger.Debug().Str("root", root).Bool("changed", changed).Msg("Ownership walk finished")
	return changed, nil
}

func (a *Applier) setOwnerIfDifferent(path string, info fs.FileInfo, owner string) (bool, error) {
	uid, err := LookupUID(owner)
	if err != nil {
		return false, err
	}
	current, _, ok := statIDs(info)
	if !ok {
		return false, errors.Newf(errors.ErrAttr, "cannot read owner of %s", path)
	}
	if current == uid {
		return false, nil
	}
	if !a.checkMode {
		if err := a.fs.Lchown(path, uid, -1); err != nil {
			return false, errors.Wrapf(err, errors.ErrAttr, "cannot chown %s", path)
		}
	}
	return true, nil
}

func (a *Applier) setGroupIfDifferent(path string, info fs.FileInfo, group string) (bool, error) {
	gid, err := LookupGID(group)
	if err != nil {
		return false, err
	}
	_, current, ok := statIDs(info)
	if !ok {
		return false, errors.Newf(errors.ErrAttr, "cannot read group of %s", path)
	}
	if current == gid {
		return false, nil
	}
	if !a.checkMode {
		if err := a.fs.Lchown(path, -1, gid); err != nil {
			return false, errors.Wrapf(err, errors.ErrAttr, "cannot chgrp %s", path)
		}
	}
	return true, nil
}

// LookupUID resolves an owner name or numeric id string to a uid.
func LookupUID(owner string) (int, error) {
	if uid, err := strconv.Atoi(owner); err == nil {
		return uid, nil
	}
	u, err := user.Lookup(owner)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrAttr, "unknown user %q", owner)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrAttr, "non-numeric uid for %q", owner)
	}
	return uid, nil
}

// LookupGID resolves a group name or numeric id string to a gid.
func LookupGID(group string) (int, error) {
	if gid, err := strconv.Atoi(group); err == nil {
		return gid, nil
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrAttr, "unknown group %q", group)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrAttr, "non-numeric gid for %q", group)
	}
	return gid, nil
}

func statIDs(info fs.FileInfo) (uid, gid int, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}
