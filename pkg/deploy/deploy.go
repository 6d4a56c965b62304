// Package deploy orchestrates one deployment: it inspects the shape of
// the source and destination (file or directory, trailing separator,
// existence), verifies every precondition before anything mutates, and
// dispatches to the single-file atomic commit or the tree sync engine.
package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"

	"github.com/arthur-debert/safecopy/pkg/attrs"
	"github.com/arthur-debert/safecopy/pkg/backup"
	"github.com/arthur-debert/safecopy/pkg/checksum"
	"github.com/arthur-debert/safecopy/pkg/commit"
	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/logging"
	"github.com/arthur-debert/safecopy/pkg/mode"
	syncer "github.com/arthur-debert/safecopy/pkg/sync"
	"github.com/arthur-debert/safecopy/pkg/types"
	"github.com/arthur-debert/safecopy/pkg/validate"
)

// DefaultBackupRoot is where backups land when the caller supplies no
// backup root.
func DefaultBackupRoot() string {
	return filepath.Join(xdg.DataHome, "safecopy", "backups")
}

// Run executes one deployment described by cfg and returns its result.
// Re-running with unchanged inputs reports Changed=false and mutates
// nothing.
func Run(ctx context.Context, fsys types.FS, cfg types.Config) (types.Result, error) {
	logger := logging.GetLogger("deploy").With().
		Str("src", cfg.Src).
		Str("dest", cfg.Dest).
		Bool("check_mode", cfg.CheckMode).
		Logger()

	// Malformed validator templates are a precondition failure, caught
	// before any other work.
	if cfg.Validate != "" {
		if err := validate.CheckTemplate(cfg.Validate); err != nil {
			return types.Result{}, err
		}
	}

	src := cfg.Src
	if cfg.Content != nil {
		if src != "" {
			return types.Result{}, errors.New(errors.ErrPrecondition, "src and content are mutually exclusive")
		}
		staged, cleanup, err := materializeContent(fsys, *cfg.Content)
		if err != nil {
			return types.Result{}, err
		}
		defer cleanup()
		src = staged
	}
	if src == "" {
		return types.Result{}, errors.New(errors.ErrPrecondition, "one of src or content is required")
	}

	// The trailing separator is load-bearing for directory dispatch;
	// remember it before the path gets normalized away.
	srcTrailing := strings.HasSuffix(cfg.Src, string(filepath.Separator))
	destTrailing := strings.HasSuffix(cfg.Dest, string(filepath.Separator))

	srcInfo, err := fsys.Stat(src)
	if err != nil {
		return types.Result{}, errors.Newf(errors.ErrPrecondition, "Source %s not found", src).
			WithDetail("path", src)
	}
	if !fsys.Readable(src) {
		return types.Result{}, errors.Newf(errors.ErrPrecondition, "Source %s not readable", src).
			WithDetail("path", src)
	}

	src, err = filepath.Abs(src)
	if err != nil {
		return types.Result{}, errors.Wrapf(err, errors.ErrPrecondition, "cannot resolve source path %s", cfg.Src)
	}
	dest, err := filepath.Abs(cfg.Dest)
	if err != nil {
		return types.Result{}, errors.Wrapf(err, errors.ErrPrecondition, "cannot resolve destination path %s", cfg.Dest)
	}

	// Preserve mode on the transferred content resolves against the
	// source's current bits.
	if cfg.Mode == types.ModePreserve {
		cfg.Mode = mode.Format(srcInfo.Mode())
	}

	result := types.Result{Src: src, Dest: dest}
	srcIsFile := !srcInfo.IsDir()

	if srcIsFile {
		result.Checksum, err = checksum.SHA1File(src)
		if err != nil {
			return types.Result{}, errors.Wrapf(err, errors.ErrRead, "cannot checksum %s", src)
		}
		// Legacy digest, kept for consumers that still read it.
		if md5sum, err := checksum.MD5File(src); err == nil {
			result.MD5Sum = md5sum
		}
	}

	if cfg.Checksum != "" && cfg.Checksum != result.Checksum {
		return types.Result{}, errors.New(errors.ErrIntegrity,
			"Copied file does not match the expected checksum. Transfer failed.").
			WithDetail("checksum", result.Checksum).
			WithDetail("expected_checksum", cfg.Checksum)
	}

	changed := false

	// A directory target named by a trailing separator receives the
	// content's original basename; missing intermediate directories
	// are created with the directory mode applied to each new one. In
	// check mode the creation is only reported, so the parent checks
	// below must not fail on the still-missing chain.
	pendingDirs := false
	if cfg.OriginalBasename != "" && destTrailing {
		dest = filepath.Join(dest, cfg.OriginalBasename)
		dirChanged, err := ensureDestDirs(fsys, filepath.Dir(dest), cfg)
		if err != nil {
			return types.Result{}, err
		}
		changed = changed || dirChanged
		pendingDirs = dirChanged && cfg.CheckMode
	}

	if info, err := fsys.Stat(dest); err == nil && info.IsDir() && srcIsFile {
		basename := filepath.Base(src)
		if cfg.OriginalBasename != "" {
			basename = cfg.OriginalBasename
		}
		dest = filepath.Join(dest, basename)
	}

	if info, err := fsys.Lstat(dest); err == nil {
		if info.Mode()&os.ModeSymlink != 0 && cfg.Follow {
			resolved, rerr := fsys.EvalSymlinks(dest)
			if rerr == nil {
				dest = resolved
			}
		}
		if !cfg.Force {
			logger.Info().Msg("File already exists, force disabled")
			result.Dest = dest
			return result, nil
		}
	} else if srcIsFile && !pendingDirs {
		parent := filepath.Dir(dest)
		if _, err := fsys.Stat(parent); err != nil {
			if os.IsPermission(err) {
				return types.Result{}, errors.Newf(errors.ErrPrecondition,
					"Destination directory %s is not accessible", parent)
			}
			return types.Result{}, errors.Newf(errors.ErrPrecondition,
				"Destination directory %s does not exist", parent)
		}
	}

	if srcIsFile && !pendingDirs {
		if !fsys.Writable(filepath.Dir(dest)) {
			return types.Result{}, errors.Newf(errors.ErrPrecondition,
				"Destination %s not writable", filepath.Dir(dest))
		}
	}

	var backups *backup.Manager
	if cfg.Backup {
		root := cfg.BackupRoot
		if root == "" {
			root = DefaultBackupRoot()
		}
		backups = backup.NewManager(fsys, root, cfg.TransactionID)
	}

	result.Dest = dest

	if srcIsFile {
		pair := checksum.Pair{Src: result.Checksum}
		if info, err := fsys.Stat(dest); err == nil && info.Mode().IsRegular() && fsys.Readable(dest) {
			pair.Dest, err = checksum.SHA1File(dest)
			if err != nil {
				return types.Result{}, errors.Wrapf(err, errors.ErrRead, "cannot checksum %s", dest)
			}
		}

		outcome, err := commit.New(fsys, backups, cfg).Commit(ctx, src, dest, pair)
		if err != nil {
			return types.Result{}, err
		}
		changed = changed || outcome.Changed
		result.BackupFile = outcome.BackupFile
	} else {
		treeChanged, syncedDest, err := runTreeSync(fsys, backups, cfg, src, dest, srcTrailing)
		if err != nil {
			return types.Result{}, err
		}
		changed = changed || treeChanged
		dest = syncedDest
		result.Dest = dest
	}

	// Final metadata pass: owner, group and mode are reconciled on the
	// settled destination, mutating only what differs. The check-mode
	// applier reports the same comparison without touching anything.
	if _, err := fsys.Lstat(dest); err == nil {
		applier := attrs.NewApplier(fsys, cfg.CheckMode)
		attrsChanged, err := applier.Reconcile(dest, attrs.Spec{
			Owner: cfg.Owner,
			Group: cfg.Group,
			Mode:  cfg.Mode,
		})
		if err != nil {
			return types.Result{}, err
		}
		changed = changed || attrsChanged
	}

	result.Changed = changed
	logger.Info().Bool("changed", changed).Str("final_dest", dest).Msg("Deploy finished")
	return result, nil
}

// runTreeSync dispatches the four directory-source shapes: trailing
// separator copies the source's contents, no separator copies the
// directory itself under the destination, and a missing destination is
// created first.
func runTreeSync(fsys types.FS, backups *backup.Manager, cfg types.Config, src, dest string, srcTrailing bool) (bool, string, error) {
	executor := syncer.NewExecutor(fsys, syncer.Options{
		Backups:     backups,
		Owner:       cfg.Owner,
		Group:       cfg.Group,
		LocalFollow: cfg.LocalFollow,
		CheckMode:   cfg.CheckMode,
	})

	if !srcTrailing {
		dest = filepath.Join(dest, filepath.Base(src))
	}

	if _, err := fsys.Stat(dest); err != nil {
		// Nothing to compare against: the whole tree is new.
		if cfg.CheckMode {
			return true, dest, nil
		}
		dirMode := cfg.DirectoryMode
		if dirMode == "" {
			dirMode = mode.Format(mustMode(fsys, src))
		}
		perm, merr := mode.Apply(dirMode, 0755, true)
		if merr != nil {
			return false, dest, merr
		}
		if err := fsys.MkdirAll(dest, perm); err != nil {
			return false, dest, errors.Wrapf(err, errors.ErrCopy, "cannot create destination directory %s", dest)
		}
		if _, err := executor.SyncTree(src, dest); err != nil {
			return true, dest, err
		}
		return true, dest, nil
	}

	changed, err := executor.SyncTree(src, dest)
	return changed, dest, err
}

// ensureDestDirs creates the missing suffix of a destination directory
// chain, applying ownership and the directory mode to each directory
// this invocation created, never to the pre-existing prefix.
func ensureDestDirs(fsys types.FS, dirname string, cfg types.Config) (bool, error) {
	if _, err := fsys.Stat(dirname); err == nil {
		return false, nil
	}

	preExisting, created, err := splitPreExistingDir(fsys, dirname)
	if err != nil {
		return false, err
	}
	if cfg.CheckMode {
		return true, nil
	}

	if err := fsys.MkdirAll(dirname, 0755); err != nil {
		return false, errors.Wrapf(err, errors.ErrCopy, "cannot create destination directory %s", dirname)
	}

	dirMode := cfg.DirectoryMode
	applier := attrs.NewApplier(fsys, false)
	working := preExisting
	for _, segment := range created {
		working = filepath.Join(working, segment)
		if _, err := applier.Reconcile(working, attrs.Spec{
			Owner: cfg.Owner,
			Group: cfg.Group,
			Mode:  dirMode,
		}); err != nil {
			return true, err
		}
	}
	return true, nil
}

// splitPreExistingDir returns the deepest pre-existing ancestor of
// dirname and the list of path segments that need creating below it.
func splitPreExistingDir(fsys types.FS, dirname string) (string, []string, error) {
	head, tail := filepath.Split(dirname)
	head = strings.TrimSuffix(head, string(filepath.Separator))
	if head == "" {
		return ".", []string{tail}, nil
	}
	if _, err := fsys.Stat(head); err != nil {
		if head == "/" {
			return "", nil, errors.New(errors.ErrPrecondition, "The '/' directory doesn't exist on this machine.")
		}
		preExisting, created, err := splitPreExistingDir(fsys, head)
		if err != nil {
			return "", nil, err
		}
		return preExisting, append(created, tail), nil
	}
	return head, []string{tail}, nil
}

func materializeContent(fsys types.FS, content string) (string, func(), error) {
	staged, err := fsys.TempFile(os.TempDir(), ".safecopy-content-*")
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrCopy, "cannot stage inline content")
	}
	cleanup := func() { _ = fsys.Remove(staged) }
	if err := fsys.WriteFile(staged, []byte(content), 0600); err != nil {
		cleanup()
		return "", nil, errors.Wrap(err, errors.ErrCopy, "cannot write inline content")
	}
	return staged, cleanup, nil
}

func mustMode(fsys types.FS, path string) os.FileMode {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0755
	}
	return info.Mode()
}
