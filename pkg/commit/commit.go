// Package commit synchronizes exactly one destination file with one
// source file. New content is staged into a temporary file inside the
// destination's own directory and activated by an atomic rename, so a
// partially written file is never observable at the destination path,
// even on a crash mid-write.
package commit

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"github.com/arthur-debert/safecopy/pkg/attrs"
	"github.com/arthur-debert/safecopy/pkg/backup"
	"github.com/arthur-debert/safecopy/pkg/checksum"
	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/filesystem"
	"github.com/arthur-debert/safecopy/pkg/logging"
	"github.com/arthur-debert/safecopy/pkg/types"
	"github.com/arthur-debert/safecopy/pkg/validate"
)

// Outcome reports what one commit did.
type Outcome struct {
	Changed    bool
	BackupFile string
}

// Committer replaces single destination files atomically.
type Committer struct {
	fs      types.FS
	backups *backup.Manager
	cfg     types.Config
}

// New creates a Committer. backups may be nil when the invocation did
// not ask for them.
func New(fsys types.FS, backups *backup.Manager, cfg types.Config) *Committer {
	return &Committer{fs: fsys, backups: backups, cfg: cfg}
}

// Commit brings dest in line with src. pair carries the precomputed
// content digests; equal digests skip content mutation entirely unless
// the destination is a symlink that must become a regular file.
// Metadata reconciliation for the skip case stays with the caller.
func (c *Committer) Commit(ctx context.Context, src, dest string, pair checksum.Pair) (Outcome, error) {
	logger := logging.GetLogger("commit").With().
		Str("src", src).
		Str("dest", dest).
		Logger()

	destIsLink := false
	if info, err := c.fs.Lstat(dest); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		destIsLink = true
	}

	if pair.Equal() && !destIsLink {
		return Outcome{Changed: false}, nil
	}
	if c.cfg.CheckMode {
		return Outcome{Changed: true}, nil
	}

	var outcome Outcome
	outcome.Changed = true

	if c.cfg.Backup && c.backups != nil {
		record, err := c.backups.Preserve(dest, filepath.Dir(dest))
		if err != nil {
			return Outcome{}, err
		}
		if record != nil {
			outcome.BackupFile = record.BackupPath
		}
	}

	// Conversion from symlink: the following steps must operate on a
	// real file at dest, not on the link target.
	if destIsLink {
		if err := c.fs.Remove(dest); err != nil {
			return Outcome{}, errors.Wrapf(err, errors.ErrCopy, "cannot remove link %s", dest)
		}
		if err := c.fs.WriteFile(dest, nil, 0644); err != nil {
			return Outcome{}, errors.Wrapf(err, errors.ErrCopy, "cannot materialize %s", dest)
		}
	}

	srcInfo, err := c.fs.Stat(src)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, errors.ErrRead, "cannot stat %s", src)
	}
	if err := c.checkFreeSpace(dest, srcInfo.Size()); err != nil {
		return Outcome{}, err
	}

	// Stage in the destination's directory so the rename below never
	// crosses a filesystem boundary.
	staged, err := c.fs.TempFile(filepath.Dir(dest), ".safecopy-*")
	if err != nil {
		return Outcome{}, errors.Wrapf(err, errors.ErrCopy, "cannot create staging file in %s", filepath.Dir(dest))
	}
	defer func() { _ = c.fs.Remove(staged) }()

	if err := filesystem.CopyPreserved(c.fs, src, staged); err != nil {
		return Outcome{}, errors.Wrapf(err, errors.ErrCopy, "failed to stage %s", src)
	}

	if c.cfg.Validate != "" {
		// The validator must see the final attributes on the staged
		// path; some validations depend on them.
		applier := attrs.NewApplier(c.fs, false)
		if _, err := applier.Reconcile(staged, attrs.Spec{
			Owner: c.cfg.Owner,
			Group: c.cfg.Group,
			Mode:  c.cfg.Mode,
		}); err != nil {
			return Outcome{}, err
		}
		if _, err := validate.Run(ctx, c.cfg.Validate, staged); err != nil {
			return Outcome{}, err
		}
	}

	srcHasACLs := hasPosixACLs(src)

	if err := c.fs.Rename(staged, dest); err != nil {
		return Outcome{}, errors.Wrapf(err, errors.ErrCopy, "failed to commit %s to %s", staged, dest)
	}

	// Staging copied the source's extended attributes along with its
	// metadata. When the content came from a controller rather than an
	// already-correct on-host source, any ACLs among them are copy
	// artifacts; clear them so only the requested owner/group/mode
	// apply.
	if !c.cfg.RemoteSrc && srcHasACLs {
		if err := clearFacls(ctx, dest); err != nil {
			return Outcome{}, err
		}
	}

	logger.Info().
		Str("size", humanize.Bytes(uint64(srcInfo.Size()))).
		Str("backup", outcome.BackupFile).
		Msg("Committed file")

	return outcome, nil
}

// checkFreeSpace fails before staging when the destination filesystem
// cannot hold the new content. An unreadable usage report is not
// fatal; the copy itself will surface real exhaustion.
func (c *Committer) checkFreeSpace(dest string, size int64) error {
	usage, err := disk.Usage(filepath.Dir(dest))
	if err != nil {
		logger := logging.GetLogger("commit")
		logger.Debug().Err(err).Msg("Cannot read destination disk usage")
		return nil
	}
	if usage.Free < uint64(size) {
		return errors.Newf(errors.ErrPrecondition,
			"not enough space on %s: need %s, have %s",
			filepath.Dir(dest), humanize.Bytes(uint64(size)), humanize.Bytes(usage.Free)).
			WithDetail("needed", size).
			WithDetail("free", usage.Free)
	}
	return nil
}

// hasPosixACLs reports whether the file carries a POSIX access ACL
// xattr. When the listing fails, ACLs are assumed present.
func hasPosixACLs(path string) bool {
	size, err := unix.Listxattr(path, nil)
	if err != nil {
		return true
	}
	if size == 0 {
		return false
	}
	buf := make([]byte, size)
	n, err := unix.Listxattr(path, buf)
	if err != nil {
		return true
	}
	for _, name := range strings.Split(string(buf[:n]), "\x00") {
		if name == "system.posix_acl_access" {
			return true
		}
	}
	return false
}

// clearFacls strips every ACL from path. A missing setfacl binary or a
// filesystem without ACL support is tolerated; any other failure is
// fatal, since it would leave attributes the caller never asked for.
func clearFacls(ctx context.Context, path string) error {
	setfacl, err := exec.LookPath("setfacl")
	if err != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, setfacl, "-b", path)
	cmd.Env = append(os.Environ(), "LANG=C", "LC_ALL=C", "LC_MESSAGES=C")
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if strings.Contains(string(out), "Operation not supported") {
		return nil
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return errors.Newf(errors.ErrACL, "failed to clear ACLs on %s", path).
			WithDetail("exit_status", exitErr.ExitCode()).
			WithDetail("output", string(out))
	}
	return errors.Wrapf(err, errors.ErrACL, "failed to run setfacl on %s", path)
}
