// Package backup preserves destination content before it is
// overwritten. Every backup of one invocation lands under a single
// transaction directory: {backup_root}/{transaction_id}/{relative path
// under the destination root}. Callers rely on that layout to locate
// recovered content; it is an external contract.
package backup

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/filesystem"
	"github.com/arthur-debert/safecopy/pkg/logging"
	"github.com/arthur-debert/safecopy/pkg/types"
)

// Record describes one preserved copy. Records are never mutated and
// never deleted here; retention is an external policy.
type Record struct {
	OriginalPath  string
	BackupPath    string
	Timestamp     time.Time
	TransactionID string
}

// Manager writes backups for one invocation. The transaction id is
// fixed for the Manager's lifetime.
type Manager struct {
	fs    types.FS
	root  string
	txnID string
}

// NewManager creates a backup Manager rooted at root. An empty txnID
// gets a generated one.
func NewManager(fsys types.FS, root, txnID string) *Manager {
	if txnID == "" {
		txnID = NewTransactionID()
	}
	return &Manager{fs: fsys, root: root, txnID: txnID}
}

// TransactionID returns the id correlating this Manager's backups.
func (m *Manager) TransactionID() string {
	return m.txnID
}

// NewTransactionID generates a timestamped correlation token.
func NewTransactionID() string {
	return time.Now().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

// Preserve copies the file at path into the backup tree before the
// caller overwrites it. destRoot is the destination tree root the
// relative backup path is derived from. Both paths must be absolute
// and path must live under destRoot; anything else fails fast rather
// than deriving a malformed backup path. A path that does not exist is
// a no-op: there is nothing to preserve.
func (m *Manager) Preserve(path, destRoot string) (*Record, error) {
	if !filepath.IsAbs(path) || !filepath.IsAbs(destRoot) {
		return nil, errors.Newf(errors.ErrBackup, "backup paths must be absolute: %s under %s", path, destRoot).
			WithDetail("path", path).
			WithDetail("dest_root", destRoot)
	}
	rel, err := filepath.Rel(destRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, errors.Newf(errors.ErrBackup, "%s is not under destination root %s", path, destRoot).
			WithDetail("path", path).
			WithDetail("dest_root", destRoot)
	}

	info, err := m.fs.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrBackup, "cannot stat %s", path)
	}

	backupPath := filepath.Join(m.root, m.txnID, rel)
	if _, err := m.fs.Lstat(backupPath); err == nil {
		return nil, errors.Newf(errors.ErrBackup, "backup destination %s already exists", backupPath).
			WithDetail("backup_path", backupPath)
	}
	if err := m.fs.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrBackup, "cannot create backup directory for %s", backupPath)
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := m.fs.Readlink(path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrBackup, "cannot read link %s", path)
		}
		if err := m.fs.Symlink(target, backupPath); err != nil {
			return nil, errors.Wrapf(err, errors.ErrBackup, "cannot back up link %s", path)
		}
	} else {
		if err := filesystem.CopyPreserved(m.fs, path, backupPath); err != nil {
			return nil, errors.Wrapf(err, errors.ErrBackup, "could not make backup of %s to %s", path, backupPath)
		}
	}

	record := &Record{
		OriginalPath:  path,
		BackupPath:    backupPath,
		Timestamp:     time.Now(),
		TransactionID: m.txnID,
	}

	logger := logging.GetLogger("backup")
	logger.Debug().
		Str("original", path).
		Str("backup", backupPath).
		Str("txn", m.txnID).
		Msg("Preserved destination content")

	return record, nil
}
