package backup_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/safecopy/pkg/backup"
	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/filesystem"
	"github.com/arthur-debert/safecopy/pkg/testutil"
)

func TestPreservePathScheme(t *testing.T) {
	destRoot := t.TempDir()
	backupRoot := t.TempDir()
	original := filepath.Join(destRoot, "sub", "mod.txt")
	testutil.WriteFile(t, original, "previous content")

	mgr := backup.NewManager(filesystem.NewOS(), backupRoot, "txn-123")
	record, err := mgr.Preserve(original, destRoot)
	require.NoError(t, err)
	require.NotNil(t, record)

	expected := filepath.Join(backupRoot, "txn-123", "sub", "mod.txt")
	assert.Equal(t, expected, record.BackupPath)
	assert.Equal(t, original, record.OriginalPath)
	assert.Equal(t, "txn-123", record.TransactionID)
	assert.Equal(t, "previous content", testutil.ReadFile(t, expected))
}

func TestPreserveKeepsMetadata(t *testing.T) {
	destRoot := t.TempDir()
	backupRoot := t.TempDir()
	original := filepath.Join(destRoot, "f.txt")
	testutil.WriteFile(t, original, "x")
	require.NoError(t, os.Chmod(original, 0640))

	mgr := backup.NewManager(filesystem.NewOS(), backupRoot, "txn")
	record, err := mgr.Preserve(original, destRoot)
	require.NoError(t, err)

	info, err := os.Stat(record.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestPreserveMissingPathIsNoop(t *testing.T) {
	destRoot := t.TempDir()
	mgr := backup.NewManager(filesystem.NewOS(), t.TempDir(), "txn")

	record, err := mgr.Preserve(filepath.Join(destRoot, "absent"), destRoot)
	require.NoError(t, err)
	assert.Nil(t, record, "nothing existed to preserve")
}

func TestPreserveRelativePathFailsFast(t *testing.T) {
	mgr := backup.NewManager(filesystem.NewOS(), t.TempDir(), "txn")

	_, err := mgr.Preserve("relative/file.txt", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrBackup))
}

func TestPreserveOutsideDestRootFailsFast(t *testing.T) {
	destRoot := t.TempDir()
	elsewhere := filepath.Join(t.TempDir(), "file.txt")
	testutil.WriteFile(t, elsewhere, "x")

	mgr := backup.NewManager(filesystem.NewOS(), t.TempDir(), "txn")
	_, err := mgr.Preserve(elsewhere, destRoot)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrBackup))
}

func TestPreserveCollisionFails(t *testing.T) {
	destRoot := t.TempDir()
	backupRoot := t.TempDir()
	original := filepath.Join(destRoot, "f.txt")
	testutil.WriteFile(t, original, "x")

	mgr := backup.NewManager(filesystem.NewOS(), backupRoot, "txn")
	_, err := mgr.Preserve(original, destRoot)
	require.NoError(t, err)

	_, err = mgr.Preserve(original, destRoot)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrBackup))
}

func TestPreserveSymlink(t *testing.T) {
	destRoot := t.TempDir()
	backupRoot := t.TempDir()
	target := filepath.Join(destRoot, "target.txt")
	testutil.WriteFile(t, target, "x")
	link := filepath.Join(destRoot, "link")
	require.NoError(t, os.Symlink(target, link))

	mgr := backup.NewManager(filesystem.NewOS(), backupRoot, "txn")
	record, err := mgr.Preserve(link, destRoot)
	require.NoError(t, err)

	got, err := os.Readlink(record.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestNewTransactionIDUnique(t *testing.T) {
	a := backup.NewTransactionID()
	b := backup.NewTransactionID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

func TestManagerGeneratesTransactionID(t *testing.T) {
	mgr := backup.NewManager(filesystem.NewOS(), t.TempDir(), "")
	assert.NotEmpty(t, mgr.TransactionID())
}
