package attrs_test

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/safecopy/pkg/attrs"
	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/filesystem"
	"github.com/arthur-debert/safecopy/pkg/testutil"
)

func currentIDs(t *testing.T) (string, string) {
	t.Helper()
	u, err := user.Current()
	require.NoError(t, err)
	return u.Uid, u.Gid
}

func TestReconcileModeChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	testutil.WriteFile(t, path, "x")
	require.NoError(t, os.Chmod(path, 0600))

	applier := attrs.NewApplier(filesystem.NewOS(), false)
	changed, err := applier.Reconcile(path, attrs.Spec{Mode: "0644"})
	require.NoError(t, err)
	assert.True(t, changed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestReconcileModeIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	testutil.WriteFile(t, path, "x")
	require.NoError(t, os.Chmod(path, 0644))

	applier := attrs.NewApplier(filesystem.NewOS(), false)
	changed, err := applier.Reconcile(path, attrs.Spec{Mode: "0644"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcileSymbolicMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	testutil.WriteFile(t, path, "x")
	require.NoError(t, os.Chmod(path, 0644))

	applier := attrs.NewApplier(filesystem.NewOS(), false)
	changed, err := applier.Reconcile(path, attrs.Spec{Mode: "u+x"})
	require.NoError(t, err)
	assert.True(t, changed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0744), info.Mode().Perm())
}

func TestReconcileOwnerAlreadyCorrect(t *testing.T) {
	uid, gid := currentIDs(t)
	path := filepath.Join(t.TempDir(), "f.txt")
	testutil.WriteFile(t, path, "x")

	applier := attrs.NewApplier(filesystem.NewOS(), false)
	changed, err := applier.Reconcile(path, attrs.Spec{Owner: uid, Group: gid})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcileCheckModeDoesNotChmod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	testutil.WriteFile(t, path, "x")
	require.NoError(t, os.Chmod(path, 0600))

	applier := attrs.NewApplier(filesystem.NewOS(), true)
	changed, err := applier.Reconcile(path, attrs.Spec{Mode: "0644"})
	require.NoError(t, err)
	assert.True(t, changed, "check mode still reports the pending change")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "check mode must not mutate")
}

func TestReconcileUnknownUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	testutil.WriteFile(t, path, "x")

	applier := attrs.NewApplier(filesystem.NewOS(), false)
	_, err := applier.Reconcile(path, attrs.Spec{Owner: "no-such-user-safecopy"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrAttr))
}

func TestReconcileTreeWalksEveryEntry(t *testing.T) {
	uid, gid := currentIDs(t)
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"a.txt":       "1",
		"sub/b.txt":   "2",
		"sub/deeper/c.txt": "3",
	})

	applier := attrs.NewApplier(filesystem.NewOS(), false)
	changed, err := applier.ReconcileTree(root, uid, gid)
	require.NoError(t, err)
	assert.False(t, changed, "everything already owned by the current user")
}

func TestReconcileTreeNoSpecIsNoop(t *testing.T) {
	applier := attrs.NewApplier(filesystem.NewOS(), false)
	changed, err := applier.ReconcileTree(t.TempDir(), "", "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcileTreeCheckModeReportsDrift(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "f.txt"), "x")

	info, err := os.Stat(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	st := info.Sys().(*syscall.Stat_t)

	// Pick a uid guaranteed to differ from the file's recorded one.
	otherUID := fmt.Sprintf("%d", st.Uid+1)

	applier := attrs.NewApplier(filesystem.NewOS(), true)
	changed, err := applier.ReconcileTree(root, otherUID, "")
	require.NoError(t, err)
	assert.True(t, changed)

	after, err := os.Stat(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, st.Uid, after.Sys().(*syscall.Stat_t).Uid, "check mode must not chown")
}

func TestLookupNumericIDs(t *testing.T) {
	uid, err := attrs.LookupUID("1234")
	require.NoError(t, err)
	assert.Equal(t, 1234, uid)

	gid, err := attrs.LookupGID("5678")
	require.NoError(t, err)
	assert.Equal(t, 5678, gid)
}
