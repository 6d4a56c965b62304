package diff_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/safecopy/pkg/diff"
	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/filesystem"
	"github.com/arthur-debert/safecopy/pkg/testutil"
)

func TestClassifyPartition(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	testutil.WriteTree(t, src, map[string]string{
		"new.txt":       "only in source",
		"changed.txt":   "source version",
		"identical.txt": "same bytes",
		"shared/a.txt":  "nested",
	})
	testutil.WriteTree(t, dest, map[string]string{
		"changed.txt":   "dest version!",
		"identical.txt": "same bytes",
		"shared/b.txt":  "other nested",
	})

	c, err := diff.Classify(filesystem.NewOS(), src, dest)
	require.NoError(t, err)

	require.Len(t, c.NewOnly, 1)
	assert.Equal(t, "new.txt", c.NewOnly[0].Name)
	require.Len(t, c.Changed, 1)
	assert.Equal(t, "changed.txt", c.Changed[0].Name)
	assert.Equal(t, []string{"shared"}, c.CommonDirs)

	// The three sets are pairwise disjoint: no name appears twice.
	seen := map[string]int{}
	for _, e := range c.NewOnly {
		seen[e.Name]++
	}
	for _, e := range c.Changed {
		seen[e.Name]++
	}
	for _, name := range c.CommonDirs {
		seen[name]++
	}
	for name, count := range seen {
		assert.Equal(t, 1, count, "entry %s classified more than once", name)
	}
}

func TestClassifyIdenticalTreesAreEmpty(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, "a.txt"), "content")
	testutil.WriteFile(t, filepath.Join(dest, "a.txt"), "content")

	c, err := diff.Classify(filesystem.NewOS(), src, dest)
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestClassifySameSizeDifferentBytes(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, "a.txt"), "aaaa")
	testutil.WriteFile(t, filepath.Join(dest, "a.txt"), "bbbb")

	c, err := diff.Classify(filesystem.NewOS(), src, dest)
	require.NoError(t, err)
	require.Len(t, c.Changed, 1)
}

func TestClassifySymlinkKinds(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	testutil.WriteFile(t, filepath.Join(src, "real", "f.txt"), "x")
	require.NoError(t, os.Symlink(filepath.Join(src, "real"), filepath.Join(src, "dirlink")))
	testutil.WriteFile(t, filepath.Join(src, "target.txt"), "y")
	require.NoError(t, os.Symlink(filepath.Join(src, "target.txt"), filepath.Join(src, "filelink")))

	c, err := diff.Classify(filesystem.NewOS(), src, dest)
	require.NoError(t, err)

	byName := map[string]diff.Entry{}
	for _, e := range c.NewOnly {
		byName[e.Name] = e
	}

	dirlink, ok := byName["dirlink"]
	require.True(t, ok)
	assert.True(t, dirlink.Symlink)
	assert.Equal(t, diff.KindDir, dirlink.Kind)
	assert.Equal(t, filepath.Join(src, "real"), dirlink.LinkTarget)

	filelink, ok := byName["filelink"]
	require.True(t, ok)
	assert.True(t, filelink.Symlink)
	assert.Equal(t, diff.KindFile, filelink.Kind)
}

func TestClassifyDanglingLinkStaysFile(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(src, "gone"), filepath.Join(src, "dangling")))

	c, err := diff.Classify(filesystem.NewOS(), src, dest)
	require.NoError(t, err)
	require.Len(t, c.NewOnly, 1)
	assert.Equal(t, diff.KindFile, c.NewOnly[0].Kind)
	assert.True(t, c.NewOnly[0].Symlink)
	assert.True(t, c.NewOnly[0].Dangling)
}

func TestClassifyDanglingLinkAgainstFile(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	require.NoError(t, os.Symlink("missing-target", filepath.Join(src, "cfg")))
	testutil.WriteFile(t, filepath.Join(dest, "cfg"), "regular file")

	c, err := diff.Classify(filesystem.NewOS(), src, dest)
	require.NoError(t, err)
	require.Len(t, c.Changed, 1)
	assert.Equal(t, "cfg", c.Changed[0].Name)
	assert.True(t, c.Changed[0].Dangling)
}

func TestClassifyDanglingLinkMatchingDestLink(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	require.NoError(t, os.Symlink("missing-target", filepath.Join(src, "cfg")))
	require.NoError(t, os.Symlink("missing-target", filepath.Join(dest, "cfg")))

	c, err := diff.Classify(filesystem.NewOS(), src, dest)
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestClassifyUnreadableDirectory(t *testing.T) {
	src := t.TempDir()

	_, err := diff.Classify(filesystem.NewOS(), src, filepath.Join(src, "missing"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrRead))
}

func TestClassifyIsPure(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, "a.txt"), "new")

	before, err := os.ReadDir(dest)
	require.NoError(t, err)

	_, err = diff.Classify(filesystem.NewOS(), src, dest)
	require.NoError(t, err)

	after, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}
