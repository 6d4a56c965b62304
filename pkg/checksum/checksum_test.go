package checksum_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/safecopy/pkg/checksum"
)

func TestSHA1File(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "empty_file",
			content:  "",
			expected: "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		},
		{
			name:     "simple_content",
			content:  "hello\n",
			expected: "f572d396fae9206628714fb2ce00f72e94f2258f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tempDir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			sum, err := checksum.SHA1File(path)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sum)
		})
	}
}

func TestMD5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	sum, err := checksum.MD5File(path)
	require.NoError(t, err)
	assert.Equal(t, "b1946ac92492d2347c6235b4d2611184", sum)
}

func TestSHA1FileMissing(t *testing.T) {
	_, err := checksum.SHA1File(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestPairEqual(t *testing.T) {
	assert.True(t, checksum.Pair{Src: "a", Dest: "a"}.Equal())
	assert.False(t, checksum.Pair{Src: "a", Dest: "b"}.Equal())
	assert.False(t, checksum.Pair{Src: "a"}.Equal(), "absent destination digest never matches")
}
