// Package checksum computes the content digests that drive the
// skip-if-unchanged decision: SHA-1 as the primary digest and MD5 kept
// for legacy consumers of the result.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// Pair holds the source digest and, when the destination exists and is
// a readable file, the destination digest. An empty Dest means absent.
type Pair struct {
	Src  string
	Dest string
}

// Equal reports whether both digests are present and identical.
func (p Pair) Equal() bool {
	return p.Dest != "" && p.Src == p.Dest
}

// SHA1File returns the hex SHA-1 digest of the file at path.
func SHA1File(path string) (string, error) {
	return hashFile(path, sha1.New())
}

// MD5File returns the hex MD5 digest of the file at path.
func MD5File(path string) (string, error) {
	return hashFile(path, md5.New())
}

func hashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
