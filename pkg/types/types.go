package types

import (
	"io/fs"
	"time"
)

// ModePreserve is the sentinel mode value meaning "use the source's
// permission bits".
const ModePreserve = "preserve"

// Config carries every parameter one deploy invocation needs. It is
// assembled once by the caller and threaded through the components
// unchanged; nothing reads ambient process state.
type Config struct {
	// Src is the path to copy from. Exactly one of Src and Content
	// must be set.
	Src string

	// Content is inline file content used instead of Src. A non-nil
	// empty string deploys an empty file.
	Content *string

	// Dest is the path to copy to. A trailing path separator marks it
	// as a directory target.
	Dest string

	// OriginalBasename names the file the content originated from when
	// Dest is a directory target; the final destination becomes
	// Dest/OriginalBasename and missing intermediate directories are
	// created with DirectoryMode applied.
	OriginalBasename string

	// Backup preserves the previous content of any overwritten path
	// under BackupRoot before it is replaced.
	Backup        bool
	BackupRoot    string
	TransactionID string

	// Force overwrites an existing destination. When false an existing
	// destination short-circuits the whole operation unchanged.
	Force bool

	// Checksum is an expected SHA-1 digest of the source. A mismatch
	// aborts before any mutation.
	Checksum string

	// Validate is a command template run against staged content before
	// it is committed. It must contain exactly one %s placeholder for
	// the staged path.
	Validate string

	// DirectoryMode is applied to directories this invocation creates.
	DirectoryMode string

	// RemoteSrc marks the source as already living on this host rather
	// than having been staged here by a controller. Staged sources get
	// copy-artifact ACLs cleared after commit; on-host sources keep
	// theirs.
	RemoteSrc bool

	// LocalFollow controls whether symlinks inside a source tree are
	// dereferenced (true) or recreated as links (false).
	LocalFollow bool

	// Follow resolves the destination when it is itself a symlink.
	Follow bool

	Owner string
	Group string

	// Mode is a numeric octal string, a symbolic expression such as
	// "u+rwx,g-w", or ModePreserve. Empty means leave modes alone.
	Mode string

	// CheckMode computes and reports changes without mutating anything.
	CheckMode bool
}

// DefaultConfig returns a Config with the defaults the original
// interface promises: overwrite enabled, source links followed.
func DefaultConfig() Config {
	return Config{
		Force:       true,
		LocalFollow: true,
	}
}

// Result is the outcome of one deploy invocation.
type Result struct {
	Dest       string `json:"dest" yaml:"dest"`
	Src        string `json:"src" yaml:"src"`
	Checksum   string `json:"checksum" yaml:"checksum"`
	MD5Sum     string `json:"md5sum,omitempty" yaml:"md5sum,omitempty"`
	Changed    bool   `json:"changed" yaml:"changed"`
	BackupFile string `json:"backup_file,omitempty" yaml:"backup_file,omitempty"`
}

// FS is the filesystem interface the deploy components operate
// against. The OS implementation lives in pkg/filesystem.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	Lstat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	ReadDir(name string) ([]fs.DirEntry, error)

	Mkdir(path string, perm fs.FileMode) error
	MkdirAll(path string, perm fs.FileMode) error

	Symlink(oldname, newname string) error
	Readlink(name string) (string, error)

	Remove(name string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error

	Chmod(name string, mode fs.FileMode) error
	Chown(name string, uid, gid int) error
	Lchown(name string, uid, gid int) error
	Chtimes(name string, atime, mtime time.Time) error

	// Readable and Writable report effective access for the calling
	// process, not what the permission bits alone suggest.
	Readable(name string) bool
	Writable(name string) bool

	// EvalSymlinks returns name with every symlink resolved.
	EvalSymlinks(name string) (string, error)

	// TempFile creates an empty file with a unique name in dir and
	// returns its path. Staging files are created next to their final
	// destination so the commit rename never crosses a filesystem.
	TempFile(dir, pattern string) (string, error)
}
