// Package passthrough implements the pass-through executor: the layer
// that actually performs a filesystem operation against the backing
// directory once the dispatcher has finished applying fault policy. It
// translates logical paths (as seen through the mount) into paths under
// the backing directory and runs the real operation there, reporting
// host errors back as negated errno values.
//
// File-level operations go through an afero.Fs so tests can swap in an
// in-memory filesystem (afero.NewMemMapFs) instead of touching real
// disk; production wiring uses afero.NewOsFs, a thin wrapper over the
// os package. Two operations need precision afero cannot give - access
// checks against the real permission bits and nanosecond-accurate
// timestamp updates - and go straight to golang.org/x/sys/unix when the
// backing filesystem is real.
package passthrough

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// Executor performs filesystem operations rooted at BackingDir. It holds
// no per-call state; callers serialize nothing above what the
// underlying filesystem already guarantees.
type Executor struct {
	backingDir string
	fs         afero.Fs
}

// New creates an Executor backed by the real OS filesystem.
func New(backingDir string) *Executor {
	return NewWithFS(backingDir, afero.NewOsFs())
}

// NewWithFS creates an Executor over an arbitrary afero.Fs, for tests
// that want an in-memory backing store.
func NewWithFS(backingDir string, fs afero.Fs) *Executor {
	return &Executor{backingDir: backingDir, fs: fs}
}

// BackingDir returns the directory this executor is rooted at.
func (e *Executor) BackingDir() string { return e.backingDir }

// EnsureBackingDir creates the backing directory, mode 0755, if it does
// not already exist.
func (e *Executor) EnsureBackingDir() error {
	return e.fs.MkdirAll(e.backingDir, 0o755)
}

// Path resolves a logical path (as presented through the mount) to its
// location under the backing directory.
func (e *Executor) Path(logical string) string {
	return e.backingDir + logical
}

// Handle wraps an open file for the lifetime between Open/Create and
// Release.
type Handle struct {
	file afero.File
	path string
}

func (e *Executor) isRealFS() bool {
	_, ok := e.fs.(*afero.OsFs)
	return ok
}

// errnoOf converts a Go error from the afero/os/unix layer into a
// negated POSIX errno. Errors with no identifiable errno collapse to
// EIO.
func errnoOf(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.As(pathErr.Err, &errno) {
			return -int(errno)
		}
	}
	if errors.Is(err, os.ErrNotExist) {
		return -int(syscall.ENOENT)
	}
	if errors.Is(err, os.ErrExist) {
		return -int(syscall.EEXIST)
	}
	if errors.Is(err, os.ErrPermission) {
		return -int(syscall.EACCES)
	}
	return -int(syscall.EIO)
}

// GetAttr stats logical, preferring Lstat so symlinks are reported as
// themselves rather than followed.
func (e *Executor) GetAttr(logical string) (os.FileInfo, int) {
	full := e.Path(logical)
	if lstater, ok := e.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(full)
		if err != nil {
			return nil, errnoOf(err)
		}
		return info, 0
	}
	info, err := e.fs.Stat(full)
	if err != nil {
		return nil, errnoOf(err)
	}
	return info, 0
}

// ReadDir lists the entries of the directory at logical.
func (e *Executor) ReadDir(logical string) ([]os.FileInfo, int) {
	entries, err := afero.ReadDir(e.fs, e.Path(logical))
	if err != nil {
		return nil, errnoOf(err)
	}
	return entries, 0
}

// Create opens logical with O_CREATE|O_TRUNC|O_RDWR at the given mode,
// returning a handle for subsequent Read/Write/Release calls.
func (e *Executor) Create(logical string, mode uint32) (*Handle, int) {
	full := e.Path(logical)
	f, err := e.fs.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return nil, errnoOf(err)
	}
	return &Handle{file: f, path: full}, 0
}

// Mknod creates a special file (device node, FIFO, or similar) at
// logical. On an in-memory backing store, where device nodes have no
// meaning, it degrades to creating an empty regular file.
func (e *Executor) Mknod(logical string, mode uint32, dev uint64) int {
	full := e.Path(logical)
	if e.isRealFS() {
		if err := unix.Mknod(full, mode, int(dev)); err != nil {
			return errnoOf(err)
		}
		return 0
	}
	f, err := e.fs.Create(full)
	if err != nil {
		return errnoOf(err)
	}
	return errnoOf(f.Close())
}

// Open opens logical with the given os.O_* flags.
func (e *Executor) Open(logical string, flags int) (*Handle, int) {
	full := e.Path(logical)
	f, err := e.fs.OpenFile(full, flags, 0)
	if err != nil {
		return nil, errnoOf(err)
	}
	return &Handle{file: f, path: full}, 0
}

// Read performs a pread-style read at an explicit offset, never
// advancing any shared file position.
func (e *Executor) Read(h *Handle, buf []byte, off int64) (int, int) {
	n, err := h.file.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errnoOf(err)
	}
	return n, 0
}

// ReadPath reads from logical without a cached handle: it opens the
// file transiently, reads at off, and closes it again. Used when the
// dispatcher has no open handle on record.
func (e *Executor) ReadPath(logical string, buf []byte, off int64) (int, int) {
	h, errno := e.Open(logical, os.O_RDONLY)
	if errno != 0 {
		return 0, errno
	}
	defer e.Release(h)
	return e.Read(h, buf, off)
}

// Write performs a pwrite-style write at an explicit offset.
func (e *Executor) Write(h *Handle, buf []byte, off int64) (int, int) {
	n, err := h.file.WriteAt(buf, off)
	if err != nil {
		return n, errnoOf(err)
	}
	return n, 0
}

// WritePath writes to logical without a cached handle, opening and
// closing it transiently.
func (e *Executor) WritePath(logical string, buf []byte, off int64) (int, int) {
	h, errno := e.Open(logical, os.O_WRONLY)
	if errno != 0 {
		return 0, errno
	}
	defer e.Release(h)
	return e.Write(h, buf, off)
}

// Release closes a handle opened by Open or Create.
func (e *Executor) Release(h *Handle) int {
	if h == nil || h.file == nil {
		return 0
	}
	return errnoOf(h.file.Close())
}

// Mkdir creates a directory at logical.
func (e *Executor) Mkdir(logical string, mode uint32) int {
	return errnoOf(e.fs.Mkdir(e.Path(logical), os.FileMode(mode)))
}

// Rmdir removes the (empty) directory at logical.
func (e *Executor) Rmdir(logical string) int {
	return errnoOf(e.fs.Remove(e.Path(logical)))
}

// Unlink removes the file at logical.
func (e *Executor) Unlink(logical string) int {
	return errnoOf(e.fs.Remove(e.Path(logical)))
}

// Rename moves oldLogical to newLogical.
func (e *Executor) Rename(oldLogical, newLogical string) int {
	return errnoOf(e.fs.Rename(e.Path(oldLogical), e.Path(newLogical)))
}

// Access checks whether logical is reachable with the given
// unix.R_OK/W_OK/X_OK mode, the primitive both the engine's own
// permission pre-check and the client-visible access(2) operation use.
func (e *Executor) Access(logical string, mode uint32) int {
	full := e.Path(logical)
	if e.isRealFS() {
		if err := unix.Access(full, mode); err != nil {
			return errnoOf(err)
		}
		return 0
	}

	info, err := e.fs.Stat(full)
	if err != nil {
		return errnoOf(err)
	}
	perm := info.Mode().Perm()
	if mode&unix.R_OK != 0 && perm&0o400 == 0 {
		return -int(syscall.EACCES)
	}
	if mode&unix.W_OK != 0 && perm&0o200 == 0 {
		return -int(syscall.EACCES)
	}
	if mode&unix.X_OK != 0 && perm&0o100 == 0 {
		return -int(syscall.EACCES)
	}
	return 0
}

// Chmod changes logical's permission bits.
func (e *Executor) Chmod(logical string, mode uint32) int {
	return errnoOf(e.fs.Chmod(e.Path(logical), os.FileMode(mode)))
}

// Chown changes logical's owning uid/gid.
func (e *Executor) Chown(logical string, uid, gid int) int {
	return errnoOf(e.fs.Chown(e.Path(logical), uid, gid))
}

// Truncate resizes the file at logical to size bytes.
func (e *Executor) Truncate(logical string, size int64) int {
	full := e.Path(logical)
	f, err := e.fs.OpenFile(full, os.O_WRONLY, 0)
	if err != nil {
		return errnoOf(err)
	}
	defer f.Close()
	return errnoOf(f.Truncate(size))
}

// Utimens sets logical's access and modification times. On a real
// backing filesystem this goes through unix.UtimesNanoAt for full
// nanosecond precision; afero's Chtimes (used for in-memory tests)
// carries the same precision through the time.Time value itself.
func (e *Executor) Utimens(logical string, atime, mtime time.Time) int {
	full := e.Path(logical)
	if e.isRealFS() {
		ts := []unix.Timespec{
			unix.NsecToTimespec(atime.UnixNano()),
			unix.NsecToTimespec(mtime.UnixNano()),
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, full, ts, 0); err != nil {
			return errnoOf(err)
		}
		return 0
	}
	return errnoOf(e.fs.Chtimes(full, atime, mtime))
}
