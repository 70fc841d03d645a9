// Package dispatcher implements the operation dispatcher: the layer
// every intercepted filesystem call passes through, in a fixed
// precedence order, before it ever reaches the pass-through
// executor. It is the one place the statistics oracle, the fault
// policy engine and the pass-through executor meet.
package dispatcher

import (
	"os"
	"time"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/config"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/fault"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/metrics"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/passthrough"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/stats"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/logsink"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/opkind"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/recovery"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/utils"
	"golang.org/x/sys/unix"
)

// posixENOMEM is returned, negated, when Guard recovers a panic inside
// a Dispatch call - the engine degrades that one call rather than the
// whole mount.
const posixENOMEM = -12

// Engine owns the statistics oracle, the fault policy and the
// pass-through executor, and is the sole place their decisions are
// combined. One Engine backs one mount.
type Engine struct {
	Config   *config.Config
	Stats    *stats.Stats
	Policy   *fault.Policy
	Executor *passthrough.Executor
	Metrics  *metrics.Collector
	Sink     logsink.Sink
}

// New assembles an Engine from its collaborators. Metrics and Sink may
// be nil; every call site guards against that.
func New(cfg *config.Config, st *stats.Stats, pol *fault.Policy, exec *passthrough.Executor, mc *metrics.Collector, sink logsink.Sink) *Engine {
	return &Engine{Config: cfg, Stats: st, Policy: pol, Executor: exec, Metrics: mc, Sink: sink}
}

// observe feeds one finished dispatch into the Prometheus collector:
// call volume, latency, and success/failure by operation kind.
func (e *Engine) observe(kind opkind.Kind, start time.Time, errno int) {
	if e.Metrics != nil {
		e.Metrics.RecordOperation(kind.String(), time.Since(start), errno == 0)
	}
}

func (e *Engine) recordFault(kind opkind.Kind, faultName string) {
	if e.Metrics != nil {
		e.Metrics.RecordFault(kind.String(), faultName)
	}
	utils.FaultCapture().Record(kind.String(), faultName, nil)
}

// precheck runs the shared steps of the dispatch contract common to
// every operation kind: record the call, honor the master switch, then
// - in order - the error fault, the timing fault, the count fault, an
// optional caller-supplied permission check, and finally the delay
// fault. errno is non-zero and short is true the moment any of these
// decides the call must stop here; callers must not touch the
// pass-through executor in that case.
func (e *Engine) precheck(kind opkind.Kind, permCheck func() int) (errno int, short bool) {
	e.Stats.RecordOp(kind)

	if !e.Config.MasterEnable {
		return 0, false
	}

	if code, ok := e.Policy.TryError(kind); ok {
		e.recordFault(kind, "error")
		return code, true
	}

	snap := e.Stats.Snapshot()
	now := time.Now()
	if stats.TimingTriggered(snap, e.Config.Timing, kind, now) {
		e.recordFault(kind, "timing")
		return config.GenericIOError(), true
	}
	if stats.CountTriggered(snap, e.Config.Count, kind) {
		e.recordFault(kind, "count")
		return config.GenericIOError(), true
	}

	if permCheck != nil {
		if errno := permCheck(); errno != 0 {
			return errno, true
		}
	}

	if ms, ok := e.Policy.TryDelay(kind); ok {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}

	return 0, false
}

func (e *Engine) checkAccess(logicalPath string, mode uint32) int {
	return e.Executor.Access(logicalPath, mode)
}

func accessModeForFlags(flags int) uint32 {
	switch flags & unix.O_ACCMODE {
	case os.O_WRONLY:
		return unix.W_OK
	case os.O_RDWR:
		return unix.R_OK | unix.W_OK
	default:
		return unix.R_OK
	}
}

// GetAttr has no permission pre-check: the pass-through Lstat enforces
// host permissions on its own.
func (e *Engine) GetAttr(logicalPath string) (fi os.FileInfo, errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.GetAttr, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "getattr", func() error {
		var short bool
		if errno, short = e.precheck(opkind.GetAttr, nil); short {
			return nil
		}
		fi, errno = e.Executor.GetAttr(logicalPath)
		return nil
	})
	if guardErr != nil {
		return nil, posixENOMEM
	}
	return fi, errno
}

func (e *Engine) ReadDir(logicalPath string) (entries []os.FileInfo, errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.ReadDir, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "readdir", func() error {
		var short bool
		if errno, short = e.precheck(opkind.ReadDir, nil); short {
			return nil
		}
		entries, errno = e.Executor.ReadDir(logicalPath)
		return nil
	})
	if guardErr != nil {
		return nil, posixENOMEM
	}
	return entries, errno
}

// Create checks write access only when the target already exists - a
// brand-new file has nothing to deny write access to yet.
func (e *Engine) Create(logicalPath string, mode uint32) (h *passthrough.Handle, errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Create, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "create", func() error {
		perm := func() int {
			if _, statErrno := e.Executor.GetAttr(logicalPath); statErrno == 0 {
				return e.checkAccess(logicalPath, unix.W_OK)
			}
			return 0
		}
		var short bool
		if errno, short = e.precheck(opkind.Create, perm); short {
			return nil
		}
		h, errno = e.Executor.Create(logicalPath, mode)
		return nil
	})
	if guardErr != nil {
		return nil, posixENOMEM
	}
	return h, errno
}

func (e *Engine) Mknod(logicalPath string, mode uint32, dev uint64) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Mknod, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "mknod", func() error {
		var short bool
		if errno, short = e.precheck(opkind.Mknod, nil); short {
			return nil
		}
		errno = e.Executor.Mknod(logicalPath, mode, dev)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

// Open's permission pre-check derives its required mode from the
// requested O_RDONLY/O_WRONLY/O_RDWR flags.
func (e *Engine) Open(logicalPath string, flags int) (h *passthrough.Handle, errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Open, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "open", func() error {
		perm := func() int { return e.checkAccess(logicalPath, accessModeForFlags(flags)) }
		var short bool
		if errno, short = e.precheck(opkind.Open, perm); short {
			return nil
		}
		h, errno = e.Executor.Open(logicalPath, flags)
		return nil
	})
	if guardErr != nil {
		return nil, posixENOMEM
	}
	return h, errno
}

func (e *Engine) Release(h *passthrough.Handle) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Release, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "release", func() error {
		var short bool
		if errno, short = e.precheck(opkind.Release, nil); short {
			return nil
		}
		errno = e.Executor.Release(h)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

// Read has no permission pre-check when h is a cached handle (Open
// already checked); when h is nil the caller has no handle on record
// and the executor must open transiently, so Read checks read access
// itself first.
func (e *Engine) Read(h *passthrough.Handle, logicalPath string, buf []byte, off int64) (n int, errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Read, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "read", func() error {
		perm := func() int {
			if h == nil {
				return e.checkAccess(logicalPath, unix.R_OK)
			}
			return 0
		}
		var short bool
		if errno, short = e.precheck(opkind.Read, perm); short {
			return nil
		}

		size := len(buf)
		if e.Config.MasterEnable {
			size = e.Policy.TryPartial(opkind.Read, len(buf))
		}
		target := buf[:size]
		if h != nil {
			n, errno = e.Executor.Read(h, target, off)
		} else {
			n, errno = e.Executor.ReadPath(logicalPath, target, off)
		}
		if n > 0 {
			e.Stats.RecordBytes(opkind.Read, int64(n))
		}
		return nil
	})
	if guardErr != nil {
		return 0, posixENOMEM
	}
	return n, errno
}

// Write always checks write access, whether or not a handle is cached.
func (e *Engine) Write(h *passthrough.Handle, logicalPath string, data []byte, off int64) (n int, errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Write, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "write", func() error {
		perm := func() int { return e.checkAccess(logicalPath, unix.W_OK) }
		var short bool
		if errno, short = e.precheck(opkind.Write, perm); short {
			return nil
		}

		size := len(data)
		if e.Config.MasterEnable {
			size = e.Policy.TryPartial(opkind.Write, len(data))
		}
		payload := data[:size]

		// Corrupt a copy, never the caller's own slice.
		if e.Config.MasterEnable {
			corrupted := append([]byte(nil), payload...)
			if e.Policy.TryCorrupt(opkind.Write, corrupted) {
				e.recordFault(opkind.Write, "corruption")
				payload = corrupted
			}
		}

		if h != nil {
			n, errno = e.Executor.Write(h, payload, off)
		} else {
			n, errno = e.Executor.WritePath(logicalPath, payload, off)
		}
		if n > 0 {
			e.Stats.RecordBytes(opkind.Write, int64(n))
		}
		return nil
	})
	if guardErr != nil {
		return 0, posixENOMEM
	}
	return n, errno
}

func (e *Engine) Mkdir(logicalPath string, mode uint32) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Mkdir, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "mkdir", func() error {
		var short bool
		if errno, short = e.precheck(opkind.Mkdir, nil); short {
			return nil
		}
		errno = e.Executor.Mkdir(logicalPath, mode)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

func (e *Engine) Rmdir(logicalPath string) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Rmdir, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "rmdir", func() error {
		var short bool
		if errno, short = e.precheck(opkind.Rmdir, nil); short {
			return nil
		}
		errno = e.Executor.Rmdir(logicalPath)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

func (e *Engine) Unlink(logicalPath string) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Unlink, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "unlink", func() error {
		var short bool
		if errno, short = e.precheck(opkind.Unlink, nil); short {
			return nil
		}
		errno = e.Executor.Unlink(logicalPath)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

func (e *Engine) Rename(oldLogical, newLogical string) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Rename, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "rename", func() error {
		var short bool
		if errno, short = e.precheck(opkind.Rename, nil); short {
			return nil
		}
		errno = e.Executor.Rename(oldLogical, newLogical)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

// Access has no engine-level permission pre-check of its own: it IS
// the permission check the client is asking for, so the fault path
// runs and then the executor's real access(2) equivalent decides.
func (e *Engine) Access(logicalPath string, mode uint32) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Access, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "access", func() error {
		var short bool
		if errno, short = e.precheck(opkind.Access, nil); short {
			return nil
		}
		errno = e.Executor.Access(logicalPath, mode)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

func (e *Engine) Chmod(logicalPath string, mode uint32) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Chmod, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "chmod", func() error {
		perm := func() int { return e.checkAccess(logicalPath, unix.W_OK) }
		var short bool
		if errno, short = e.precheck(opkind.Chmod, perm); short {
			return nil
		}
		errno = e.Executor.Chmod(logicalPath, mode)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

func (e *Engine) Chown(logicalPath string, uid, gid int) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Chown, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "chown", func() error {
		perm := func() int { return e.checkAccess(logicalPath, unix.W_OK) }
		var short bool
		if errno, short = e.precheck(opkind.Chown, perm); short {
			return nil
		}
		errno = e.Executor.Chown(logicalPath, uid, gid)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

func (e *Engine) Truncate(logicalPath string, size int64) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Truncate, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "truncate", func() error {
		perm := func() int { return e.checkAccess(logicalPath, unix.W_OK) }
		var short bool
		if errno, short = e.precheck(opkind.Truncate, perm); short {
			return nil
		}
		errno = e.Executor.Truncate(logicalPath, size)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}

func (e *Engine) Utimens(logicalPath string, atime, mtime time.Time) (errno int) {
	start := time.Now()
	defer func() { e.observe(opkind.Utimens, start, errno) }()

	guardErr := recovery.Guard("dispatcher", "utimens", func() error {
		perm := func() int { return e.checkAccess(logicalPath, unix.W_OK) }
		var short bool
		if errno, short = e.precheck(opkind.Utimens, perm); short {
			return nil
		}
		errno = e.Executor.Utimens(logicalPath, atime, mtime)
		return nil
	})
	if guardErr != nil {
		return posixENOMEM
	}
	return errno
}
