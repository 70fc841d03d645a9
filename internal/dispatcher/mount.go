package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/status"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/utils"
)

// MountOptions controls how the mount is presented to the kernel.
// FSName and Subtype identify the mount in `mount`/`df` output as what
// it is, a fault-injecting test harness, not the real backing
// filesystem.
type MountOptions struct {
	ReadOnly     bool
	AllowOther   bool
	AllowRoot    bool
	Debug        bool
	FSName       string
	Subtype      string
	AttrTimeout  time.Duration
	EntryTimeout time.Duration
}

// DefaultMountOptions returns the options the binary uses unless
// overridden.
func DefaultMountOptions() *MountOptions {
	return &MountOptions{
		FSName:       "nasfaultfs",
		Subtype:      "fault-injector",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// Manager owns the lifecycle of a single FUSE mount backed by an
// Engine: mounting, serving, and clean unmount.
type Manager struct {
	engine     *Engine
	mountPoint string
	options    *MountOptions
	server     *fuse.Server
	mounted    bool
	status     *status.Tracker
}

// NewManager creates a Manager for mountPoint, serving through engine.
// A nil options uses DefaultMountOptions.
func NewManager(engine *Engine, mountPoint string, options *MountOptions) *Manager {
	if options == nil {
		options = DefaultMountOptions()
	}
	return &Manager{engine: engine, mountPoint: mountPoint, options: options}
}

// SetStatusTracker wires the mount/unmount lifecycle (a "mount" and an
// "unmount" operation, each in progress until it completes or fails)
// into tracker, so /status reflects
// what the Manager is actually doing. A nil tracker - the default -
// leaves Mount/Unmount exactly as before.
func (m *Manager) SetStatusTracker(tracker *status.Tracker) {
	m.status = tracker
}

// Mount validates the mount point, builds the FUSE options and mounts
// the root DirNode, then starts serving requests in the background.
// If a status.Tracker is wired (SetStatusTracker), the whole attempt is
// tracked as one "mount" operation: completed on success, failed with
// the same error otherwise.
func (m *Manager) Mount() error {
	if m.mounted {
		return fmt.Errorf("dispatcher: %s is already mounted", m.mountPoint)
	}

	var op *status.Operation
	if m.status != nil {
		op, _ = m.status.StartOperation(context.Background(), "mount", map[string]interface{}{
			"mount_point": m.mountPoint,
		})
	}
	fail := func(err error) error {
		if op != nil {
			m.status.FailOperation(op.ID, err)
		}
		return err
	}

	if err := m.validateMountPoint(); err != nil {
		return fail(fmt.Errorf("dispatcher: invalid mount point: %w", err))
	}

	if err := m.engine.Executor.EnsureBackingDir(); err != nil {
		return fail(fmt.Errorf("dispatcher: cannot prepare backing directory: %w", err))
	}

	root := NewRoot(m.engine)
	server, err := fs.Mount(m.mountPoint, root, m.buildFUSEOptions())
	if err != nil {
		return fail(fmt.Errorf("dispatcher: mount failed: %w", err))
	}

	m.server = server
	m.mounted = true
	if op != nil {
		m.status.CompleteOperation(op.ID)
	}

	go func() {
		m.server.Wait()
		m.mounted = false
	}()

	return nil
}

// Unmount tears the mount down, falling back to a lazy then a forced
// unmount if the FUSE server does not release it cleanly. Tracked as
// one "unmount" operation under the same rules as Mount.
func (m *Manager) Unmount() error {
	if !m.mounted || m.server == nil {
		return fmt.Errorf("dispatcher: %s is not mounted", m.mountPoint)
	}

	var op *status.Operation
	if m.status != nil {
		op, _ = m.status.StartOperation(context.Background(), "unmount", map[string]interface{}{
			"mount_point": m.mountPoint,
		})
	}

	if err := m.server.Unmount(); err != nil {
		if forceErr := m.forceUnmount(); forceErr != nil {
			err = fmt.Errorf("dispatcher: unmount failed: %w (force unmount also failed: %v)", err, forceErr)
			if op != nil {
				m.status.FailOperation(op.ID, err)
			}
			return err
		}
	}

	m.mounted = false
	m.server = nil
	if op != nil {
		m.status.CompleteOperation(op.ID)
	}
	return nil
}

// Wait blocks until the mount is torn down, by Unmount or externally
// (e.g. `fusermount -u`).
func (m *Manager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// IsMounted reports whether Mount succeeded and Unmount has not since
// been called.
func (m *Manager) IsMounted() bool { return m.mounted }

func (m *Manager) validateMountPoint() error {
	if err := utils.ValidatePath(m.mountPoint, true); err != nil {
		return err
	}

	info, err := os.Stat(m.mountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.mountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.mountPoint)
	}
	if m.isAlreadyMounted() {
		return fmt.Errorf("mount point %s is already mounted", m.mountPoint)
	}
	return nil
}

func (m *Manager) isAlreadyMounted() bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), filepath.Clean(m.mountPoint))
}

func (m *Manager) buildFUSEOptions() *fs.Options {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:       m.options.FSName,
			FsName:     m.options.FSName,
			Debug:      m.options.Debug,
			AllowOther: m.options.AllowOther,
		},
		AttrTimeout:  &m.options.AttrTimeout,
		EntryTimeout: &m.options.EntryTimeout,
	}

	if m.options.ReadOnly {
		opts.MountOptions.Options = append(opts.MountOptions.Options, "ro")
	}
	if m.options.AllowRoot {
		opts.MountOptions.Options = append(opts.MountOptions.Options, "allow_root")
	}
	if m.options.Subtype != "" {
		opts.MountOptions.Options = append(opts.MountOptions.Options, fmt.Sprintf("subtype=%s", m.options.Subtype))
	}

	return opts
}

func (m *Manager) forceUnmount() error {
	if err := syscall.Unmount(m.mountPoint, 2); err == nil {
		return nil
	}
	return syscall.Unmount(m.mountPoint, 1)
}
