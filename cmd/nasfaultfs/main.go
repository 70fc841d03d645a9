// Command nasfaultfs mounts a fault-injecting pass-through FUSE
// filesystem: every intercepted call is relayed to a backing directory,
// optionally perturbed first by the fault policy engine, per the global
// configuration resolved from compiled-in defaults, the environment,
// an optional config file and command-line flags, in that order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/config"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/dispatcher"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/fault"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/metrics"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/passthrough"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/stats"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/controlapi"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/health"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/logsink"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/status"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/utils"
)

// statsAdapter narrows *stats.Stats down to controlapi.StatsProvider's
// Snapshot() interface{} signature - Stats.Snapshot returns a concrete
// Snapshot, which Go's interface satisfaction rules do not consider
// equivalent to interface{} without this adapter.
type statsAdapter struct{ s *stats.Stats }

func (a statsAdapter) Snapshot() interface{} { return a.s.Snapshot() }

func main() {
	var flags config.Flags
	var controlAPIAddr string
	flag.StringVar(&flags.Storage, "storage", "", "backing directory holding the real files")
	flag.StringVar(&flags.Log, "log", "", "log sink: empty for stderr, a path for a rotating file, or an http(s):// URL")
	flag.StringVar(&flags.LogLevel, "loglevel", "", "DEBUG, INFO, WARN or ERROR")
	flag.StringVar(&flags.Config, "config", "", "path to an INI-style fault configuration file")
	flag.StringVar(&controlAPIAddr, "control-api", "", "address to serve the read-only control API on, e.g. localhost:9470")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: nasfaultfs [flags] <mount-point>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	flags.MountPoint = flag.Arg(0)

	if err := run(flags, controlAPIAddr); err != nil {
		fmt.Fprintf(os.Stderr, "nasfaultfs: %v\n", err)
		os.Exit(1)
	}
}

func run(flags config.Flags, controlAPIAddr string) error {
	cfg := config.New()
	config.LoadEnv(cfg)
	if flags.Config != "" {
		if err := config.Load(flags.Config, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "nasfaultfs: warning: %v (continuing with defaults/env)\n", err)
		}
	}
	config.ApplyFlags(cfg, &flags)

	if cfg.BackingDir == "" {
		return fmt.Errorf("no backing directory configured (set -storage, NAS_STORAGE_PATH, or storage_path in the config file)")
	}
	if err := utils.ValidateBackingDir(cfg.BackingDir); err != nil {
		return fmt.Errorf("invalid backing directory: %w", err)
	}

	level, err := utils.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = utils.INFO
	}
	sink, err := logsink.Open(cfg.LogSink, level)
	if err != nil {
		return fmt.Errorf("opening log sink: %w", err)
	}
	defer sink.Close()

	sink.Info("starting", map[string]interface{}{
		"backing_dir":   cfg.BackingDir,
		"mount_point":   flags.MountPoint,
		"fault_enabled": cfg.MasterEnable,
	})

	// At DEBUG level, capture every injected fault in an in-memory
	// buffer so the session summary can be dumped at shutdown.
	if level == utils.DEBUG {
		utils.FaultCapture().StartSession("faults", 4096)
	}

	st := stats.New()
	pol := fault.New(cfg, fault.NewLockedRand())
	exec := passthrough.New(cfg.BackingDir)

	mc, err := metrics.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	engine := dispatcher.New(cfg, st, pol, exec, mc, sink)

	// Health and status tracking are wired unconditionally, not only
	// when the control API is enabled: /healthz and /status are one
	// consumer of these trackers, but Mount/Unmount and the periodic
	// backing-directory probe update them regardless of whether
	// anything is listening on an HTTP port.
	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("dispatcher")
	statusTracker := status.NewTracker(status.DefaultTrackerConfig())

	healthCtx, stopHealthChecks := context.WithCancel(context.Background())
	go healthTracker.StartHealthChecks(healthCtx, func(component string) error {
		if err := checkBackingDir(exec); err != nil {
			return err
		}
		healthTracker.RecordTriggerProximity(component, triggerProximity(cfg, st))
		return nil
	})

	var apiServer *controlapi.Server
	if controlAPIAddr != "" {
		apiConfig := controlapi.DefaultServerConfig()
		apiConfig.Address = controlAPIAddr
		apiServer = controlapi.NewServer(apiConfig, statusTracker, healthTracker, statsAdapter{st}, mc)
		apiServer.StartBackground()
		sink.Info("control API listening", map[string]interface{}{"address": controlAPIAddr})
	}

	manager := dispatcher.NewManager(engine, flags.MountPoint, nil)
	manager.SetStatusTracker(statusTracker)
	if err := manager.Mount(); err != nil {
		stopHealthChecks()
		return fmt.Errorf("mounting: %w", err)
	}
	sink.Info("mounted", map[string]interface{}{"mount_point": flags.MountPoint})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	sink.Info("shutting down", nil)
	if session := utils.FaultCapture().StopSession("faults"); session != nil {
		sink.Debug("fault injection summary", session.Stats())
	}
	stopHealthChecks()
	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiServer.Shutdown(ctx)
		cancel()
	}
	if err := manager.Unmount(); err != nil {
		return fmt.Errorf("unmounting: %w", err)
	}
	return nil
}

// checkBackingDir probes the backing directory the same way the
// Pass-through Executor would on a real call: the directory itself
// must stat as a directory, and must be read and write accessible.
// This is the fact health.Tracker's periodic check (wired above) feeds
// into RecordError/RecordSuccess for the "dispatcher" component.
func checkBackingDir(exec *passthrough.Executor) error {
	info, errno := exec.GetAttr("/")
	if errno != 0 {
		return fmt.Errorf("backing directory unreachable (errno %d)", errno)
	}
	if !info.IsDir() {
		return fmt.Errorf("backing directory is not a directory")
	}
	if errno := exec.Access("/", unix.R_OK|unix.W_OK); errno != 0 {
		return fmt.Errorf("backing directory not read/write accessible (errno %d)", errno)
	}
	return nil
}

// triggerProximity derives a health.TriggerProximity from the current
// config and statistics snapshot - the "minutes remaining, ops
// remaining" facts surfaced as component metadata on /health/components.
func triggerProximity(cfg *config.Config, st *stats.Stats) health.TriggerProximity {
	snap := st.Snapshot()

	timingEnabled := cfg.Timing != nil && cfg.Timing.Enabled
	afterMinutes := 0
	if timingEnabled {
		afterMinutes = cfg.Timing.AfterMinutes
	}

	countEnabled := cfg.Count != nil && cfg.Count.Enabled
	everyN, afterBytes := 0, int64(0)
	if countEnabled {
		everyN = cfg.Count.EveryNOperations
		afterBytes = cfg.Count.AfterBytes
	}

	return health.ComputeTriggerProximity(
		time.Now(), snap.StartTime,
		timingEnabled, afterMinutes,
		countEnabled, everyN, afterBytes,
		snap.TotalOps, int64(snap.BytesRead+snap.BytesWritten),
	)
}
