package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/opkind"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel = %q, want INFO", cfg.LogLevel)
	}
	if cfg.MasterEnable {
		t.Error("MasterEnable should default to false")
	}
	if cfg.Error != nil || cfg.Corruption != nil || cfg.Delay != nil ||
		cfg.Timing != nil || cfg.Count != nil || cfg.Partial != nil {
		t.Error("no fault record should be present by default")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("NAS_STORAGE_PATH", "/srv/backing")
	t.Setenv("NAS_LOG_FILE", "/var/log/nasfault.log")
	t.Setenv("NAS_LOG_LEVEL", "DEBUG")

	cfg := New()
	LoadEnv(cfg)

	if cfg.BackingDir != "/srv/backing" {
		t.Errorf("BackingDir = %q, want /srv/backing", cfg.BackingDir)
	}
	if cfg.LogSink != "/var/log/nasfault.log" {
		t.Errorf("LogSink = %q, want /var/log/nasfault.log", cfg.LogSink)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q, want DEBUG", cfg.LogLevel)
	}
}

func TestApplyFlagsOverridesEnv(t *testing.T) {
	cfg := New()
	cfg.BackingDir = "/from/env"
	cfg.LogLevel = "INFO"

	ApplyFlags(cfg, &Flags{Storage: "/from/flag", LogLevel: "ERROR"})

	if cfg.BackingDir != "/from/flag" {
		t.Errorf("BackingDir = %q, want /from/flag (flags override env)", cfg.BackingDir)
	}
	if cfg.LogLevel != "ERROR" {
		t.Errorf("LogLevel = %q, want ERROR", cfg.LogLevel)
	}
}

func TestApplyFlagsNilIsNoop(t *testing.T) {
	cfg := New()
	cfg.BackingDir = "/unchanged"
	ApplyFlags(cfg, nil)
	if cfg.BackingDir != "/unchanged" {
		t.Error("ApplyFlags(nil) must not modify the config")
	}
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nasfault.conf")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadGlobalsAndSections(t *testing.T) {
	path := writeTempConfig(t, `
# global settings
storage_path = /srv/backing
log_level = DEBUG
enable_fault_injection = true

[error_fault]
probability = 0.25
error_code = -5
operations = write,read

[corruption_fault]
probability = 1.0
percentage = 50
operations = write
`)

	cfg := New()
	if err := Load(path, cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BackingDir != "/srv/backing" {
		t.Errorf("BackingDir = %q", cfg.BackingDir)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if !cfg.MasterEnable {
		t.Error("MasterEnable should be true")
	}
	if cfg.Error == nil {
		t.Fatal("Error fault should be present")
	}
	if cfg.Error.Probability != 0.25 || cfg.Error.ErrorCode != -5 {
		t.Errorf("Error fault = %+v", cfg.Error)
	}
	if !cfg.Error.Mask.Has(opkind.Write) || !cfg.Error.Mask.Has(opkind.Read) {
		t.Errorf("Error mask = %v, want write+read", cfg.Error.Mask)
	}
	if cfg.Corruption == nil || cfg.Corruption.Percentage != 50 {
		t.Fatalf("Corruption fault = %+v", cfg.Corruption)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg := New()
	if err := Load("/nonexistent/nasfault.conf", cfg); err == nil {
		t.Error("Load() of a missing file should return an error")
	}
}

// A bare [timing_fault] or [operation_count_fault] section with no
// explicit `enabled = true` must leave the fault disabled.
func TestSectionPresenceDoesNotEnableTimingOrCount(t *testing.T) {
	path := writeTempConfig(t, `
[timing_fault]
after_minutes = 5

[operation_count_fault]
every_n_operations = 3
`)

	cfg := New()
	if err := Load(path, cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Timing == nil {
		t.Fatal("timing record should be allocated on section presence")
	}
	if cfg.Timing.Enabled {
		t.Error("timing fault must not be enabled by section presence alone")
	}
	if cfg.Count == nil {
		t.Fatal("count record should be allocated on section presence")
	}
	if cfg.Count.Enabled {
		t.Error("count fault must not be enabled by section presence alone")
	}
}

func TestLoadDefaultMasksPerFaultKind(t *testing.T) {
	path := writeTempConfig(t, `
[corruption_fault]
probability = 1.0

[partial_fault]
probability = 1.0

[error_fault]
probability = 1.0
`)

	cfg := New()
	if err := Load(path, cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Corruption.Mask != opkind.Mask(0).With(opkind.Write) {
		t.Errorf("corruption default mask = %v, want {write}", cfg.Corruption.Mask)
	}
	want := opkind.Mask(0).With(opkind.Read).With(opkind.Write)
	if cfg.Partial.Mask != want {
		t.Errorf("partial default mask = %v, want {read,write}", cfg.Partial.Mask)
	}
	if cfg.Error.Mask != opkind.AllMask {
		t.Errorf("error default mask = %v, want all", cfg.Error.Mask)
	}
}

func TestLoadIgnoresUnknownKeysAndMalformedLines(t *testing.T) {
	path := writeTempConfig(t, `
storage_path = /srv/backing
this line has no equals sign
unknown_global_key = whatever

[error_fault]
probability = 0.5
bogus_key = ignored
`)

	cfg := New()
	if err := Load(path, cfg); err != nil {
		t.Fatalf("Load() should not fail on unknown keys or malformed lines: %v", err)
	}
	if cfg.BackingDir != "/srv/backing" {
		t.Errorf("BackingDir = %q", cfg.BackingDir)
	}
	if cfg.Error == nil || cfg.Error.Probability != 0.5 {
		t.Errorf("Error fault = %+v", cfg.Error)
	}
}

func TestInlineAndLeadingComments(t *testing.T) {
	path := writeTempConfig(t, `
storage_path = /srv/backing # trailing comment
# full line comment
log_level = WARN
`)

	cfg := New()
	if err := Load(path, cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackingDir != "/srv/backing" {
		t.Errorf("BackingDir = %q, want /srv/backing (trailing comment stripped)", cfg.BackingDir)
	}
	if cfg.LogLevel != "WARN" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestDumpFormats(t *testing.T) {
	cfg := New()
	cfg.BackingDir = "/srv/backing"
	cfg.Corruption = &CorruptionFault{Probability: 1, Percentage: 50, Mask: opkind.Mask(0).With(opkind.Write)}

	for _, format := range []string{"text", "yaml", "toml"} {
		out, err := cfg.Dump(format)
		if err != nil {
			t.Fatalf("Dump(%q) error = %v", format, err)
		}
		if len(out) == 0 {
			t.Errorf("Dump(%q) returned empty output", format)
		}
	}
}

func TestGenericIOError(t *testing.T) {
	if GenericIOError() != -5 {
		t.Errorf("GenericIOError() = %d, want -5 (POSIX EIO)", GenericIOError())
	}
}
