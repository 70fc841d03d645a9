/*
Package config implements the fault-injection engine's configuration
model: the global settings and the six optional fault records, loaded
from a hierarchy of sources.

# Precedence

Highest to lowest priority:

	┌─────────────────────────────────┐
	│      Command-line flags        │ ← highest
	│   (--storage, --log, ...)      │
	└─────────────────────────────────┘
	              │
	┌─────────────────────────────────┐
	│    Config file (INI-like)      │
	│  [section]\nkey = value        │
	└─────────────────────────────────┘
	              │
	┌─────────────────────────────────┐
	│   Environment variables        │
	│        (NAS_*)                 │
	└─────────────────────────────────┘
	              │
	┌─────────────────────────────────┐
	│     Compiled-in defaults       │ ← lowest
	└─────────────────────────────────┘

Callers compose these explicitly, in order:

	cfg := config.New()
	config.LoadEnv(cfg)
	if err := config.Load(*flagConfigPath, cfg); err != nil {
		log.Printf("config: %v, continuing with defaults", err)
	}
	config.ApplyFlags(cfg, flags)

A failed file load is a warning, not a fatal error: the process
continues with whatever settings it already resolved from defaults and
environment.

# File format

	# comment
	storage_path = /srv/nasfault/backing
	log_level = INFO
	enable_fault_injection = true

	[error_fault]
	probability = 0.25
	error_code = -5
	operations = write,read

	[corruption_fault]
	probability = 1.0
	percentage = 50
	operations = write

The mere presence of a `[timing_fault]` or `[operation_count_fault]`
section does not enable that fault; `enabled = true` must be given
explicitly. Every other fault kind is considered "present" - and
therefore live with its defaults - as soon as its section header is
seen.

Unknown keys inside a known section, and lines with no `=`, are
silently ignored rather than treated as fatal parse errors: an operator
iterating on a config file while fault-injecting other client software
should not have a typo in an unrelated field abort the whole load.

# Environment variables

	NAS_MOUNT_POINT  - consumed directly by cmd/nasfaultfs, not stored here
	NAS_STORAGE_PATH - backing directory
	NAS_LOG_FILE     - log sink identifier
	NAS_LOG_LEVEL    - ERROR | WARN | INFO | DEBUG

# Introspection

Config.Dump renders the resolved configuration as text, YAML, or TOML
for an operator inspecting a running mount; it is diagnostic only and
has no bearing on what the engine actually runs with.
*/
package config
