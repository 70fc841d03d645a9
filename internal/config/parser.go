package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/opkind"
)

// Load reads a config file in the engine's INI-like format and overlays
// it onto c. It is applied after compiled defaults and environment
// variables, before command-line flags, per the documented precedence.
//
// The format: [section] headers, key = value lines, # comments (both
// leading and trailing an otherwise-valid line), blank lines ignored,
// leading/trailing whitespace trimmed off keys and values. A hand-
// written reader rather than a generic INI library, because section
// presence alone must not flip enabled-boolean fault kinds on - a
// generic unmarshaler would need a parallel "was this key present"
// shadow struct to express that, which is no simpler than this.
func Load(path string, c *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f, c)
}

func parse(r io.Reader, c *Config) error {
	scanner := bufio.NewScanner(r)
	section := ""

	for scanner.Scan() {
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			ensureSection(c, section)
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			// Malformed lines (no '=') are skipped, not fatal.
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		applyKV(c, section, key, value)
	}
	return scanner.Err()
}

// stripComment removes everything from the first # to the end of the
// line, covering both whole-line comments and trailing comments after a
// value; the format has no way to embed a literal # in a value.
func stripComment(line string) string {
	if idx := strings.Index(line, "#"); idx >= 0 {
		return line[:idx]
	}
	return line
}

// ensureSection allocates the fault record for a section the first
// time it is seen, without setting any enabled-style field - mere
// section presence must never itself enable a fault.
func ensureSection(c *Config, section string) {
	switch section {
	case "error_fault":
		if c.Error == nil {
			c.Error = &ErrorFault{Mask: opkind.AllMask}
		}
	case "corruption_fault":
		if c.Corruption == nil {
			c.Corruption = &CorruptionFault{Mask: opkind.Mask(0).With(opkind.Write)}
		}
	case "delay_fault":
		if c.Delay == nil {
			c.Delay = &DelayFault{Mask: opkind.AllMask}
		}
	case "timing_fault":
		if c.Timing == nil {
			c.Timing = &TimingFault{Mask: opkind.AllMask}
		}
	case "operation_count_fault":
		if c.Count == nil {
			c.Count = &CountFault{Mask: opkind.AllMask}
		}
	case "partial_fault":
		if c.Partial == nil {
			c.Partial = &PartialFault{Mask: opkind.Mask(0).With(opkind.Read).With(opkind.Write)}
		}
	}
}

func applyKV(c *Config, section, key, value string) error {
	switch section {
	case "":
		return applyGlobal(c, key, value)
	case "error_fault":
		return applyErrorFault(c.Error, key, value)
	case "corruption_fault":
		return applyCorruptionFault(c.Corruption, key, value)
	case "delay_fault":
		return applyDelayFault(c.Delay, key, value)
	case "timing_fault":
		return applyTimingFault(c.Timing, key, value)
	case "operation_count_fault":
		return applyCountFault(c.Count, key, value)
	case "partial_fault":
		return applyPartialFault(c.Partial, key, value)
	default:
		return fmt.Errorf("unknown section %q", section)
	}
}

func applyGlobal(c *Config, key, value string) error {
	switch key {
	case "mount_point":
		// consumed by cmd/nasfaultfs directly; not part of Config.
	case "storage_path":
		c.BackingDir = value
	case "log_file":
		c.LogSink = value
	case "log_level":
		c.LogLevel = value
	case "enable_fault_injection":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("enable_fault_injection: %w", err)
		}
		c.MasterEnable = b
	default:
		return fmt.Errorf("unknown global key %q", key)
	}
	return nil
}

func applyErrorFault(f *ErrorFault, key, value string) error {
	switch key {
	case "probability":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		f.Probability = p
	case "error_code":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.ErrorCode = n
	case "operations":
		f.Mask = opkind.ParseMask(value)
	default:
		return fmt.Errorf("unknown error_fault key %q", key)
	}
	return nil
}

func applyCorruptionFault(f *CorruptionFault, key, value string) error {
	switch key {
	case "probability":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		f.Probability = p
	case "percentage":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		f.Percentage = p
	case "silent":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		f.Silent = b
	case "operations":
		f.Mask = opkind.ParseMask(value)
	default:
		return fmt.Errorf("unknown corruption_fault key %q", key)
	}
	return nil
}

func applyDelayFault(f *DelayFault, key, value string) error {
	switch key {
	case "probability":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		f.Probability = p
	case "delay_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.DelayMs = n
	case "operations":
		f.Mask = opkind.ParseMask(value)
	default:
		return fmt.Errorf("unknown delay_fault key %q", key)
	}
	return nil
}

func applyTimingFault(f *TimingFault, key, value string) error {
	switch key {
	case "enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		f.Enabled = b
	case "after_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.AfterMinutes = n
	case "operations":
		f.Mask = opkind.ParseMask(value)
	default:
		return fmt.Errorf("unknown timing_fault key %q", key)
	}
	return nil
}

func applyCountFault(f *CountFault, key, value string) error {
	switch key {
	case "enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		f.Enabled = b
	case "every_n_operations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.EveryNOperations = n
	case "after_bytes":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		f.AfterBytes = n
	case "operations":
		f.Mask = opkind.ParseMask(value)
	default:
		return fmt.Errorf("unknown operation_count_fault key %q", key)
	}
	return nil
}

func applyPartialFault(f *PartialFault, key, value string) error {
	switch key {
	case "probability":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		f.Probability = p
	case "factor":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		f.Factor = p
	case "operations":
		f.Mask = opkind.ParseMask(value)
	default:
		return fmt.Errorf("unknown partial_fault key %q", key)
	}
	return nil
}
