// Package opkind defines the closed enumeration of filesystem operations
// the fault-injection engine intercepts and the operation mask used to
// scope a fault record to a subset of them.
package opkind

import "strings"

// Kind identifies one of the filesystem operations the engine
// intercepts. The enumeration is closed and its ordering is fixed: it
// is the sole ground truth used by configuration parsing, statistics
// indexing, and logging.
type Kind int

const (
	GetAttr Kind = iota
	ReadDir
	Create
	Mknod
	Read
	Write
	Open
	Release
	Mkdir
	Rmdir
	Unlink
	Rename
	Access
	Chmod
	Chown
	Truncate
	Utimens

	numKinds
)

// All lists every Kind in its canonical order.
var All = [numKinds]Kind{
	GetAttr, ReadDir, Create, Mknod, Read, Write, Open, Release,
	Mkdir, Rmdir, Unlink, Rename, Access, Chmod, Chown, Truncate, Utimens,
}

var names = [numKinds]string{
	"getattr", "readdir", "create", "mknod", "read", "write", "open", "release",
	"mkdir", "rmdir", "unlink", "rename", "access", "chmod", "chown", "truncate", "utimens",
}

// String returns the canonical name used for configuration and logging.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(names) {
		return "unknown"
	}
	return names[k]
}

// byName maps a canonical name back to its Kind.
var byName = func() map[string]Kind {
	m := make(map[string]Kind, numKinds)
	for _, k := range All {
		m[k.String()] = k
	}
	return m
}()

// Mask is a bitset over Kind. 17 kinds fit in one word, so a uint32 is
// enough; a catalogue with more than 32 operations would need a
// multi-word bitset instead.
type Mask uint32

// AllMask has every bit set - "all operations".
const AllMask Mask = (1 << numKinds) - 1

// Has reports whether k's bit is set in m.
func (m Mask) Has(k Kind) bool {
	return m&(1<<uint(k)) != 0
}

// With returns m with k's bit set.
func (m Mask) With(k Kind) Mask {
	return m | (1 << uint(k))
}

// String renders m using the same grammar ParseMask accepts: "all"
// when every bit is set, "" when none are, otherwise a comma-separated
// list of canonical names in the catalogue's fixed order.
func (m Mask) String() string {
	if m == AllMask {
		return "all"
	}
	if m == 0 {
		return ""
	}
	names := make([]string, 0, numKinds)
	for _, k := range All {
		if m.Has(k) {
			names = append(names, k.String())
		}
	}
	return strings.Join(names, ",")
}

// ParseMask parses the config-file operations list: the literal "all"
// or "*" selects every bit; a comma-separated list of canonical names
// selects the union of named bits; unknown names are silently ignored;
// empty input yields the empty mask.
func ParseMask(s string) Mask {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if s == "all" || s == "*" {
		return AllMask
	}

	var m Mask
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if k, ok := byName[name]; ok {
			m = m.With(k)
		}
	}
	return m
}
