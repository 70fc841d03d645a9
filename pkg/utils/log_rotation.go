package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig bounds the disk a log file may consume. A soak run
// with fault injection at DEBUG level logs one line per intercepted
// operation plus one per injected fault, so an unbounded file on the
// same disk as the backing directory would eventually perturb the very
// I/O the engine is supposed to be perturbing on purpose.
type RotationConfig struct {
	// Filename is the live log file. Rotated generations sit next to
	// it as Filename.<timestamp>[.gz].
	Filename string `yaml:"filename"`

	// MaxSize is the size in megabytes at which the live file is
	// rotated. Zero means 100.
	MaxSize int `yaml:"max_size"`

	// MaxBackups is how many rotated generations to keep. Zero means
	// keep all.
	MaxBackups int `yaml:"max_backups"`

	// Compress gzips rotated generations.
	Compress bool `yaml:"compress"`
}

// LogRotator is an io.WriteCloser over a size-rotated log file. Writes
// are serialized; a write that would push the live file past MaxSize
// triggers rotation first, so no single generation exceeds the cap by
// more than one entry.
type LogRotator struct {
	config RotationConfig

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewLogRotator opens (or creates, mode 0644) the live log file.
func NewLogRotator(config RotationConfig) (*LogRotator, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("utils: rotation needs a filename")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 100
	}

	r := &LogRotator{config: config}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LogRotator) open() error {
	if err := os.MkdirAll(filepath.Dir(r.config.Filename), 0o755); err != nil {
		return fmt.Errorf("utils: log directory: %w", err)
	}
	f, err := os.OpenFile(r.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("utils: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("utils: stat log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *LogRotator) maxBytes() int64 {
	return int64(r.config.MaxSize) * 1024 * 1024
}

// Write appends p to the live file, rotating first if p would push it
// past the size cap.
func (r *LogRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size+int64(len(p)) > r.maxBytes() && r.size > 0 {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the live file.
func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Rotate forces a rotation regardless of size, for operators that want
// a fresh generation at the start of a test scenario.
func (r *LogRotator) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotate()
}

// rotate renames the live file to a timestamped generation, reopens a
// fresh live file, then compresses and prunes generations. Callers
// hold r.mu.
func (r *LogRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("utils: close for rotation: %w", err)
	}
	r.file = nil

	generation := fmt.Sprintf("%s.%s", r.config.Filename, time.Now().Format("20060102-150405.000000000"))
	if err := os.Rename(r.config.Filename, generation); err != nil {
		return fmt.Errorf("utils: rotate: %w", err)
	}

	if err := r.open(); err != nil {
		return err
	}

	if r.config.Compress {
		if err := compressGeneration(generation); err == nil {
			generation += ".gz"
		}
	}
	r.prune()
	return nil
}

func compressGeneration(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path + ".gz")
		return err
	}
	return os.Remove(path)
}

// prune deletes the oldest generations beyond MaxBackups. Generation
// names embed their rotation time, so lexical order is age order.
func (r *LogRotator) prune() {
	if r.config.MaxBackups <= 0 {
		return
	}
	generations := r.generations()
	for len(generations) > r.config.MaxBackups {
		os.Remove(generations[0])
		generations = generations[1:]
	}
}

// generations lists rotated files for this log, oldest first.
func (r *LogRotator) generations() []string {
	matches, err := filepath.Glob(r.config.Filename + ".*")
	if err != nil {
		return nil
	}
	names := matches[:0]
	for _, m := range matches {
		if strings.HasPrefix(m, r.config.Filename+".") {
			names = append(names, m)
		}
	}
	sort.Strings(names)
	return names
}
