package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRotator(t *testing.T, config RotationConfig) *LogRotator {
	t.Helper()
	if config.Filename == "" {
		config.Filename = filepath.Join(t.TempDir(), "nasfault.log")
	}
	r, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("NewLogRotator() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNewLogRotatorRequiresFilename(t *testing.T) {
	if _, err := NewLogRotator(RotationConfig{}); err == nil {
		t.Error("expected an error for a missing filename")
	}
}

func TestWriteAppendsToLiveFile(t *testing.T) {
	r := newTestRotator(t, RotationConfig{})

	for _, line := range []string{"write /a.txt 11 bytes\n", "fault injected: corruption\n"} {
		if _, err := r.Write([]byte(line)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	data, err := os.ReadFile(r.config.Filename)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "fault injected: corruption") {
		t.Errorf("log file missing entry, got %q", data)
	}
}

func TestWriteReopensAfterForcedRotation(t *testing.T) {
	r := newTestRotator(t, RotationConfig{})

	r.Write([]byte("before rotation\n"))
	if err := r.Rotate(); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	r.Write([]byte("after rotation\n"))

	data, _ := os.ReadFile(r.config.Filename)
	if strings.Contains(string(data), "before rotation") {
		t.Error("live file should only hold entries written after rotation")
	}
	if !strings.Contains(string(data), "after rotation") {
		t.Error("live file missing post-rotation entry")
	}
	if got := len(r.generations()); got != 1 {
		t.Errorf("generations = %d, want 1", got)
	}
}

func TestPruneKeepsMaxBackups(t *testing.T) {
	r := newTestRotator(t, RotationConfig{MaxBackups: 2})

	for i := 0; i < 5; i++ {
		r.Write([]byte("entry\n"))
		if err := r.Rotate(); err != nil {
			t.Fatalf("Rotate() #%d error = %v", i, err)
		}
	}

	if got := len(r.generations()); got != 2 {
		t.Errorf("generations after pruning = %d, want 2", got)
	}
}

func TestCompressedGenerationsEndInGz(t *testing.T) {
	r := newTestRotator(t, RotationConfig{Compress: true})

	r.Write([]byte("entry\n"))
	if err := r.Rotate(); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	generations := r.generations()
	if len(generations) != 1 {
		t.Fatalf("generations = %d, want 1", len(generations))
	}
	if !strings.HasSuffix(generations[0], ".gz") {
		t.Errorf("generation %q not compressed", generations[0])
	}
}

func TestSizeTriggeredRotation(t *testing.T) {
	// MaxSize is in megabytes; one write of exactly 1MB fills the file to
	// the cap, and the next write would push it past, so it must roll the
	// file over.
	r := newTestRotator(t, RotationConfig{MaxSize: 1})

	big := make([]byte, 1024*1024)
	for i := range big {
		big[i] = 'x'
	}
	if _, err := r.Write(big); err != nil {
		t.Fatalf("Write(big) error = %v", err)
	}
	if _, err := r.Write([]byte("next entry\n")); err != nil {
		t.Fatalf("Write() after cap error = %v", err)
	}

	if got := len(r.generations()); got != 1 {
		t.Errorf("generations = %d, want 1 (size cap crossed)", got)
	}
	data, _ := os.ReadFile(r.config.Filename)
	if string(data) != "next entry\n" {
		t.Errorf("live file = %q, want only the post-rotation entry", data)
	}
}
