package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter_AppendsToExistingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "debug.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath, []byte("existing\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	if got := rw.CurrentSize(); got != int64(len("existing\n")) {
		t.Errorf("CurrentSize() = %d, want %d", got, len("existing\n"))
	}
	if rw.FilePath() != logPath {
		t.Errorf("FilePath() = %q, want %q", rw.FilePath(), logPath)
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "debug.log")

	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()
	rw.maxSizeB = 16

	writes := []string{"aaaaaaaaaa\n", "bbbbbbbbbb\n", "cccccccccc\n", "dddddddddd\n"}
	for _, w := range writes {
		if _, err := rw.Write([]byte(w)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	current, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(current) != "dddddddddd\n" {
		t.Errorf("current log = %q, want the last write only", current)
	}

	backup1, err := os.ReadFile(logPath + ".1")
	if err != nil {
		t.Fatalf("missing backup .1: %v", err)
	}
	if string(backup1) != "cccccccccc\n" {
		t.Errorf("backup .1 = %q", backup1)
	}
	if _, err := os.Stat(logPath + ".2"); err != nil {
		t.Errorf("missing backup .2: %v", err)
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("backup .3 should have been dropped")
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "debug.log")

	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()
	rw.maxSizeB = 8

	_, _ = rw.Write([]byte(strings.Repeat("x", 8)))
	_, _ = rw.Write([]byte("y"))

	if _, err := os.Stat(logPath + ".1.gz"); err != nil {
		t.Errorf("expected compressed backup: %v", err)
	}
	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "debug.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLoggerWithRotation(dir, LevelDebug, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewLoggerWithRotation failed: %v", err)
	}
	logger.Info("hello", "task_id", "T001")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	entries := decodeLines(t, data)
	if len(entries) != 1 || entries[0]["msg"] != "hello" {
		t.Errorf("unexpected entries: %v", entries)
	}
}
