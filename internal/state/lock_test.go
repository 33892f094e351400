package state

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writeForeignLock(t *testing.T, dir string, pid int) {
	t.Helper()
	content := "pid: " + strconv.Itoa(pid) + "\nhostname: elsewhere\nacquired_at: 2026-10-01T11:00:00Z\n"
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireLock_ReleaseOnlyOwnLock(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, LockOptions{Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	// Another process took the lock over after ours went stale.
	writeForeignLock(t, dir, os.Getpid()+1)
	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Error("Release() removed a lock it does not own")
	}
}

func TestAcquireLock_NilRelease(t *testing.T) {
	var lock *Lock
	if err := lock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestBackoff(t *testing.T) {
	for attempt := range 12 {
		d := backoff(attempt, time.Hour)
		if d < 0 || d > maxBackoff {
			t.Errorf("backoff(%d) = %v, want within [0, %v]", attempt, d, maxBackoff)
		}
	}
	if d := backoff(5, 3*time.Millisecond); d > 3*time.Millisecond {
		t.Errorf("backoff exceeded remaining time: %v", d)
	}
	if d := backoff(0, -time.Second); d != 0 {
		t.Errorf("backoff with no time left = %v, want 0", d)
	}
}

func TestReadLock_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)
	if err := os.WriteFile(path, []byte("pid: [nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadLock(path); err == nil {
		t.Error("ReadLock() should fail on malformed content")
	}
}
