package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eudore/tinyhttpd"
)

func TestFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	writePidfile(t, path, "port = 8080\n")
	fp1, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(fp1) != 32 {
		t.Fatalf("fingerprint %q", fp1)
	}
	fp2, _ := Fingerprint(path)
	if fp1 != fp2 {
		t.Fatal("fingerprint not stable")
	}

	writePidfile(t, path, "port = 8081\n")
	fp3, _ := Fingerprint(path)
	if fp3 == fp1 {
		t.Fatal("fingerprint unchanged after write")
	}

	if _, err = Fingerprint(filepath.Join(t.TempDir(), "none")); !os.IsNotExist(err) {
		t.Fatalf("missing file: %v", err)
	}
}

func TestWatch(t *testing.T) {
	WatchDelay = 20 * time.Millisecond
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	writePidfile(t, path, "port = 8080\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := Watch(ctx, path, tinyhttpd.DefaultLoggerNull)
	if err != nil {
		t.Fatal(err)
	}

	// other files in the directory are ignored
	writePidfile(t, filepath.Join(dir, "other.ini"), "x")
	select {
	case <-ch:
		t.Fatal("notified for another file")
	case <-time.After(100 * time.Millisecond):
	}

	writePidfile(t, path, "port = 8081\n")
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	if _, err = Watch(ctx, filepath.Join(dir, "none", "config.ini"), tinyhttpd.DefaultLoggerNull); err == nil {
		t.Fatal("watch missing directory")
	}

	cancel()
	waitClosed(t, ch)
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("watcher still running")
		}
	}
}
