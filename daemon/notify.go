package daemon

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eudore/tinyhttpd"
	"github.com/fsnotify/fsnotify"
)

// WatchDelay debounces bursts of file events into one notification.
var WatchDelay = 200 * time.Millisecond

// Fingerprint returns the hex md5 of the file content.
func Fingerprint(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := md5.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Watch notifies on the returned channel when the file at path is written,
// created, renamed or removed, until ctx is done.
//
// The parent directory is watched so that editors replacing the file are seen.
// The channel holds at most one pending notification and is closed once the
// watcher stops.
func Watch(ctx context.Context, path string, log tinyhttpd.Logger) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	log.Debugf("notify add watch file %s", path)

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()
		var delay <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-delay:
				delay = nil
				select {
				case ch <- struct{}{}:
				default:
				}
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || event.Op == fsnotify.Chmod {
					continue
				}
				log.Debugf("notify modified file %s: %s", event.Name, event.Op)
				delay = time.After(WatchDelay)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("notify watcher error:", err)
			}
		}
	}()
	return ch, nil
}
