// Package ingest watches a local drop directory and feeds settled
// files into the upload queue. It is the desktop analogue of dropping
// files onto the app: anything appearing in the directory goes through
// the same validation and duplicate-check path as a UI upload.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coursedrive/coursedrive/internal/dedupe"
	"github.com/coursedrive/coursedrive/internal/upload"
	"github.com/fsnotify/fsnotify"
)

const (
	// pollInterval is how often pending events are checked for
	// settlement.
	pollInterval = 500 * time.Millisecond

	// settleAfter is how long a file must go without writes before it
	// is considered fully copied into the drop directory.
	settleAfter = 1 * time.Second
)

// enqueuer is the subset of the upload queue the watcher needs.
// Extracted for testability.
type enqueuer interface {
	EnqueueChecked(ctx context.Context, sources []upload.Source, courseID, folderID string, override func(upload.Source, dedupe.Match) bool) ([]upload.Handle, []upload.Rejection)
}

// Watcher monitors the drop directory and enqueues new files.
type Watcher struct {
	dir      string
	courseID string
	folderID string
	queue    enqueuer
	logger   *slog.Logger
}

// NewWatcher creates a drop-directory watcher targeting the given
// course and folder.
func NewWatcher(dir, courseID, folderID string, queue enqueuer, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		courseID: courseID,
		folderID: folderID,
		queue:    queue,
		logger:   logger,
	}
}

// Watch blocks until the context is cancelled, enqueueing each file
// that appears in the drop directory once its writes settle. Rapid
// write bursts during a copy collapse into a single enqueue.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating drop dir: %w", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching drop dir: %w", err)
	}

	w.logger.Info("drop directory watcher started", slog.String("dir", w.dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, seen := range pending {
				if now.Sub(seen) < settleAfter {
					continue
				}
				delete(pending, path)
				w.ingest(ctx, path)
			}
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		w.logger.Warn("stat failed", slog.String("path", path), slog.String("error", err.Error()))

		return
	}

	// Subdirectories are not ingested; the drop directory is flat.
	if info.IsDir() {
		return
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	src := upload.FileSource(path, name, mimeType, info.Size())

	handles, rejections := w.queue.EnqueueChecked(ctx, []upload.Source{src}, w.courseID, w.folderID, nil)
	for _, r := range rejections {
		w.logger.Warn("dropped file rejected",
			slog.String("name", r.Name),
			slog.String("error", r.Err.Error()),
		)
	}

	if len(handles) > 0 {
		w.logger.Info("dropped file enqueued",
			slog.String("name", name),
			slog.Int64("size", info.Size()),
		)
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	// Editors and browsers write through temp names while downloading.
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".part") || strings.HasSuffix(base, ".crdownload") {
		return true
	}

	return false
}
