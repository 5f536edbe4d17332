package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Capture file name prefixes the recorder writes.
var capturePrefixes = []string{"cap_", "click_cap_", "text_cap_", "shortcut_cap_"}

func isCaptureFile(name string) bool {
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	for _, p := range capturePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ScanDir reads every capture JSON under dir, sorted by timestamp.
// Malformed files are logged and skipped; the pipeline continues.
func ScanDir(dir string, logger *zap.Logger) ([]*InteractionRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var records []*InteractionRecord
	for _, entry := range entries {
		if entry.IsDir() || !isCaptureFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Skipping unreadable capture file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		record, err := ParseRecord(data, path)
		if err != nil {
			logger.Warn("Skipping malformed capture file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	SortByTimestamp(records)
	return records, nil
}

// SortByTimestamp orders records chronologically. Records with unparseable
// timestamps sort by their raw string, keeping the sort stable rather than
// dropping them.
func SortByTimestamp(records []*InteractionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, oki := records[i].Time()
		tj, okj := records[j].Time()
		if oki && okj {
			return ti.Before(tj)
		}
		return records[i].Timestamp < records[j].Timestamp
	})
}

// Watcher watches a capture directory and emits newly written records on a
// bounded channel: one producer, one consumer, no callback plumbing.
type Watcher struct {
	mu          sync.Mutex
	dir         string
	logger      *zap.Logger
	watcher     *fsnotify.Watcher
	records     chan *InteractionRecord
	debounce    map[string]time.Time
	debounceDur time.Duration
	running     bool
}

// NewWatcher creates a watcher for the given capture directory. bufSize
// bounds the record channel; the producer blocks when the consumer lags.
func NewWatcher(dir string, bufSize int, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Watcher{
		dir:         dir,
		logger:      logger,
		watcher:     fw,
		records:     make(chan *InteractionRecord, bufSize),
		debounce:    make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
	}, nil
}

// Records returns the channel new records arrive on. Closed when the
// watcher stops.
func (w *Watcher) Records() <-chan *InteractionRecord {
	return w.records
}

// Start begins watching. Non-blocking; the event loop runs until ctx is
// cancelled, then closes the record channel.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.eventLoop(ctx)
	return nil
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.records)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isCaptureFile(filepath.Base(event.Name)) {
				continue
			}
			if w.debounced(event.Name) {
				continue
			}
			w.emit(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Capture watcher error", zap.Error(err))
		}
	}
}

// debounced reports whether the path fired within the debounce window.
// Editors and the recorder both produce rapid create+write pairs.
func (w *Watcher) debounced(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if last, ok := w.debounce[path]; ok && now.Sub(last) < w.debounceDur {
		return true
	}
	w.debounce[path] = now
	return false
}

func (w *Watcher) emit(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("Unreadable capture file", zap.String("path", path), zap.Error(err))
		return
	}
	record, err := ParseRecord(data, path)
	if err != nil {
		w.logger.Warn("Malformed capture file", zap.String("path", path), zap.Error(err))
		return
	}
	select {
	case w.records <- record:
	case <-ctx.Done():
	}
}
