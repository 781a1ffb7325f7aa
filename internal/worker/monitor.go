// file: internal/worker/monitor.go
// version: 1.0.0
// guid: 2f3a4b5c-6d7e-8f9a-0b1c-2d3e4f5a6b7c

package worker

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jdfalk/library-manager/internal/audio"
)

// defaultDebounce applies when the watch interval is not configured. A large
// audiobook folder copies in over minutes; firing per-file would start a
// cycle against a half-copied book.
const defaultDebounce = 5 * time.Minute

// monitor watches the ingest folder and wakes the worker once new book
// content has settled.
type monitor struct {
	fsw      *fsnotify.Watcher
	root     string
	debounce time.Duration
	wake     func()

	mu    sync.Mutex
	timer *time.Timer
}

func newMonitor(root string, debounce time.Duration, wake func()) (*monitor, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	m := &monitor{fsw: fsw, root: root, debounce: debounce, wake: wake}
	if err := m.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	log.Printf("[INFO] watching %s (debounce %s)", root, debounce)
	return m, nil
}

func (m *monitor) close() {
	m.fsw.Close()
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}

func (m *monitor) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if watchErr := m.fsw.Add(path); watchErr != nil {
				log.Printf("[WARN] cannot watch %s: %v", path, watchErr)
			}
		}
		return nil
	})
}

func (m *monitor) run(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-m.fsw.Events:
			if !ok {
				return
			}
			m.handle(event)
		case err, ok := <-m.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[ERROR] watch folder: %v", err)
		}
	}
}

func (m *monitor) handle(event fsnotify.Event) {
	// New directories join the watch so files landing inside them are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = m.addRecursive(event.Name)
			m.schedule()
			return
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
		return
	}
	if !audio.IsAudioFile(event.Name) && !audio.IsEbookFile(event.Name) {
		return
	}
	m.schedule()
}

// schedule arms (or re-arms) the debounce timer; the wake fires only after
// events stop arriving for the full debounce window.
func (m *monitor) schedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Reset(m.debounce)
		return
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		log.Printf("[INFO] watch folder settled, starting early cycle")
		m.wake()
	})
}
