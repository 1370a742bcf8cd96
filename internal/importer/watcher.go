package importer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long a file must stay quiet before it is imported
const DefaultDebounce = 2 * time.Second

// Watcher imports CSV files dropped into an inbox directory
type Watcher struct {
	dir      string
	inserter Inserter
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// Debounce tracking
	pending   map[string]*time.Timer
	pendingMu sync.Mutex
	ready     chan string

	// Called after each import attempt; used by tests
	onImport func(path string, count int, err error)

	running bool
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new inbox watcher. The directory is created if missing.
func New(dir string, inserter Inserter, debounce time.Duration) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		dir:      dir,
		inserter: inserter,
		debounce: debounce,
		watcher:  fsWatcher,
		pending:  make(map[string]*time.Timer),
		ready:    make(chan string),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Dir returns the watched inbox directory
func (w *Watcher) Dir() string {
	return w.dir
}

// Start begins watching and queues any CSV files already in the inbox
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := w.watcher.Add(w.dir); err != nil {
		// Stop is a no-op for a watcher that never ran
		w.cancel()
		w.watcher.Close()
		return err
	}

	w.running = true
	w.wg.Go(w.eventLoop)

	w.scanExisting()

	log.Info().Str("dir", w.dir).Dur("debounce", w.debounce).Msg("Import watcher started")
	return nil
}

// Stop stops the watcher. Files still waiting out their debounce are left
// in the inbox. A stopped watcher cannot be restarted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.watcher.Close()

	w.pendingMu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.pendingMu.Unlock()

	w.wg.Wait()

	log.Info().Msg("Import watcher stopped")
}

// IsRunning returns whether the watcher is currently running
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Error().Err(err).Str("dir", w.dir).Msg("Failed to read import directory")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if isImportCandidate(path) {
			w.schedule(path)
		}
	}
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Import watcher error")
		case path := <-w.ready:
			w.process(path)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !isImportCandidate(event.Name) {
		return
	}
	log.Trace().Str("path", event.Name).Str("op", event.Op.String()).Msg("Import file event")
	w.schedule(event.Name)
}

// schedule (re)starts the debounce timer for path
func (w *Watcher) schedule(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()

		select {
		case w.ready <- path:
		case <-w.ctx.Done():
		}
	})
}

func (w *Watcher) process(path string) {
	if _, err := os.Stat(path); err != nil {
		// Already handled or removed
		return
	}

	inserted, err := ImportFile(w.ctx, w.inserter, path)
	if err != nil && w.ctx.Err() != nil {
		// Shutting down; retry on next start
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Import failed")
	} else {
		log.Info().Str("path", path).Int("records", len(inserted)).Msg("Imported weight records")
	}
	settle(path, err)

	if w.onImport != nil {
		w.onImport(path, len(inserted), err)
	}
}
