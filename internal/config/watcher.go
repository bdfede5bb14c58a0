package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ViewWatcher reloads a view preset file when it changes and hands valid
// presets to a callback. Invalid edits are logged and ignored so the last
// good preset stays active.
type ViewWatcher struct {
	path     string
	onChange func(*ViewPreset)

	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	stopOnce     sync.Once
	mu           sync.Mutex
	lastModTime  time.Time
	debounce     time.Duration
	pollInterval time.Duration
}

// NewViewWatcher prepares a watcher for path. Start begins watching.
func NewViewWatcher(path string, onChange func(*ViewPreset)) (*ViewWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	vw := &ViewWatcher{
		path:         path,
		onChange:     onChange,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		debounce:     100 * time.Millisecond,
		pollInterval: 5 * time.Second,
	}
	if stat, err := os.Stat(path); err == nil {
		vw.lastModTime = stat.ModTime()
	}
	return vw, nil
}

// Start watches the file's directory, so editors that replace the file are
// seen too. If the directory cannot be watched it falls back to polling.
func (vw *ViewWatcher) Start() {
	dir := filepath.Dir(vw.path)
	if err := vw.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch view file directory, falling back to polling")
		go vw.pollForChanges()
		return
	}
	go vw.watchForChanges()
	log.Info().Str("view_file", vw.path).Msg("Started watching view file for changes")
}

// Stop ends watching. It is safe to call more than once.
func (vw *ViewWatcher) Stop() {
	vw.stopOnce.Do(func() {
		close(vw.stopChan)
		vw.watcher.Close()
	})
}

// Reload reads the file now, as on SIGHUP.
func (vw *ViewWatcher) Reload() {
	vw.reload()
}

func (vw *ViewWatcher) watchForChanges() {
	for {
		select {
		case event, ok := <-vw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(vw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Let the writer finish.
			time.Sleep(vw.debounce)
			log.Info().Str("event", event.Op.String()).Msg("Detected view file change")
			vw.reload()

		case err, ok := <-vw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("View watcher error")

		case <-vw.stopChan:
			return
		}
	}
}

func (vw *ViewWatcher) pollForChanges() {
	ticker := time.NewTicker(vw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(vw.path)
			if err != nil {
				continue
			}
			vw.mu.Lock()
			changed := stat.ModTime().After(vw.lastModTime)
			vw.mu.Unlock()
			if changed {
				log.Info().Msg("Detected view file change via polling")
				vw.reload()
			}
		case <-vw.stopChan:
			return
		}
	}
}

func (vw *ViewWatcher) reload() {
	vw.mu.Lock()
	defer vw.mu.Unlock()

	if stat, err := os.Stat(vw.path); err == nil {
		vw.lastModTime = stat.ModTime()
	}
	preset, err := LoadViewPreset(vw.path)
	if err != nil {
		log.Error().Err(err).Str("view_file", vw.path).Msg("Ignoring invalid view file")
		return
	}
	log.Info().Str("view_file", vw.path).Str("preset", preset.Name).Msg("Applied view preset")
	if vw.onChange != nil {
		vw.onChange(preset)
	}
}
