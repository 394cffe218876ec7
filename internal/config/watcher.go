package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ManifestWatcher watches the servers.yaml manifest and fires a
// debounced callback on change so sessions can be reconciled without a
// restart.
type ManifestWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewManifestWatcher starts watching the manifest's directory. Editors
// replace files rather than write in place, so the directory is the
// reliable unit to watch.
func NewManifestWatcher(path string, logger zerolog.Logger, onChange func()) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	mw := &ManifestWatcher{
		watcher:  watcher,
		path:     path,
		logger:   logger,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go mw.run()
	return mw, nil
}

// Stop stops the watcher.
func (mw *ManifestWatcher) Stop() error {
	close(mw.stopCh)
	return mw.watcher.Close()
}

func (mw *ManifestWatcher) run() {
	for {
		select {
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(mw.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				mw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Server manifest change detected")
				mw.scheduleReload()
			}

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.logger.Error().Err(err).Msg("Manifest watcher error")

		case <-mw.stopCh:
			return
		}
	}
}

func (mw *ManifestWatcher) scheduleReload() {
	if mw.timer != nil {
		mw.timer.Stop()
	}
	mw.timer = time.AfterFunc(mw.debounce, func() {
		mw.logger.Info().Msg("Reloading server manifest after change")
		mw.onChange()
	})
}
