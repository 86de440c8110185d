// Package watcher hot-reloads the gateway configuration file. A change on
// disk produces a fresh immutable Config that is handed to the registered
// callback; a parse failure keeps the previous configuration in place.
package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/relayforge/bedrock-gateway/internal/config"
)

const debounceInterval = 500 * time.Millisecond

// Watch monitors the config file at path until ctx is done, invoking
// onReload with each successfully parsed new configuration. The parent
// directory is watched rather than the file itself so editors that
// rename-and-replace still trigger events.
func Watch(ctx context.Context, path string, onReload func(*config.Config)) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err = fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer fsWatcher.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				// Editors fire bursts of events per save; reload once.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, func() {
					reload(path, onReload)
				})
			case watchErr, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watcher: %v", watchErr)
			}
		}
	}()
	return nil
}

func reload(path string, onReload func(*config.Config)) {
	cfg, err := config.Load(path)
	if err != nil {
		log.Errorf("watcher: config reload failed, keeping previous config: %v", err)
		return
	}
	log.Infof("watcher: config reloaded from %s", path)
	onReload(cfg)
}
