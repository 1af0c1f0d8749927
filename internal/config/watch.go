package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// Watch reloads the config file at path whenever it is written or replaced
// and passes the new Config to onChange until ctx is cancelled. A reload that
// fails keeps the previous config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// watch the directory so a rename over the file keeps being seen
	configFile := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(configFile)); err != nil {
		return err
	}

	logger := utils.ComponentLogger("config")
	logger.WithField("path", path).Info("Watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != configFile {
				continue
			}
			// atomic saves show up as Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadWith(viper.New(), path)
			if err != nil {
				logger.WithError(err).Error("Config reload failed, keeping previous config")
				continue
			}

			logger.WithField("path", path).Info("Config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("Config watcher error")
		}
	}
}
